package api

import (
	"encoding/json"
	"net/http"
	"time"

	"kingdom-core/internal/bots"
	"kingdom-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// --- Mixer ---

func (s *Server) createMixingRequest(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		Currency string  `json:"currency"`
		Amount   float64 `json:"amount"`
		Outputs  int     `json:"outputs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	mix, err := s.Mixer.Create(c.Request.Context(), userID, req.Currency, req.Amount, req.Outputs)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mix)
}

func (s *Server) listMixingRequests(c *gin.Context) {
	userID := CurrentUserID(c)
	mixes, err := s.Mixer.List(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mixes)
}

func (s *Server) cancelMixingRequest(c *gin.Context) {
	userID := CurrentUserID(c)
	mix, err := s.Mixer.Cancel(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mix)
}

// --- Spectrum staking ---

func (s *Server) getStakePlans(c *gin.Context) {
	plans, err := s.Spectrum.Plans(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (s *Server) getStakePositions(c *gin.Context) {
	userID := CurrentUserID(c)
	positions, err := s.Spectrum.Positions(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) stake(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		PlanID string  `json:"plan_id"`
		Amount float64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	position, err := s.Spectrum.Stake(c.Request.Context(), userID, req.PlanID, req.Amount)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, position)
}

func (s *Server) claimStake(c *gin.Context) {
	userID := CurrentUserID(c)
	paid, err := s.Spectrum.Claim(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": paid})
}

func (s *Server) upgradeStake(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		PlanID    string  `json:"plan_id"`
		AddAmount float64 `json:"add_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	position, err := s.Spectrum.Upgrade(c.Request.Context(), userID, c.Param("id"), req.PlanID, req.AddAmount)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, position)
}

func (s *Server) unstake(c *gin.Context) {
	userID := CurrentUserID(c)
	paid, err := s.Spectrum.Unstake(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paid_out": paid})
}

// --- Metals ---

func (s *Server) getMetalProducts(c *gin.Context) {
	products, err := s.Metals.Products(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// Attach a live unit quote where a spot price exists.
	type quoted struct {
		db.MetalProduct
		UnitPrice float64 `json:"unit_price,omitempty"`
	}
	out := make([]quoted, 0, len(products))
	for _, p := range products {
		q := quoted{MetalProduct: p}
		if unit, err := s.Metals.QuoteUnit(p); err == nil {
			q.UnitPrice = unit
		}
		out = append(out, q)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getMetalOwnership(c *gin.Context) {
	userID := CurrentUserID(c)
	holdings, err := s.Metals.Ownership(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, holdings)
}

func (s *Server) purchaseMetal(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		ProductID string `json:"product_id"`
		Qty       int    `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	holding, err := s.Metals.Purchase(c.Request.Context(), userID, req.ProductID, req.Qty)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, holding)
}

func (s *Server) getDeliveries(c *gin.Context) {
	userID := CurrentUserID(c)
	deliveries, err := s.Metals.Deliveries(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, deliveries)
}

func (s *Server) requestDelivery(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		HoldingID string `json:"holding_id"`
		Address   string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	delivery, err := s.Metals.RequestDelivery(c.Request.Context(), userID, req.HoldingID, req.Address)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, delivery)
}

// --- Ethereal elements ---

func (s *Server) getMarketplace(c *gin.Context) {
	elements, err := s.Ethereal.Marketplace(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, elements)
}

func (s *Server) getCollection(c *gin.Context) {
	userID := CurrentUserID(c)
	elements, err := s.Ethereal.Collection(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, elements)
}

func (s *Server) getTransferHistory(c *gin.Context) {
	userID := CurrentUserID(c)
	transfers, err := s.Ethereal.History(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfers)
}

func (s *Server) purchaseElement(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		ElementID string `json:"element_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ElementID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "element_id is required")
		return
	}

	element, err := s.Ethereal.Purchase(c.Request.Context(), userID, req.ElementID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, element)
}

func (s *Server) transferElement(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		ElementID string `json:"element_id"`
		ToUserID  string `json:"to_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ElementID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "element_id is required")
		return
	}

	element, err := s.Ethereal.Transfer(c.Request.Context(), userID, req.ElementID, req.ToUserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, element)
}

func (s *Server) listElement(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		ElementID string  `json:"element_id"`
		Price     float64 `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ElementID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "element_id is required")
		return
	}

	if err := s.Ethereal.List(c.Request.Context(), userID, req.ElementID, req.Price); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "listed"})
}

func (s *Server) unlistElement(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		ElementID string `json:"element_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ElementID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "element_id is required")
		return
	}

	if err := s.Ethereal.Unlist(c.Request.Context(), userID, req.ElementID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlisted"})
}

// --- Trading bots ---

func (s *Server) createBot(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		Name     string          `json:"name"`
		Symbol   string          `json:"symbol"`
		Strategy string          `json:"strategy"`
		Params   json.RawMessage `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if req.Name == "" || req.Symbol == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "name and symbol are required")
		return
	}

	params := string(req.Params)
	if _, err := bots.ValidateParams(req.Strategy, params); err != nil {
		respondServiceError(c, err)
		return
	}

	now := time.Now()
	bot := db.TradingBot{
		ID:        newID(),
		UserID:    userID,
		Name:      req.Name,
		Symbol:    req.Symbol,
		Strategy:  req.Strategy,
		Params:    params,
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.DB.Queries().CreateBot(c.Request.Context(), bot); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bot)
}

func (s *Server) listBots(c *gin.Context) {
	userID := CurrentUserID(c)
	list, err := s.DB.Queries().ListBotsByUser(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// toggleBot flips the active flag. Re-applying the current state is a no-op.
func (s *Server) toggleBot(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	ctx := c.Request.Context()
	if err := s.DB.Queries().SetBotActive(ctx, userID, c.Param("id"), req.IsActive); err != nil {
		respondServiceError(c, err)
		return
	}
	bot, err := s.DB.Queries().GetBotByUser(ctx, userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) listBotExecutions(c *gin.Context) {
	userID := CurrentUserID(c)
	execs, err := s.DB.Queries().ListBotExecutionsByUser(c.Request.Context(), userID, queryLimit(c, 100, 500))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, execs)
}
