package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/bots"
	"kingdom-core/internal/ethereal"
	"kingdom-core/internal/exchange"
	"kingdom-core/internal/ledger"
	"kingdom-core/internal/metals"
	"kingdom-core/internal/mixer"
	"kingdom-core/internal/spectrum"
	"kingdom-core/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newID() string { return uuid.NewString() }

type createOrderRequest struct {
	Symbol     string  `json:"symbol"`
	AssetClass string  `json:"asset_class"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Price      float64 `json:"price"`
	StopPrice  float64 `json:"stop_price"`
	Qty        float64 `json:"quantity"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	var (
		valErr   *ledger.ValidationError
		transErr *ledger.InvalidTransitionError
		mixErr   *mixer.RequestError
		stakeErr *spectrum.StakeError
		metalErr *metals.PurchaseError
		mktErr   *ethereal.MarketError
		botErr   *bots.BotError
		fundsErr balance.ErrInsufficientFunds
	)
	switch {
	case errors.As(err, &valErr):
		respondError(c, http.StatusBadRequest, "INVALID_ORDER", valErr.Error())
	case errors.As(err, &transErr):
		respondError(c, http.StatusConflict, "INVALID_STATE", transErr.Error())
	case errors.As(err, &mixErr):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", mixErr.Error())
	case errors.As(err, &stakeErr):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", stakeErr.Error())
	case errors.As(err, &metalErr):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", metalErr.Error())
	case errors.As(err, &mktErr):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", mktErr.Error())
	case errors.As(err, &botErr):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", botErr.Error())
	case errors.As(err, &fundsErr):
		respondError(c, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", fundsErr.Error())
	case errors.Is(err, exchange.ErrNoPrice):
		respondError(c, http.StatusBadRequest, "NO_PRICE", err.Error())
	case errors.Is(err, exchange.ErrInsufficientHoldings):
		respondError(c, http.StatusBadRequest, "INSUFFICIENT_HOLDINGS", err.Error())
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "resource not found")
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func queryLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// getBalance returns the cash wallet for the current user.
func (s *Server) getBalance(c *gin.Context) {
	userID := CurrentUserID(c)
	c.JSON(http.StatusOK, gin.H{
		"available": s.Balances.Available(userID),
		"locked":    s.Balances.Locked(userID),
	})
}

// getHoldings returns aggregated positions valued at the latest price.
func (s *Server) getHoldings(c *gin.Context) {
	userID := CurrentUserID(c)
	c.JSON(http.StatusOK, s.Holdings.Holdings(userID))
}

func (s *Server) getTrades(c *gin.Context) {
	userID := CurrentUserID(c)
	trades, err := s.DB.Queries().ListTradesByUser(c.Request.Context(), userID, queryLimit(c, 100, 500))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// createOrder submits an order to the exchange.
func (s *Server) createOrder(c *gin.Context) {
	s.submitOrder(c, "")
}

// orderForClass returns a handler that pins the asset class, used by the
// stocks/forex/bonds endpoints.
func (s *Server) orderForClass(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.submitOrder(c, class)
	}
}

func (s *Server) submitOrder(c *gin.Context, class string) {
	userID := CurrentUserID(c)

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if class != "" {
		req.AssetClass = class
	}

	order, err := s.Exchange.Submit(c.Request.Context(), userID, ledger.NewOrderInput{
		Symbol:     req.Symbol,
		AssetClass: req.AssetClass,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		Qty:        req.Qty,
		Source:     "manual",
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncrementOrders()
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) listOrders(c *gin.Context) {
	userID := CurrentUserID(c)
	filter := db.OrderFilter{
		Symbol:     c.Query("symbol"),
		Status:     c.Query("status"),
		AssetClass: c.Query("asset_class"),
		Limit:      queryLimit(c, 100, 500),
	}
	orders, err := s.DB.Queries().ListOrdersByUser(c.Request.Context(), userID, filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrder(c *gin.Context) {
	userID := CurrentUserID(c)
	order, err := s.DB.Queries().GetOrderByUser(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	userID := CurrentUserID(c)
	order, err := s.Exchange.Cancel(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// getMarket returns the latest quote table, or a single quote when the
// symbol query parameter is set (pairs contain a slash, so they cannot
// ride in the path).
func (s *Server) getMarket(c *gin.Context) {
	if sym := c.Query("symbol"); sym != "" {
		quote, ok := s.Prices.Quote(sym)
		if !ok {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "no quote for symbol")
			return
		}
		c.JSON(http.StatusOK, quote)
		return
	}
	c.JSON(http.StatusOK, s.Prices.Snapshot())
}

func (s *Server) getQuote(c *gin.Context) {
	quote, ok := s.Prices.Quote(c.Param("symbol"))
	if !ok {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "no quote for symbol")
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (s *Server) getExchangePools(c *gin.Context) {
	pools, err := s.DB.ListExchangePools(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, pools)
}

// createWalletSession links an external wallet for the session TTL.
func (s *Server) createWalletSession(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		Wallet  string `json:"wallet"`
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Wallet == "" || req.Address == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "wallet and address are required")
		return
	}

	now := time.Now()
	session := db.WalletSession{
		ID:        newID(),
		UserID:    userID,
		Wallet:    req.Wallet,
		Address:   req.Address,
		Status:    "active",
		CreatedAt: now,
		ExpiresAt: now.Add(s.WalletSessionTTL),
	}
	if err := s.DB.Queries().CreateWalletSession(c.Request.Context(), session); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listWalletSessions(c *gin.Context) {
	userID := CurrentUserID(c)
	sessions, err := s.DB.Queries().ListWalletSessionsByUser(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) disconnectWalletSession(c *gin.Context) {
	userID := CurrentUserID(c)
	if err := s.DB.Queries().DisconnectWalletSession(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
