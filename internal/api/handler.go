package api

import (
	"net/http"
	"time"

	"kingdom-core/internal/audit"
	"kingdom-core/internal/balance"
	"kingdom-core/internal/ethereal"
	"kingdom-core/internal/events"
	"kingdom-core/internal/exchange"
	"kingdom-core/internal/holdings"
	"kingdom-core/internal/ledger"
	"kingdom-core/internal/market"
	"kingdom-core/internal/metals"
	"kingdom-core/internal/mixer"
	"kingdom-core/internal/monitor"
	"kingdom-core/internal/spectrum"
	"kingdom-core/pkg/crypto"
	"kingdom-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the platform services.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	Balances *balance.Manager
	Holdings *holdings.Manager
	Ledger   *ledger.Service
	Exchange *exchange.Engine
	Prices   *market.PriceBook
	Mixer    *mixer.Service
	Spectrum *spectrum.Service
	Metals   *metals.Service
	Ethereal *ethereal.Service
	Audit    *audit.Writer
	Metrics  *monitor.SystemMetrics
	Keys     *crypto.KeyManager

	JWTSecret        string
	SessionCookie    string
	TokenTTL         time.Duration
	WalletSessionTTL time.Duration
	Meta             SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Symbols     []string
	UseMockFeed bool
	Version     string
}

// Deps carries everything the HTTP layer needs.
type Deps struct {
	Bus      *events.Bus
	DB       *db.Database
	Balances *balance.Manager
	Holdings *holdings.Manager
	Ledger   *ledger.Service
	Exchange *exchange.Engine
	Prices   *market.PriceBook
	Mixer    *mixer.Service
	Spectrum *spectrum.Service
	Metals   *metals.Service
	Ethereal *ethereal.Service
	Audit    *audit.Writer
	Metrics  *monitor.SystemMetrics
	Keys     *crypto.KeyManager

	JWTSecret        string
	SessionCookie    string
	TokenTTL         time.Duration
	WalletSessionTTL time.Duration
	Meta             SystemMeta
}

func NewServer(d Deps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                      // Panic recovery (first)
	r.Use(RequestIDMiddleware())               // Request ID tracking
	r.Use(RequestLogger(d.Metrics))            // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(d.Audit))        // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:   r,
		Bus:      d.Bus,
		DB:       d.DB,
		Balances: d.Balances,
		Holdings: d.Holdings,
		Ledger:   d.Ledger,
		Exchange: d.Exchange,
		Prices:   d.Prices,
		Mixer:    d.Mixer,
		Spectrum: d.Spectrum,
		Metals:   d.Metals,
		Ethereal: d.Ethereal,
		Audit:    d.Audit,
		Metrics:  d.Metrics,
		Keys:     d.Keys,

		JWTSecret:        d.JWTSecret,
		SessionCookie:    d.SessionCookie,
		TokenTTL:         d.TokenTTL,
		WalletSessionTTL: d.WalletSessionTTL,
		Meta:             d.Meta,
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = 72 * time.Hour
	}
	if s.SessionCookie == "" {
		s.SessionCookie = "kingdom_session"
	}
	if s.WalletSessionTTL <= 0 {
		s.WalletSessionTTL = 24 * time.Hour
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/market", s.getMarket)
		api.GET("/market/:symbol", s.getQuote)
		api.GET("/exchange/pools", s.getExchangePools)
		api.GET("/forum/categories", s.getForumCategories)
		api.GET("/forum/threads", s.listForumThreads)
		api.GET("/forum/threads/:id", s.getForumThread)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
			auth.POST("/logout", s.logoutUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(s.authRequired())
		{
			protected.GET("/auth/me", s.currentUser)
			protected.GET("/balance", s.getBalance)
			protected.GET("/holdings", s.getHoldings)
			protected.GET("/trades", s.getTrades)

			// Exchange
			protected.POST("/exchange/orders", s.createOrder)
			protected.GET("/exchange/orders", s.listOrders)
			protected.GET("/exchange/orders/:id", s.getOrder)
			protected.DELETE("/exchange/orders/:id", s.cancelOrder)

			// Financial instruments route through the same book with a
			// fixed asset class per endpoint.
			protected.POST("/financial/stocks/order", s.orderForClass(ledger.ClassStock))
			protected.POST("/financial/forex/order", s.orderForClass(ledger.ClassForex))
			protected.POST("/financial/bonds/order", s.orderForClass(ledger.ClassBond))

			// Mixer
			protected.POST("/mixer/requests", s.createMixingRequest)
			protected.GET("/mixer/requests", s.listMixingRequests)
			protected.POST("/mixer/requests/:id/cancel", s.cancelMixingRequest)

			// Spectrum staking
			protected.GET("/spectrum/plans", s.getStakePlans)
			protected.GET("/spectrum/positions", s.getStakePositions)
			protected.POST("/spectrum/stake", s.stake)
			protected.POST("/spectrum/positions/:id/claim", s.claimStake)
			protected.POST("/spectrum/positions/:id/upgrade", s.upgradeStake)
			protected.POST("/spectrum/positions/:id/unstake", s.unstake)

			// Metals
			protected.GET("/metals/products", s.getMetalProducts)
			protected.GET("/metals/ownership", s.getMetalOwnership)
			protected.POST("/metals/purchase", s.purchaseMetal)
			protected.GET("/metals/delivery", s.getDeliveries)
			protected.POST("/metals/delivery", s.requestDelivery)

			// Ethereal elements
			protected.GET("/ethereal/marketplace", s.getMarketplace)
			protected.GET("/ethereal/collection", s.getCollection)
			protected.GET("/ethereal/history", s.getTransferHistory)
			protected.POST("/ethereal/purchase", s.purchaseElement)
			protected.POST("/ethereal/transfer", s.transferElement)
			protected.POST("/ethereal/list", s.listElement)
			protected.POST("/ethereal/unlist", s.unlistElement)

			// Trading bots
			protected.POST("/trading-bots", s.createBot)
			protected.GET("/trading-bots", s.listBots)
			protected.PATCH("/trading-bots/:id", s.toggleBot)
			protected.GET("/bot-executions", s.listBotExecutions)

			// WalletConnect
			protected.POST("/walletconnect/sessions", s.createWalletSession)
			protected.GET("/walletconnect/sessions", s.listWalletSessions)
			protected.DELETE("/walletconnect/sessions/:id", s.disconnectWalletSession)

			// Support chat
			protected.POST("/chat/sessions", s.createChatSession)
			protected.GET("/chat/sessions", s.listChatSessions)
			protected.POST("/chat/messages", s.postChatMessage)
			protected.GET("/chat/messages", s.listChatMessages)

			// Security
			protected.GET("/security/events", s.getSecurityEvents)

			// Forum writes
			protected.POST("/forum/threads", s.createForumThread)
			protected.POST("/forum/replies", s.createForumReply)

			// KYC
			protected.GET("/kyc/status", s.getKYCStatus)
			protected.POST("/kyc/submit", s.submitKYC)
		}

		// Admin console
		admin := api.Group("/admin")
		admin.Use(s.authRequired(), s.adminRequired())
		{
			admin.GET("/users", s.adminListUsers)
			admin.PUT("/users/:id/role", s.adminSetRole)
			admin.GET("/kyc", s.adminListKYC)
			admin.POST("/kyc/:id/review", s.adminReviewKYC)
			admin.GET("/security/events", s.adminSecurityEvents)
			admin.GET("/metrics", s.adminMetrics)
			admin.POST("/metals/delivery/:id/advance", s.adminAdvanceDelivery)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbols":       s.Meta.Symbols,
		"use_mock_feed": s.Meta.UseMockFeed,
		"version":       s.Meta.Version,
		"quotes":        s.Prices.Len(),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
