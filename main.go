package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kingdom-core/internal/api"
	"kingdom-core/internal/audit"
	"kingdom-core/internal/balance"
	"kingdom-core/internal/bots"
	"kingdom-core/internal/catalog"
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
	"kingdom-core/pkg/config"
	"kingdom-core/pkg/crypto"
	"kingdom-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config load failed: %v", err)
	}
	log.Printf("📝 starting kingdom-core on port %s", cfg.Port)
	log.Printf("📝 using database at %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ migrations failed: %v", err)
	}

	// Seed the catalog (staking tiers, metal products, pools, forum,
	// starter elements) from YAML.
	if cat, err := catalog.Load(cfg.SeedCatalog); err != nil {
		log.Printf("❌ catalog load failed: %v", err)
	} else if err := catalog.Sync(ctx, database, cat); err != nil {
		log.Printf("❌ catalog sync failed: %v", err)
	}

	// Identity encryption for KYC documents. Optional in dev; the KYC
	// submit endpoint refuses to store plaintext without it.
	var keys *crypto.KeyManager
	if km, err := crypto.NewKeyManager(); err != nil {
		log.Printf("🔒 encryption keys not loaded: %v", err)
	} else {
		keys = km
		log.Printf("🔒 encryption ready, key version v%d", km.CurrentVersion())
	}

	// Market data
	prices := market.NewPriceBook()
	feed := market.NewFeed(prices, bus, cfg.Symbols, cfg.FeedInterval, cfg.FeedStepPct)
	feed.Seed()
	if cfg.UseMockFeed {
		go feed.Start(ctx)
		log.Printf("✅ mock feed started for %d symbols", len(cfg.Symbols))
	}

	// In-memory state seeded from DB
	balances := balance.NewManager(ctx, database, cfg.InitialBalance)
	positions := holdings.NewManager(database, prices)
	if err := positions.Load(ctx); err != nil {
		log.Fatalf("❌ holdings load failed: %v", err)
	}

	// Order flow
	book := ledger.NewService(database, bus)
	queue := exchange.NewQueue(200)
	engine := exchange.NewEngine(exchange.Config{
		FeeRateBps:     cfg.FeeRateBps,
		SlippageBps:    cfg.SlippageBps,
		PartialFillPct: cfg.PartialFillPct,
		OrderTTL:       cfg.OrderTTL,
		SweepEvery:     cfg.ExpirySweepEvery,
	}, book, positions, balances, prices, bus, queue)
	if err := engine.Recover(ctx, database); err != nil {
		log.Printf("❌ order book recovery failed: %v", err)
	}
	go engine.Start(ctx)
	log.Println("✅ exchange engine started")

	// Background domains
	mixSvc := mixer.NewService(mixer.Config{
		FeePct:     cfg.MixerFeePct,
		MinAmount:  cfg.MixerMinAmount,
		MaxAmount:  cfg.MixerMaxAmount,
		DelayMin:   cfg.MixerDelayMin,
		DelayMax:   cfg.MixerDelayMax,
		TickEvery:  cfg.MixerTickEvery,
		OutputsMax: cfg.MixerOutputsMax,
	}, database, balances, bus)
	go mixSvc.Start(ctx)

	stakeSvc := spectrum.NewService(database, balances, bus, cfg.AccrualInterval)
	go stakeSvc.Start(ctx)

	metalSvc := metals.NewService(database, balances, prices, bus)
	elemSvc := ethereal.NewService(database, balances)

	botRunner := bots.NewRunner(database, prices, queue, bus, cfg.BotCooldown, cfg.FeedInterval)
	go botRunner.Start(ctx)

	// Security audit log, batched writes
	auditLog := audit.NewWriter(database.DB, bus, 50, 5*time.Second)
	defer auditLog.Close()

	// System metrics for monitoring
	sysMetrics := monitor.NewSystemMetrics()
	go gaugeLoop(ctx, sysMetrics, database, engine, cfg.Symbols)

	// Count fills, completed mixes and reward accruals from the bus.
	fills, unsubFills := bus.Subscribe(events.EventOrderFilled, 100)
	defer unsubFills()
	mixes, unsubMixes := bus.Subscribe(events.EventMixCompleted, 100)
	defer unsubMixes()
	accruals, unsubAccruals := bus.Subscribe(events.EventStakeAccrued, 100)
	defer unsubAccruals()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-fills:
				sysMetrics.IncrementFills()
			case <-mixes:
				sysMetrics.IncrementMixes()
			case <-accruals:
				sysMetrics.IncrementRewards()
			}
		}
	}()

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	// API
	server := api.NewServer(api.Deps{
		Bus:      bus,
		DB:       database,
		Balances: balances,
		Holdings: positions,
		Ledger:   book,
		Exchange: engine,
		Prices:   prices,
		Mixer:    mixSvc,
		Spectrum: stakeSvc,
		Metals:   metalSvc,
		Ethereal: elemSvc,
		Audit:    auditLog,
		Metrics:  sysMetrics,
		Keys:     keys,

		JWTSecret:        cfg.JWTSecret,
		SessionCookie:    cfg.SessionCookie,
		TokenTTL:         cfg.TokenTTL,
		WalletSessionTTL: cfg.WalletSessionTTL,
		Meta: api.SystemMeta{
			Symbols:     cfg.Symbols,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
		},
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("❌ api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("📝 shutting down")
}

// gaugeLoop refreshes coarse gauges every 30s.
func gaugeLoop(ctx context.Context, m *monitor.SystemMetrics, database *db.Database, engine *exchange.Engine, symbols []string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var users, activeBots int
			_ = database.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&users)
			_ = database.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM trading_bots WHERE is_active = 1").Scan(&activeBots)
			resting := 0
			for _, sym := range symbols {
				resting += engine.RestingCount(sym)
			}
			m.SetGauges(users, activeBots, resting)
		}
	}
}
