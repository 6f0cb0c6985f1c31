package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kingdom-core/internal/api"
	"kingdom-core/internal/audit"
	"kingdom-core/internal/balance"
	"kingdom-core/internal/bots"
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

type platform struct {
	ts       *httptest.Server
	database *db.Database
	bus      *events.Bus
	prices   *market.PriceBook
	engine   *exchange.Engine
	queue    *exchange.Queue
	runner   *bots.Runner
	cancel   context.CancelFunc
}

// newPlatform wires most components similar to main.go, with the engine
// loop running so resting orders react to published ticks.
func newPlatform(t *testing.T) (*platform, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	masterKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("MASTER_ENCRYPTION_KEY", masterKey)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := events.NewBus()
	prices := market.NewPriceBook()
	prices.Set("BTC/USDT", 50000)
	prices.Set("ETH/USDT", 2500)

	balances := balance.NewManager(ctx, database, 100000)
	positions := holdings.NewManager(database, prices)
	book := ledger.NewService(database, bus)
	queue := exchange.NewQueue(64)
	engine := exchange.NewEngine(exchange.Config{
		OrderTTL:   time.Hour,
		SweepEvery: time.Hour,
	}, book, positions, balances, prices, bus, queue)
	go engine.Start(ctx)

	runner := bots.NewRunner(database, prices, queue, bus, time.Minute, time.Hour)

	keys, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}

	auditLog := audit.NewWriter(database.DB, bus, 10, time.Hour)

	server := api.NewServer(api.Deps{
		Bus:      bus,
		DB:       database,
		Balances: balances,
		Holdings: positions,
		Ledger:   book,
		Exchange: engine,
		Prices:   prices,
		Mixer: mixer.NewService(mixer.Config{
			FeePct:     1.5,
			MinAmount:  1,
			MaxAmount:  10000,
			TickEvery:  time.Hour,
			OutputsMax: 5,
		}, database, balances, bus),
		Spectrum: spectrum.NewService(database, balances, bus, time.Hour),
		Metals:   metals.NewService(database, balances, prices, bus),
		Ethereal: ethereal.NewService(database, balances),
		Audit:    auditLog,
		Metrics:  monitor.NewSystemMetrics(),
		Keys:     keys,

		JWTSecret:     "test-secret",
		SessionCookie: "kingdom_session",
		TokenTTL:      time.Hour,
		Meta: api.SystemMeta{
			Symbols:     []string{"BTC/USDT", "ETH/USDT"},
			UseMockFeed: true,
			Version:     "test",
		},
	})

	ts := httptest.NewServer(server.Router)

	p := &platform{
		ts:       ts,
		database: database,
		bus:      bus,
		prices:   prices,
		engine:   engine,
		queue:    queue,
		runner:   runner,
		cancel:   cancel,
	}
	cleanup := func() {
		ts.Close()
		cancel()
		_ = auditLog.Close()
		_ = database.Close()
	}
	return p, cleanup
}

func request(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func signup(t *testing.T, client *http.Client, baseURL, email string) (string, string) {
	t.Helper()
	var reg struct {
		UserID string `json:"user_id"`
	}
	if status := request(t, client, http.MethodPost, baseURL+"/api/auth/register", "", map[string]string{
		"email": email, "password": "StrongPass123!",
	}, &reg); status != http.StatusCreated {
		t.Fatalf("register %s: status=%d", email, status)
	}
	var login struct {
		Token string `json:"token"`
	}
	if status := request(t, client, http.MethodPost, baseURL+"/api/auth/login", "", map[string]string{
		"email": email, "password": "StrongPass123!",
	}, &login); status != http.StatusOK {
		t.Fatalf("login %s: status=%d", email, status)
	}
	return login.Token, reg.UserID
}

// waitForOrderStatus polls until the order reaches the wanted status.
func waitForOrderStatus(t *testing.T, database *db.Database, orderID, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		o, err := database.GetOrder(context.Background(), orderID)
		if err == nil && o.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	o, _ := database.GetOrder(context.Background(), orderID)
	t.Fatalf("order %s never reached %s, last: %+v", orderID, want, o)
}

func TestMultiUserOrderIsolation(t *testing.T) {
	p, cleanup := newPlatform(t)
	defer cleanup()

	client := p.ts.Client()
	tokenA, _ := signup(t, client, p.ts.URL, "alice@example.com")
	tokenB, _ := signup(t, client, p.ts.URL, "bob@example.com")

	var orderA struct {
		ID string `json:"id"`
	}
	status := request(t, client, http.MethodPost, p.ts.URL+"/api/exchange/orders", tokenA, map[string]any{
		"symbol": "BTC/USDT", "side": "buy", "type": "market", "quantity": 0.2,
	}, &orderA)
	if status != http.StatusCreated {
		t.Fatalf("alice order status=%d", status)
	}

	var listB []struct {
		ID string `json:"id"`
	}
	status = request(t, client, http.MethodGet, p.ts.URL+"/api/exchange/orders", tokenB, nil, &listB)
	if status != http.StatusOK || len(listB) != 0 {
		t.Fatalf("bob should see no orders, got %d", len(listB))
	}

	// Bob cannot read or cancel Alice's order either.
	status = request(t, client, http.MethodGet, p.ts.URL+"/api/exchange/orders/"+orderA.ID, tokenB, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("cross-user order read should 404, got %d", status)
	}
	status = request(t, client, http.MethodDelete, p.ts.URL+"/api/exchange/orders/"+orderA.ID, tokenB, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("cross-user cancel should 404, got %d", status)
	}
}

func TestRestingLimitOrderFillsOnTick(t *testing.T) {
	p, cleanup := newPlatform(t)
	defer cleanup()

	client := p.ts.Client()
	token, _ := signup(t, client, p.ts.URL, "resting@example.com")

	var order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status := request(t, client, http.MethodPost, p.ts.URL+"/api/exchange/orders", token, map[string]any{
		"symbol": "ETH/USDT", "side": "buy", "type": "limit", "price": 2400.0, "quantity": 1.0,
	}, &order)
	if status != http.StatusCreated || order.Status != "open" {
		t.Fatalf("limit order should rest open: status=%d %+v", status, order)
	}

	// Price drops through the limit; the engine loop picks up the tick.
	p.prices.Set("ETH/USDT", 2400)
	p.bus.Publish(events.EventMarketUpdate, events.MarketUpdate{
		Symbol: "ETH/USDT", Price: 2400, At: time.Now(),
	})

	waitForOrderStatus(t, p.database, order.ID, "filled")

	var positions []struct {
		Symbol string  `json:"symbol"`
		Qty    float64 `json:"quantity"`
	}
	status = request(t, client, http.MethodGet, p.ts.URL+"/api/holdings", token, nil, &positions)
	if status != http.StatusOK || len(positions) != 1 || positions[0].Qty != 1.0 {
		t.Fatalf("holdings after resting fill: status=%d %+v", status, positions)
	}
}

func TestBotFiresThroughQueue(t *testing.T) {
	p, cleanup := newPlatform(t)
	defer cleanup()

	client := p.ts.Client()
	token, userID := signup(t, client, p.ts.URL, "botowner@example.com")

	var bot struct {
		ID string `json:"id"`
	}
	status := request(t, client, http.MethodPost, p.ts.URL+"/api/trading-bots", token, map[string]any{
		"name":     "dip buyer",
		"symbol":   "BTC/USDT",
		"strategy": "threshold",
		"params":   map[string]any{"buy_below": 60000.0, "size": 0.05},
	}, &bot)
	if status != http.StatusCreated {
		t.Fatalf("create bot status=%d", status)
	}
	if status := request(t, client, http.MethodPatch, p.ts.URL+"/api/trading-bots/"+bot.ID, token, map[string]any{
		"is_active": true,
	}, nil); status != http.StatusOK {
		t.Fatalf("activate bot status=%d", status)
	}

	// Price is below the threshold; one evaluation should place an order.
	if err := p.runner.Evaluate(context.Background(), time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// The engine drains the submission queue in the background.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		orders, err := p.database.Queries().ListOrdersByUser(context.Background(), userID, db.OrderFilter{})
		if err == nil && len(orders) == 1 {
			if orders[0].Source != "bot" {
				t.Fatalf("bot order should carry source bot, got %q", orders[0].Source)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("bot order never reached the ledger")
}
