package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/events"
	"kingdom-core/internal/holdings"
	"kingdom-core/internal/ledger"
	"kingdom-core/internal/market"
	"kingdom-core/pkg/db"
)

type fixture struct {
	engine   *Engine
	store    *db.Database
	book     *market.PriceBook
	balances *balance.Manager
	holdings *holdings.Manager
	user     string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	user := uuid.NewString()
	if err := store.CreateUser(ctx, db.User{ID: user, Email: "exec@example.com", PasswordHash: "x", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	bus := events.NewBus()
	book := market.NewPriceBook()
	bal := balance.NewManager(ctx, store, 100000)
	bal.Ensure(ctx, user)
	hold := holdings.NewManager(store, book)
	led := ledger.NewService(store, bus)

	return &fixture{
		engine:   NewEngine(cfg, led, hold, bal, book, bus, nil),
		store:    store,
		book:     book,
		balances: bal,
		holdings: hold,
		user:     user,
	}
}

func TestMarketBuyFillsImmediately(t *testing.T) {
	f := newFixture(t, Config{FeeRateBps: 10})
	ctx := context.Background()
	f.book.Set("BTC/USDT", 50000)

	o, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "BTC/USDT", Side: "buy", Type: "market", Qty: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.Status != ledger.StatusFilled {
		t.Fatalf("status = %s, want filled", o.Status)
	}

	h := f.holdings.Holding(f.user, "BTC/USDT")
	if h.Qty != 1 {
		t.Fatalf("holding qty = %v, want 1", h.Qty)
	}

	// 50000 notional + 5 fee deducted, nothing left locked.
	if locked := f.balances.Locked(f.user); locked != 0 {
		t.Fatalf("locked = %v, want 0", locked)
	}
	wantAvail := 100000 - 50000*1.001
	if avail := f.balances.Available(f.user); avail < wantAvail-1 || avail > wantAvail+1 {
		t.Fatalf("available = %v, want ~%v", avail, wantAvail)
	}
}

func TestMarketOrderWithoutPriceRejected(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.engine.Submit(context.Background(), f.user, ledger.NewOrderInput{
		Symbol: "NOPE/USDT", Side: "buy", Type: "market", Qty: 1,
	})
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestSellRequiresHoldings(t *testing.T) {
	f := newFixture(t, Config{})
	f.book.Set("ETH/USDT", 3000)

	_, err := f.engine.Submit(context.Background(), f.user, ledger.NewOrderInput{
		Symbol: "ETH/USDT", Side: "sell", Type: "market", Qty: 1,
	})
	if !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
}

func TestLimitBuyRestsThenFills(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book.Set("ETH/USDT", 3000)

	o, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "ETH/USDT", Side: "buy", Type: "limit", Price: 2800, Qty: 2,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.Status != ledger.StatusOpen {
		t.Fatalf("status = %s, want open", o.Status)
	}
	if f.engine.RestingCount("ETH/USDT") != 1 {
		t.Fatal("order should rest")
	}

	// Price comes down through the limit.
	f.engine.onPrice(ctx, "ETH/USDT", 2750)

	got, err := f.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ledger.StatusFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	if f.engine.RestingCount("ETH/USDT") != 0 {
		t.Fatal("filled order should leave the book")
	}
	if h := f.holdings.Holding(f.user, "ETH/USDT"); h.Qty != 2 {
		t.Fatalf("holding qty = %v, want 2", h.Qty)
	}
}

func TestStopSellTriggers(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book.Set("BTC/USDT", 50000)

	// Seed a holding to sell out of.
	if _, err := f.holdings.RecordFill(ctx, f.user, "BTC/USDT", "buy", 1, 48000); err != nil {
		t.Fatalf("seed holding: %v", err)
	}

	o, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "BTC/USDT", Side: "sell", Type: "stop", StopPrice: 45000, Qty: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.Status != ledger.StatusOpen {
		t.Fatalf("status = %s, want open", o.Status)
	}

	// Above the stop: nothing happens.
	f.engine.onPrice(ctx, "BTC/USDT", 46000)
	got, _ := f.store.GetOrder(ctx, o.ID)
	if got.Status != ledger.StatusOpen {
		t.Fatalf("stop fired early: %s", got.Status)
	}

	// Breach the stop: converts to a market sell.
	f.engine.onPrice(ctx, "BTC/USDT", 44900)
	got, _ = f.store.GetOrder(ctx, o.ID)
	if got.Status != ledger.StatusFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	if h := f.holdings.Holding(f.user, "BTC/USDT"); h.Qty != 0 {
		t.Fatalf("holding qty = %v, want 0", h.Qty)
	}
}

func TestCancelReleasesFunds(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book.Set("AAPL", 225)

	o, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "AAPL", AssetClass: "stock", Side: "buy", Type: "limit", Price: 200, Qty: 10,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.balances.Locked(f.user) == 0 {
		t.Fatal("limit buy should lock funds")
	}

	cancelled, err := f.engine.Cancel(ctx, f.user, o.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != ledger.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if f.balances.Locked(f.user) != 0 {
		t.Fatalf("locked = %v after cancel, want 0", f.balances.Locked(f.user))
	}
	if f.balances.Available(f.user) != 100000 {
		t.Fatalf("available = %v, want 100000", f.balances.Available(f.user))
	}
}

func TestCancelAfterFillReleasesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book.Set("ETH/USDT", 3000)

	o, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "ETH/USDT", Side: "buy", Type: "limit", Price: 2800, Qty: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.engine.onPrice(ctx, "ETH/USDT", 2800)

	// The fill consumed the reservation; cancelling must not refund it.
	if _, err := f.engine.Cancel(ctx, f.user, o.ID); err == nil {
		t.Fatal("cancel of a filled order should fail")
	}
	if locked := f.balances.Locked(f.user); locked != 0 {
		t.Fatalf("locked = %v, want 0", locked)
	}
	if avail := f.balances.Available(f.user); avail != 100000-2800 {
		t.Fatalf("available = %v, want %v", avail, 100000-2800)
	}
}

func TestConcurrentSubmitsDuringTicks(t *testing.T) {
	f := newFixture(t, Config{FeeRateBps: 10, SlippageBps: 5, PartialFillPct: 50})
	ctx := context.Background()
	f.book.Set("BTC/USDT", 100)

	ticksDone := make(chan struct{})
	go func() {
		defer close(ticksDone)
		for i := 0; i < 200; i++ {
			f.engine.onPrice(ctx, "BTC/USDT", 100)
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
					Symbol: "BTC/USDT", Side: "buy", Type: "market", Qty: 0.01,
				}); err != nil {
					t.Errorf("submit: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	<-ticksDone

	// Complete any two-step remainders, then the books must balance.
	for i := 0; i < 20; i++ {
		f.engine.onPrice(ctx, "BTC/USDT", 100)
	}
	if resting := f.engine.RestingCount("BTC/USDT"); resting != 0 {
		t.Fatalf("resting = %d, want 0", resting)
	}
	if locked := f.balances.Locked(f.user); locked > 0.01 {
		t.Fatalf("locked = %v after all fills, want ~0", locked)
	}
	if h := f.holdings.Holding(f.user, "BTC/USDT"); h.Qty < 1.99 || h.Qty > 2.01 {
		t.Fatalf("holding qty = %v, want ~2", h.Qty)
	}
}

func TestSweepExpiresStaleOrders(t *testing.T) {
	f := newFixture(t, Config{OrderTTL: time.Millisecond})
	ctx := context.Background()
	f.book.Set("TSLA", 250)

	o, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "TSLA", AssetClass: "stock", Side: "buy", Type: "limit", Price: 200, Qty: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	f.engine.sweepExpired(ctx)

	got, err := f.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ledger.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if f.balances.Locked(f.user) != 0 {
		t.Fatalf("locked = %v after expiry, want 0", f.balances.Locked(f.user))
	}
	if f.engine.RestingCount("TSLA") != 0 {
		t.Fatal("expired order should leave the book")
	}
}

func TestRecoverLoadsRestingOrders(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book.Set("BTC/USDT", 50000)

	if _, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "BTC/USDT", Side: "buy", Type: "limit", Price: 40000, Qty: 1,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A fresh engine over the same store picks the order back up.
	bus := events.NewBus()
	led := ledger.NewService(f.store, bus)
	fresh := NewEngine(Config{}, led, f.holdings, f.balances, f.book, bus, nil)
	if err := fresh.Recover(ctx, f.store); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if fresh.RestingCount("BTC/USDT") != 1 {
		t.Fatalf("resting = %d, want 1", fresh.RestingCount("BTC/USDT"))
	}
}

func TestRecoverRestoresReservedFunds(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.book.Set("BTC/USDT", 50000)

	// A stop buy reserves at the reference price and rests.
	o, err := f.engine.Submit(ctx, f.user, ledger.NewOrderInput{
		Symbol: "BTC/USDT", Side: "buy", Type: "stop", StopPrice: 55000, Qty: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.balances.Locked(f.user) != 50000 {
		t.Fatalf("locked = %v, want 50000", f.balances.Locked(f.user))
	}

	// Restart: a fresh engine must reserve again or the fill is free.
	bus := events.NewBus()
	led := ledger.NewService(f.store, bus)
	fresh := NewEngine(Config{}, led, f.holdings, f.balances, f.book, bus, nil)
	if err := fresh.Recover(ctx, f.store); err != nil {
		t.Fatalf("recover: %v", err)
	}

	fresh.onPrice(ctx, "BTC/USDT", 55000)

	got, err := f.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ledger.StatusFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	if locked := f.balances.Locked(f.user); locked != 0 {
		t.Fatalf("locked = %v after fill, want 0", locked)
	}
	if avail := f.balances.Available(f.user); avail != 50000 {
		t.Fatalf("available = %v, want 50000", avail)
	}
	if h := f.holdings.Holding(f.user, "BTC/USDT"); h.Qty != 1 {
		t.Fatalf("holding qty = %v, want 1", h.Qty)
	}
}
