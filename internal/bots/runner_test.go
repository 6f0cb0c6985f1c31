package bots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"kingdom-core/internal/events"
	"kingdom-core/internal/exchange"
	"kingdom-core/internal/market"
	"kingdom-core/pkg/db"
)

func testRunner(t *testing.T, cooldown time.Duration) (*Runner, *db.Database, *market.PriceBook, *exchange.Queue, string) {
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
	if err := store.CreateUser(ctx, db.User{ID: user, Email: "bot@example.com", PasswordHash: "x", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	book := market.NewPriceBook()
	queue := exchange.NewQueue(16)
	r := NewRunner(store, book, queue, events.NewBus(), cooldown, time.Second)
	return r, store, book, queue, user
}

func seedBot(t *testing.T, store *db.Database, user, params string, active bool) string {
	t.Helper()
	id := uuid.NewString()
	err := store.Queries().CreateBot(context.Background(), db.TradingBot{
		ID: id, UserID: user, Name: "test bot", Symbol: "BTC/USDT",
		Strategy: "threshold", Params: params, IsActive: active,
	})
	if err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	return id
}

func drainOne(t *testing.T, queue *exchange.Queue) *exchange.Submission {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var got *exchange.Submission
	queue.Drain(ctx, func(s exchange.Submission) {
		got = &s
		cancel()
	})
	return got
}

func TestValidateParams(t *testing.T) {
	cases := []struct {
		name   string
		params string
		ok     bool
	}{
		{"valid both", `{"buy_below":40000,"sell_above":70000,"size":0.1}`, true},
		{"valid buy only", `{"buy_below":40000,"size":0.1}`, true},
		{"zero size", `{"buy_below":40000,"size":0}`, false},
		{"no thresholds", `{"size":0.1}`, false},
		{"inverted thresholds", `{"buy_below":70000,"sell_above":40000,"size":0.1}`, false},
		{"garbage", `not json`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateParams("threshold", tc.params)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				var berr *BotError
				if !errors.As(err, &berr) {
					t.Fatalf("expected BotError, got %v", err)
				}
			}
		})
	}

	if _, err := ValidateParams("momentum", `{}`); err == nil {
		t.Fatal("unknown strategy should fail")
	}
}

func TestBuySignalEnqueuesOrder(t *testing.T) {
	r, store, book, queue, user := testRunner(t, 0)
	ctx := context.Background()

	seedBot(t, store, user, `{"buy_below":40000,"sell_above":70000,"size":0.5}`, true)
	book.Set("BTC/USDT", 35000)

	if err := r.Evaluate(ctx, time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	sub := drainOne(t, queue)
	if sub == nil {
		t.Fatal("no submission enqueued")
	}
	if sub.Input.Side != "buy" || sub.Input.Qty != 0.5 || sub.Input.Source != "bot" {
		t.Fatalf("submission: %+v", sub.Input)
	}

	execs, err := store.Queries().ListBotExecutionsByUser(ctx, user, 10)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(execs) != 1 || execs[0].Action != ActionBuy {
		t.Fatalf("executions: %+v", execs)
	}
}

func TestHoldInsideThresholds(t *testing.T) {
	r, store, book, queue, user := testRunner(t, 0)
	ctx := context.Background()

	seedBot(t, store, user, `{"buy_below":40000,"sell_above":70000,"size":0.5}`, true)
	book.Set("BTC/USDT", 50000)

	if err := r.Evaluate(ctx, time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if sub := drainOne(t, queue); sub != nil {
		t.Fatalf("hold must not enqueue, got %+v", sub)
	}
	execs, _ := store.Queries().ListBotExecutionsByUser(ctx, user, 10)
	if len(execs) != 1 || execs[0].Action != ActionHold {
		t.Fatalf("executions: %+v", execs)
	}
}

func TestInactiveBotsSkipped(t *testing.T) {
	r, store, book, _, user := testRunner(t, 0)
	ctx := context.Background()

	seedBot(t, store, user, `{"buy_below":40000,"size":0.5}`, false)
	book.Set("BTC/USDT", 30000)

	if err := r.Evaluate(ctx, time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	execs, _ := store.Queries().ListBotExecutionsByUser(ctx, user, 10)
	if len(execs) != 0 {
		t.Fatalf("inactive bot produced executions: %+v", execs)
	}
}

func TestCooldownSuppressesRepeatFires(t *testing.T) {
	r, store, book, queue, user := testRunner(t, time.Minute)
	ctx := context.Background()

	seedBot(t, store, user, `{"sell_above":60000,"buy_below":0,"size":1}`, true)
	book.Set("BTC/USDT", 65000)

	now := time.Now()
	if err := r.Evaluate(ctx, now); err != nil {
		t.Fatalf("evaluate 1: %v", err)
	}
	if sub := drainOne(t, queue); sub == nil || sub.Input.Side != "sell" {
		t.Fatal("first evaluation should fire a sell")
	}

	// Ten seconds later, still cooling down.
	if err := r.Evaluate(ctx, now.Add(10*time.Second)); err != nil {
		t.Fatalf("evaluate 2: %v", err)
	}
	if sub := drainOne(t, queue); sub != nil {
		t.Fatal("cooldown should suppress the second fire")
	}

	// Past the cooldown it fires again.
	if err := r.Evaluate(ctx, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("evaluate 3: %v", err)
	}
	if sub := drainOne(t, queue); sub == nil {
		t.Fatal("bot should fire after cooldown")
	}

	execs, _ := store.Queries().ListBotExecutionsByUser(ctx, user, 10)
	if len(execs) != 3 {
		t.Fatalf("got %d executions, want 3", len(execs))
	}
}
