package mixer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/events"
	"kingdom-core/pkg/db"
)

func testService(t *testing.T, cfg Config) (*Service, *balance.Manager, string) {
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
	if err := store.CreateUser(ctx, db.User{ID: user, Email: "mix@example.com", PasswordHash: "x", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	bal := balance.NewManager(ctx, store, 10000)
	bal.Ensure(ctx, user)
	return NewService(cfg, store, bal, events.NewBus()), bal, user
}

func TestFeeExact(t *testing.T) {
	s, _, _ := testService(t, Config{FeePct: 1.5, MinAmount: 10, MaxAmount: 100000})
	if got := s.Fee(1000); got != 15 {
		t.Fatalf("fee = %v, want 15", got)
	}
	// 0.015 * 333.33 = 4.99995 -> 5.00 rounded to cents.
	if got := s.Fee(333.33); got != 5 {
		t.Fatalf("fee = %v, want 5", got)
	}
}

func TestSplitsSumToNetAmount(t *testing.T) {
	s, _, _ := testService(t, Config{FeePct: 2, MinAmount: 10, MaxAmount: 100000})
	for _, n := range []int{1, 2, 3, 5} {
		splits := s.Splits(1000, n)
		if len(splits) != n {
			t.Fatalf("got %d splits, want %d", len(splits), n)
		}
		sum := 0.0
		for _, v := range splits {
			if v < 0 {
				t.Fatalf("negative split %v in %v", v, splits)
			}
			sum += v
		}
		if math.Abs(sum-980) > 0.001 {
			t.Fatalf("splits sum to %v, want 980 (n=%d, %v)", sum, n, splits)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	s, _, user := testService(t, Config{FeePct: 1, MinAmount: 100, MaxAmount: 5000, OutputsMax: 4})
	ctx := context.Background()

	cases := []struct {
		name    string
		amount  float64
		outputs int
	}{
		{"below minimum", 50, 2},
		{"above maximum", 9000, 2},
		{"too many outputs", 500, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Create(ctx, user, "BTC", tc.amount, tc.outputs)
			var rerr *RequestError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected RequestError, got %v", err)
			}
		})
	}
}

func TestCreateDebitsWallet(t *testing.T) {
	s, bal, user := testService(t, Config{FeePct: 2, MinAmount: 10, MaxAmount: 100000})
	ctx := context.Background()

	m, err := s.Create(ctx, user, "BTC", 1000, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Status != StatusPending {
		t.Fatalf("status = %s, want pending", m.Status)
	}
	if m.Fee != 20 {
		t.Fatalf("fee = %v, want 20", m.Fee)
	}
	if got := bal.Available(user); got != 9000 {
		t.Fatalf("available = %v, want 9000", got)
	}

	var splits []float64
	if err := json.Unmarshal([]byte(m.OutputSplits), &splits); err != nil {
		t.Fatalf("splits json: %v", err)
	}
	if len(splits) != 3 {
		t.Fatalf("got %d splits, want 3", len(splits))
	}
}

func TestCreateInsufficientFunds(t *testing.T) {
	s, _, user := testService(t, Config{FeePct: 1, MinAmount: 10, MaxAmount: 1000000})
	_, err := s.Create(context.Background(), user, "BTC", 50000, 2)
	var insufficient balance.ErrInsufficientFunds
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestLifecyclePendingMixingCompleted(t *testing.T) {
	s, bal, user := testService(t, Config{FeePct: 1, MinAmount: 10, MaxAmount: 100000, DelayMin: 0, DelayMax: 0})
	ctx := context.Background()

	m, err := s.Create(ctx, user, "ETH", 500, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// First tick: pending -> mixing.
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	got, err := s.store.Queries().GetMixingRequestByUser(ctx, user, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMixing {
		t.Fatalf("status = %s, want mixing", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("started_at not set")
	}

	// Zero delay, second tick completes and pays out net of fee.
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	got, err = s.store.Queries().GetMixingRequestByUser(ctx, user, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	// 10000 - 500 + (500 - 5 fee) = 9995.
	if avail := bal.Available(user); math.Abs(avail-9995) > 0.001 {
		t.Fatalf("available = %v, want 9995", avail)
	}
}

func TestCancelRefundsPendingOnly(t *testing.T) {
	s, bal, user := testService(t, Config{FeePct: 1, MinAmount: 10, MaxAmount: 100000})
	ctx := context.Background()

	m, err := s.Create(ctx, user, "BTC", 200, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := s.Cancel(ctx, user, m.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if got := bal.Available(user); got != 10000 {
		t.Fatalf("available = %v, want full refund to 10000", got)
	}

	// Cancelled is terminal.
	if _, err := s.Cancel(ctx, user, m.ID); err == nil {
		t.Fatal("second cancel should fail")
	}

	// The worker must not resurrect or pay out a cancelled request.
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := s.store.Queries().GetMixingRequestByUser(ctx, user, m.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestMixingWaitsForDelay(t *testing.T) {
	s, _, user := testService(t, Config{FeePct: 1, MinAmount: 10, MaxAmount: 100000, DelayMin: time.Hour, DelayMax: time.Hour})
	ctx := context.Background()

	m, err := s.Create(ctx, user, "BTC", 100, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	got, _ := s.store.Queries().GetMixingRequestByUser(ctx, user, m.ID)
	if got.Status != StatusMixing {
		t.Fatalf("status = %s, want mixing until delay elapses", got.Status)
	}
}
