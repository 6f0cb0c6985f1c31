package spectrum

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/events"
	"kingdom-core/pkg/db"
)

func testService(t *testing.T) (*Service, *balance.Manager, string) {
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
	if err := store.CreateUser(ctx, db.User{ID: user, Email: "stake@example.com", PasswordHash: "x", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	plans := []db.StakePlan{
		{ID: "bronze", Tier: "bronze", APY: 5, LockDays: 30, MinStake: 100, IsActive: true},
		{ID: "silver", Tier: "silver", APY: 8, LockDays: 90, MinStake: 1000, IsActive: true},
		{ID: "gold", Tier: "gold", APY: 12, LockDays: 180, MinStake: 5000, IsActive: true},
		{ID: "legacy", Tier: "legacy", APY: 20, LockDays: 30, MinStake: 100, IsActive: false},
	}
	for _, p := range plans {
		if err := store.UpsertStakePlan(ctx, p); err != nil {
			t.Fatalf("seed plan: %v", err)
		}
	}

	bal := balance.NewManager(ctx, store, 10000)
	bal.Ensure(ctx, user)
	return NewService(store, bal, events.NewBus(), time.Minute), bal, user
}

func TestPlansExcludeInactive(t *testing.T) {
	s, _, _ := testService(t)
	plans, err := s.Plans(context.Background())
	if err != nil {
		t.Fatalf("plans: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("got %d plans, want 3 active", len(plans))
	}
	for _, p := range plans {
		if p.Tier == "legacy" {
			t.Fatal("inactive plan leaked into listing")
		}
	}
}

func TestStakeBelowMinimumRejected(t *testing.T) {
	s, bal, user := testService(t)
	_, err := s.Stake(context.Background(), user, "silver", 500)
	var serr *StakeError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StakeError, got %v", err)
	}
	if bal.Available(user) != 10000 {
		t.Fatal("failed stake must not move funds")
	}
}

func TestStakeInactivePlanRejected(t *testing.T) {
	s, _, user := testService(t)
	_, err := s.Stake(context.Background(), user, "legacy", 200)
	var serr *StakeError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StakeError, got %v", err)
	}
}

func TestStakeDebitsAndLocks(t *testing.T) {
	s, bal, user := testService(t)
	ctx := context.Background()

	p, err := s.Stake(ctx, user, "silver", 2000)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if p.Status != StatusActive || p.Principal != 2000 {
		t.Fatalf("position: %+v", p)
	}
	if bal.Available(user) != 8000 {
		t.Fatalf("available = %v, want 8000", bal.Available(user))
	}
	wantUnlock := time.Now().Add(90 * 24 * time.Hour)
	if p.UnlocksAt.Before(wantUnlock.Add(-time.Minute)) || p.UnlocksAt.After(wantUnlock.Add(time.Minute)) {
		t.Fatalf("unlocks_at = %v, want ~%v", p.UnlocksAt, wantUnlock)
	}
}

func TestAccrueAndClaim(t *testing.T) {
	s, bal, user := testService(t)
	ctx := context.Background()

	p, err := s.Stake(ctx, user, "bronze", 1000)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	// One year of accrual at 5% APY on 1000 is 50.
	if err := s.Accrue(ctx, p.LastAccrualAt.Add(365*24*time.Hour)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	got, err := s.store.Queries().GetStakePositionByUser(ctx, user, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if math.Abs(got.Accrued-50) > 0.01 {
		t.Fatalf("accrued = %v, want ~50", got.Accrued)
	}

	claimed, err := s.Claim(ctx, user, p.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if math.Abs(claimed-50) > 0.01 {
		t.Fatalf("claimed = %v, want ~50", claimed)
	}
	if math.Abs(bal.Available(user)-9050) > 0.01 {
		t.Fatalf("available = %v, want ~9050", bal.Available(user))
	}

	// Accrued resets after claim.
	got, _ = s.store.Queries().GetStakePositionByUser(ctx, user, p.ID)
	if got.Accrued != 0 {
		t.Fatalf("accrued = %v after claim, want 0", got.Accrued)
	}
}

func TestUpgradeRestartsLock(t *testing.T) {
	s, bal, user := testService(t)
	ctx := context.Background()

	p, err := s.Stake(ctx, user, "bronze", 500)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	up, err := s.Upgrade(ctx, user, p.ID, "silver", 600)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if up.PlanID != "silver" || up.Principal != 1100 {
		t.Fatalf("upgraded position: %+v", up)
	}
	if bal.Available(user) != 8900 {
		t.Fatalf("available = %v, want 8900", bal.Available(user))
	}

	// Upgrading below the target minimum is rejected.
	p2, err := s.Stake(ctx, user, "bronze", 100)
	if err != nil {
		t.Fatalf("stake 2: %v", err)
	}
	if _, err := s.Upgrade(ctx, user, p2.ID, "gold", 0); err == nil {
		t.Fatal("upgrade below minimum should fail")
	}
}

func TestUnstakeEarlyForfeitsRewards(t *testing.T) {
	s, bal, user := testService(t)
	ctx := context.Background()

	p, err := s.Stake(ctx, user, "bronze", 1000)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := s.Accrue(ctx, p.LastAccrualAt.Add(365*24*time.Hour)); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// Lock has not expired, rewards are forfeited.
	payout, err := s.Unstake(ctx, user, p.ID)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if payout != 1000 {
		t.Fatalf("payout = %v, want principal only", payout)
	}
	if math.Abs(bal.Available(user)-10000) > 0.01 {
		t.Fatalf("available = %v, want 10000", bal.Available(user))
	}

	// Unstaked is terminal.
	if _, err := s.Unstake(ctx, user, p.ID); err == nil {
		t.Fatal("second unstake should fail")
	}
	if _, err := s.Claim(ctx, user, p.ID); err == nil {
		t.Fatal("claim on unstaked position should fail")
	}
}
