// Package spectrum implements tiered staking: users lock funds into a plan
// and accrue rewards continuously at the plan's APY.
package spectrum

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/events"
	"kingdom-core/pkg/db"
)

// Position statuses.
const (
	StatusActive   = "active"
	StatusUnstaked = "unstaked"
)

const hoursPerYear = 24 * 365

// StakeError rejects an invalid staking operation.
type StakeError struct {
	Reason string
}

func (e *StakeError) Error() string { return "stake rejected: " + e.Reason }

// Service owns stake positions and the accrual worker.
type Service struct {
	store    *db.Database
	balances *balance.Manager
	bus      *events.Bus
	interval time.Duration
}

// NewService creates the staking service.
func NewService(store *db.Database, balances *balance.Manager, bus *events.Bus, accrualInterval time.Duration) *Service {
	if accrualInterval <= 0 {
		accrualInterval = time.Minute
	}
	return &Service{store: store, balances: balances, bus: bus, interval: accrualInterval}
}

// Plans returns active stake plans.
func (s *Service) Plans(ctx context.Context) ([]db.StakePlan, error) {
	return s.store.Queries().ListStakePlans(ctx)
}

// Positions returns a user's stake positions.
func (s *Service) Positions(ctx context.Context, userID string) ([]db.StakePosition, error) {
	return s.store.Queries().ListStakePositionsByUser(ctx, userID)
}

// Stake locks funds into a plan.
func (s *Service) Stake(ctx context.Context, userID, planID string, amount float64) (*db.StakePosition, error) {
	plan, err := s.store.Queries().GetStakePlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, &StakeError{Reason: "plan is not active"}
	}
	if amount < plan.MinStake {
		return nil, &StakeError{Reason: fmt.Sprintf("minimum stake for %s is %.2f", plan.Tier, plan.MinStake)}
	}
	if err := s.balances.Debit(ctx, userID, amount); err != nil {
		return nil, err
	}

	now := time.Now()
	p := db.StakePosition{
		ID:            uuid.NewString(),
		UserID:        userID,
		PlanID:        plan.ID,
		Principal:     amount,
		Status:        StatusActive,
		StartedAt:     now,
		LastAccrualAt: now,
		UnlocksAt:     now.Add(time.Duration(plan.LockDays) * 24 * time.Hour),
	}
	if err := s.store.Queries().CreateStakePosition(ctx, p); err != nil {
		s.balances.Credit(ctx, userID, amount)
		return nil, fmt.Errorf("persist position: %w", err)
	}
	log.Printf("🥩 staked: user=%s %.2f into %s for %dd", userID, amount, plan.Tier, plan.LockDays)
	return &p, nil
}

// Claim pays out accrued rewards without touching the principal.
func (s *Service) Claim(ctx context.Context, userID, positionID string) (float64, error) {
	p, err := s.store.Queries().GetStakePositionByUser(ctx, userID, positionID)
	if err != nil {
		return 0, err
	}
	if p.Status != StatusActive {
		return 0, &StakeError{Reason: "position is not active"}
	}
	claimed := p.Accrued
	if claimed <= 0 {
		return 0, nil
	}
	p.Accrued = 0
	if err := s.store.Queries().UpdateStakePosition(ctx, *p); err != nil {
		return 0, err
	}
	s.balances.Credit(ctx, userID, claimed)
	log.Printf("💎 claim: user=%s %.4f from %s", userID, claimed, positionID)
	return claimed, nil
}

// Upgrade moves a position to a higher tier, optionally adding principal. The
// lock restarts under the new plan's terms and accrued rewards are kept.
func (s *Service) Upgrade(ctx context.Context, userID, positionID, planID string, addAmount float64) (*db.StakePosition, error) {
	p, err := s.store.Queries().GetStakePositionByUser(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusActive {
		return nil, &StakeError{Reason: "position is not active"}
	}
	plan, err := s.store.Queries().GetStakePlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, &StakeError{Reason: "plan is not active"}
	}
	if addAmount < 0 {
		return nil, &StakeError{Reason: "additional amount cannot be negative"}
	}
	newPrincipal := p.Principal + addAmount
	if newPrincipal < plan.MinStake {
		return nil, &StakeError{Reason: fmt.Sprintf("minimum stake for %s is %.2f", plan.Tier, plan.MinStake)}
	}
	if addAmount > 0 {
		if err := s.balances.Debit(ctx, userID, addAmount); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	p.PlanID = plan.ID
	p.Principal = newPrincipal
	p.LastAccrualAt = now
	p.UnlocksAt = now.Add(time.Duration(plan.LockDays) * 24 * time.Hour)
	if err := s.store.Queries().UpdateStakePosition(ctx, *p); err != nil {
		if addAmount > 0 {
			s.balances.Credit(ctx, userID, addAmount)
		}
		return nil, err
	}
	log.Printf("⬆️ upgrade: user=%s position=%s to %s", userID, positionID, plan.Tier)
	return p, nil
}

// Unstake closes a position after its lock expires, returning principal plus
// any unclaimed rewards. Early unstake forfeits accrued rewards.
func (s *Service) Unstake(ctx context.Context, userID, positionID string) (float64, error) {
	p, err := s.store.Queries().GetStakePositionByUser(ctx, userID, positionID)
	if err != nil {
		return 0, err
	}
	if p.Status != StatusActive {
		return 0, &StakeError{Reason: "position is not active"}
	}

	payout := p.Principal
	if !time.Now().Before(p.UnlocksAt) {
		payout += p.Accrued
	}

	p.Status = StatusUnstaked
	p.Accrued = 0
	if err := s.store.Queries().UpdateStakePosition(ctx, *p); err != nil {
		return 0, err
	}
	s.balances.Credit(ctx, userID, payout)
	log.Printf("🏁 unstake: user=%s position=%s payout=%.2f", userID, positionID, payout)
	return payout, nil
}

// Start runs the accrual worker until ctx is done.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("spectrum accrual stopped")
			return
		case <-ticker.C:
			if err := s.Accrue(ctx, time.Now()); err != nil {
				log.Printf("❌ accrual: %v", err)
			}
		}
	}
}

// Accrue advances rewards for every active position up to now. Decimal math
// keeps long-running accrual drift-free.
func (s *Service) Accrue(ctx context.Context, now time.Time) error {
	positions, err := s.store.Queries().ListActiveStakePositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		plan, err := s.store.Queries().GetStakePlan(ctx, p.PlanID)
		if err != nil {
			continue
		}
		elapsed := now.Sub(p.LastAccrualAt)
		if elapsed <= 0 {
			continue
		}

		reward := decimal.NewFromFloat(p.Principal).
			Mul(decimal.NewFromFloat(plan.APY)).
			Div(decimal.NewFromInt(100)).
			Mul(decimal.NewFromFloat(elapsed.Hours())).
			Div(decimal.NewFromInt(hoursPerYear))
		accrued := decimal.NewFromFloat(p.Accrued).Add(reward).Round(8)

		f, _ := accrued.Float64()
		if err := s.store.Queries().UpdateStakeAccrual(ctx, p.ID, f, now); err != nil {
			log.Printf("❌ accrue %s: %v", p.ID, err)
			continue
		}
		s.bus.Publish(events.EventStakeAccrued, p.ID)
	}
	return nil
}
