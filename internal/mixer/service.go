// Package mixer runs the coin mixing service: requests are funded up front,
// sit in a delay window, then pay out in randomized output splits.
package mixer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/events"
	"kingdom-core/pkg/db"
)

// Request statuses.
const (
	StatusPending   = "pending"
	StatusMixing    = "mixing"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Config tunes mixing behavior.
type Config struct {
	FeePct     float64 // percentage of the mixed amount
	MinAmount  float64
	MaxAmount  float64
	DelayMin   time.Duration
	DelayMax   time.Duration
	TickEvery  time.Duration
	OutputsMax int
}

// RequestError rejects a malformed mixing request.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string { return "mixing request rejected: " + e.Reason }

// Service owns the mixing lifecycle.
type Service struct {
	cfg      Config
	store    *db.Database
	balances *balance.Manager
	bus      *events.Bus
	rng      *rand.Rand
}

// NewService creates the mixer.
func NewService(cfg Config, store *db.Database, balances *balance.Manager, bus *events.Bus) *Service {
	if cfg.OutputsMax <= 0 {
		cfg.OutputsMax = 5
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = 5 * time.Second
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		balances: balances,
		bus:      bus,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fee returns the fee charged for mixing the given amount. Decimal math keeps
// the quoted fee exact to the cent.
func (s *Service) Fee(amount float64) float64 {
	fee := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(s.cfg.FeePct)).
		Div(decimal.NewFromInt(100)).
		Round(2)
	f, _ := fee.Float64()
	return f
}

// Splits divides the post-fee amount into n outputs that sum exactly to it.
func (s *Service) Splits(amount float64, n int) []float64 {
	net := decimal.NewFromFloat(amount).Sub(decimal.NewFromFloat(s.Fee(amount)))
	if n <= 1 {
		f, _ := net.Float64()
		return []float64{f}
	}

	out := make([]float64, 0, n)
	remaining := net
	for i := 0; i < n-1; i++ {
		// Each split takes a randomized share of what is left.
		share := decimal.NewFromFloat(0.5 + s.rng.Float64()).
			Div(decimal.NewFromInt(int64(n - i))).
			Mul(remaining).
			Round(2)
		if share.GreaterThan(remaining) {
			share = remaining
		}
		out = append(out, mustFloat(share))
		remaining = remaining.Sub(share)
	}
	out = append(out, mustFloat(remaining.Round(2)))
	return out
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Create validates and funds a new mixing request.
func (s *Service) Create(ctx context.Context, userID, currency string, amount float64, outputs int) (*db.MixingRequest, error) {
	if currency == "" {
		return nil, &RequestError{Reason: "currency is required"}
	}
	if amount < s.cfg.MinAmount {
		return nil, &RequestError{Reason: fmt.Sprintf("amount below minimum %.2f", s.cfg.MinAmount)}
	}
	if s.cfg.MaxAmount > 0 && amount > s.cfg.MaxAmount {
		return nil, &RequestError{Reason: fmt.Sprintf("amount above maximum %.2f", s.cfg.MaxAmount)}
	}
	if outputs < 1 {
		outputs = 2
	}
	if outputs > s.cfg.OutputsMax {
		return nil, &RequestError{Reason: fmt.Sprintf("at most %d output splits", s.cfg.OutputsMax)}
	}

	if err := s.balances.Debit(ctx, userID, amount); err != nil {
		return nil, err
	}

	splits := s.Splits(amount, outputs)
	raw, _ := json.Marshal(splits)

	delay := s.cfg.DelayMin
	if span := s.cfg.DelayMax - s.cfg.DelayMin; span > 0 {
		delay += time.Duration(s.rng.Int63n(int64(span)))
	}

	m := db.MixingRequest{
		ID:           uuid.NewString(),
		UserID:       userID,
		Currency:     currency,
		Amount:       amount,
		Fee:          s.Fee(amount),
		OutputSplits: string(raw),
		Status:       StatusPending,
		DelaySeconds: int64(delay / time.Second),
		CreatedAt:    time.Now(),
	}
	if err := s.store.Queries().CreateMixingRequest(ctx, m); err != nil {
		// Refund on persistence failure, funds were already taken.
		s.balances.Credit(ctx, userID, amount)
		return nil, fmt.Errorf("persist mixing request: %w", err)
	}

	log.Printf("🌀 mix requested: %s %.2f %s, %d outputs, %ds delay", m.ID, amount, currency, outputs, m.DelaySeconds)
	return &m, nil
}

// List returns a user's mixing requests.
func (s *Service) List(ctx context.Context, userID string) ([]db.MixingRequest, error) {
	return s.store.Queries().ListMixingRequestsByUser(ctx, userID, 50)
}

// Cancel aborts a pending request and refunds in full.
func (s *Service) Cancel(ctx context.Context, userID, id string) (*db.MixingRequest, error) {
	m, err := s.store.Queries().GetMixingRequestByUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusPending {
		return nil, &RequestError{Reason: "only pending requests can be cancelled"}
	}
	if err := s.store.Queries().UpdateMixingStatus(ctx, id, StatusCancelled, nil, nil); err != nil {
		return nil, err
	}
	s.balances.Credit(ctx, userID, m.Amount)
	m.Status = StatusCancelled
	return m, nil
}

// Start runs the mixing worker until ctx is done.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("mixer stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				log.Printf("❌ mixer tick: %v", err)
			}
		}
	}
}

// Tick advances every in-flight request one lifecycle step. Exported so the
// worker cadence stays separate from the state machine.
func (s *Service) Tick(ctx context.Context) error {
	rows, err := s.listInFlight(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, m := range rows {
		switch m.Status {
		case StatusPending:
			started := now
			if err := s.store.Queries().UpdateMixingStatus(ctx, m.ID, StatusMixing, &started, nil); err != nil {
				log.Printf("❌ mix start %s: %v", m.ID, err)
			}
		case StatusMixing:
			if m.StartedAt == nil || now.Sub(*m.StartedAt) < time.Duration(m.DelaySeconds)*time.Second {
				continue
			}
			completed := now
			if err := s.store.Queries().UpdateMixingStatus(ctx, m.ID, StatusCompleted, nil, &completed); err != nil {
				log.Printf("❌ mix complete %s: %v", m.ID, err)
				continue
			}
			// Pay the mixed amount back out, fee retained.
			s.balances.Credit(ctx, m.UserID, m.Amount-m.Fee)
			s.bus.Publish(events.EventMixCompleted, m)
			log.Printf("✅ mix completed: %s %.2f %s", m.ID, m.Amount-m.Fee, m.Currency)
		}
	}
	return nil
}

func (s *Service) listInFlight(ctx context.Context) ([]db.MixingRequest, error) {
	rows, err := s.store.DB.QueryContext(ctx, `
		SELECT id, user_id, currency, amount, fee, output_splits, status, delay_seconds,
		       created_at, started_at, completed_at
		FROM mixing_requests WHERE status IN ('pending','mixing')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []db.MixingRequest
	for rows.Next() {
		var m db.MixingRequest
		if err := rows.Scan(&m.ID, &m.UserID, &m.Currency, &m.Amount, &m.Fee, &m.OutputSplits,
			&m.Status, &m.DelaySeconds, &m.CreatedAt, &m.StartedAt, &m.CompletedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
