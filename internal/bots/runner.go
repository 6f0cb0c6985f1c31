// Package bots evaluates user trading bots against live prices and feeds
// their orders into the exchange queue.
package bots

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"kingdom-core/internal/events"
	"kingdom-core/internal/exchange"
	"kingdom-core/internal/ledger"
	"kingdom-core/pkg/db"
)

// Execution actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// ThresholdParams is the only strategy currently supported: buy when the
// price drops below a floor, sell when it rises above a ceiling.
type ThresholdParams struct {
	BuyBelow  float64 `json:"buy_below"`
	SellAbove float64 `json:"sell_above"`
	Size      float64 `json:"size"`
}

// BotError rejects an invalid bot definition.
type BotError struct {
	Reason string
}

func (e *BotError) Error() string { return "bot rejected: " + e.Reason }

// PriceSource resolves the latest price for a symbol.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// Runner periodically evaluates every active bot.
type Runner struct {
	store    *db.Database
	prices   PriceSource
	queue    *exchange.Queue
	bus      *events.Bus
	cooldown time.Duration
	interval time.Duration

	mu       sync.Mutex
	lastFire map[string]time.Time // bot id -> last buy/sell
}

// NewRunner creates the bot runner.
func NewRunner(store *db.Database, prices PriceSource, queue *exchange.Queue, bus *events.Bus, cooldown, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Runner{
		store:    store,
		prices:   prices,
		queue:    queue,
		bus:      bus,
		cooldown: cooldown,
		interval: interval,
		lastFire: make(map[string]time.Time),
	}
}

// ValidateParams parses and checks strategy parameters.
func ValidateParams(strategy, raw string) (ThresholdParams, error) {
	var p ThresholdParams
	if strategy != "threshold" {
		return p, &BotError{Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, &BotError{Reason: "params must be valid JSON"}
	}
	if p.Size <= 0 {
		return p, &BotError{Reason: "size must be positive"}
	}
	if p.BuyBelow <= 0 && p.SellAbove <= 0 {
		return p, &BotError{Reason: "at least one of buy_below or sell_above is required"}
	}
	if p.BuyBelow > 0 && p.SellAbove > 0 && p.BuyBelow >= p.SellAbove {
		return p, &BotError{Reason: "buy_below must stay under sell_above"}
	}
	return p, nil
}

// Start runs the evaluation loop until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("bot runner stopped")
			return
		case <-ticker.C:
			if err := r.Evaluate(ctx, time.Now()); err != nil {
				log.Printf("❌ bot evaluation: %v", err)
			}
		}
	}
}

// Evaluate runs every active bot once against the current price.
func (r *Runner) Evaluate(ctx context.Context, now time.Time) error {
	bots, err := r.store.Queries().ListActiveBots(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		r.evaluateOne(ctx, b, now)
	}
	return nil
}

func (r *Runner) evaluateOne(ctx context.Context, b db.TradingBot, now time.Time) {
	params, err := ValidateParams(b.Strategy, b.Params)
	if err != nil {
		r.record(ctx, b, ActionHold, 0, 0, err.Error())
		return
	}
	price, ok := r.prices.Get(b.Symbol)
	if !ok || price <= 0 {
		r.record(ctx, b, ActionHold, 0, 0, "no price")
		return
	}

	action := ActionHold
	note := "within thresholds"
	switch {
	case params.BuyBelow > 0 && price < params.BuyBelow:
		action = ActionBuy
		note = fmt.Sprintf("price %.4f below %.4f", price, params.BuyBelow)
	case params.SellAbove > 0 && price > params.SellAbove:
		action = ActionSell
		note = fmt.Sprintf("price %.4f above %.4f", price, params.SellAbove)
	}

	if action != ActionHold && r.onCooldown(b.ID, now) {
		action = ActionHold
		note = "cooldown"
	}

	if action != ActionHold {
		r.markFired(b.ID, now)
		if r.queue != nil {
			r.queue.Enqueue(exchange.Submission{
				UserID: b.UserID,
				Input: ledger.NewOrderInput{
					Symbol: b.Symbol,
					Side:   action,
					Type:   ledger.TypeMarket,
					Qty:    params.Size,
					Source: "bot",
				},
			})
		}
		log.Printf("🤖 bot %s: %s %.6f %s (%s)", b.Name, action, params.Size, b.Symbol, note)
	}
	r.record(ctx, b, action, params.Size, price, note)
}

func (r *Runner) onCooldown(botID string, now time.Time) bool {
	if r.cooldown <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastFire[botID]
	return ok && now.Sub(last) < r.cooldown
}

func (r *Runner) markFired(botID string, now time.Time) {
	r.mu.Lock()
	r.lastFire[botID] = now
	r.mu.Unlock()
}

func (r *Runner) record(ctx context.Context, b db.TradingBot, action string, qty, price float64, note string) {
	e := db.BotExecution{
		ID:     uuid.NewString(),
		BotID:  b.ID,
		UserID: b.UserID,
		Symbol: b.Symbol,
		Action: action,
		Qty:    qty,
		Price:  price,
		Note:   note,
	}
	if err := r.store.Queries().InsertBotExecution(ctx, e); err != nil {
		log.Printf("❌ bot execution record: %v", err)
		return
	}
	r.bus.Publish(events.EventBotExecution, e)
}
