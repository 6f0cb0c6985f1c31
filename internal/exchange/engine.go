// Package exchange executes orders against live prices: immediate fills for
// market orders, a resting book for limit and stop orders, and TTL expiry.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/events"
	"kingdom-core/internal/holdings"
	"kingdom-core/internal/ledger"
	"kingdom-core/internal/market"
	"kingdom-core/pkg/db"
)

// ErrNoPrice is returned when a symbol has no quote yet.
var ErrNoPrice = errors.New("no price available for symbol")

// ErrInsufficientHoldings rejects sells beyond the owned quantity.
var ErrInsufficientHoldings = errors.New("insufficient holdings to sell")

// Config tunes execution simulation.
type Config struct {
	FeeRateBps     float64
	SlippageBps    float64
	PartialFillPct float64 // chance (0-100) a market order fills in two steps
	OrderTTL       time.Duration
	SweepEvery     time.Duration
}

type restingOrder struct {
	order       db.Order
	lockedFunds float64
	armed       bool // stop orders flip once triggered
}

// Engine routes every order through the ledger and settles wallet and
// holdings state on each fill.
type Engine struct {
	cfg      Config
	ledger   *ledger.Service
	holdings *holdings.Manager
	balances *balance.Manager
	prices   *market.PriceBook
	bus      *events.Bus
	queue    *Queue

	// mu guards the resting book and every restingOrder it holds; fill,
	// Cancel and the expiry sweep all settle funds under it.
	mu      sync.Mutex
	resting map[string][]*restingOrder // by symbol

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates the fill engine.
func NewEngine(cfg Config, led *ledger.Service, hold *holdings.Manager, bal *balance.Manager, prices *market.PriceBook, bus *events.Bus, queue *Queue) *Engine {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 30 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		ledger:   led,
		holdings: hold,
		balances: bal,
		prices:   prices,
		bus:      bus,
		queue:    queue,
		resting:  make(map[string][]*restingOrder),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) feeRate() float64  { return e.cfg.FeeRateBps / 10000 }
func (e *Engine) slippage() float64 { return e.cfg.SlippageBps / 10000 }

// randFloat serializes access to the shared source; Submit runs on request
// goroutines while the tick loop rolls slippage on its own.
func (e *Engine) randFloat() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

// Recover loads resting orders from the database after a restart.
func (e *Engine) Recover(ctx context.Context, store *db.Database) error {
	open, err := store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range open {
		ro := &restingOrder{order: o}
		if o.Side == ledger.SideBuy {
			// Every open buy reserved funds at submit time; rebuild the
			// reservation so fills after a restart still settle.
			lockPrice := o.Price
			if o.Type != ledger.TypeLimit {
				if p, ok := e.prices.Get(o.Symbol); ok && p > 0 {
					lockPrice = p
				} else {
					lockPrice = o.StopPrice
				}
				lockPrice *= 1 + e.slippage()
			}
			ro.lockedFunds = lockPrice * (o.Qty - o.FilledQty) * (1 + e.feeRate())
		}
		e.resting[o.Symbol] = append(e.resting[o.Symbol], ro)
	}
	if len(open) > 0 {
		log.Printf("♻️ recovered %d resting orders", len(open))
	}
	return nil
}

// Start runs the engine loops until ctx is done: market tick processing,
// queued bot submissions and the TTL sweep.
func (e *Engine) Start(ctx context.Context) {
	ticks, unsub := e.bus.Subscribe(events.EventMarketUpdate, 256)
	defer unsub()

	if e.queue != nil {
		go e.queue.Drain(ctx, func(s Submission) {
			if _, err := e.Submit(ctx, s.UserID, s.Input); err != nil {
				log.Printf("❌ queued order rejected: %v", err)
			}
		})
	}

	sweep := time.NewTicker(e.cfg.SweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("exchange engine stopped")
			return
		case msg := <-ticks:
			if upd, ok := msg.(events.MarketUpdate); ok {
				e.onPrice(ctx, upd.Symbol, upd.Price)
			}
		case <-sweep.C:
			e.sweepExpired(ctx)
		}
	}
}

// Submit validates, funds and executes a new order. Market orders fill
// immediately; limit and stop orders may rest on the book.
func (e *Engine) Submit(ctx context.Context, userID string, in ledger.NewOrderInput) (*db.Order, error) {
	if err := ledger.Validate(in); err != nil {
		return nil, err
	}

	refPrice, ok := e.prices.Get(in.Symbol)
	if !ok || refPrice <= 0 {
		return nil, ErrNoPrice
	}

	if in.Side == ledger.SideSell {
		owned := e.holdings.Holding(userID, in.Symbol).Qty
		if owned < in.Qty {
			return nil, ErrInsufficientHoldings
		}
	}

	// Buys reserve funds up front against the worst acceptable price.
	var locked float64
	if in.Side == ledger.SideBuy {
		lockPrice := refPrice * (1 + e.slippage())
		if in.Type == ledger.TypeLimit {
			lockPrice = in.Price
		}
		locked = lockPrice * in.Qty * (1 + e.feeRate())
		if err := e.balances.Lock(ctx, userID, locked); err != nil {
			return nil, err
		}
	}

	o, err := e.ledger.Create(ctx, userID, in)
	if err != nil {
		if locked > 0 {
			e.balances.Unlock(ctx, userID, locked)
		}
		return nil, err
	}

	ro := &restingOrder{order: *o, lockedFunds: locked}

	switch in.Type {
	case ledger.TypeMarket:
		e.executeMarket(ctx, ro, refPrice)
	case ledger.TypeLimit:
		if crosses(in.Side, in.Price, refPrice) {
			e.fill(ctx, ro, remaining(ro), refPrice)
		}
	case ledger.TypeStop:
		// Rests until triggered.
	}

	// Snapshot before booking: once on the book the tick loop may mutate ro.
	e.mu.Lock()
	out := ro.order
	if !ledger.IsTerminal(out.Status) {
		e.resting[out.Symbol] = append(e.resting[out.Symbol], ro)
	}
	e.mu.Unlock()
	return &out, nil
}

// Cancel pulls an order off the book and releases its reserved funds.
func (e *Engine) Cancel(ctx context.Context, userID, orderID string) (*db.Order, error) {
	o, err := e.ledger.Cancel(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol := o.Symbol
	for i, ro := range e.resting[symbol] {
		if ro.order.ID == orderID {
			if ro.lockedFunds > 0 {
				e.balances.Unlock(ctx, userID, ro.lockedFunds)
				ro.lockedFunds = 0
			}
			e.resting[symbol] = append(e.resting[symbol][:i], e.resting[symbol][i+1:]...)
			break
		}
	}
	return o, nil
}

// executeMarket fills a market order at the slipped price. A configurable
// fraction of market orders fills in two steps so the partial path stays
// exercised; the remainder rests and completes on the next tick.
func (e *Engine) executeMarket(ctx context.Context, ro *restingOrder, refPrice float64) {
	price := e.slip(ro.order.Side, refPrice)
	qty := remaining(ro)
	if e.cfg.PartialFillPct > 0 && e.randFloat()*100 < e.cfg.PartialFillPct && qty > 0 {
		qty = qty * (0.3 + e.randFloat()*0.4)
	}
	e.fill(ctx, ro, qty, price)
}

// onPrice re-evaluates the resting book for one symbol.
func (e *Engine) onPrice(ctx context.Context, symbol string, price float64) {
	e.mu.Lock()
	book := e.resting[symbol]
	e.mu.Unlock()

	var done []string
	for _, ro := range book {
		if ledger.IsTerminal(ro.order.Status) {
			done = append(done, ro.order.ID)
			continue
		}
		switch ro.order.Type {
		case ledger.TypeMarket:
			// Partially filled market order: complete at current price.
			e.fill(ctx, ro, remaining(ro), e.slip(ro.order.Side, price))
		case ledger.TypeLimit:
			if crosses(ro.order.Side, ro.order.Price, price) {
				e.fill(ctx, ro, remaining(ro), price)
			}
		case ledger.TypeStop:
			if !ro.armed && stopTriggered(ro.order.Side, ro.order.StopPrice, price) {
				ro.armed = true
			}
			if ro.armed {
				e.fill(ctx, ro, remaining(ro), e.slip(ro.order.Side, price))
			}
		}
		if ledger.IsTerminal(ro.order.Status) {
			done = append(done, ro.order.ID)
		}
	}
	if len(done) > 0 {
		e.remove(symbol, done)
	}
}

// fill settles one execution: ledger accounting, wallet movement and the
// holdings fold.
func (e *Engine) fill(ctx context.Context, ro *restingOrder, qty, price float64) {
	if qty <= 0 || price <= 0 {
		return
	}
	notional := qty * price
	fee := notional * e.feeRate()

	updated, err := e.ledger.ApplyFill(ctx, ro.order.ID, qty, price, fee)
	if err != nil {
		log.Printf("❌ fill %s: %v", ro.order.ID, err)
		return
	}

	// Settlement mutates shared resting state that Cancel reads under e.mu.
	e.mu.Lock()
	filledQty := updated.FilledQty - ro.order.FilledQty
	ro.order = *updated
	notional = filledQty * price
	fee = notional * e.feeRate()

	if ro.order.Side == ledger.SideBuy {
		cost := notional + fee
		if cost > ro.lockedFunds {
			cost = ro.lockedFunds
		}
		e.balances.DeductLocked(ctx, ro.order.UserID, cost)
		ro.lockedFunds -= cost
		if ro.order.Status == ledger.StatusFilled && ro.lockedFunds > 0 {
			e.balances.Unlock(ctx, ro.order.UserID, ro.lockedFunds)
			ro.lockedFunds = 0
		}
	} else {
		e.balances.Credit(ctx, ro.order.UserID, notional-fee)
	}
	orderID, userID, symbol, side := ro.order.ID, ro.order.UserID, ro.order.Symbol, ro.order.Side
	e.mu.Unlock()

	if _, err := e.holdings.RecordFill(ctx, userID, symbol, side, filledQty, price); err != nil {
		log.Printf("❌ holdings update %s: %v", orderID, err)
	}
}

// sweepExpired expires stale orders through the ledger and releases the
// funds their resting entries still reserve.
func (e *Engine) sweepExpired(ctx context.Context) {
	if e.cfg.OrderTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-e.cfg.OrderTTL)

	n, err := e.ledger.Expire(ctx, cutoff)
	if err != nil {
		log.Printf("❌ expiry sweep: %v", err)
		return
	}
	if n == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, book := range e.resting {
		kept := book[:0]
		for _, ro := range book {
			if !ro.order.CreatedAt.After(cutoff) && !ledger.IsTerminal(ro.order.Status) {
				ro.order.Status = ledger.StatusExpired
				if ro.lockedFunds > 0 {
					e.balances.Unlock(ctx, ro.order.UserID, ro.lockedFunds)
					ro.lockedFunds = 0
				}
				continue
			}
			kept = append(kept, ro)
		}
		e.resting[symbol] = kept
	}
}

func (e *Engine) remove(symbol string, ids []string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	book := e.resting[symbol]
	kept := book[:0]
	for _, ro := range book {
		if !drop[ro.order.ID] {
			kept = append(kept, ro)
		}
	}
	e.resting[symbol] = kept
}

// RestingCount reports book depth for a symbol.
func (e *Engine) RestingCount(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resting[symbol])
}

func (e *Engine) slip(side string, price float64) float64 {
	noise := e.randFloat() * e.slippage()
	if side == ledger.SideBuy {
		return price * (1 + noise)
	}
	return price * (1 - noise)
}

func remaining(ro *restingOrder) float64 {
	return ro.order.Qty - ro.order.FilledQty
}

func crosses(side string, limit, price float64) bool {
	if side == ledger.SideBuy {
		return price <= limit
	}
	return price >= limit
}

func stopTriggered(side string, stop, price float64) bool {
	if side == ledger.SideBuy {
		return price >= stop
	}
	return price <= stop
}
