// Package holdings aggregates filled orders into per-user, per-symbol
// holdings with a weighted average purchase price.
package holdings

import (
	"context"
	"sync"

	"kingdom-core/internal/ledger"
	"kingdom-core/pkg/db"
)

// PriceSource resolves the latest price for a symbol.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// Valued is a holding decorated with its current market value.
type Valued struct {
	db.Holding
	CurrentPrice float64 `json:"current_price"`
	CurrentValue float64 `json:"current_value"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

// Manager keeps an in-memory view of holdings while persisting to DB for
// durability.
type Manager struct {
	mu       sync.RWMutex
	holdings map[string]db.Holding // key: userID|symbol
	db       *db.Database
	prices   PriceSource
}

func key(userID, symbol string) string { return userID + "|" + symbol }

// NewManager creates a holdings manager.
func NewManager(database *db.Database, prices PriceSource) *Manager {
	return &Manager{
		db:       database,
		holdings: make(map[string]db.Holding),
		prices:   prices,
	}
}

// Load seeds in-memory state from DB on startup.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	rows, err := m.db.ListHoldings(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range rows {
		m.holdings[key(h.UserID, h.Symbol)] = h
	}
	return nil
}

// Holding returns the latest in-memory snapshot for a user and symbol.
func (m *Manager) Holding(userID, symbol string) db.Holding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holdings[key(userID, symbol)]
}

// Holdings returns all of a user's holdings valued at the latest price.
func (m *Manager) Holdings(userID string) []Valued {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []Valued
	for _, h := range m.holdings {
		if h.UserID != userID || h.Qty <= 0 {
			continue
		}
		res = append(res, m.value(h))
	}
	return res
}

func (m *Manager) value(h db.Holding) Valued {
	v := Valued{Holding: h}
	if m.prices == nil {
		return v
	}
	if price, ok := m.prices.Get(h.Symbol); ok {
		v.CurrentPrice = price
		v.CurrentValue = h.Qty * price
		v.UnrealizedPL = (price - h.AvgPrice) * h.Qty
	}
	return v
}

// RecordFill folds one fill into the user's holding and persists it. Buys
// move the weighted average; sells reduce quantity and invested capital
// proportionally without touching the average.
func (m *Manager) RecordFill(ctx context.Context, userID, symbol, side string, qty, price float64) (db.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holdings[key(userID, symbol)]
	h.UserID = userID
	h.Symbol = symbol
	h = applyFill(h, side, qty, price)

	if m.db != nil {
		if err := m.db.UpsertHolding(ctx, h); err != nil {
			return h, err
		}
	}
	m.holdings[key(userID, symbol)] = h
	return h, nil
}

// Recompute rebuilds a holding from scratch off the user's filled orders,
// replacing whatever the incremental path accumulated.
func (m *Manager) Recompute(ctx context.Context, userID, symbol string) (db.Holding, error) {
	orders, err := m.db.Queries().ListFilledOrdersByUserSymbol(ctx, userID, symbol)
	if err != nil {
		return db.Holding{}, err
	}

	h := db.Holding{UserID: userID, Symbol: symbol}
	for _, o := range orders {
		if o.FilledQty <= 0 {
			continue
		}
		avgFillPrice := o.Price
		if o.TotalValue > 0 {
			avgFillPrice = o.TotalValue / o.FilledQty
		}
		h = applyFill(h, o.Side, o.FilledQty, avgFillPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		if err := m.db.UpsertHolding(ctx, h); err != nil {
			return h, err
		}
	}
	m.holdings[key(userID, symbol)] = h
	return h, nil
}

// applyFill is the single fold step shared by the incremental and rebuild
// paths so both always agree.
func applyFill(h db.Holding, side string, qty, price float64) db.Holding {
	switch side {
	case ledger.SideBuy:
		newQty := h.Qty + qty
		if newQty != 0 {
			h.AvgPrice = (h.AvgPrice*h.Qty + price*qty) / newQty
		} else {
			h.AvgPrice = 0
		}
		h.Qty = newQty
		h.TotalInvested += price * qty
	case ledger.SideSell:
		sold := qty
		if sold > h.Qty {
			sold = h.Qty
		}
		if h.Qty > 0 {
			h.TotalInvested -= h.TotalInvested * (sold / h.Qty)
		}
		h.Qty -= sold
		if h.Qty == 0 {
			h.AvgPrice = 0
			h.TotalInvested = 0
		}
	}
	return h
}
