// Package market maintains live prices for every tradable symbol and feeds
// them to the rest of the platform.
package market

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Quote is one symbol's latest price plus session change.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	OpenPrice float64   `json:"open_price"`
	ChangePct float64   `json:"change_pct"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceBook is a sharded in-memory quote store. Reads vastly outnumber
// writes so each shard carries its own RWMutex.
type PriceBook struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	price     float64
	openPrice float64
	updatedAt time.Time
}

// NewPriceBook creates an empty price book.
func NewPriceBook() *PriceBook {
	b := &PriceBook{}
	for i := 0; i < numShards; i++ {
		b.shards[i] = &priceShard{items: make(map[string]quoteEntry)}
	}
	return b
}

func (b *PriceBook) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return b.shards[h.Sum32()%numShards]
}

// Set stores the latest price for a symbol. The first price seen becomes the
// session open used for change computation.
func (b *PriceBook) Set(symbol string, price float64) {
	shard := b.getShard(symbol)
	shard.mu.Lock()
	entry, ok := shard.items[symbol]
	open := entry.openPrice
	if !ok || open == 0 {
		open = price
	}
	shard.items[symbol] = quoteEntry{price: price, openPrice: open, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// Get retrieves the latest price for a symbol.
func (b *PriceBook) Get(symbol string) (float64, bool) {
	shard := b.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, ok
}

// GetWithAge retrieves the latest price and how stale it is.
func (b *PriceBook) GetWithAge(symbol string) (float64, time.Duration, bool) {
	shard := b.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return entry.price, time.Since(entry.updatedAt), true
}

// Quote returns the full quote for a symbol.
func (b *PriceBook) Quote(symbol string) (Quote, bool) {
	shard := b.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	return toQuote(symbol, entry), true
}

// Snapshot returns every known quote, for market listing endpoints.
func (b *PriceBook) Snapshot() []Quote {
	var out []Quote
	for _, shard := range b.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			out = append(out, toQuote(sym, entry))
		}
		shard.mu.RUnlock()
	}
	return out
}

// Len returns total symbols tracked.
func (b *PriceBook) Len() int {
	total := 0
	for _, shard := range b.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

func toQuote(symbol string, e quoteEntry) Quote {
	q := Quote{Symbol: symbol, Price: e.price, OpenPrice: e.openPrice, UpdatedAt: e.updatedAt}
	if e.openPrice > 0 {
		q.ChangePct = (e.price - e.openPrice) / e.openPrice * 100
	}
	return q
}
