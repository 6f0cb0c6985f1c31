package market

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"time"

	"kingdom-core/internal/events"
)

// Base prices used to seed the mock feed. Unknown symbols start at 100.
var basePrices = map[string]float64{
	"BTC/USDT": 64000,
	"ETH/USDT": 3400,
	"SOL/USDT": 150,
	"AAPL":     225,
	"TSLA":     250,
	"MSFT":     430,
	"EUR/USD":  1.09,
	"GBP/USD":  1.28,
	"USD/JPY":  148.5,
	"US10Y":    97.8,
	"US30Y":    95.2,
	"XAU":      77.5, // per gram
	"XAG":      0.95, // per gram
}

// Feed drives the price book with a random walk and publishes every tick on
// the event bus. In production deployments this is replaced by a real
// upstream market-data connection behind the same interface.
type Feed struct {
	book     *PriceBook
	bus      *events.Bus
	symbols  []string
	interval time.Duration
	stepPct  float64
	rng      *rand.Rand
}

// NewFeed creates a mock feed for the given symbols.
func NewFeed(book *PriceBook, bus *events.Bus, symbols []string, interval time.Duration, stepPct float64) *Feed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if stepPct <= 0 {
		stepPct = 0.2
	}
	return &Feed{
		book:     book,
		bus:      bus,
		symbols:  symbols,
		interval: interval,
		stepPct:  stepPct,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed writes the starting price for every symbol so quotes exist before the
// first tick.
func (f *Feed) Seed() {
	for _, sym := range f.symbols {
		f.book.Set(sym, baseFor(sym))
	}
}

// Start runs the feed loop until ctx is done.
func (f *Feed) Start(ctx context.Context) {
	f.Seed()
	log.Printf("📈 market feed started: %d symbols, tick every %s", len(f.symbols), f.interval)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("market feed stopped")
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *Feed) tick() {
	now := time.Now()
	for _, sym := range f.symbols {
		price, ok := f.book.Get(sym)
		if !ok || price <= 0 {
			price = baseFor(sym)
		}
		// Symmetric random walk bounded by stepPct per tick.
		drift := (f.rng.Float64()*2 - 1) * f.stepPct / 100
		next := price * (1 + drift)
		if next <= 0 {
			next = price
		}
		f.book.Set(sym, next)
		f.bus.Publish(events.EventMarketUpdate, events.MarketUpdate{Symbol: sym, Price: next, At: now})
	}
}

func baseFor(symbol string) float64 {
	if p, ok := basePrices[symbol]; ok {
		return p
	}
	// Pairs get an FX-ish base, everything else a round figure.
	if strings.Contains(symbol, "/") {
		return 1000
	}
	return 100
}
