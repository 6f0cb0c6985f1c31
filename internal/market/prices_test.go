package market

import (
	"testing"
	"time"

	"kingdom-core/internal/events"
)

func TestPriceBookSetGet(t *testing.T) {
	book := NewPriceBook()
	book.Set("BTC/USDT", 64000)

	price, ok := book.Get("BTC/USDT")
	if !ok || price != 64000 {
		t.Fatalf("got %v %v, want 64000 true", price, ok)
	}
	if _, ok := book.Get("UNKNOWN"); ok {
		t.Fatal("unknown symbol should not be present")
	}
}

func TestPriceBookChangePct(t *testing.T) {
	book := NewPriceBook()
	book.Set("AAPL", 200)
	book.Set("AAPL", 210)

	q, ok := book.Quote("AAPL")
	if !ok {
		t.Fatal("missing quote")
	}
	if q.OpenPrice != 200 {
		t.Fatalf("open = %v, want 200", q.OpenPrice)
	}
	if q.ChangePct < 4.9 || q.ChangePct > 5.1 {
		t.Fatalf("change = %v, want ~5", q.ChangePct)
	}
}

func TestPriceBookSnapshot(t *testing.T) {
	book := NewPriceBook()
	symbols := []string{"BTC/USDT", "ETH/USDT", "AAPL", "XAU"}
	for i, s := range symbols {
		book.Set(s, float64(100+i))
	}

	snap := book.Snapshot()
	if len(snap) != len(symbols) {
		t.Fatalf("snapshot has %d quotes, want %d", len(snap), len(symbols))
	}
	if book.Len() != len(symbols) {
		t.Fatalf("len = %d, want %d", book.Len(), len(symbols))
	}
}

func TestFeedTickPublishes(t *testing.T) {
	book := NewPriceBook()
	bus := events.NewBus()
	feed := NewFeed(book, bus, []string{"BTC/USDT"}, time.Second, 0.5)
	feed.Seed()

	ch, unsub := bus.Subscribe(events.EventMarketUpdate, 4)
	defer unsub()

	feed.tick()

	select {
	case msg := <-ch:
		upd, ok := msg.(events.MarketUpdate)
		if !ok {
			t.Fatalf("unexpected payload type %T", msg)
		}
		if upd.Symbol != "BTC/USDT" || upd.Price <= 0 {
			t.Fatalf("bad update: %+v", upd)
		}
	case <-time.After(time.Second):
		t.Fatal("no market update published")
	}

	// Walk must stay within the configured step bound.
	price, _ := book.Get("BTC/USDT")
	base := baseFor("BTC/USDT")
	if price < base*0.99 || price > base*1.01 {
		t.Fatalf("price %v drifted outside step bound of base %v", price, base)
	}
}
