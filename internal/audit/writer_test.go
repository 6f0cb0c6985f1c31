package audit

import (
	"context"
	"testing"
	"time"

	"kingdom-core/internal/events"
	"kingdom-core/pkg/db"
)

func testStore(t *testing.T) *db.Database {
	t.Helper()
	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFlushWritesBufferedEvents(t *testing.T) {
	store := testStore(t)
	w := NewWriter(store.DB, nil, 100, time.Hour)
	defer w.Close()

	w.SecurityEvent("", "login_failed", "bad password for admin@example.com", "10.0.0.5")
	w.SecurityEvent("user-1", "rate_limited", "order burst", "10.0.0.6")

	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	rows, err := store.Queries().ListSecurityEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d events, want 2", len(rows))
	}

	stats := w.Stats()
	if stats.TotalWrites != 2 || stats.TotalBatches != 1 || stats.TotalErrors != 0 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestAutoFlushOnFullBuffer(t *testing.T) {
	store := testStore(t)
	w := NewWriter(store.DB, nil, 3, time.Hour)
	defer w.Close()

	for i := 0; i < 3; i++ {
		w.SecurityEvent("user-1", "admin_action", "role change", "127.0.0.1")
	}

	rows, err := store.Queries().ListSecurityEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("buffer full should auto-flush, got %d rows", len(rows))
	}
}

func TestSecurityEventAnnouncedOnBus(t *testing.T) {
	store := testStore(t)
	bus := events.NewBus()
	notices, unsub := bus.Subscribe(events.EventSecurityEvent, 10)
	defer unsub()

	w := NewWriter(store.DB, bus, 100, time.Hour)
	defer w.Close()

	w.SecurityEvent("user-3", "login_failed", "bad password", "10.0.0.7")

	select {
	case msg := <-notices:
		notice, ok := msg.(events.SecurityNotice)
		if !ok {
			t.Fatalf("payload type %T", msg)
		}
		if notice.UserID != "user-3" || notice.Kind != "login_failed" || notice.IP != "10.0.0.7" {
			t.Fatalf("notice = %+v", notice)
		}
	case <-time.After(time.Second):
		t.Fatal("no security notice published")
	}
}

func TestCloseFlushesRemainder(t *testing.T) {
	store := testStore(t)
	w := NewWriter(store.DB, nil, 100, time.Hour)

	w.SecurityEvent("user-2", "kyc_submitted", "passport", "127.0.0.1")
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := store.Queries().ListSecurityEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("close should flush, got %d rows", len(rows))
	}
}
