package ethereal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"kingdom-core/internal/balance"
	"kingdom-core/pkg/db"
)

func testService(t *testing.T) (*Service, *balance.Manager, *db.Database) {
	t.Helper()
	store, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bal := balance.NewManager(context.Background(), store, 1000)
	return NewService(store, bal), bal, store
}

func seedUser(t *testing.T, store *db.Database, bal *balance.Manager, email string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	if err := store.CreateUser(ctx, db.User{ID: id, Email: email, PasswordHash: "x", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	bal.Ensure(ctx, id)
	return id
}

func TestPurchaseMovesFundsAndOwnership(t *testing.T) {
	s, bal, store := testService(t)
	ctx := context.Background()

	seller := seedUser(t, store, bal, "seller@example.com")
	buyer := seedUser(t, store, bal, "buyer@example.com")

	elID := uuid.NewString()
	if err := store.InsertElementIfAbsent(ctx, db.Element{ID: elID, Name: "Void Crystal", Rarity: "epic", OwnerID: seller, Listed: true, Price: 300}); err != nil {
		t.Fatalf("seed element: %v", err)
	}

	e, err := s.Purchase(ctx, buyer, elID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if e.OwnerID != buyer || e.Listed {
		t.Fatalf("element after purchase: %+v", e)
	}
	if bal.Available(buyer) != 700 {
		t.Fatalf("buyer balance = %v, want 700", bal.Available(buyer))
	}
	if bal.Available(seller) != 1300 {
		t.Fatalf("seller balance = %v, want 1300", bal.Available(seller))
	}

	history, err := s.History(ctx, buyer)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Kind != KindPurchase || history[0].Price != 300 {
		t.Fatalf("history: %+v", history)
	}

	// Sold elements leave the marketplace.
	listed, _ := s.Marketplace(ctx)
	if len(listed) != 0 {
		t.Fatalf("marketplace should be empty, got %d", len(listed))
	}
}

func TestPurchaseRejections(t *testing.T) {
	s, bal, store := testService(t)
	ctx := context.Background()

	owner := seedUser(t, store, bal, "owner@example.com")
	buyer := seedUser(t, store, bal, "poor@example.com")

	unlisted := uuid.NewString()
	if err := store.InsertElementIfAbsent(ctx, db.Element{ID: unlisted, Name: "Hidden Gem", Rarity: "rare", OwnerID: owner, Listed: false, Price: 50}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	pricey := uuid.NewString()
	if err := store.InsertElementIfAbsent(ctx, db.Element{ID: pricey, Name: "Dragon Heart", Rarity: "legendary", OwnerID: owner, Listed: true, Price: 5000}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var merr *MarketError
	if _, err := s.Purchase(ctx, buyer, unlisted); !errors.As(err, &merr) {
		t.Fatalf("unlisted: expected MarketError, got %v", err)
	}
	if _, err := s.Purchase(ctx, owner, pricey); !errors.As(err, &merr) {
		t.Fatalf("self purchase: expected MarketError, got %v", err)
	}
	var insufficient balance.ErrInsufficientFunds
	if _, err := s.Purchase(ctx, buyer, pricey); !errors.As(err, &insufficient) {
		t.Fatal("expected insufficient funds")
	}
	if bal.Available(owner) != 1000 || bal.Available(buyer) != 1000 {
		t.Fatal("failed purchases must not move funds")
	}
}

func TestTransferGift(t *testing.T) {
	s, bal, store := testService(t)
	ctx := context.Background()

	owner := seedUser(t, store, bal, "giver@example.com")
	friend := seedUser(t, store, bal, "friend@example.com")
	stranger := seedUser(t, store, bal, "stranger@example.com")

	elID := uuid.NewString()
	if err := store.InsertElementIfAbsent(ctx, db.Element{ID: elID, Name: "Ember Rune", Rarity: "common", OwnerID: owner, Price: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var merr *MarketError
	if _, err := s.Transfer(ctx, stranger, elID, friend); !errors.As(err, &merr) {
		t.Fatalf("non-owner transfer: expected MarketError, got %v", err)
	}
	if _, err := s.Transfer(ctx, owner, elID, owner); !errors.As(err, &merr) {
		t.Fatalf("self transfer: expected MarketError, got %v", err)
	}
	if _, err := s.Transfer(ctx, owner, elID, uuid.NewString()); !errors.As(err, &merr) {
		t.Fatalf("unknown recipient: expected MarketError, got %v", err)
	}

	e, err := s.Transfer(ctx, owner, elID, friend)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if e.OwnerID != friend {
		t.Fatalf("owner = %s, want %s", e.OwnerID, friend)
	}
	// Gifts do not move funds.
	if bal.Available(owner) != 1000 || bal.Available(friend) != 1000 {
		t.Fatal("gift moved funds")
	}

	collection, err := s.Collection(ctx, friend)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if len(collection) != 1 || collection[0].ID != elID {
		t.Fatalf("collection: %+v", collection)
	}
}

func TestListUnlist(t *testing.T) {
	s, bal, store := testService(t)
	ctx := context.Background()
	owner := seedUser(t, store, bal, "lister@example.com")

	elID := uuid.NewString()
	if err := store.InsertElementIfAbsent(ctx, db.Element{ID: elID, Name: "Frost Sigil", Rarity: "rare", OwnerID: owner, Price: 20}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.List(ctx, owner, elID, 0); err == nil {
		t.Fatal("zero price listing should fail")
	}
	if err := s.List(ctx, owner, elID, 75); err != nil {
		t.Fatalf("list: %v", err)
	}
	listed, _ := s.Marketplace(ctx)
	if len(listed) != 1 || listed[0].Price != 75 {
		t.Fatalf("marketplace: %+v", listed)
	}
	if err := s.Unlist(ctx, owner, elID); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	listed, _ = s.Marketplace(ctx)
	if len(listed) != 0 {
		t.Fatal("element still listed after unlist")
	}
}
