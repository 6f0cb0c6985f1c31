// Package ethereal runs the collectible element marketplace: listed elements
// can be bought, owned elements can be transferred or re-listed.
package ethereal

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"kingdom-core/internal/balance"
	"kingdom-core/pkg/db"
)

// Transfer kinds.
const (
	KindPurchase = "purchase"
	KindGift     = "gift"
)

// MarketError rejects an invalid marketplace operation.
type MarketError struct {
	Reason string
}

func (e *MarketError) Error() string { return "marketplace request rejected: " + e.Reason }

// Service owns element ownership and the trade ledger.
type Service struct {
	store    *db.Database
	balances *balance.Manager
}

// NewService creates the marketplace service.
func NewService(store *db.Database, balances *balance.Manager) *Service {
	return &Service{store: store, balances: balances}
}

// Marketplace returns every listed element.
func (s *Service) Marketplace(ctx context.Context) ([]db.Element, error) {
	return s.store.Queries().ListMarketplaceElements(ctx)
}

// Collection returns the elements a user owns.
func (s *Service) Collection(ctx context.Context, userID string) ([]db.Element, error) {
	return s.store.Queries().ListElementsByOwner(ctx, userID)
}

// History returns the transfers a user took part in.
func (s *Service) History(ctx context.Context, userID string) ([]db.ElementTransfer, error) {
	return s.store.Queries().ListElementTransfersByUser(ctx, userID, 100)
}

// Purchase buys a listed element. Funds move from buyer to seller (if any)
// and the listing clears.
func (s *Service) Purchase(ctx context.Context, buyerID, elementID string) (*db.Element, error) {
	e, err := s.store.Queries().GetElement(ctx, elementID)
	if err != nil {
		return nil, err
	}
	if !e.Listed {
		return nil, &MarketError{Reason: "element is not listed"}
	}
	if e.OwnerID == buyerID {
		return nil, &MarketError{Reason: "cannot buy your own element"}
	}

	if err := s.balances.Debit(ctx, buyerID, e.Price); err != nil {
		return nil, err
	}
	if e.OwnerID != "" {
		s.balances.Credit(ctx, e.OwnerID, e.Price)
	}

	if err := s.store.Queries().SetElementOwner(ctx, elementID, buyerID); err != nil {
		// Roll the money back, ownership did not change.
		s.balances.Debit(ctx, e.OwnerID, e.Price)
		s.balances.Credit(ctx, buyerID, e.Price)
		return nil, fmt.Errorf("transfer element: %w", err)
	}

	t := db.ElementTransfer{
		ID:        uuid.NewString(),
		ElementID: elementID,
		FromUser:  e.OwnerID,
		ToUser:    buyerID,
		Price:     e.Price,
		Kind:      KindPurchase,
	}
	if err := s.store.Queries().CreateElementTransfer(ctx, t); err != nil {
		log.Printf("❌ transfer ledger %s: %v", elementID, err)
	}

	e.OwnerID = buyerID
	e.Listed = false
	log.Printf("🔮 element purchased: %s by %s for %.2f", e.Name, buyerID, e.Price)
	return e, nil
}

// Transfer gifts an owned element to another user.
func (s *Service) Transfer(ctx context.Context, ownerID, elementID, toUserID string) (*db.Element, error) {
	if toUserID == "" {
		return nil, &MarketError{Reason: "recipient is required"}
	}
	if toUserID == ownerID {
		return nil, &MarketError{Reason: "cannot transfer to yourself"}
	}
	e, err := s.store.Queries().GetElement(ctx, elementID)
	if err != nil {
		return nil, err
	}
	if e.OwnerID != ownerID {
		return nil, &MarketError{Reason: "only the owner can transfer an element"}
	}
	if _, err := s.store.GetUserByID(ctx, toUserID); err != nil {
		return nil, &MarketError{Reason: "recipient does not exist"}
	}

	if err := s.store.Queries().SetElementOwner(ctx, elementID, toUserID); err != nil {
		return nil, err
	}
	t := db.ElementTransfer{
		ID:        uuid.NewString(),
		ElementID: elementID,
		FromUser:  ownerID,
		ToUser:    toUserID,
		Kind:      KindGift,
	}
	if err := s.store.Queries().CreateElementTransfer(ctx, t); err != nil {
		log.Printf("❌ transfer ledger %s: %v", elementID, err)
	}

	e.OwnerID = toUserID
	e.Listed = false
	log.Printf("🎁 element gifted: %s %s -> %s", e.Name, ownerID, toUserID)
	return e, nil
}

// List puts an owned element on the marketplace at a price.
func (s *Service) List(ctx context.Context, ownerID, elementID string, price float64) error {
	if price <= 0 {
		return &MarketError{Reason: "price must be positive"}
	}
	return s.store.Queries().SetElementListing(ctx, ownerID, elementID, true, price)
}

// Unlist removes an owned element from the marketplace.
func (s *Service) Unlist(ctx context.Context, ownerID, elementID string) error {
	e, err := s.store.Queries().GetElement(ctx, elementID)
	if err != nil {
		return err
	}
	return s.store.Queries().SetElementListing(ctx, ownerID, elementID, false, e.Price)
}
