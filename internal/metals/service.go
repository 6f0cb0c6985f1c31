// Package metals sells vaulted physical metals priced off the live spot
// price and handles physical delivery requests.
package metals

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"kingdom-core/internal/balance"
	"kingdom-core/internal/events"
	"kingdom-core/pkg/db"
)

// Holding statuses.
const (
	StatusVaulted    = "vaulted"
	StatusInDelivery = "in_delivery"
	StatusDelivered  = "delivered"
)

// Delivery statuses in lifecycle order.
const (
	DeliveryRequested  = "requested"
	DeliveryProcessing = "processing"
	DeliveryShipped    = "shipped"
	DeliveryDelivered  = "delivered"
)

var deliveryNext = map[string]string{
	DeliveryRequested:  DeliveryProcessing,
	DeliveryProcessing: DeliveryShipped,
	DeliveryShipped:    DeliveryDelivered,
}

// PurchaseError rejects an invalid metals operation.
type PurchaseError struct {
	Reason string
}

func (e *PurchaseError) Error() string { return "metals request rejected: " + e.Reason }

// PriceSource resolves the latest spot price per gram for a metal symbol.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// Service owns the metals catalog, vault and delivery flow.
type Service struct {
	store    *db.Database
	balances *balance.Manager
	prices   PriceSource
	bus      *events.Bus
}

// NewService creates the metals service.
func NewService(store *db.Database, balances *balance.Manager, prices PriceSource, bus *events.Bus) *Service {
	return &Service{store: store, balances: balances, prices: prices, bus: bus}
}

// Products returns the active catalog.
func (s *Service) Products(ctx context.Context) ([]db.MetalProduct, error) {
	return s.store.Queries().ListMetalProducts(ctx)
}

// QuoteUnit prices one unit of a product at the current spot price plus the
// product premium.
func (s *Service) QuoteUnit(p db.MetalProduct) (float64, error) {
	spot, ok := s.prices.Get(p.Metal)
	if !ok || spot <= 0 {
		return 0, &PurchaseError{Reason: "no spot price for " + p.Metal}
	}
	return spot * p.WeightGrams * (1 + p.PremiumPct/100), nil
}

// Purchase buys qty units of a product into the vault.
func (s *Service) Purchase(ctx context.Context, userID, productID string, qty int) (*db.MetalHolding, error) {
	if qty <= 0 {
		return nil, &PurchaseError{Reason: "quantity must be positive"}
	}
	product, err := s.store.Queries().GetMetalProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, &PurchaseError{Reason: "product is not available"}
	}

	unit, err := s.QuoteUnit(*product)
	if err != nil {
		return nil, err
	}
	if err := s.balances.Debit(ctx, userID, unit*float64(qty)); err != nil {
		return nil, err
	}

	h := db.MetalHolding{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProductID: product.ID,
		Qty:       qty,
		UnitCost:  unit,
		Status:    StatusVaulted,
	}
	if err := s.store.Queries().CreateMetalHolding(ctx, h); err != nil {
		s.balances.Credit(ctx, userID, unit*float64(qty))
		return nil, fmt.Errorf("persist metal holding: %w", err)
	}
	log.Printf("🥇 metals purchase: user=%s %dx %s @ %.2f", userID, qty, product.Name, unit)
	return &h, nil
}

// Ownership returns a user's vaulted holdings.
func (s *Service) Ownership(ctx context.Context, userID string) ([]db.MetalHolding, error) {
	return s.store.Queries().ListMetalHoldingsByUser(ctx, userID)
}

// RequestDelivery starts physical delivery of a vaulted holding.
func (s *Service) RequestDelivery(ctx context.Context, userID, holdingID, address string) (*db.DeliveryRequest, error) {
	if address == "" {
		return nil, &PurchaseError{Reason: "delivery address is required"}
	}
	h, err := s.store.Queries().GetMetalHoldingByUser(ctx, userID, holdingID)
	if err != nil {
		return nil, err
	}
	if h.Status != StatusVaulted {
		return nil, &PurchaseError{Reason: "holding is not in the vault"}
	}

	r := db.DeliveryRequest{
		ID:        uuid.NewString(),
		HoldingID: holdingID,
		UserID:    userID,
		Address:   address,
		Status:    DeliveryRequested,
	}
	if err := s.store.Queries().CreateDeliveryRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("persist delivery request: %w", err)
	}
	if err := s.store.Queries().UpdateMetalHoldingStatus(ctx, holdingID, StatusInDelivery); err != nil {
		return nil, err
	}
	log.Printf("📦 delivery requested: user=%s holding=%s", userID, holdingID)
	return &r, nil
}

// Deliveries returns a user's delivery requests.
func (s *Service) Deliveries(ctx context.Context, userID string) ([]db.DeliveryRequest, error) {
	return s.store.Queries().ListDeliveryRequestsByUser(ctx, userID)
}

// AdvanceDelivery moves a delivery one step through its lifecycle (admin
// operation). Reaching delivered also finalizes the holding.
func (s *Service) AdvanceDelivery(ctx context.Context, deliveryID string) (string, error) {
	rows, err := s.store.DB.QueryContext(ctx, `
		SELECT id, holding_id, user_id, address, status, created_at, updated_at
		FROM delivery_requests WHERE id = ?
	`, deliveryID)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		return "", db.ErrNotFound
	}
	var r db.DeliveryRequest
	if err := rows.Scan(&r.ID, &r.HoldingID, &r.UserID, &r.Address, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return "", err
	}
	rows.Close()

	next, ok := deliveryNext[r.Status]
	if !ok {
		return "", &PurchaseError{Reason: "delivery already completed"}
	}
	if err := s.store.Queries().UpdateDeliveryStatus(ctx, r.ID, next); err != nil {
		return "", err
	}
	if next == DeliveryDelivered {
		if err := s.store.Queries().UpdateMetalHoldingStatus(ctx, r.HoldingID, StatusDelivered); err != nil {
			return "", err
		}
	}
	s.bus.Publish(events.EventDeliveryUpdate, r.ID)
	log.Printf("🚚 delivery %s: %s -> %s", r.ID, r.Status, next)
	return next, nil
}
