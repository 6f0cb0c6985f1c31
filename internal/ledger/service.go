package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"kingdom-core/internal/events"
	"kingdom-core/pkg/db"
)

// Service is the order ledger: every order enters, changes status and fills
// through here so the status graph holds everywhere.
type Service struct {
	store *db.Database
	bus   *events.Bus
}

// NewService creates the ledger service.
func NewService(store *db.Database, bus *events.Bus) *Service {
	return &Service{store: store, bus: bus}
}

// Create validates and persists a new order in status open.
func (s *Service) Create(ctx context.Context, userID string, in NewOrderInput) (*db.Order, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if in.AssetClass == "" {
		in.AssetClass = ClassCrypto
	}
	if in.Source == "" {
		in.Source = "manual"
	}

	o := db.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		Symbol:     in.Symbol,
		AssetClass: in.AssetClass,
		Side:       in.Side,
		Type:       in.Type,
		Price:      in.Price,
		StopPrice:  in.StopPrice,
		Qty:        in.Qty,
		Status:     StatusOpen,
		Source:     in.Source,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.publish(o)
	log.Printf("📝 order created: %s %s %s %.6f %s", o.Side, o.Type, o.Symbol, o.Qty, o.ID)
	return &o, nil
}

// Get returns an order, verifying ownership.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*db.Order, error) {
	return s.store.Queries().GetOrderByUser(ctx, userID, orderID)
}

// List returns a user's orders.
func (s *Service) List(ctx context.Context, userID string, f db.OrderFilter) ([]db.Order, error) {
	return s.store.Queries().ListOrdersByUser(ctx, userID, f)
}

// Transition moves an order to a new status if the graph allows it.
func (s *Service) Transition(ctx context.Context, orderID, to string) (*db.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, &InvalidTransitionError{From: o.Status, To: to}
	}
	if err := s.store.UpdateOrderStatus(ctx, orderID, to); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	o.Status = to
	s.publish(*o)
	return o, nil
}

// Cancel transitions a resting order to cancelled on behalf of its owner.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*db.Order, error) {
	if _, err := s.store.Queries().GetOrderByUser(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.Transition(ctx, orderID, StatusCancelled)
}

// ApplyFill records a fill: trade row, cumulative fill accounting, status
// advance and event publication. Overfills are clamped to the order quantity.
func (s *Service) ApplyFill(ctx context.Context, orderID string, fillQty, price, fee float64) (*db.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(o.Status) {
		return nil, &InvalidTransitionError{From: o.Status, To: StatusFilled}
	}
	if fillQty <= 0 || price <= 0 {
		return nil, &ValidationError{Field: "fill", Reason: "quantity and price must be positive"}
	}

	remaining := o.Qty - o.FilledQty
	if fillQty > remaining {
		fillQty = remaining
	}

	newFilled := o.FilledQty + fillQty
	newStatus := StatusPartiallyFilled
	if newFilled >= o.Qty {
		newStatus = StatusFilled
	}
	if newStatus != o.Status && !CanTransition(o.Status, newStatus) {
		return nil, &InvalidTransitionError{From: o.Status, To: newStatus}
	}

	trade := db.Trade{
		ID:      uuid.NewString(),
		OrderID: o.ID,
		UserID:  o.UserID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Price:   price,
		Qty:     fillQty,
		Fee:     fee,
	}
	if err := s.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	newTotal := o.TotalValue + price*fillQty
	if err := s.store.UpdateOrderFill(ctx, o.ID, newStatus, newFilled, newTotal); err != nil {
		return nil, fmt.Errorf("update fill: %w", err)
	}

	o.Status = newStatus
	o.FilledQty = newFilled
	o.TotalValue = newTotal

	s.publish(*o)
	if newStatus == StatusFilled {
		s.bus.Publish(events.EventOrderFilled, *o)
	}
	log.Printf("✅ fill: %s %s %.6f @ %.4f -> %s", o.Symbol, o.Side, fillQty, price, o.Status)
	return o, nil
}

// Expire moves every stale resting order to expired and returns the count.
func (s *Service) Expire(ctx context.Context, olderThan time.Time) (int, error) {
	open, err := s.store.ListOpenOrders(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, o := range open {
		if o.CreatedAt.After(olderThan) {
			continue
		}
		if !CanTransition(o.Status, StatusExpired) {
			continue
		}
		if err := s.store.UpdateOrderStatus(ctx, o.ID, StatusExpired); err != nil {
			log.Printf("❌ expire %s: %v", o.ID, err)
			continue
		}
		o.Status = StatusExpired
		s.publish(o)
		s.bus.Publish(events.EventOrderExpired, o)
		expired++
	}
	if expired > 0 {
		log.Printf("⏰ expired %d stale orders", expired)
	}
	return expired, nil
}

func (s *Service) publish(o db.Order) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventTradingEvent, events.TradingEvent{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Status:    o.Status,
		FilledQty: o.FilledQty,
		Price:     o.Price,
		At:        time.Now(),
	})
}
