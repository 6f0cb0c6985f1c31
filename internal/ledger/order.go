// Package ledger owns order lifecycle rules: validation on entry, the legal
// status graph, and fill accounting.
package ledger

import "fmt"

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types.
const (
	TypeMarket = "market"
	TypeLimit  = "limit"
	TypeStop   = "stop"
)

// Order statuses.
const (
	StatusOpen            = "open"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusCancelled       = "cancelled"
	StatusExpired         = "expired"
)

// Asset classes.
const (
	ClassCrypto = "crypto"
	ClassStock  = "stock"
	ClassForex  = "forex"
	ClassBond   = "bond"
	ClassMetal  = "metal"
)

// ValidationError rejects a malformed order before it reaches the book.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

// InvalidTransitionError rejects an illegal status change.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition: %s -> %s", e.From, e.To)
}

// transitions is the legal status graph. Terminal statuses have no entry.
var transitions = map[string]map[string]bool{
	StatusOpen: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusExpired:         true,
	},
	StatusPartiallyFilled: {
		StatusFilled:    true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// IsTerminal reports whether a status admits no further changes.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// NewOrderInput is the request payload for placing an order.
type NewOrderInput struct {
	Symbol     string  `json:"symbol"`
	AssetClass string  `json:"asset_class"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Price      float64 `json:"price"`
	StopPrice  float64 `json:"stop_price"`
	Qty        float64 `json:"quantity"`
	Source     string  `json:"source"`
}

// Validate checks a new order before persistence.
func Validate(in NewOrderInput) error {
	if in.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "is required"}
	}
	if in.Side != SideBuy && in.Side != SideSell {
		return &ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	switch in.Type {
	case TypeMarket, TypeLimit, TypeStop:
	default:
		return &ValidationError{Field: "type", Reason: "must be market, limit or stop"}
	}
	if in.Qty <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if in.Type == TypeMarket && in.Price > 0 {
		return &ValidationError{Field: "price", Reason: "must not be set on market orders"}
	}
	if in.Type == TypeLimit && in.Price <= 0 {
		return &ValidationError{Field: "price", Reason: "is required for limit orders"}
	}
	if in.Type == TypeStop && in.StopPrice <= 0 {
		return &ValidationError{Field: "stop_price", Reason: "is required for stop orders"}
	}
	return nil
}
