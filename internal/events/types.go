package events

import "time"

// Event enumerates high-level topics inside the platform core.
type Event string

const (
	EventMarketUpdate   Event = "market.update"
	EventTradingEvent   Event = "trading.event"
	EventOrderFilled    Event = "order.filled"
	EventOrderExpired   Event = "order.expired"
	EventSecurityEvent  Event = "security.event"
	EventMixCompleted   Event = "mix.completed"
	EventStakeAccrued   Event = "stake.accrued"
	EventBotExecution   Event = "bot.execution"
	EventDeliveryUpdate Event = "delivery.update"
)

// MarketUpdate is the payload for EventMarketUpdate.
type MarketUpdate struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

// TradingEvent is the payload for EventTradingEvent, carrying order
// lifecycle changes out to websocket clients.
type TradingEvent struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Status    string    `json:"status"`
	FilledQty float64   `json:"filled_quantity"`
	Price     float64   `json:"price"`
	At        time.Time `json:"at"`
}

// SecurityNotice is the payload for EventSecurityEvent.
type SecurityNotice struct {
	UserID string `json:"user_id,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	IP     string `json:"ip"`
}
