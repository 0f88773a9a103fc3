package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventRequestRaised      = "RequestRaised"
	EventRequestResolved    = "RequestResolved"
	EventStockRestored      = "StockRestored"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderCreatedPayload struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id,omitempty"`
	Items          []Item `json:"items"`
	OrderAmount    string `json:"order_amount"`
	AbandonedOrder bool   `json:"abandoned_order"`
}

type OrderStatusChangedPayload struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	From           Status         `json:"from"`
	To             Status         `json:"to"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	Source         string         `json:"source"` // operator | courier
	Reason         string         `json:"reason,omitempty"`
}

type RequestPayload struct {
	ID      string  `json:"id"`
	OrderID string  `json:"order_id"`
	Request Request `json:"request"`
}

type StockRestoredPayload struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	Items   []Item `json:"items"`
}
