package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCancelled     = "OrderCancelled"
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

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID       string        `json:"order_id"`
	ExternalID    string        `json:"external_id,omitempty"`
	BuyerID       string        `json:"buyer_id"`
	Items         []ItemQty     `json:"items"`
	TotalCents    int64         `json:"total_cents"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Notes   string `json:"notes,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID string    `json:"order_id"`
	BuyerID string    `json:"buyer_id"`
	Reason  string    `json:"reason,omitempty"`
	Items   []ItemQty `json:"items"` // stock restored for these
}
