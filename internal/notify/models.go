package notify

import "time"

const (
	KindOrderPlaced    = "order_placed"
	KindOrderStatus    = "order_status"
	KindOrderCancelled = "order_cancelled"
)

type Notification struct {
	ID        string
	EventID   string // source event, unique-indexed for idempotent inserts
	UserID    string
	OrderID   string
	Kind      string
	Title     string
	Message   string
	CreatedAt time.Time
}

// Transaction is a payment-ledger row recorded when an order is placed.
type Transaction struct {
	ID            string
	Reference     string // human-facing, TXN-<ts>-<suffix>
	EventID       string
	OrderID       string
	UserID        string
	AmountCents   int64
	PaymentMethod string
	Category      string
	Status        string
	CreatedAt     time.Time
}
