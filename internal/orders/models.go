package orders

import (
	"fmt"
	"time"
)

type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentMobileBanking  PaymentMethod = "mobile_banking"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func ParsePaymentMethod(v string) (PaymentMethod, error) {
	switch m := PaymentMethod(v); m {
	case PaymentCard, PaymentMobileBanking, PaymentBankTransfer, PaymentCashOnDelivery:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPayment, v)
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type ShippingAddress struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Division string `json:"division,omitempty"`
	District string `json:"district,omitempty"`
	Upazila  string `json:"upazila,omitempty"`
	Village  string `json:"village,omitempty"`
	Address  string `json:"address"`
	ZipCode  string `json:"zip_code,omitempty"`
}

// OrderItem snapshots the product name and unit price at placement time,
// so later catalog edits never alter historical orders.
type OrderItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Qty           int    `json:"qty"`
	PriceCents    int64  `json:"price_cents"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// HistoryEntry is one row of the append-only status audit log.
type HistoryEntry struct {
	Status Status    `json:"status"`
	Notes  string    `json:"notes,omitempty"`
	At     time.Time `json:"at"`
}

type Order struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	BuyerID    string `json:"buyer_id"`

	Items    []OrderItem     `json:"items"`
	Shipping ShippingAddress `json:"shipping_address"`

	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`

	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	Status  Status         `json:"status"`
	History []HistoryEntry `json:"status_history"`

	TrackingNumber     string     `json:"tracking_number,omitempty"`
	EstimatedDelivery  *time.Time `json:"estimated_delivery,omitempty"`
	ActualDelivery     *time.Time `json:"actual_delivery,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
