package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/farmmarket/go-farm-orders/internal/catalog"
	kafkax "github.com/farmmarket/go-farm-orders/internal/kafka"
)

type LineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

type ListFilter struct {
	Status Status
	Page   int
	Limit  int
}

// StatusUpdate carries the side effects a transition sets alongside the
// status column.
type StatusUpdate struct {
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
}

// Ledger is the order store. PlaceOrder and Cancel are atomic: the stock
// movement and the order write commit together or not at all.
type Ledger interface {
	PlaceOrder(ctx context.Context, o *Order) error
	Order(ctx context.Context, id string) (*Order, error)
	OrderByExternalID(ctx context.Context, externalID string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID string, f ListFilter) ([]Order, int, error)
	ListBySeller(ctx context.Context, sellerID string, f ListFilter) ([]Order, int, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, entry HistoryEntry, upd StatusUpdate) (*Order, error)
	Cancel(ctx context.Context, id, reason string, entry HistoryEntry) (*Order, error)
}

type Catalog interface {
	ByIDs(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Pricing struct {
	TaxRateBps        int64
	ShippingFlatCents int64
}

// Service is the only writer of order state and the only mover of stock on
// the order path.
type Service struct {
	Ledger  Ledger
	Catalog Catalog

	Placed        Publisher
	StatusChanged Publisher
	Cancelled     Publisher

	Pricing Pricing
	Name    string // producer name stamped on event envelopes
}

// taxFor rounds half up.
func taxFor(subtotalCents, rateBps int64) int64 {
	return (subtotalCents*rateBps + 5000) / 10000
}

// PlaceOrder validates the request, prices each line from the catalog
// snapshot, and commits the order together with its stock reservation.
// A non-empty externalID makes the call idempotent: retries return the
// already-placed order instead of booking stock twice.
func (s *Service) PlaceOrder(ctx context.Context, buyerID, externalID string, lines []LineRequest, addr ShippingAddress, method PaymentMethod) (*Order, bool, error) {
	if len(lines) == 0 {
		return nil, false, ErrEmptyOrder
	}
	for _, l := range lines {
		if l.Qty < 1 {
			return nil, false, &InvalidQuantityError{ProductID: l.ProductID, Qty: l.Qty}
		}
	}
	if addr.FullName == "" || addr.Address == "" {
		return nil, false, ErrMissingShipping
	}
	if _, err := ParsePaymentMethod(string(method)); err != nil {
		return nil, false, err
	}

	if externalID != "" {
		existing, err := s.Ledger.OrderByExternalID(ctx, externalID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, false, err
		}
	}

	// Repeated product ids collapse into one line so the reservation per
	// product carries the full quantity.
	merged := make([]LineRequest, 0, len(lines))
	byProduct := make(map[string]int, len(lines))
	for _, l := range lines {
		if i, ok := byProduct[l.ProductID]; ok {
			merged[i].Qty += l.Qty
			continue
		}
		byProduct[l.ProductID] = len(merged)
		merged = append(merged, l)
	}

	ids := make([]string, len(merged))
	for i, l := range merged {
		ids[i] = l.ProductID
	}
	products, err := s.Catalog.ByIDs(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	o := &Order{
		ID:            uuid.NewString(),
		ExternalID:    externalID,
		BuyerID:       buyerID,
		Shipping:      addr,
		PaymentMethod: method,
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
	}
	var subtotal int64
	for _, l := range merged {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, false, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if p.Stock < l.Qty {
			return nil, false, &InsufficientStockError{
				ProductID: p.ID, ProductName: p.Name, Requested: l.Qty, Available: p.Stock,
			}
		}
		lineSubtotal := p.PriceCents * int64(l.Qty)
		subtotal += lineSubtotal
		o.Items = append(o.Items, OrderItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			Qty:           l.Qty,
			PriceCents:    p.PriceCents,
			SubtotalCents: lineSubtotal,
		})
	}

	now := time.Now().UTC()
	o.SubtotalCents = subtotal
	o.ShippingCents = s.Pricing.ShippingFlatCents
	o.TaxCents = taxFor(subtotal, s.Pricing.TaxRateBps)
	o.TotalCents = o.SubtotalCents + o.ShippingCents - o.DiscountCents + o.TaxCents
	o.History = []HistoryEntry{{Status: StatusPending, Notes: "Order placed", At: now}}
	o.CreatedAt, o.UpdatedAt = now, now

	if err := s.Ledger.PlaceOrder(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateExternalID) && externalID != "" {
			if existing, gerr := s.Ledger.OrderByExternalID(ctx, externalID); gerr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	items := make([]ItemQty, len(o.Items))
	for i, it := range o.Items {
		items[i] = ItemQty{ProductID: it.ProductID, Qty: it.Qty}
	}
	s.emit(s.Placed, EventOrderPlaced, o.ID, OrderPlacedPayload{
		OrderID:       o.ID,
		ExternalID:    o.ExternalID,
		BuyerID:       o.BuyerID,
		Items:         items,
		TotalCents:    o.TotalCents,
		PaymentMethod: o.PaymentMethod,
	})
	return o, false, nil
}

// UpdateStatus advances the order along the state machine. A transition to
// cancelled goes through Cancel so the stock restore always happens.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, notes, trackingNumber string) (*Order, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, id, notes)
	}

	o, err := s.Ledger.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, &InvalidTransitionError{From: o.Status, To: to}
	}

	now := time.Now().UTC()
	entry := HistoryEntry{Status: to, Notes: notes, At: now}
	upd := StatusUpdate{TrackingNumber: trackingNumber}
	switch to {
	case StatusShipped:
		est := now.Add(72 * time.Hour)
		upd.EstimatedDelivery = &est
	case StatusDelivered:
		actual := now
		upd.ActualDelivery = &actual
	}

	updated, err := s.Ledger.UpdateStatus(ctx, id, o.Status, to, entry, upd)
	if err != nil {
		return nil, err
	}
	s.emit(s.StatusChanged, EventOrderStatusChanged, id, OrderStatusChangedPayload{
		OrderID: id, BuyerID: updated.BuyerID, From: o.Status, To: to, Notes: notes,
	})
	return updated, nil
}

// Cancel flips the order to cancelled and restores the reserved stock in
// the same commit. Cancelling a shipped, delivered, or already cancelled
// order fails with NotCancellableError.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	note := reason
	if note == "" {
		note = "Order cancelled"
	}
	entry := HistoryEntry{Status: StatusCancelled, Notes: note, At: time.Now().UTC()}
	o, err := s.Ledger.Cancel(ctx, id, reason, entry)
	if err != nil {
		return nil, err
	}

	items := make([]ItemQty, len(o.Items))
	for i, it := range o.Items {
		items[i] = ItemQty{ProductID: it.ProductID, Qty: it.Qty}
	}
	s.emit(s.Cancelled, EventOrderCancelled, id, OrderCancelledPayload{
		OrderID: id, BuyerID: o.BuyerID, Reason: reason, Items: items,
	})
	return o, nil
}

func (s *Service) Order(ctx context.Context, id string) (*Order, error) {
	return s.Ledger.Order(ctx, id)
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID string, f ListFilter) ([]Order, int, error) {
	return s.Ledger.ListByBuyer(ctx, buyerID, f)
}

func (s *Service) ListBySeller(ctx context.Context, sellerID string, f ListFilter) ([]Order, int, error) {
	return s.Ledger.ListBySeller(ctx, sellerID, f)
}

func (s *Service) emit(p Publisher, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Name,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
