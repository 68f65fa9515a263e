package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/farmmarket/go-farm-orders/internal/kafka"
	"github.com/farmmarket/go-farm-orders/internal/orders"
	"github.com/farmmarket/go-farm-orders/internal/redisx"
)

// Service turns order events into buyer notifications and payment-ledger
// rows. It sits downstream of the order core and never touches order or
// stock state.
type Service struct {
	Store       Store
	Redis       *redis.Client
	ServiceName string
	Log         *logrus.Logger
}

// HandleEvent is wired as the consumer handler for all order topics.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	// Redis dedup is a fast path; the unique event_id column is the guard.
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "notify", env.EventID)
		if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
			return nil
		}
	}

	var err error
	switch env.EventType {
	case orders.EventOrderPlaced:
		err = s.onPlaced(ctx, env)
	case orders.EventOrderStatusChanged:
		err = s.onStatusChanged(ctx, env)
	case orders.EventOrderCancelled:
		err = s.onCancelled(ctx, env)
	}
	if err != nil {
		return err
	}

	// Only mark the event handled once the rows are in. A failed insert
	// leaves the key unset so Kafka redelivery gets another attempt.
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "notify", env.EventID)
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	return nil
}

func (s *Service) onPlaced(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if err := s.Store.SaveNotification(ctx, Notification{
		ID:        uuid.NewString(),
		EventID:   env.EventID,
		UserID:    p.BuyerID,
		OrderID:   p.OrderID,
		Kind:      KindOrderPlaced,
		Title:     "Order placed",
		Message:   fmt.Sprintf("Your order has been placed. Total: %d", p.TotalCents),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	txn := Transaction{
		ID:            uuid.NewString(),
		Reference:     fmt.Sprintf("TXN-%d-%s", now.Unix(), uuid.NewString()[:8]),
		EventID:       env.EventID,
		OrderID:       p.OrderID,
		UserID:        p.BuyerID,
		AmountCents:   p.TotalCents,
		PaymentMethod: string(p.PaymentMethod),
		Category:      "marketplace_purchase",
		Status:        "pending",
		CreatedAt:     now,
	}
	if err := s.Store.SaveTransaction(ctx, txn); err != nil {
		return err
	}
	s.log(env, "order placed").WithField("reference", txn.Reference).Info("recorded")
	return nil
}

func (s *Service) onStatusChanged(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := s.Store.SaveNotification(ctx, Notification{
		ID:        uuid.NewString(),
		EventID:   env.EventID,
		UserID:    p.BuyerID,
		OrderID:   p.OrderID,
		Kind:      KindOrderStatus,
		Title:     "Order status updated",
		Message:   fmt.Sprintf("Your order is now %s", p.To),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.log(env, "status changed").WithField("to", p.To).Info("recorded")
	return nil
}

func (s *Service) onCancelled(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
	if err != nil {
		return err
	}
	msg := "Your order has been cancelled"
	if p.Reason != "" {
		msg = fmt.Sprintf("Your order has been cancelled: %s", p.Reason)
	}
	if err := s.Store.SaveNotification(ctx, Notification{
		ID:        uuid.NewString(),
		EventID:   env.EventID,
		UserID:    p.BuyerID,
		OrderID:   p.OrderID,
		Kind:      KindOrderCancelled,
		Title:     "Order cancelled",
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.log(env, "cancelled").Info("recorded")
	return nil
}

func (s *Service) log(env orders.Envelope, what string) *logrus.Entry {
	l := s.Log
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithFields(logrus.Fields{
		"service":  s.ServiceName,
		"event_id": env.EventID,
		"order_id": env.CorrelationID,
		"event":    what,
	})
}
