package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Store interface {
	SaveNotification(ctx context.Context, n Notification) error
	SaveTransaction(ctx context.Context, t Transaction) error
}

type PGStore struct{ DB *pgxpool.Pool }

var _ Store = (*PGStore)(nil)

// Inserts key on the source event id, so redelivered events are no-ops.
func (s *PGStore) SaveNotification(ctx context.Context, n Notification) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO notifications (id, event_id, user_id, order_id, kind, title, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (event_id) DO NOTHING`,
		n.ID, n.EventID, n.UserID, nullable(n.OrderID), n.Kind, n.Title, n.Message, n.CreatedAt)
	return errors.Wrap(err, "insert notification")
}

func (s *PGStore) SaveTransaction(ctx context.Context, t Transaction) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO transactions (id, reference, event_id, order_id, user_id, amount_cents, payment_method, category, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (event_id) DO NOTHING`,
		t.ID, t.Reference, t.EventID, nullable(t.OrderID), t.UserID, t.AmountCents,
		t.PaymentMethod, t.Category, t.Status, t.CreatedAt)
	return errors.Wrap(err, "insert transaction")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
