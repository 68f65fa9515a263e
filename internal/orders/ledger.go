package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Store is the Postgres ledger. Order placement and cancellation run as
// single transactions covering the order rows and the product stock, so no
// reader ever observes a partially applied order.
type Store struct{ DB *pgxpool.Pool }

var _ Ledger = (*Store)(nil)

func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Postgres aborts one of the transactions on deadlock (40P01) or
// serialization failure (40001). Both leave the data untouched, so the
// caller can retry.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func wrapTx(err error, msg string) error {
	if isRetryable(err) {
		return errors.Wrap(ErrConflict, msg)
	}
	return errors.Wrap(err, msg)
}

func commit(ctx context.Context, tx pgx.Tx) error {
	err := tx.Commit(ctx)
	switch {
	case err == nil:
		return nil
	case isRetryable(err):
		return errors.Wrap(ErrConflict, "commit")
	default:
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
}

func (s *Store) PlaceOrder(ctx context.Context, o *Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	defer tx.Rollback(ctx)

	// Lock each product row, check availability, decrement. The row lock
	// makes check-then-decrement a single atomic step per product.
	for _, it := range o.Items {
		var stock int
		err := tx.QueryRow(ctx,
			`SELECT stock FROM products WHERE id=$1 AND is_active FOR UPDATE`,
			it.ProductID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return &ProductNotFoundError{ProductID: it.ProductID}
		}
		if err != nil {
			return wrapTx(err, "lock product")
		}
		if stock < it.Qty {
			return &InsufficientStockError{
				ProductID: it.ProductID, ProductName: it.ProductName,
				Requested: it.Qty, Available: stock,
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`,
			it.ProductID, it.Qty); err != nil {
			return wrapTx(err, "decrement stock")
		}
	}

	var externalID any
	if o.ExternalID != "" {
		externalID = o.ExternalID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, external_id, buyer_id, status, shipping,
			subtotal_cents, shipping_cents, discount_cents, tax_cents, total_cents,
			payment_method, payment_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
		o.ID, externalID, o.BuyerID, o.Status, o.Shipping,
		o.SubtotalCents, o.ShippingCents, o.DiscountCents, o.TaxCents, o.TotalCents,
		o.PaymentMethod, o.PaymentStatus, o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return wrapTx(err, "insert order")
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, qty, price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, it.ProductID, it.ProductName, it.Qty, it.PriceCents, it.SubtotalCents); err != nil {
			return wrapTx(err, "insert order item")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations (order_id, product_id, qty, status)
			VALUES ($1,$2,$3,'RESERVED')`,
			o.ID, it.ProductID, it.Qty); err != nil {
			return wrapTx(err, "insert reservation")
		}
	}

	for _, h := range o.History {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_status_history (order_id, status, notes, created_at)
			VALUES ($1,$2,$3,$4)`,
			o.ID, h.Status, h.Notes, h.At); err != nil {
			return wrapTx(err, "insert history")
		}
	}

	return commit(ctx, tx)
}

const orderCols = `id, COALESCE(external_id, ''), buyer_id, status, shipping,
	subtotal_cents, shipping_cents, discount_cents, tax_cents, total_cents,
	payment_method, payment_status, tracking_number, estimated_delivery,
	actual_delivery, cancellation_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ExternalID, &o.BuyerID, &o.Status, &o.Shipping,
		&o.SubtotalCents, &o.ShippingCents, &o.DiscountCents, &o.TaxCents, &o.TotalCents,
		&o.PaymentMethod, &o.PaymentStatus, &o.TrackingNumber, &o.EstimatedDelivery,
		&o.ActualDelivery, &o.CancellationReason, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) Order(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if err := s.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) OrderByExternalID(ctx context.Context, externalID string) (*Order, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT id FROM orders WHERE external_id=$1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order by external id")
	}
	return s.Order(ctx, id)
}

func (s *Store) loadItems(ctx context.Context, o *Order) error {
	rows, err := s.DB.Query(ctx, `
		SELECT product_id, product_name, qty, price_cents, subtotal_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return errors.Wrap(err, "load items")
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Qty, &it.PriceCents, &it.SubtotalCents); err != nil {
			return errors.Wrap(err, "scan item")
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (s *Store) loadHistory(ctx context.Context, o *Order) error {
	rows, err := s.DB.Query(ctx, `
		SELECT status, notes, created_at
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return errors.Wrap(err, "load history")
	}
	defer rows.Close()
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Status, &h.Notes, &h.At); err != nil {
			return errors.Wrap(err, "scan history")
		}
		o.History = append(o.History, h)
	}
	return rows.Err()
}

// ListByBuyer returns the buyer's orders newest first, with line items but
// without the history log.
func (s *Store) ListByBuyer(ctx context.Context, buyerID string, f ListFilter) ([]Order, int, error) {
	return s.list(ctx, `buyer_id=$1`, buyerID, f)
}

// ListBySeller returns orders containing at least one of the seller's
// products.
func (s *Store) ListBySeller(ctx context.Context, sellerID string, f ListFilter) ([]Order, int, error) {
	return s.list(ctx, `EXISTS (
		SELECT 1 FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = orders.id AND p.seller_id = $1)`, sellerID, f)
}

func (s *Store) list(ctx context.Context, ownerCond, ownerID string, f ListFilter) ([]Order, int, error) {
	f.normalize()
	cond := ownerCond
	args := []any{ownerID}
	if f.Status != "" {
		args = append(args, f.Status)
		cond += fmt.Sprintf(" AND status=$%d", len(args))
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.DB.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderCols, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.attachItems(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) attachItems(ctx context.Context, os []Order) error {
	if len(os) == 0 {
		return nil
	}
	params := make([]string, len(os))
	args := make([]any, len(os))
	index := make(map[string]*Order, len(os))
	for i := range os {
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = os[i].ID
		index[os[i].ID] = &os[i]
	}
	rows, err := s.DB.Query(ctx, `
		SELECT order_id, product_id, product_name, qty, price_cents, subtotal_cents
		FROM order_items WHERE order_id IN (`+strings.Join(params, ",")+`) ORDER BY id`, args...)
	if err != nil {
		return errors.Wrap(err, "load items")
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var it OrderItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.ProductName, &it.Qty, &it.PriceCents, &it.SubtotalCents); err != nil {
			return errors.Wrap(err, "scan item")
		}
		if o := index[orderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

// UpdateStatus flips status from -> to with a compare-and-swap on the
// current status, appending the history entry in the same transaction.
// A raced update surfaces as ErrConflict and is safe to retry.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to Status, entry HistoryEntry, upd StatusUpdate) (*Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=now(),
			tracking_number = CASE WHEN $4 <> '' THEN $4 ELSE tracking_number END,
			estimated_delivery = COALESCE($5, estimated_delivery),
			actual_delivery = COALESCE($6, actual_delivery)
		WHERE id=$1 AND status=$2`,
		id, from, to, upd.TrackingNumber, upd.EstimatedDelivery, upd.ActualDelivery)
	if err != nil {
		return nil, wrapTx(err, "update status")
	}
	if ct.RowsAffected() == 0 {
		var cur string
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, wrapTx(err, "check order")
		}
		return nil, ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES ($1,$2,$3,$4)`, id, entry.Status, entry.Notes, entry.At); err != nil {
		return nil, wrapTx(err, "insert history")
	}
	if err := commit(ctx, tx); err != nil {
		return nil, err
	}
	return s.Order(ctx, id)
}

// Cancel locks the order row, guards the status, and restores the reserved
// stock, all in one commit. Reservations flip RESERVED -> RELEASED so the
// restore can never run twice.
func (s *Store) Cancel(ctx context.Context, id, reason string, entry HistoryEntry) (*Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	defer tx.Rollback(ctx)

	var cur string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, wrapTx(err, "lock order")
	}
	if !Status(cur).Cancellable() {
		return nil, &NotCancellableError{OrderID: id, Status: Status(cur)}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, cancellation_reason=$3, updated_at=now(),
			payment_status = CASE WHEN payment_status='completed' THEN 'refunded' ELSE payment_status END
		WHERE id=$1`, id, StatusCancelled, reason); err != nil {
		return nil, wrapTx(err, "cancel order")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, notes, created_at)
		VALUES ($1,$2,$3,$4)`, id, entry.Status, entry.Notes, entry.At); err != nil {
		return nil, wrapTx(err, "insert history")
	}

	rows, err := tx.Query(ctx,
		`SELECT product_id, qty FROM reservations WHERE order_id=$1 AND status='RESERVED'`, id)
	if err != nil {
		return nil, wrapTx(err, "load reservations")
	}
	type rec struct {
		pid string
		qty int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.qty); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan reservation")
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, x := range recs {
		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`,
			x.pid, x.qty); err != nil {
			return nil, wrapTx(err, "restore stock")
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET status='RELEASED' WHERE order_id=$1 AND status='RESERVED'`, id); err != nil {
		return nil, wrapTx(err, "release reservations")
	}

	if err := commit(ctx, tx); err != nil {
		return nil, err
	}
	return s.Order(ctx, id)
}
