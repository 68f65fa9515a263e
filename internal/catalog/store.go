package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Store struct{ DB *pgxpool.Pool }

type ListFilter struct {
	Category string
	SellerID string
	Page     int
	Limit    int
}

func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
}

func (s *Store) Create(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.IsActive = true
	var sku any
	if p.SKU != "" {
		sku = p.SKU
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO products (id, seller_id, name, description, category, sku, price_cents, stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.SellerID, p.Name, p.Description, p.Category, sku, p.PriceCents, p.Stock)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return errors.Wrap(err, "insert product")
	}
	return nil
}

const productCols = `id, seller_id, name, description, category, COALESCE(sku, ''), price_cents, stock, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Description, &p.Category, &p.SKU,
		&p.PriceCents, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ByID(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return &p, nil
}

// ByIDs returns the active products among ids, keyed by id. Missing or
// retired products are simply absent from the map.
func (s *Store) ByIDs(ctx context.Context, ids []string) (map[string]Product, error) {
	if len(ids) == 0 {
		return map[string]Product{}, nil
	}
	params := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.DB.Query(ctx, `SELECT `+productCols+` FROM products
		WHERE is_active AND id IN (`+strings.Join(params, ",")+`)`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]Product, int, error) {
	f.normalize()
	where := []string{"is_active"}
	args := []any{}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category=$%d", len(args)))
	}
	if f.SellerID != "" {
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("seller_id=$%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.DB.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM products WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		productCols, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// AdjustStock applies delta to the product's stock as one guarded
// read-modify-write. It rejects adjustments that would take stock below
// zero and adjustments by anyone but the owning seller.
func (s *Store) AdjustStock(ctx context.Context, id, sellerID string, delta int) (*Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `
		UPDATE products SET stock = stock + $3, updated_at = now()
		WHERE id=$1 AND seller_id=$2 AND stock + $3 >= 0
		RETURNING `+productCols, id, sellerID, delta))
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "adjust stock")
	}

	// Guarded update matched nothing; find out why.
	existing, err := s.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.SellerID != sellerID {
		return nil, ErrForbidden
	}
	return nil, ErrInsufficientStock
}

// Retire soft-deletes a product. Historical orders keep their snapshot of
// the name and price, so nothing is ever hard-deleted.
func (s *Store) Retire(ctx context.Context, id, sellerID string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE products SET is_active = FALSE, updated_at = now()
		WHERE id=$1 AND seller_id=$2`, id, sellerID)
	if err != nil {
		return errors.Wrap(err, "retire product")
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.ByID(ctx, id); err != nil {
			return err
		}
		return ErrForbidden
	}
	return nil
}
