package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ProductRepo implements ProductRepository using PostgreSQL.
type ProductRepo struct{ q Querier }

const productColumns = `id, sku, name, description, price, unit, min_order, stock, is_active, is_featured,
category_id, image_url, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*model.Product, error) {
	var p model.Product
	var cat uuid.NullUUID
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.Unit, &p.MinOrder, &p.Stock,
		&p.IsActive, &p.IsFeatured, &cat, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if cat.Valid {
		id := cat.UUID
		p.CategoryID = &id
	}
	return &p, nil
}

// List returns products matching the filter, newest first.
func (r *ProductRepo) List(ctx context.Context, f model.ProductFilter) ([]model.Product, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if f.CategoryID != nil {
		where = append(where, "category_id = "+arg(*f.CategoryID))
	}
	if f.Featured != nil {
		where = append(where, "is_featured = "+arg(*f.Featured))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(name ILIKE "+p+" OR sku ILIKE "+p+")")
	}

	q := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY is_featured DESC, name ASC LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)

	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetByID selects one product.
func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	p, err := scanProduct(r.q.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetMany selects products by id. Rows are locked in id order to avoid deadlocks between orders.
func (r *ProductRepo) GetMany(ctx context.Context, ids []uuid.UUID, forUpdate bool) (map[uuid.UUID]*model.Product, error) {
	out := make(map[uuid.UUID]*model.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	q := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1::uuid[]) ORDER BY id`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	rows, err := r.q.Query(ctx, q, strIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// Create inserts a product; a duplicate sku yields ErrAlreadyExists.
func (r *ProductRepo) Create(ctx context.Context, p *model.Product) error {
	const q = `
INSERT INTO products (id, sku, name, description, price, unit, min_order, stock, is_active, is_featured, category_id, image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING created_at, updated_at`
	err := r.q.QueryRow(ctx, q, p.ID, p.SKU, p.Name, p.Description, p.Price, p.Unit, p.MinOrder, p.Stock,
		p.IsActive, p.IsFeatured, p.CategoryID, p.ImageURL).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Update rewrites catalog fields. Stock is not touched here; use AdjustStock.
func (r *ProductRepo) Update(ctx context.Context, p *model.Product) error {
	const q = `
UPDATE products SET sku = $2, name = $3, description = $4, price = $5, unit = $6, min_order = $7,
  is_active = $8, is_featured = $9, category_id = $10, updated_at = now()
WHERE id = $1
RETURNING updated_at`
	err := r.q.QueryRow(ctx, q, p.ID, p.SKU, p.Name, p.Description, p.Price, p.Unit, p.MinOrder,
		p.IsActive, p.IsFeatured, p.CategoryID).Scan(&p.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return notFound(err)
}

// AdjustStock applies delta only if the result stays non-negative. The guard lives in the WHERE clause
// so two concurrent buyers of the last unit cannot both succeed.
func (r *ProductRepo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	const q = `
UPDATE products SET stock = stock + $2, updated_at = now()
WHERE id = $1 AND stock + $2 >= 0
RETURNING stock`
	var stock int
	err := r.q.QueryRow(ctx, q, id, delta).Scan(&stock)
	switch {
	case err == nil:
		return stock, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Either the product is gone or the guard refused the update.
		var exists bool
		if e := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); e != nil {
			return 0, e
		}
		if !exists {
			return 0, errs.ErrNotFound
		}
		return 0, errs.ErrInsufficientStock
	case isCheckViolation(err):
		return 0, errs.ErrInsufficientStock
	default:
		return 0, err
	}
}

// SetImageURL stores the public image location.
func (r *ProductRepo) SetImageURL(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := r.q.Exec(ctx, `UPDATE products SET image_url = $2, updated_at = now() WHERE id = $1`, id, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
