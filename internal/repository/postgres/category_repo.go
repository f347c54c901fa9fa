package postgres

import (
	"context"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CategoryRepo implements CategoryRepository using PostgreSQL.
type CategoryRepo struct{ q Querier }

// List returns categories ordered for display.
func (r *CategoryRepo) List(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	const q = `
SELECT id, name, slug, description, is_active, sort_order, created_at
FROM categories WHERE ($1 = false OR is_active) ORDER BY sort_order, name`
	rows, err := r.q.Query(ctx, q, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.IsActive, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetByID selects one category.
func (r *CategoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Category, error) {
	const q = `
SELECT id, name, slug, description, is_active, sort_order, created_at
FROM categories WHERE id = $1`
	var c model.Category
	if err := r.q.QueryRow(ctx, q, id).
		Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.IsActive, &c.SortOrder, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Create inserts a category; a duplicate slug yields ErrAlreadyExists.
func (r *CategoryRepo) Create(ctx context.Context, c *model.Category) error {
	const q = `
INSERT INTO categories (id, name, slug, description, is_active, sort_order)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	err := r.q.QueryRow(ctx, q, c.ID, c.Name, c.Slug, c.Description, c.IsActive, c.SortOrder).Scan(&c.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Update rewrites the mutable columns.
func (r *CategoryRepo) Update(ctx context.Context, c *model.Category) error {
	const q = `
UPDATE categories SET name = $2, slug = $3, description = $4, is_active = $5, sort_order = $6
WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, c.ID, c.Name, c.Slug, c.Description, c.IsActive, c.SortOrder)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a category; products fall back to category_id NULL.
func (r *CategoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
