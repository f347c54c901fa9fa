package postgres

import (
	"context"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AddressRepo implements AddressRepository using PostgreSQL.
type AddressRepo struct{ q Querier }

const addressColumns = `id, user_id, label, line1, line2, city, region, postcode, phone, is_default, created_at`

func scanAddress(row interface{ Scan(...any) error }) (*model.Address, error) {
	var a model.Address
	if err := row.Scan(&a.ID, &a.UserID, &a.Label, &a.Line1, &a.Line2, &a.City, &a.Region, &a.Postcode,
		&a.Phone, &a.IsDefault, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByUser returns the live addresses of a user, default first.
func (r *AddressRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Address, error) {
	q := `SELECT ` + addressColumns + ` FROM addresses
WHERE user_id = $1 AND deleted_at IS NULL ORDER BY is_default DESC, created_at DESC`
	rows, err := r.q.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetByID selects a live address.
func (r *AddressRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Address, error) {
	q := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1 AND deleted_at IS NULL`
	a, err := scanAddress(r.q.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// Create inserts an address.
func (r *AddressRepo) Create(ctx context.Context, a *model.Address) error {
	const q = `
INSERT INTO addresses (id, user_id, label, line1, line2, city, region, postcode, phone, is_default)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`
	return r.q.QueryRow(ctx, q, a.ID, a.UserID, a.Label, a.Line1, a.Line2, a.City, a.Region, a.Postcode,
		a.Phone, a.IsDefault).Scan(&a.CreatedAt)
}

// ClearDefault unsets the default flag on all of the user's addresses.
func (r *AddressRepo) ClearDefault(ctx context.Context, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `UPDATE addresses SET is_default = false WHERE user_id = $1 AND is_default`, userID)
	return err
}

// Delete soft-deletes; orders keep referencing the row.
func (r *AddressRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	const q = `
UPDATE addresses SET deleted_at = now(), is_default = false
WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	tag, err := r.q.Exec(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
