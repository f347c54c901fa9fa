package postgres

import (
	"context"

	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CartRepo implements CartRepository using PostgreSQL.
type CartRepo struct{ q Querier }

// GetOrCreate upserts the cart row and loads its lines.
func (r *CartRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	newID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	const upsert = `
INSERT INTO carts (id, user_id) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING id, updated_at`
	c := model.Cart{UserID: userID}
	if err := r.q.QueryRow(ctx, upsert, newID, userID).Scan(&c.ID, &c.UpdatedAt); err != nil {
		return nil, err
	}

	const items = `
SELECT product_id, quantity, added_at FROM cart_items
WHERE cart_id = $1 ORDER BY added_at, product_id`
	rows, err := r.q.Query(ctx, items, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it model.CartItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.AddedAt); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

// SetItemQuantity upserts a line.
func (r *CartRepo) SetItemQuantity(ctx context.Context, cartID, productID uuid.UUID, qty int) error {
	const q = `
INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`
	if _, err := r.q.Exec(ctx, q, cartID, productID, qty); err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

// RemoveItem deletes a line if present.
func (r *CartRepo) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID); err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

// Clear deletes all lines.
func (r *CartRepo) Clear(ctx context.Context, cartID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

func (r *CartRepo) touch(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
	return err
}
