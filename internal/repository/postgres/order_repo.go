package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// OrderRepo implements OrderRepository using PostgreSQL.
type OrderRepo struct{ q Querier }

const orderColumns = `id, order_number, user_id, address_id, subtotal, delivery_fee, total, status,
payment_status, payment_method, notes, created_at, updated_at, delivered_at, cancelled_at`

func scanOrder(row interface{ Scan(...any) error }) (*model.Order, error) {
	var o model.Order
	var status, pstatus, method string
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.AddressID, &o.Subtotal, &o.DeliveryFee, &o.Total,
		&status, &pstatus, &method, &o.Notes, &o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt, &o.CancelledAt); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(pstatus)
	o.PaymentMethod = model.PaymentMethod(method)
	return &o, nil
}

// Create inserts the order header and its item snapshots.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	const ins = `
INSERT INTO orders (id, order_number, user_id, address_id, subtotal, delivery_fee, total, status,
  payment_status, payment_method, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING created_at, updated_at`
	err := r.q.QueryRow(ctx, ins, o.ID, o.OrderNumber, o.UserID, o.AddressID, o.Subtotal, o.DeliveryFee, o.Total,
		string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod), o.Notes).Scan(&o.CreatedAt, &o.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}

	const item = `
INSERT INTO order_items (id, order_id, product_id, name, sku, unit_price, quantity, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		if _, err := r.q.Exec(ctx, item, it.ID, it.OrderID, it.ProductID, it.Name, it.SKU, it.UnitPrice, it.Quantity, it.Total); err != nil {
			return fmt.Errorf("order item %d: %w", i, err)
		}
	}
	return nil
}

// GetByID loads an order with items.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate loads an order with items and locks the order row.
func (r *OrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.get(ctx, id, true)
}

func (r *OrderRepo) get(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	o, err := scanOrder(r.q.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	items, err := r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *OrderRepo) items(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	const q = `
SELECT id, order_id, product_id, name, sku, unit_price, quantity, total
FROM order_items WHERE order_id = $1 ORDER BY name, id`
	rows, err := r.q.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		var pid uuid.NullUUID
		if err := rows.Scan(&it.ID, &it.OrderID, &pid, &it.Name, &it.SKU, &it.UnitPrice, &it.Quantity, &it.Total); err != nil {
			return nil, err
		}
		it.ProductID = pid.UUID
		out = append(out, it)
	}
	return out, rows.Err()
}

// List returns a filtered page of orders and the total count.
func (r *OrderRepo) List(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != nil {
		where = append(where, "user_id = "+arg(*f.UserID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.PaymentStatus != "" {
		where = append(where, "payment_status = "+arg(string(f.PaymentStatus)))
	}
	if f.From != nil {
		where = append(where, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at < "+arg(*f.To))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM orders`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + orderColumns + ` FROM orders` + cond +
		` ORDER BY created_at DESC, id DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// UpdateStatus sets the status and the matching timestamp.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus, at time.Time) error {
	const q = `
UPDATE orders SET status = $2, updated_at = $3,
  delivered_at = CASE WHEN $2 = 'DELIVERED' THEN $3 ELSE delivered_at END,
  cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN $3 ELSE cancelled_at END
WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetPaymentStatus mirrors the payment state on the order.
func (r *OrderRepo) SetPaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AppendTracking inserts a tracking row.
func (r *OrderRepo) AppendTracking(ctx context.Context, e *model.TrackingEntry) error {
	const q = `
INSERT INTO order_tracking (order_id, status, description, location)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	return r.q.QueryRow(ctx, q, e.OrderID, string(e.Status), e.Description, e.Location).Scan(&e.ID, &e.CreatedAt)
}

// Tracking returns the history newest first.
func (r *OrderRepo) Tracking(ctx context.Context, orderID uuid.UUID) ([]model.TrackingEntry, error) {
	const q = `
SELECT id, order_id, status, description, location, created_at
FROM order_tracking WHERE order_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.q.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TrackingEntry
	for rows.Next() {
		var e model.TrackingEntry
		var status string
		if err := rows.Scan(&e.ID, &e.OrderID, &status, &e.Description, &e.Location, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = model.OrderStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
