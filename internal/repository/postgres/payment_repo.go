package postgres

import (
	"context"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PaymentRepo implements PaymentRepository using PostgreSQL.
type PaymentRepo struct{ q Querier }

const paymentColumns = `id, order_id, amount, currency, method, status, COALESCE(provider_ref, ''),
provider_payload, failure_reason, paid_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*model.Payment, error) {
	var p model.Payment
	var method, status string
	if err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &method, &status, &p.ProviderRef,
		&p.ProviderPayload, &p.FailureReason, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

// Create inserts a payment row. An empty provider ref is stored as NULL so the unique index ignores it.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	const q = `
INSERT INTO payments (id, order_id, amount, currency, method, status, provider_ref)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
RETURNING created_at, updated_at`
	err := r.q.QueryRow(ctx, q, p.ID, p.OrderID, p.Amount, p.Currency, string(p.Method), string(p.Status), p.ProviderRef).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// LatestForOrder returns the newest payment of an order.
func (r *PaymentRepo) LatestForOrder(ctx context.Context, orderID uuid.UUID) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	return scanPayment(r.q.QueryRow(ctx, q, orderID))
}

// GetByProviderRefForUpdate loads and locks the payment a webhook refers to.
func (r *PaymentRepo) GetByProviderRefForUpdate(ctx context.Context, ref string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref = $1 FOR UPDATE`
	return scanPayment(r.q.QueryRow(ctx, q, ref))
}

// AttachProviderRef stores the gateway reference.
func (r *PaymentRepo) AttachProviderRef(ctx context.Context, id uuid.UUID, ref string, status model.PaymentStatus) error {
	const q = `UPDATE payments SET provider_ref = $2, status = $3, updated_at = now() WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, id, ref, string(status))
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

// UpdateStatus applies a transition; paid_at and payload are only overwritten when supplied.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, u model.PaymentUpdate) error {
	const q = `
UPDATE payments SET status = $2,
  paid_at = COALESCE($3, paid_at),
  failure_reason = $4,
  provider_payload = COALESCE($5, provider_payload),
  updated_at = now()
WHERE id = $1`
	var payload any
	if len(u.Payload) > 0 {
		payload = u.Payload
	}
	tag, err := r.q.Exec(ctx, q, id, string(u.Status), u.PaidAt, u.FailureReason, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
