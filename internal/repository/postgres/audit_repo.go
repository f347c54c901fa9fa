package postgres

import (
	"context"

	"github.com/and161185/apinlero/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL.
type AuditRepo struct{ q Querier }

// Insert appends an audit row.
func (r *AuditRepo) Insert(ctx context.Context, e *model.AuditEntry) error {
	const q = `
INSERT INTO audit_logs (user_id, action, resource, resource_id, success, ip, user_agent, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at`
	return r.q.QueryRow(ctx, q, e.UserID, e.Action, e.Resource, e.ResourceID, e.Success, e.IP, e.UserAgent, e.Details).
		Scan(&e.ID, &e.CreatedAt)
}
