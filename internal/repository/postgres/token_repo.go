package postgres

import (
	"context"
	"time"

	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// TokenRepo implements RefreshTokenRepository using PostgreSQL.
type TokenRepo struct{ q Querier }

// NewTokenRepo constructs a refresh token repository.
func NewTokenRepo(q Querier) *TokenRepo { return &TokenRepo{q: q} }

// Create inserts a refresh token row.
func (r *TokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, q, t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedIP, t.UserAgent)
	return err
}

// GetByHashForUpdate selects and locks a token row.
func (r *TokenRepo) GetByHashForUpdate(ctx context.Context, hash []byte) (*model.RefreshToken, error) {
	const q = `
SELECT id, user_id, token_hash, expires_at, revoked_at, created_ip, user_agent, created_at
FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`
	var t model.RefreshToken
	err := r.q.QueryRow(ctx, q, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.RevokedAt, &t.CreatedIP, &t.UserAgent, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Revoke sets revoked_at only while it is still NULL, so at most one caller wins.
func (r *TokenRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	tag, err := r.q.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeByHash revokes one active token of a user.
func (r *TokenRepo) RevokeByHash(ctx context.Context, userID uuid.UUID, hash []byte, at time.Time) error {
	const q = `
UPDATE refresh_tokens SET revoked_at = $3
WHERE user_id = $1 AND token_hash = $2 AND revoked_at IS NULL`
	_, err := r.q.Exec(ctx, q, userID, hash, at)
	return err
}

// RevokeAllForUser revokes all active tokens of a user.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	const q = `UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	tag, err := r.q.Exec(ctx, q, userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteByHash removes a token row.
func (r *TokenRepo) DeleteByHash(ctx context.Context, hash []byte) error {
	const q = `DELETE FROM refresh_tokens WHERE token_hash = $1`
	_, err := r.q.Exec(ctx, q, hash)
	return err
}
