package postgres

import (
	"context"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ q Querier }

// NewUserRepo constructs a user repository.
func NewUserRepo(q Querier) *UserRepo { return &UserRepo{q: q} }

const userColumns = `id, email, pwd_hash, first_name, last_name, phone, role, is_active,
failed_login_attempts, locked_until, last_login_at, last_login_ip, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.PwdHash, &u.FirstName, &u.LastName, &u.Phone, &role, &u.IsActive,
		&u.FailedLoginAttempts, &u.LockedUntil, &u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, pwd_hash, first_name, last_name, phone, role, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at`
	err := r.q.QueryRow(ctx, q, u.ID, u.Email, u.PwdHash, u.FirstName, u.LastName, u.Phone, string(u.Role), u.IsActive).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.q.QueryRow(ctx, q, id))
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return scanUser(r.q.QueryRow(ctx, q, email))
}

// RecordLoginFailure increments the counter in one statement so concurrent failures are all counted.
func (r *UserRepo) RecordLoginFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	const q = `
UPDATE users SET
  failed_login_attempts = failed_login_attempts + 1,
  locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN now() + $3::interval ELSE locked_until END,
  updated_at = now()
WHERE id = $1
RETURNING failed_login_attempts, locked_until`
	var attempts int
	var lockedUntil *time.Time
	if err := r.q.QueryRow(ctx, q, id, maxAttempts, lockFor).Scan(&attempts, &lockedUntil); err != nil {
		return 0, nil, notFound(err)
	}
	return attempts, lockedUntil, nil
}

// RecordLoginSuccess resets the lockout state.
func (r *UserRepo) RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string, at time.Time) error {
	const q = `
UPDATE users
SET failed_login_attempts = 0, locked_until = NULL, last_login_at = $2, last_login_ip = $3, updated_at = now()
WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, id, at, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpdatePassword stores a new password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `UPDATE users SET pwd_hash = $2, updated_at = now() WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
