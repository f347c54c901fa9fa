// Package model defines domain entities used by services and repositories.
// All monetary amounts are int64 minor units (pence).
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the authorization role of an account.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
	RoleVendor   Role = "VENDOR"
)

// User represents an account stored on the server.
type User struct {
	ID                  uuid.UUID // PK
	Email               string    // unique, lowercase
	PwdHash             string    // bcrypt
	FirstName           string
	LastName            string
	Phone               string
	Role                Role
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Tokens collects an issued access/refresh token pair.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time // access token expiry
	RefreshExpiresAt time.Time
}

// RefreshToken is the server-side record of an opaque refresh token. Only the SHA-256 of the token is kept.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash []byte
	ExpiresAt time.Time
	RevokedAt *time.Time // nil means active
	CreatedIP string
	UserAgent string
	CreatedAt time.Time
}

// ExpiredAt reports whether the token is past expiry.
func (t *RefreshToken) ExpiredAt(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// AuditEntry is an append-only security log row.
type AuditEntry struct {
	ID         int64
	UserID     *uuid.UUID
	Action     string
	Resource   string
	ResourceID string
	Success    bool
	IP         string
	UserAgent  string
	Details    string
	CreatedAt  time.Time
}

// ClientMeta carries request origin data for auditing.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Address is a delivery address owned by a user.
type Address struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Label     string
	Line1     string
	Line2     string
	City      string
	Region    string
	Postcode  string
	Phone     string
	IsDefault bool
	CreatedAt time.Time
}
