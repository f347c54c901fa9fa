// Package auth issues and verifies stateless HS256 access tokens.
package auth

import (
	"errors"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every token.
const Issuer = "apinlero"

const leeway = 30 * time.Second

// Claims are the verified contents of an access token.
type Claims struct {
	UserID    uuid.UUID
	Email     string
	Role      model.Role
	ExpiresAt time.Time
}

type jwtClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies access tokens with a shared key.
type TokenManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(key []byte, ttl time.Duration) *TokenManager {
	return &TokenManager{key: key, ttl: ttl, now: time.Now}
}

// Issue creates a signed token for the user.
func (m *TokenManager) Issue(u *model.User) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := jwtClaims{
		Email: u.Email,
		Role:  string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.key)
	return signed, exp, err
}

// Verify parses and validates a token. Only HS256 is accepted.
func (m *TokenManager) Verify(token string) (Claims, error) {
	var c jwtClaims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, errs.ErrTokenExpired
		}
		return Claims{}, errs.ErrInvalidToken
	}
	id, err := uuid.FromString(c.Subject)
	if err != nil {
		return Claims{}, errs.ErrInvalidToken
	}
	role := model.Role(c.Role)
	switch role {
	case model.RoleCustomer, model.RoleAdmin, model.RoleVendor:
	default:
		return Claims{}, errs.ErrInvalidToken
	}
	return Claims{UserID: id, Email: c.Email, Role: role, ExpiresAt: c.ExpiresAt.Time}, nil
}
