// Package service implements the business logic behind the HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/and161185/apinlero/internal/auth"
	"github.com/and161185/apinlero/internal/crypto"
	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/metrics"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/and161185/apinlero/internal/sanitize"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt ignores anything longer
)

// AuthService manages accounts and sessions.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput, meta model.ClientMeta) (*model.User, model.Tokens, error)
	Login(ctx context.Context, email, password string, meta model.ClientMeta) (*model.User, model.Tokens, error)
	Refresh(ctx context.Context, token string, meta model.ClientMeta) (model.Tokens, error)
	Logout(ctx context.Context, userID uuid.UUID, token string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string, meta model.ClientMeta) error
	Me(ctx context.Context, userID uuid.UUID) (*model.User, error)
	VerifyAccessToken(token string) (auth.Claims, error)
}

// RegisterInput is the profile supplied at sign-up.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// AuthConfig holds session and lockout policy.
type AuthConfig struct {
	RefreshTTL      time.Duration
	BcryptCost      int
	MaxFailedLogins int
	LockDuration    time.Duration
}

// AuthServiceImpl implements AuthService on top of repository.Store.
type AuthServiceImpl struct {
	store  repository.Store
	tokens *auth.TokenManager
	cfg    AuthConfig
	audit  auditor
	log    *zap.Logger
	now    func() time.Time
	dummy  string // hash compared against when the email is unknown
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthServiceImpl.
func NewAuthService(store repository.Store, tokens *auth.TokenManager, cfg AuthConfig, log *zap.Logger, m *metrics.Metrics) (*AuthServiceImpl, error) {
	dummy, err := crypto.HashPassword("apinlero-timing-guard", cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &AuthServiceImpl{
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		audit:  auditor{repo: store.Audit(), log: log, metrics: m},
		log:    log,
		now:    time.Now,
		dummy:  dummy,
	}, nil
}

func checkPassword(pw string) error {
	if n := utf8.RuneCountInString(pw); n < minPasswordLen || len(pw) > maxPasswordLen {
		return errs.ErrWeakPassword
	}
	return nil
}

// Register creates a CUSTOMER account and opens its first session.
func (s *AuthServiceImpl) Register(ctx context.Context, in RegisterInput, meta model.ClientMeta) (*model.User, model.Tokens, error) {
	email := sanitize.Email(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, model.Tokens{}, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "email", Message: "must be a valid email"}})
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, model.Tokens{}, err
	}
	hash, err := crypto.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, model.Tokens{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, model.Tokens{}, err
	}
	u := &model.User{
		ID:        id,
		Email:     email,
		PwdHash:   hash,
		FirstName: sanitize.Name(in.FirstName),
		LastName:  sanitize.Name(in.LastName),
		Phone:     sanitize.Phone(in.Phone),
		Role:      model.RoleCustomer,
		IsActive:  true,
	}

	var tokens model.Tokens
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Users().Create(ctx, u); err != nil {
			if errors.Is(err, errs.ErrAlreadyExists) {
				return errs.ErrUserExists
			}
			return err
		}
		tokens, err = s.issue(ctx, tx, u, meta)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrUserExists) {
			s.audit.record(ctx, entry(ActionRegister, nil, false, meta))
		}
		return nil, model.Tokens{}, err
	}
	s.audit.record(ctx, entry(ActionRegister, idPtr(u.ID), true, meta))
	return u, tokens, nil
}

// Login authenticates by email and password.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string, meta model.ClientMeta) (*model.User, model.Tokens, error) {
	u, err := s.store.Users().GetByEmail(ctx, sanitize.Email(email))
	if errors.Is(err, errs.ErrNotFound) {
		crypto.VerifyPassword(password, s.dummy)
		s.audit.record(ctx, entry(ActionLogin, nil, false, meta))
		return nil, model.Tokens{}, errs.ErrInvalidCredentials
	}
	if err != nil {
		return nil, model.Tokens{}, err
	}

	now := s.now()
	if u.LockedAt(now) {
		mins := int(math.Ceil(u.LockedUntil.Sub(now).Minutes()))
		s.audit.record(ctx, withDetails(entry(ActionLogin, idPtr(u.ID), false, meta), "locked"))
		return nil, model.Tokens{}, errs.ErrAccountLocked.
			WithMessage("account is locked, try again in %d minutes", mins).
			WithDetails(map[string]int{"retryAfterMinutes": mins})
	}
	if !u.IsActive {
		s.audit.record(ctx, withDetails(entry(ActionLogin, idPtr(u.ID), false, meta), "inactive"))
		return nil, model.Tokens{}, errs.ErrAccountInactive
	}
	if !crypto.VerifyPassword(password, u.PwdHash) {
		n, until, err := s.store.Users().RecordLoginFailure(ctx, u.ID, s.cfg.MaxFailedLogins, s.cfg.LockDuration)
		if err != nil {
			return nil, model.Tokens{}, err
		}
		details := fmt.Sprintf("failed attempt %d", n)
		if until != nil && until.After(now) {
			details += ", account locked"
			s.log.Warn("account locked", zap.String("user_id", u.ID.String()), zap.Time("until", *until))
		}
		s.audit.record(ctx, withDetails(entry(ActionLogin, idPtr(u.ID), false, meta), details))
		return nil, model.Tokens{}, errs.ErrInvalidCredentials
	}

	if err := s.store.Users().RecordLoginSuccess(ctx, u.ID, meta.IP, now); err != nil {
		return nil, model.Tokens{}, err
	}
	if crypto.NeedsRehash(u.PwdHash, s.cfg.BcryptCost) {
		if h, err := crypto.HashPassword(password, s.cfg.BcryptCost); err == nil {
			if err := s.store.Users().UpdatePassword(ctx, u.ID, h); err != nil {
				s.log.Warn("password rehash failed", zap.String("user_id", u.ID.String()), zap.Error(err))
			}
		}
	}
	tokens, err := s.issue(ctx, s.store, u, meta)
	if err != nil {
		return nil, model.Tokens{}, err
	}
	u.FailedLoginAttempts, u.LockedUntil, u.LastLoginAt, u.LastLoginIP = 0, nil, &now, meta.IP
	s.audit.record(ctx, entry(ActionLogin, idPtr(u.ID), true, meta))
	return u, tokens, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new pair is issued.
// Of two concurrent calls with the same token exactly one succeeds; the other gets ErrTokenRevoked.
func (s *AuthServiceImpl) Refresh(ctx context.Context, token string, meta model.ClientMeta) (model.Tokens, error) {
	if crypto.ValidateTokenFormat(token) != nil {
		return model.Tokens{}, errs.ErrInvalidToken
	}
	hash := crypto.HashToken(token)
	now := s.now()

	var (
		out     model.Tokens
		userID  uuid.UUID
		expired bool
	)
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		rt, err := tx.RefreshTokens().GetByHashForUpdate(ctx, hash)
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrInvalidToken
		}
		if err != nil {
			return err
		}
		userID = rt.UserID
		if rt.ExpiredAt(now) {
			expired = true
			return errs.ErrTokenExpired
		}
		if rt.RevokedAt != nil {
			return errs.ErrTokenRevoked
		}
		ok, err := tx.RefreshTokens().Revoke(ctx, rt.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrTokenRevoked
		}
		u, err := tx.Users().GetByID(ctx, rt.UserID)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return errs.ErrAccountInactive
		}
		out, err = s.issue(ctx, tx, u, meta)
		return err
	})
	if expired {
		if err := s.store.RefreshTokens().DeleteByHash(ctx, hash); err != nil {
			s.log.Warn("expired refresh token not deleted", zap.Error(err))
		}
	}
	var uid *uuid.UUID
	if userID != uuid.Nil {
		uid = idPtr(userID)
	}
	if err != nil {
		s.audit.record(ctx, withDetails(entry(ActionRefresh, uid, false, meta), errCode(err)))
		return model.Tokens{}, err
	}
	s.audit.record(ctx, entry(ActionRefresh, uid, true, meta))
	return out, nil
}

// Logout revokes one refresh token of the user. Unknown or already revoked tokens are not an error.
func (s *AuthServiceImpl) Logout(ctx context.Context, userID uuid.UUID, token string) error {
	if crypto.ValidateTokenFormat(token) != nil {
		return nil
	}
	if err := s.store.RefreshTokens().RevokeByHash(ctx, userID, crypto.HashToken(token), s.now()); err != nil {
		return err
	}
	s.audit.record(ctx, entry(ActionLogout, idPtr(userID), true, model.ClientMeta{}))
	return nil
}

// LogoutAll revokes every active refresh token of the user.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	s.audit.record(ctx, withDetails(entry(ActionLogoutAll, idPtr(userID), true, model.ClientMeta{}), fmt.Sprintf("revoked %d", n)))
	return n, nil
}

// ChangePassword replaces the password and revokes all sessions.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string, meta model.ClientMeta) error {
	if err := checkPassword(next); err != nil {
		return err
	}
	u, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(current, u.PwdHash) {
		s.audit.record(ctx, entry(ActionChangePassword, idPtr(userID), false, meta))
		return errs.ErrInvalidCredentials
	}
	if current == next {
		return errs.ErrPasswordUnchanged
	}
	hash, err := crypto.HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	var revoked int64
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Users().UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		revoked, err = tx.RefreshTokens().RevokeAllForUser(ctx, userID, s.now())
		return err
	})
	if err != nil {
		return err
	}
	s.audit.record(ctx, withDetails(entry(ActionChangePassword, idPtr(userID), true, meta), fmt.Sprintf("revoked %d", revoked)))
	return nil
}

// Me returns the profile of the caller.
func (s *AuthServiceImpl) Me(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	return s.store.Users().GetByID(ctx, userID)
}

// VerifyAccessToken validates a bearer token.
func (s *AuthServiceImpl) VerifyAccessToken(token string) (auth.Claims, error) {
	return s.tokens.Verify(token)
}

func (s *AuthServiceImpl) issue(ctx context.Context, st repository.Store, u *model.User, meta model.ClientMeta) (model.Tokens, error) {
	access, exp, err := s.tokens.Issue(u)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, hash, err := crypto.NewOpaqueToken()
	if err != nil {
		return model.Tokens{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	rt := &model.RefreshToken{
		ID:        id,
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(s.cfg.RefreshTTL),
		CreatedIP: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := st.RefreshTokens().Create(ctx, rt); err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        exp,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

func withDetails(e model.AuditEntry, details string) model.AuditEntry {
	e.Details = details
	return e
}

func errCode(err error) string {
	if e, ok := errs.As(err); ok {
		return e.Code
	}
	return "INTERNAL"
}
