package memory

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *model.User) (err error) {
	r.s.lock(func(st *state) {
		for _, existing := range st.users {
			if existing.Email == u.Email {
				err = errs.ErrAlreadyExists
				return
			}
		}
		now := r.s.now()
		u.CreatedAt, u.UpdatedAt = now, now
		st.users[u.ID] = *u
	})
	return err
}

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (out *model.User, err error) {
	r.s.lock(func(st *state) {
		u, ok := st.users[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		out = &u
	})
	return out, err
}

func (r userRepo) GetByEmail(_ context.Context, email string) (out *model.User, err error) {
	r.s.lock(func(st *state) {
		for _, u := range st.users {
			if u.Email == email {
				out = &u
				return
			}
		}
		err = errs.ErrNotFound
	})
	return out, err
}

func (r userRepo) RecordLoginFailure(_ context.Context, id uuid.UUID, maxAttempts int, lockFor time.Duration) (n int, until *time.Time, err error) {
	r.s.lock(func(st *state) {
		u, ok := st.users[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= maxAttempts {
			t := r.s.now().Add(lockFor)
			u.LockedUntil = &t
		}
		st.users[id] = u
		n, until = u.FailedLoginAttempts, u.LockedUntil
	})
	return n, until, err
}

func (r userRepo) RecordLoginSuccess(_ context.Context, id uuid.UUID, ip string, at time.Time) (err error) {
	r.s.lock(func(st *state) {
		u, ok := st.users[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.LastLoginAt = &at
		u.LastLoginIP = ip
		st.users[id] = u
	})
	return err
}

func (r userRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) (err error) {
	r.s.lock(func(st *state) {
		u, ok := st.users[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		u.PwdHash = hash
		u.UpdatedAt = r.s.now()
		st.users[id] = u
	})
	return err
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(_ context.Context, t *model.RefreshToken) (err error) {
	r.s.lock(func(st *state) {
		for _, existing := range st.tokens {
			if bytes.Equal(existing.TokenHash, t.TokenHash) {
				err = errs.ErrAlreadyExists
				return
			}
		}
		t.CreatedAt = r.s.now()
		st.tokens[t.ID] = *t
	})
	return err
}

func (r tokenRepo) GetByHashForUpdate(_ context.Context, hash []byte) (out *model.RefreshToken, err error) {
	r.s.lock(func(st *state) {
		for _, t := range st.tokens {
			if bytes.Equal(t.TokenHash, hash) {
				out = &t
				return
			}
		}
		err = errs.ErrNotFound
	})
	return out, err
}

func (r tokenRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) (ok bool, err error) {
	r.s.lock(func(st *state) {
		t, found := st.tokens[id]
		if !found || t.RevokedAt != nil {
			return
		}
		t.RevokedAt = &at
		st.tokens[id] = t
		ok = true
	})
	return ok, nil
}

func (r tokenRepo) RevokeByHash(_ context.Context, userID uuid.UUID, hash []byte, at time.Time) error {
	r.s.lock(func(st *state) {
		for id, t := range st.tokens {
			if t.UserID == userID && bytes.Equal(t.TokenHash, hash) && t.RevokedAt == nil {
				t.RevokedAt = &at
				st.tokens[id] = t
			}
		}
	})
	return nil
}

func (r tokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID, at time.Time) (n int64, err error) {
	r.s.lock(func(st *state) {
		for id, t := range st.tokens {
			if t.UserID == userID && t.RevokedAt == nil {
				t.RevokedAt = &at
				st.tokens[id] = t
				n++
			}
		}
	})
	return n, nil
}

func (r tokenRepo) DeleteByHash(_ context.Context, hash []byte) error {
	r.s.lock(func(st *state) {
		for id, t := range st.tokens {
			if bytes.Equal(t.TokenHash, hash) {
				delete(st.tokens, id)
			}
		}
	})
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Insert(_ context.Context, e *model.AuditEntry) error {
	r.s.lock(func(st *state) {
		st.seq++
		e.ID = st.seq
		e.CreatedAt = r.s.now()
		st.audit = append(st.audit, *e)
	})
	return nil
}

// AuditLog returns a copy of every audit row written so far.
func (s *Store) AuditLog() []model.AuditEntry {
	var out []model.AuditEntry
	s.lock(func(st *state) { out = append(out, st.audit...) })
	return out
}

type addressRepo struct{ s *Store }

func (r addressRepo) ListByUser(_ context.Context, userID uuid.UUID) (out []model.Address, err error) {
	r.s.lock(func(st *state) {
		for id, a := range st.addresses {
			if a.UserID == userID && !st.deleted[id] {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r addressRepo) GetByID(_ context.Context, id uuid.UUID) (out *model.Address, err error) {
	r.s.lock(func(st *state) {
		a, ok := st.addresses[id]
		if !ok || st.deleted[id] {
			err = errs.ErrNotFound
			return
		}
		out = &a
	})
	return out, err
}

func (r addressRepo) Create(_ context.Context, a *model.Address) error {
	r.s.lock(func(st *state) {
		a.CreatedAt = r.s.now()
		st.addresses[a.ID] = *a
	})
	return nil
}

func (r addressRepo) ClearDefault(_ context.Context, userID uuid.UUID) error {
	r.s.lock(func(st *state) {
		for id, a := range st.addresses {
			if a.UserID == userID && a.IsDefault {
				a.IsDefault = false
				st.addresses[id] = a
			}
		}
	})
	return nil
}

func (r addressRepo) Delete(_ context.Context, userID, id uuid.UUID) (err error) {
	r.s.lock(func(st *state) {
		a, ok := st.addresses[id]
		if !ok || a.UserID != userID || st.deleted[id] {
			err = errs.ErrNotFound
			return
		}
		a.IsDefault = false
		st.addresses[id] = a
		st.deleted[id] = true
	})
	return err
}
