package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestTokenRepo_Revoke_SecondCallerLoses(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db.Pool)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Now()

	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE id = \$1 AND revoked_at IS NULL`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE id = \$1 AND revoked_at IS NULL`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := r.Revoke(ctx, id, at)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.Revoke(ctx, id, at)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTokenRepo_GetByHashForUpdate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db.Pool)
	id, uid := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	hash := []byte("h")
	exp := time.Now().Add(time.Hour)

	mock.ExpectQuery(`FROM refresh_tokens WHERE token_hash = \$1 FOR UPDATE`).
		WithArgs(hash).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "revoked_at", "created_ip", "user_agent", "created_at"}).
			AddRow(id, uid, hash, exp, (*time.Time)(nil), "1.2.3.4", "curl", time.Now()))

	tok, err := r.GetByHashForUpdate(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, uid, tok.UserID)
	require.Nil(t, tok.RevokedAt)
}

func TestTokenRepo_RevokeAllForUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTokenRepo(db.Pool)
	uid := uuid.Must(uuid.NewV4())
	at := time.Now()

	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE user_id = \$1 AND revoked_at IS NULL`).
		WithArgs(uid, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := r.RevokeAllForUser(context.Background(), uid, at)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}
