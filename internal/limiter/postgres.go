package limiter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed limiter whose counters are shared by every instance.
type PG struct {
	pool pgxQuerier
	now  func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, now: time.Now}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any querier.
func NewPGWithQuerier(q pgxQuerier) *PG {
	return &PG{pool: q, now: time.Now}
}

// Allow increments the current window and reads the previous one in a single statement.
func (l *PG) Allow(ctx context.Context, key string, q Quota) (Decision, error) {
	now := l.now()
	ws := windowStart(now, q.Window)

	const sql = `
WITH cur AS (
  INSERT INTO rate_limits (bucket, window_start, hits) VALUES ($1, $2, 1)
  ON CONFLICT (bucket, window_start) DO UPDATE SET hits = rate_limits.hits + 1
  RETURNING hits
)
SELECT cur.hits,
       COALESCE((SELECT hits FROM rate_limits WHERE bucket = $1 AND window_start = $3), 0)
FROM cur`
	var cur, prev int
	if err := l.pool.QueryRow(ctx, sql, key, ws, ws.Add(-q.Window)).Scan(&cur, &prev); err != nil {
		return Decision{}, err
	}
	return evaluate(now, q, ws, prev, cur), nil
}

// Prune deletes windows older than maxAge.
func (l *PG) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, l.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
