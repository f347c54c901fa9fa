// Package postgres contains PostgreSQL implementations of repository interfaces.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is a minimal abstraction over a Postgres connection pool,
// used by repositories. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Querier
	// BeginTx starts a transaction with the provided options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close shuts down the pool and frees resources.
	Close()
}

// Querier is what repositories need: satisfied by the pool and by pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps pgxpool.Pool to satisfy repository constructors and allow testing.
type DB struct{ Pool PgxPool }

// New creates a new connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

// Store implements repository.Store on top of a pool or an open transaction.
type Store struct {
	db *DB
	q  Querier
	tx bool
}

var _ repository.Store = (*Store)(nil)

// NewStore constructs a pool-backed store.
func NewStore(db *DB) *Store { return &Store{db: db, q: db.Pool} }

func (s *Store) Users() repository.UserRepository                 { return &UserRepo{q: s.q} }
func (s *Store) RefreshTokens() repository.RefreshTokenRepository { return &TokenRepo{q: s.q} }
func (s *Store) Audit() repository.AuditRepository                { return &AuditRepo{q: s.q} }
func (s *Store) Categories() repository.CategoryRepository        { return &CategoryRepo{q: s.q} }
func (s *Store) Products() repository.ProductRepository           { return &ProductRepo{q: s.q} }
func (s *Store) Carts() repository.CartRepository                 { return &CartRepo{q: s.q} }
func (s *Store) Addresses() repository.AddressRepository          { return &AddressRepo{q: s.q} }
func (s *Store) Orders() repository.OrderRepository               { return &OrderRepo{q: s.q} }
func (s *Store) Payments() repository.PaymentRepository           { return &PaymentRepo{q: s.q} }

// InTx runs fn in a read-committed transaction; row locks taken with FOR UPDATE guard shared invariants.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = fmt.Errorf("commit: %w", e)
		}
	}()
	return fn(&Store{db: s.db, q: tx, tx: true})
}

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}

// isCheckViolation reports whether the error is a CHECK constraint violation.
func isCheckViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23514"
}

// notFound maps pgx.ErrNoRows to errs.ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	return err
}
