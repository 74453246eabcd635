// Package store wraps the shared relational table that the coordinator and
// observer use for election and liveness bookkeeping.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnavailable is returned when the store connection cannot be
// established or an in-flight statement fails for transport reasons. All
// other errors are fatal and propagate unwrapped.
var ErrUnavailable = errors.New("store: unavailable")

// Store is a thin wrapper around a pooled Postgres connection exposing the
// execute/queryRow/query/Commit primitives the coordinator and observer
// need. Pgx auto-commits per statement through the pool, so Commit is a
// no-op retained for interface parity with spec.md's operation list.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection and ensures the schedulers table
// exists. Returns ErrUnavailable if the pool cannot be created or the
// initial ping fails.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %v", ErrUnavailable, err)
	}

	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Disconnect releases the pool. Safe to call on a nil pool.
func (s *Store) Disconnect() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies connectivity, wrapping failures as ErrUnavailable.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("%w: pool not initialized", ErrUnavailable)
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Commit is a no-op: pgxpool commits DML on each Exec/Query outside an
// explicit transaction. Retained so callers can express the protocol's
// connect/execute/commit/disconnect shape literally, per spec.md §4.1.
func (s *Store) Commit(context.Context) error {
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const stmt = `
		CREATE TABLE IF NOT EXISTS schedulers (
			address varchar(15) NOT NULL,
			birth   timestamp   NOT NULL,
			latest  timestamp   NOT NULL
		)`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// execute runs a statement with no result rows, wrapping transport
// failures as ErrUnavailable.
func (s *Store) execute(ctx context.Context, stmt string, args ...any) error {
	if _, err := s.pool.Exec(ctx, stmt, args...); err != nil {
		return wrapTransport(err)
	}
	return nil
}

// queryRow runs a statement expected to return exactly one row.
func (s *Store) queryRow(ctx context.Context, stmt string, args ...any) pgx.Row {
	return s.pool.QueryRow(ctx, stmt, args...)
}

// query runs a statement returning zero or more rows. Callers must close
// the returned rows.
func (s *Store) query(ctx context.Context, stmt string, args ...any) (pgx.Rows, error) {
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, wrapTransport(err)
	}
	return rows, nil
}

func wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	// An error reported by the server is not a transport failure.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
