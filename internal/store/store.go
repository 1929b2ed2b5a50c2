// Package store persists the content graph in a relational engine behind
// database/sql. Nodes, labels, marketplaces and relationships each get a
// table; traversals are expressed as set-oriented SQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/contentkit/contentgraph/internal/logging"
)

// Config selects the engine and how long to wait for it.
type Config struct {
	Driver          string        `yaml:"driver" json:"driver" validate:"oneof=sqlite3 pgx"`
	DSN             string        `yaml:"dsn" json:"dsn" validate:"required"`
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed" json:"retry_max_elapsed"`
}

// UnavailableError means the store could not be reached or refused a
// schema or write operation. It is always fatal for a build.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("graph store unavailable (%s): %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is or wraps an UnavailableError.
func IsUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}

type Store struct {
	db      *sql.DB
	dialect dialect
	log     *logging.Logger

	schemaMu   sync.Mutex
	schemaDone bool
}

// Open connects to the store, retrying with exponential backoff until
// cfg.RetryMaxElapsed has passed.
func Open(ctx context.Context, cfg Config, log *logging.Logger) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, &UnavailableError{Op: "open", Err: err}
	}
	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, &UnavailableError{Op: "open", Err: err}
	}
	if d.driver == "sqlite3" {
		// a single connection serializes writers and keeps in-memory
		// databases alive across calls
		db.SetMaxOpenConns(1)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.RetryMaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	ping := func() error {
		err := db.PingContext(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warnw("store not reachable, retrying", "driver", d.driver, "err", err)
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		_ = db.Close()
		return nil, &UnavailableError{Op: "ping", Err: err}
	}

	return &Store{db: db, dialect: d, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection. Used by health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Driver names the engine in use.
func (s *Store) Driver() string { return s.dialect.driver }

// Rebind adapts a query written with ? placeholders to the engine.
func (s *Store) Rebind(q string) string { return s.dialect.rebind(q) }

// Tx runs fn in a transaction, committing on success.
func (s *Store) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &UnavailableError{Op: "begin", Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &UnavailableError{Op: "commit", Err: err}
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exec runs a statement outside a transaction.
func (s *Store) Exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.Rebind(q), args...)
}

// Query runs a query outside a transaction. Rows must be closed before the
// next statement when the engine allows a single connection.
func (s *Store) Query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.Rebind(q), args...)
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.Rebind(query), args...)
}

func (s *Store) queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, s.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) insertID(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, s.Rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
