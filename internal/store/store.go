// Package store is the PostgreSQL persistence layer. It owns the schema,
// the repositories for cameras, detections, events, rules, and alerts, and
// the deduplication gate. All coordination between concurrent pipeline
// workers happens through the database; nothing in this package keeps
// mutable state in-process.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/errors"
)

// Query limits. Callers may page with any limit up to MaxQueryLimit; zero
// or negative limits fall back to DefaultQueryLimit.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// severityRankSQL orders severity text columns critical > high > medium > low.
const severityRankSQL = `CASE severity WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

// Options configures the connection pool.
type Options struct {
	// URL is a PostgreSQL connection string (postgres://...).
	URL string
	// PoolSize is the number of idle connections kept open.
	PoolSize int
	// PoolOverflow is how many extra connections may be opened beyond
	// PoolSize under load.
	PoolOverflow int
	// PoolTimeoutSeconds bounds the initial connectivity check.
	PoolTimeoutSeconds int
	// PoolRecycleSeconds is the maximum lifetime of a pooled connection.
	PoolRecycleSeconds int
}

// Store wraps the database handle and exposes the repositories.
type Store struct {
	db *sqlx.DB
}

// Open connects to PostgreSQL, applies the pool settings, and verifies
// connectivity with a bounded ping.
func Open(opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, errors.FatalConfigf("database URL is required")
	}

	db, err := sqlx.Open("pgx", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	size := opts.PoolSize
	if size <= 0 {
		size = 5
	}
	overflow := opts.PoolOverflow
	if overflow < 0 {
		overflow = 0
	}
	db.SetMaxOpenConns(size + overflow)
	db.SetMaxIdleConns(size)
	if opts.PoolRecycleSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(opts.PoolRecycleSeconds) * time.Second)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	timeout := opts.PoolTimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int("pool_size", size).
		Int("pool_overflow", overflow).
		Msg("Connected to PostgreSQL")

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// clampLimit normalizes a caller-supplied page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// clampOffset normalizes a caller-supplied page offset.
func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// isUniqueViolation reports whether err is a duplicate-key error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// whereClause joins predicates into a WHERE clause, or returns "" when
// there are none.
func whereClause(preds []string) string {
	if len(preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(preds, " AND ")
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			log.Warn().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
