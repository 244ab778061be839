// Package storage is the PostgreSQL persistence layer for Kanri.
//
// DB implements store.Persister: the in-memory entity store writes every
// mutation through to Postgres before it becomes visible, and Load warms the
// store from the same tables at startup. Entities are kept as JSONB
// documents alongside the few columns needed for ordering and lookups.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Retry policy for serialization failures and deadlocks.
const (
	defaultMaxRetries = 3
	defaultRetryDelay = 20 * time.Millisecond
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool:       pool,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
