package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New opens a pgx pool from a DATABASE_URL style connection string and
// verifies it with a ping.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// Pool sizing for a single low-traffic board process:
	//
	// MaxConns (8): request handlers hold a connection for one short
	//   query each, and the LISTEN watcher holds one for its lifetime.
	//
	// MinConns (2): one for the watcher, one warm for the first request
	//   after an idle period.
	//
	// MaxConnLifetime (1h) and MaxConnIdleTime (20min): recycle
	//   connections so failovers and DNS changes are picked up.
	//
	// HealthCheckPeriod (1min): idle connections are pinged, so a dead
	//   one is dropped before a request tries to use it.
	poolConfig.MaxConns = 8
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 20 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	logger.Info("DB connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return &DB{
		pool:   pool,
		logger: logger,
	}, nil
}

// schema is idempotent; it runs on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS board_messages (
	slot          text PRIMARY KEY,
	message       text NOT NULL,
	background_id text NOT NULL DEFAULT 'default',
	updated_at    timestamptz NOT NULL DEFAULT now()
)`

func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create board_messages: %w", err)
	}
	return nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
