// Package db owns the Postgres connection pool shared by the stores.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 10
	defaultMinConns = 2

	// Run history sees short bursts around a run finishing, then long idle
	// stretches. Recycle idle connections rather than holding the pool open.
	maxConnIdleTime = 5 * time.Minute
)

type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// DB is the handle the stores build on.
type DB struct {
	pool *pgxpool.Pool
}

// New opens a pool and verifies connectivity before returning it.
func New(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = defaultMaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if poolCfg.MinConns <= 0 {
		poolCfg.MinConns = defaultMinConns
	}
	poolCfg.MaxConnIdleTime = maxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool exposes the underlying pool for store implementations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Close() {
	db.pool.Close()
}
