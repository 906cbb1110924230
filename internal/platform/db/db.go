// Package db wraps a pgx connection pool with a single transaction-scoped
// helper used by every repository in the engine.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds connection-pool settings.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// DB wraps a pgx pool. Repositories take its pool (Pool(), for
// single-statement reads) or a pgx.Tx (when composed inside WithTx) rather than a generated query struct —
// the teacher's sqlc-generated query layer was not present in the retrieved
// pack, so repository methods issue SQL directly.
type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (d *DB) Close() {
	d.pool.Close()
}

// Pool exposes the underlying pool for read-only repository methods that do
// not need transactional scope.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any returned error or panic. Every reasoning `run` commits
// exactly once; all node writes within that run happen inside this one
// transaction so a node either wholly succeeds or rolls back.
func (d *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
