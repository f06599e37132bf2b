// Package store unifies an in-process asset cache with durable Postgres
// persistence. Assets are written in transactional cascades so that an agent
// is never visible without its prompt, conversation, and messages. A memory
// mode drops the relational backing and promotes the cache to the source of
// truth, which is useful for tests and stateless experimentation.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes the connection pool.
type Options struct {
	MinConns        int32
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// DefaultOptions mirrors the defaults of the persisted-state layout: a small
// pool with a five minute idle lifetime.
func DefaultOptions() Options {
	return Options{
		MinConns:        2,
		MaxConns:        10,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

// Store is the unified cache + persistence layer. The zero value is not
// usable; construct through Connect or NewMemoryStore.
type Store struct {
	pool   *pgxpool.Pool
	memory bool
	cache  assetCache
}

// Connect opens a Postgres-backed store. The cache is a bounded LRU: entries
// may be discarded at any time because the database remains the source of
// truth.
func Connect(ctx context.Context, dsn string, opts Options) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"
	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cache, err := newLRUCache(cacheSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, cache: cache}, nil
}

// NewMemoryStore opens a store with no relational backing. The cache holds
// strong references and never discards, because nothing stands behind it.
// Operations that would touch the database are no-ops.
func NewMemoryStore() *Store {
	return &Store{memory: true, cache: newStrongCache()}
}

// Close releases the connection pool, if any.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InMemory reports whether the store runs in memory mode.
func (s *Store) InMemory() bool {
	return s.memory
}

// InitSchema creates the four asset tables and their indexes if they do not
// exist. No-op in memory mode.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.memory {
		return nil
	}
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// ClearCache drops every cached asset. A fresh load afterwards comes from
// the database.
func (s *Store) ClearCache() {
	s.cache.clear()
}

type txKeyType struct{}

var txKey txKeyType

// withTx runs fn inside one transaction, beginning a new one unless the
// context already carries one.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// conn resolves to the ambient transaction when one is in flight, otherwise
// the pool.
func (s *Store) conn(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}
