// Package store implements C3, DocumentStore: pooled, parameterized access
// to the Postgres+pgvector-backed relational store for Documents, Chunks,
// and MergeRecords.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragingest/internal/config"
	"ragingest/internal/docs"
	"ragingest/internal/observability"
	"ragingest/internal/ragerrors"
)

// Store is the pgx-backed implementation of docs.Store, plus the
// explicit transactional primitives spec.md §4.6 calls out as public
// operations.
type Store struct {
	pool        *pgxpool.Pool
	waitTimeout time.Duration
	log         observability.Logger
}

var _ docs.Store = (*Store)(nil)

// New opens a connection pool sized per cfg (min=1, max=10 by default) and
// ensures the documents/chunks/merge_history schema exists.
func New(ctx context.Context, cfg config.DBConfig, log observability.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindValidation, "parse db dsn", err)
	}
	minConns := int32(cfg.PoolMin)
	maxConns := int32(cfg.PoolMax)
	if minConns <= 0 {
		minConns = 1
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	poolCfg.MinConns = minConns
	poolCfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindRetryable, "open postgres pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, ragerrors.Wrap(ragerrors.KindRetryable, "ping postgres pool", err)
	}

	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	s := &Store{pool: pool, waitTimeout: waitTimeout, log: log}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool. Callers own its lifecycle end-to-end (init
// before first use, shutdown on process exit); there is no ad-hoc
// reinitialization.
func (s *Store) Close() { s.pool.Close() }

// Tx is an explicit transactional scope backed by a pooled connection that
// is released by Commit or Rollback (pgx releases on either terminal call);
// callers in this package defer Rollback so every exit path releases it.
type Tx struct {
	tx pgx.Tx
}

// Begin acquires a pooled connection, bounded by the configured wait
// timeout, and starts a transaction on it.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()
	tx, err := s.pool.BeginTx(acquireCtx, pgx.TxOptions{})
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindRetryable, "acquire pooled connection for transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction, releasing the underlying connection.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return ragerrors.Wrap(ragerrors.KindRetryable, "commit transaction", err)
	}
	return nil
}

// Rollback rolls back the transaction, releasing the underlying connection.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return ragerrors.Wrap(ragerrors.KindRetryable, "rollback transaction", err)
	}
	return nil
}

func vectorParam(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

// flatFromVector converts a scanned pgvector.Vector (or a nil column) into
// the flat []float32 the rest of the pipeline expects. Embeddings are
// returned as flat 768-float arrays regardless of on-wire shape.
func flatFromVector(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

func wrapSQLErr(kind ragerrors.Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return ragerrors.Wrap(kind, fmt.Sprintf("%s: sql error", op), err)
}
