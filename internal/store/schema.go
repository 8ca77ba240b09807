package store

import (
	"context"
	"time"

	"ragingest/internal/ragerrors"
)

// execWithRetry executes a DDL/DML statement with bounded retries, grounded
// on the teacher's own execWithRetry helper for schema bootstrap.
func (s *Store) execWithRetry(ctx context.Context, sql string, args ...any) error {
	const maxRetries = 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if _, err := s.pool.Exec(ctx, sql, args...); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return lastErr
}

// ensureSchema creates the documents/chunks/merge_history tables and their
// indexes if absent, matching spec.md §6's exact schema. Production
// deployments should manage migrations with an external tool; this is a
// best-effort CREATE IF NOT EXISTS for development, the same caveat the
// teacher's postgres_doc.go documents for its own schema.
func (s *Store) ensureSchema(ctx context.Context) error {
	if err := s.execWithRetry(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "create vector extension", err)
	}
	if err := s.execWithRetry(ctx, `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	summary TEXT,
	content TEXT NOT NULL,
	category TEXT,
	keywords TEXT[] NOT NULL DEFAULT '{}',
	source_urls TEXT[] NOT NULL DEFAULT '{}',
	embedding vector(768),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "create documents table", err)
	}
	if err := s.execWithRetry(ctx, `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	embedding vector(768),
	chunk_index INT NOT NULL,
	token_count INT NOT NULL DEFAULT 0
)`); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "create chunks table", err)
	}
	if err := s.execWithRetry(ctx, `
CREATE TABLE IF NOT EXISTS merge_history (
	id SERIAL PRIMARY KEY,
	target_doc_id TEXT NOT NULL REFERENCES documents(id) ON DELETE RESTRICT,
	source_topic_title TEXT NOT NULL,
	merge_strategy TEXT NOT NULL,
	changes_made TEXT,
	merged_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "create merge_history table", err)
	}
	if err := s.execWithRetry(ctx, `
CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw_idx
ON chunks USING hnsw (embedding vector_cosine_ops)`); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "create hnsw index on chunks.embedding", err)
	}
	if err := s.execWithRetry(ctx, `
CREATE INDEX IF NOT EXISTS chunks_document_id_idx ON chunks(document_id)`); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "create chunks document_id index", err)
	}
	return nil
}
