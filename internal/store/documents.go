package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"ragingest/internal/docs"
	"ragingest/internal/ragerrors"
)

// GetAll returns every document with its stored embedding and a
// LEFT-JOIN-derived chunk_count/content_length, per spec.md §4.6.
func (s *Store) GetAll(ctx context.Context) ([]docs.Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT d.id, d.title, d.summary, d.content, d.category, d.keywords, d.source_urls,
       d.embedding, d.created_at, d.updated_at,
       COUNT(c.id) AS chunk_count, LENGTH(d.content) AS content_length
FROM documents d
LEFT JOIN chunks c ON c.document_id = d.id
GROUP BY d.id`)
	if err != nil {
		return nil, wrapSQLErr(ragerrors.KindRetryable, "GetAll", err)
	}
	defer rows.Close()

	var out []docs.Document
	for rows.Next() {
		var d docs.Document
		var emb *pgvector.Vector
		if err := rows.Scan(&d.ID, &d.Title, &d.Summary, &d.Content, &d.Category,
			&d.Keywords, &d.SourceURLs, &emb, &d.CreatedAt, &d.UpdatedAt,
			&d.ChunkCount, &d.ContentLength); err != nil {
			return nil, wrapSQLErr(ragerrors.KindRetryable, "GetAll scan", err)
		}
		d.Embedding = flatFromVector(emb)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLErr(ragerrors.KindRetryable, "GetAll rows", err)
	}
	return out, nil
}

// GetByID returns one document with its full content. Its chunks are read in
// chunk_index order only to fill ChunkCount; they are not returned.
func (s *Store) GetByID(ctx context.Context, id string) (docs.Document, error) {
	var d docs.Document
	var emb *pgvector.Vector
	err := s.pool.QueryRow(ctx, `
SELECT id, title, summary, content, category, keywords, source_urls, embedding, created_at, updated_at
FROM documents WHERE id = $1`, id).Scan(
		&d.ID, &d.Title, &d.Summary, &d.Content, &d.Category,
		&d.Keywords, &d.SourceURLs, &emb, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return docs.Document{}, ragerrors.New(ragerrors.KindValidation, "document not found: "+id)
		}
		return docs.Document{}, wrapSQLErr(ragerrors.KindRetryable, "GetByID", err)
	}
	d.Embedding = flatFromVector(emb)

	chunks, err := s.chunksForDocument(ctx, s.pool, id)
	if err != nil {
		return docs.Document{}, err
	}
	d.ChunkCount = len(chunks)
	return d, nil
}

// Exists reports whether a document with id is already persisted, used by
// DocumentCreator's id-collision retry loop.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, wrapSQLErr(ragerrors.KindRetryable, "Exists", err)
	}
	return exists, nil
}

// UpdateEmbedding persists a lazily-computed document embedding without
// touching any other column, the opportunistic-persist path MergeDecider
// uses for documents it found with a null embedding.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE documents SET embedding = $1 WHERE id = $2`, vectorParam(embedding), id)
	if err != nil {
		return wrapSQLErr(ragerrors.KindRetryable, "UpdateEmbedding", err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) chunksForDocument(ctx context.Context, q querier, docID string) ([]docs.Chunk, error) {
	rows, err := q.Query(ctx, `
SELECT id, document_id, content, embedding, chunk_index, token_count
FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`, docID)
	if err != nil {
		return nil, wrapSQLErr(ragerrors.KindRetryable, "chunksForDocument", err)
	}
	defer rows.Close()

	var out []docs.Chunk
	for rows.Next() {
		var c docs.Chunk
		var emb *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &emb, &c.Position, &c.TokenCount); err != nil {
			return nil, wrapSQLErr(ragerrors.KindRetryable, "chunksForDocument scan", err)
		}
		c.Embedding = flatFromVector(emb)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateDocument inserts a document and its chunks in one transaction: an
// INSERT for the document row, a single multi-row INSERT for all chunks,
// then commit. Any SQL error rolls the whole transaction back.
func (s *Store) CreateDocument(ctx context.Context, doc docs.Document, chunks []docs.Chunk) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.tx.Exec(ctx, `
INSERT INTO documents (id, title, summary, content, category, keywords, source_urls, embedding, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		doc.ID, doc.Title, doc.Summary, doc.Content, doc.Category, doc.Keywords, doc.SourceURLs,
		vectorParam(doc.Embedding), doc.CreatedAt, doc.UpdatedAt); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "insert document", err)
	}

	if err := insertChunksBatch(ctx, tx.tx, chunks); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ApplyMerge updates the document row, replaces its chunk set, and inserts
// a merge_history row, all inside one transaction: delete-then-insert for
// chunks, per spec.md §4.5 step 5.
func (s *Store) ApplyMerge(ctx context.Context, doc docs.Document, chunks []docs.Chunk, rec docs.MergeRecord) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.tx.Exec(ctx, `
UPDATE documents SET content=$2, summary=$3, keywords=$4, source_urls=$5, embedding=$6, updated_at=$7
WHERE id=$1`,
		doc.ID, doc.Content, doc.Summary, doc.Keywords, doc.SourceURLs, vectorParam(doc.Embedding), doc.UpdatedAt); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "update document for merge", err)
	}

	if _, err := tx.tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "delete prior chunks for merge", err)
	}

	if err := insertChunksBatch(ctx, tx.tx, chunks); err != nil {
		return err
	}

	if _, err := tx.tx.Exec(ctx, `
INSERT INTO merge_history (target_doc_id, source_topic_title, merge_strategy, changes_made, merged_at)
VALUES ($1,$2,$3,$4,$5)`,
		rec.TargetDocID, rec.SourceTopicTitle, string(rec.Strategy), rec.ChangesMade, rec.MergedAt); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "insert merge_history row", err)
	}

	return tx.Commit(ctx)
}

// insertChunksBatch inserts all chunks in one multi-row statement with
// parameterized values, so a document's chunks land in a single round trip.
func insertChunksBatch(ctx context.Context, tx pgx.Tx, chunks []docs.Chunk) error {
	if len(chunks) == 0 {
		return ragerrors.New(ragerrors.KindValidation, "no chunks to insert")
	}
	var stmt strings.Builder
	stmt.WriteString("INSERT INTO chunks (id, document_id, content, embedding, chunk_index, token_count) VALUES ")
	args := make([]any, 0, len(chunks)*6)
	for i, c := range chunks {
		if i > 0 {
			stmt.WriteString(",")
		}
		n := i * 6
		fmt.Fprintf(&stmt, "($%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, c.ID, c.DocumentID, c.Content, vectorParam(c.Embedding), c.Position, c.TokenCount)
	}
	if _, err := tx.Exec(ctx, stmt.String(), args...); err != nil {
		return wrapSQLErr(ragerrors.KindFatal, "insert chunk batch", err)
	}
	return nil
}
