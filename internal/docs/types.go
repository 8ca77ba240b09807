// Package docs holds the persisted entity shapes (Document, Chunk,
// MergeRecord) owned exclusively by the store, plus the two components that
// mutate them: DocumentCreator (C7) and DocumentMerger (C8).
package docs

import (
	"context"
	"strings"
	"time"
)

// Document is the canonical knowledge artifact described in spec.md §3.
type Document struct {
	ID         string
	Title      string
	Summary    string
	Content    string
	Category   string
	Keywords   []string
	SourceURLs []string
	Embedding  []float32

	// ChunkCount and ContentLength are derived, read-only projections
	// populated by GetAll's join; they are never written back.
	ChunkCount    int
	ContentLength int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a retrieval-sized fragment of a Document.
type Chunk struct {
	ID         string
	DocumentID string
	Position   int
	Content    string
	TokenCount int
	Embedding  []float32
}

// MergeStrategy is the closed two-variant sum type chosen by the LLM during
// a rewrite, per spec.md's design note against inheritance-style modeling.
type MergeStrategy string

const (
	StrategyEnrich MergeStrategy = "enrich"
	StrategyExpand MergeStrategy = "expand"
)

// MergeRecord is the append-only audit trail of a single merge operation.
type MergeRecord struct {
	ID               string
	TargetDocID      string
	SourceTopicTitle string
	Strategy         MergeStrategy
	ChangesMade      string
	MergedAt         time.Time
}

// Store is the subset of DocumentStore (C3) that DocumentCreator and
// DocumentMerger depend on. Each method is its own transaction; the
// connection-pool-level Begin/Commit/Rollback primitives live on the
// concrete implementation in internal/store and are not needed by callers
// that only ever perform one whole-document operation at a time.
type Store interface {
	GetAll(ctx context.Context) ([]Document, error)
	GetByID(ctx context.Context, id string) (Document, error)
	Exists(ctx context.Context, id string) (bool, error)
	CreateDocument(ctx context.Context, doc Document, chunks []Chunk) error
	ApplyMerge(ctx context.Context, doc Document, chunks []Chunk, rec MergeRecord) error
}

// embeddingPreviewChars bounds the content fallback used when a document or
// topic has no summary yet.
const embeddingPreviewChars = 500

// EmbeddingText builds the exact "{title}. {summary}" template both the
// topic side and the document side of the merge decision must share.
// Falling back to a content preview only when summary is empty is an
// explicit invariant (spec.md §9): divergence here caused correctness bugs
// in the reference implementation.
func EmbeddingText(title, summary, content string) string {
	title = strings.TrimSpace(title)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		if len(content) > embeddingPreviewChars {
			content = content[:embeddingPreviewChars]
		}
		summary = strings.TrimSpace(content)
	}
	return title + ". " + summary
}
