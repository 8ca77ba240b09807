package docs

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ragingest/internal/chunker"
	"ragingest/internal/embedclient"
	"ragingest/internal/observability"
	"ragingest/internal/ragerrors"
	"ragingest/internal/topics"
)

// maxIDCollisionAttempts bounds the slug-collision retry loop.
const maxIDCollisionAttempts = 5

// CreateResult is C7's output, aggregated by the orchestrator into the run
// report.
type CreateResult struct {
	DocID       string
	ChunkCount  int
	SaveSuccess bool
}

// Creator is C7.
type Creator struct {
	store Store
	embed embedclient.Client
	log   observability.Logger
}

// NewCreator constructs a DocumentCreator.
func NewCreator(store Store, embed embedclient.Client, log observability.Logger) *Creator {
	return &Creator{store: store, embed: embed, log: log}
}

// Create builds a new Document + chunk set from topic and persists it in one
// transaction.
func (c *Creator) Create(ctx context.Context, topic topics.Topic) (CreateResult, error) {
	id, err := c.allocateID(ctx, topic.Title)
	if err != nil {
		return CreateResult{}, err
	}

	now := time.Now()
	doc := Document{
		ID:         id,
		Title:      topic.Title,
		Summary:    topic.Summary,
		Content:    topic.Content,
		Category:   topic.Category,
		Keywords:   append([]string{}, topic.Keywords...),
		SourceURLs: []string{topic.SourceURL},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	pieces := chunker.Chunk(doc.Content, chunker.Options{})
	if len(pieces) == 0 {
		return CreateResult{}, ragerrors.New(ragerrors.KindValidation, "document produced zero chunks")
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	chunkEmbeds, err := c.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return CreateResult{}, ragerrors.Wrap(ragerrors.KindRetryable, "batch-embed chunks", err)
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		var emb []float32
		if i < len(chunkEmbeds) {
			emb = chunkEmbeds[i]
		}
		chunks[i] = Chunk{
			ID:         fmt.Sprintf("%s_c%d", id, p.Position),
			DocumentID: id,
			Position:   p.Position,
			Content:    p.Content,
			TokenCount: p.TokenCount,
			Embedding:  emb,
		}
	}

	docEmbeds, err := c.embed.EmbedBatch(ctx, []string{EmbeddingText(doc.Title, doc.Summary, doc.Content)})
	if err != nil {
		return CreateResult{}, ragerrors.Wrap(ragerrors.KindRetryable, "embed document", err)
	}
	if len(docEmbeds) > 0 {
		doc.Embedding = docEmbeds[0]
	}

	if err := c.store.CreateDocument(ctx, doc, chunks); err != nil {
		c.log.Error("document create failed", map[string]any{"doc_id": id, "err": err.Error()})
		return CreateResult{DocID: id}, ragerrors.Wrap(ragerrors.KindFatal, "create document transaction failed", err)
	}

	return CreateResult{DocID: id, ChunkCount: len(chunks), SaveSuccess: true}, nil
}

// allocateID derives id = slug(title)_YYYYMMDD_HHMMSS, retrying with a
// random suffix on collision within the same calendar second.
func (c *Creator) allocateID(ctx context.Context, title string) (string, error) {
	base := slugify(title)
	stamp := time.Now().Format("20060102_150405")
	id := fmt.Sprintf("%s_%s", base, stamp)

	for attempt := 0; attempt < maxIDCollisionAttempts; attempt++ {
		exists, err := c.store.Exists(ctx, id)
		if err != nil {
			return "", ragerrors.Wrap(ragerrors.KindRetryable, "check id collision", err)
		}
		if !exists {
			return id, nil
		}
		id = fmt.Sprintf("%s_%s_%s", base, stamp, randomSuffix(4))
	}
	return "", ragerrors.New(ragerrors.KindFatal, "exhausted id collision retries")
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = nonSlugChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "doc"
	}
	return s
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out)
}
