package docs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragingest/internal/chunker"
	"ragingest/internal/embedclient"
	"ragingest/internal/llmclient"
	"ragingest/internal/observability"
	"ragingest/internal/ragerrors"
	"ragingest/internal/topics"
)

// MergeResult is C8's output.
type MergeResult struct {
	DocID       string
	ChunkCount  int
	SaveSuccess bool
	Strategy    MergeStrategy
}

// Merger is C8. It implements append-then-reorganize: one LLM rewrite call
// over the full old content plus the new topic, followed by a full
// re-chunk/re-embed and an atomic replace. This is deliberately chosen over
// incremental section patching (spec.md §9): it costs one extra re-chunk and
// re-embed per merge in exchange for a globally coherent rewritten document.
type Merger struct {
	store Store
	embed embedclient.Client
	llm   *llmclient.Client
	log   observability.Logger
}

// NewMerger constructs a DocumentMerger.
func NewMerger(store Store, embed embedclient.Client, llm *llmclient.Client, log observability.Logger) *Merger {
	return &Merger{store: store, embed: embed, llm: llm, log: log}
}

type rewriteResponse struct {
	Content     string   `json:"content"`
	Summary     string   `json:"summary"`
	Keywords    []string `json:"keywords"`
	Strategy    string   `json:"strategy"`
	ChangesMade string   `json:"changes_made"`
}

const rewriteSystemPrompt = `You merge a new topic into an existing document by rewriting the whole document.
Choose a strategy: "enrich" if the topic adds detail to sections that already exist, "expand" if it adds an entirely new section.
Respond with a JSON object: {"content": "<full rewritten document>", "summary": "<1-3 sentence summary>", "keywords": ["..."], "strategy": "enrich"|"expand", "changes_made": "<one line>"}.
The rewritten content must be a single coherent document, not a concatenation of the two inputs.`

// Merge loads the target document, issues the single rewrite call, and
// replaces its content/chunks/embedding atomically. On any failure the
// target document remains at its prior committed state: nothing is written
// to the store until the final ApplyMerge call.
func (m *Merger) Merge(ctx context.Context, targetDocID string, topic topics.Topic) (MergeResult, error) {
	target, err := m.store.GetByID(ctx, targetDocID)
	if err != nil {
		return MergeResult{}, ragerrors.Wrap(ragerrors.KindRetryable, "load target document for merge", err)
	}

	userPrompt := fmt.Sprintf(
		"EXISTING DOCUMENT:\n%s\n\nNEW TOPIC:\ntitle: %s\nsummary: %s\ncontent: %s\n",
		target.Content, topic.Title, topic.Summary, topic.Content,
	)

	var resp rewriteResponse
	if err := m.llm.Generate(ctx, rewriteSystemPrompt, userPrompt, &resp); err != nil {
		return MergeResult{}, ragerrors.Wrap(ragerrors.KindRetryable, "merge rewrite LLM call failed", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return MergeResult{}, ragerrors.New(ragerrors.KindValidation, "merge rewrite returned empty content")
	}

	strategy := MergeStrategy(strings.ToLower(strings.TrimSpace(resp.Strategy)))
	if strategy != StrategyEnrich && strategy != StrategyExpand {
		strategy = StrategyEnrich
	}

	merged := target
	merged.Content = resp.Content
	merged.Summary = firstNonEmptyStr(resp.Summary, target.Summary)
	merged.Keywords = unionKeywords(target.Keywords, resp.Keywords)
	merged.SourceURLs = unionStrings(target.SourceURLs, []string{topic.SourceURL})
	merged.UpdatedAt = time.Now()

	pieces := chunker.Chunk(merged.Content, chunker.Options{})
	if len(pieces) == 0 {
		return MergeResult{}, ragerrors.New(ragerrors.KindValidation, "merged document produced zero chunks")
	}
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	chunkEmbeds, err := m.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return MergeResult{}, ragerrors.Wrap(ragerrors.KindRetryable, "batch-embed merged chunks", err)
	}
	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		var emb []float32
		if i < len(chunkEmbeds) {
			emb = chunkEmbeds[i]
		}
		chunks[i] = Chunk{
			ID:         fmt.Sprintf("%s_c%d", merged.ID, p.Position),
			DocumentID: merged.ID,
			Position:   p.Position,
			Content:    p.Content,
			TokenCount: p.TokenCount,
			Embedding:  emb,
		}
	}

	docEmbeds, err := m.embed.EmbedBatch(ctx, []string{EmbeddingText(merged.Title, merged.Summary, merged.Content)})
	if err != nil {
		return MergeResult{}, ragerrors.Wrap(ragerrors.KindRetryable, "embed merged document", err)
	}
	if len(docEmbeds) > 0 {
		merged.Embedding = docEmbeds[0]
	}

	rec := MergeRecord{
		ID:               uuid.NewString(),
		TargetDocID:      merged.ID,
		SourceTopicTitle: topic.Title,
		Strategy:         strategy,
		ChangesMade:      resp.ChangesMade,
		MergedAt:         time.Now(),
	}

	if err := m.store.ApplyMerge(ctx, merged, chunks, rec); err != nil {
		m.log.Error("merge apply failed, target document unchanged", map[string]any{"doc_id": merged.ID, "err": err.Error()})
		return MergeResult{DocID: merged.ID}, ragerrors.Wrap(ragerrors.KindFatal, "apply merge transaction failed", err)
	}

	return MergeResult{DocID: merged.ID, ChunkCount: len(chunks), SaveSuccess: true, Strategy: strategy}, nil
}

func firstNonEmptyStr(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func unionKeywords(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(append([]string{}, a...), b...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func unionStrings(a, b []string) []string { return unionKeywords(a, b) }
