// Package merge implements C6, MergeDecider: the hybrid cosine-similarity
// plus LLM-arbitration algorithm that decides, for each extracted topic,
// whether it should create a new document, merge into an existing one, or
// be escalated to the LLM for the uncertain band.
package merge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"ragingest/internal/config"
	"ragingest/internal/docs"
	"ragingest/internal/embedclient"
	"ragingest/internal/llmclient"
	"ragingest/internal/observability"
	"ragingest/internal/topics"
)

// Action is the two-outcome result of a decision once any LLM verification
// has been resolved. "verify" never escapes Decide: it is always collapsed
// into Create or Merge before returning.
type Action string

const (
	ActionCreate Action = "create"
	ActionMerge  Action = "merge"
)

// Decision is the outcome of Decide for one topic.
type Decision struct {
	Action      Action
	DocID       string // set when Action == ActionMerge
	BestSim     float64
	Verified    bool // true if the uncertain-band LLM call was consulted
	VerifyAsked bool // true if a new LLM call was actually issued (false if deduped)
}

// EmbeddingUpdater lets the decider opportunistically persist a
// lazily-computed document embedding without blocking the decision itself.
// *store.Store satisfies this.
type EmbeddingUpdater interface {
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// Decider is C6, scoped to one pipeline invocation so its verify-dedup set
// persists across pages. The embedding cache that backs property #1 (never
// re-embed the same text twice in an invocation) lives one layer down, in
// the embedclient.Client shared by the decider, DocumentCreator, and
// DocumentMerger, so reuse holds across components, not just within this one.
type Decider struct {
	cfg     config.MergeConfig
	embed   embedclient.Client
	llm     *llmclient.Client
	updater EmbeddingUpdater
	log     observability.Logger

	mu       sync.Mutex
	verified map[string]Decision // key: bestID + "\x00" + normalizedTitle
}

// New constructs a MergeDecider for a single invocation.
func New(cfg config.MergeConfig, embed embedclient.Client, llm *llmclient.Client, updater EmbeddingUpdater, log observability.Logger) *Decider {
	return &Decider{
		cfg:      cfg,
		embed:    embed,
		llm:      llm,
		updater:  updater,
		log:      log,
		verified: make(map[string]Decision),
	}
}

// Decide implements the algorithm in spec.md §4.3. existingDocs must be a
// fresh snapshot read at the start of the page (the orchestrator never
// caches the document set across stages).
func (d *Decider) Decide(ctx context.Context, topic *topics.Topic, existingDocs []docs.Document) (Decision, error) {
	if err := d.ensureTopicEmbedding(ctx, topic); err != nil {
		return Decision{}, err
	}

	best, bestSim, err := d.bestMatch(ctx, topic.Embedding, existingDocs)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case best.ID == "" || bestSim < d.cfg.ThresholdLow:
		return Decision{Action: ActionCreate, BestSim: bestSim}, nil
	case bestSim >= d.cfg.ThresholdHigh:
		return Decision{Action: ActionMerge, DocID: best.ID, BestSim: bestSim}, nil
	default:
		return d.verify(ctx, topic, best, bestSim)
	}
}

func (d *Decider) ensureTopicEmbedding(ctx context.Context, topic *topics.Topic) error {
	if topic.Embedding != nil {
		return nil
	}
	vecs, err := d.embed.EmbedBatch(ctx, []string{docs.EmbeddingText(topic.Title, topic.Summary, topic.Content)})
	if err != nil {
		return err
	}
	if len(vecs) > 0 {
		topic.Embedding = vecs[0]
	}
	return nil
}

// bestMatch finds the highest-cosine-similarity existing document. It never
// recomputes a stored embedding; for a doc with a null embedding it embeds
// once, uses the result for this decision, and persists it opportunistically
// without blocking.
func (d *Decider) bestMatch(ctx context.Context, topicEmbed []float32, existingDocs []docs.Document) (docs.Document, float64, error) {
	sorted := make([]docs.Document, len(existingDocs))
	copy(sorted, existingDocs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var best docs.Document
	bestSim := -1.0
	for i := range sorted {
		doc := &sorted[i]
		emb := doc.Embedding
		if emb == nil {
			vecs, err := d.embed.EmbedBatch(ctx, []string{docs.EmbeddingText(doc.Title, doc.Summary, doc.Content)})
			if err != nil || len(vecs) == 0 {
				continue
			}
			emb = vecs[0]
			doc.Embedding = emb
			if d.updater != nil {
				go func(id string, vec []float32) {
					_ = d.updater.UpdateEmbedding(context.Background(), id, vec)
				}(doc.ID, emb)
			}
		}
		sim := cosine(topicEmbed, emb)
		if sim > bestSim+1e-6 {
			bestSim, best = sim, *doc
		} else if math.Abs(sim-bestSim) <= 1e-6 && doc.ID < best.ID {
			best = *doc
		}
	}
	return best, bestSim, nil
}

type verifyResponse struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

const verifySystemPrompt = `You decide whether a new topic should MERGE into an existing document or CREATE a new one.
Respond with a JSON object: {"decision": "MERGE"|"CREATE", "reason": "<one line>"}.

Examples:
{"topic":"Installing the CLI on Windows","existing":"Installing the CLI on macOS","similarity":0.62} -> {"decision":"MERGE","reason":"same install topic, different OS section"}
{"topic":"Billing API rate limits","existing":"Authentication overview","similarity":0.45} -> {"decision":"CREATE","reason":"unrelated subject matter"}`

const verifyPreviewChars = 1000

// verify handles the uncertain band: dedup by (bestID, normalized title)
// so a given (doc, topic-title) pair is LLM-verified at most once per
// invocation, then calls the LLM and collapses its answer into Create or
// Merge. On LLM failure it defaults to Create, the documented safer bias.
func (d *Decider) verify(ctx context.Context, topic *topics.Topic, best docs.Document, bestSim float64) (Decision, error) {
	key := dedupKey(best.ID, topic.Title)

	d.mu.Lock()
	if cached, ok := d.verified[key]; ok {
		d.mu.Unlock()
		cached.VerifyAsked = false
		return cached, nil
	}
	d.mu.Unlock()

	topicPreview := preview(topic.Content, verifyPreviewChars)
	summaryPreview := preview(best.Summary, verifyPreviewChars)
	userPrompt := fmt.Sprintf(
		`{"topic_title":%q,"topic_preview":%q,"existing_summary":%q,"similarity":%.4f,"best_doc_id":%q}`,
		topic.Title, topicPreview, summaryPreview, bestSim, best.ID,
	)

	var resp verifyResponse
	decision := Decision{BestSim: bestSim, Verified: true, VerifyAsked: true}
	if err := d.llm.Generate(ctx, verifySystemPrompt, userPrompt, &resp); err != nil {
		d.log.Error("merge verification LLM call failed, defaulting to create", map[string]any{"topic": topic.Title, "err": err.Error()})
		decision.Action = ActionCreate
	} else if strings.EqualFold(strings.TrimSpace(resp.Decision), "MERGE") {
		decision.Action = ActionMerge
		decision.DocID = best.ID
	} else {
		decision.Action = ActionCreate
	}

	d.mu.Lock()
	d.verified[key] = decision
	d.mu.Unlock()
	return decision, nil
}

func dedupKey(bestID, title string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	return bestID + "\x00" + norm
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// cosine computes dot(a,b) / (||a||*||b||). Vectors of mismatched length
// (which should never happen given the 768-dim invariant) yield 0.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
