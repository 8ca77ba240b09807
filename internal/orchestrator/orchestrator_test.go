package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/internal/config"
	"ragingest/internal/crawler"
	"ragingest/internal/docs"
	"ragingest/internal/llmclient"
	"ragingest/internal/merge"
	"ragingest/internal/observability"
	"ragingest/internal/topics"
)

type fakeCrawler struct {
	result crawler.Result
	err    error
}

func (f fakeCrawler) Crawl(ctx context.Context, startURL string, maxPages int) (crawler.Result, error) {
	return f.result, f.err
}

type fakeEmbed struct {
	vec  []float32
	fail bool
}

func (f *fakeEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, assert.AnError
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeProvider struct{ reply string }

func (f *fakeProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.reply, nil
}

type fakeStore struct {
	existing     map[string]docs.Document
	failNthCreate int
	createCount   int
}

func newFakeStore() *fakeStore { return &fakeStore{existing: map[string]docs.Document{}} }

func (f *fakeStore) GetAll(ctx context.Context) ([]docs.Document, error) {
	out := make([]docs.Document, 0, len(f.existing))
	for _, d := range f.existing {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (docs.Document, error) {
	d, ok := f.existing[id]
	if !ok {
		return docs.Document{}, assert.AnError
	}
	return d, nil
}

func (f *fakeStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := f.existing[id]
	return ok, nil
}

func (f *fakeStore) CreateDocument(ctx context.Context, doc docs.Document, chunks []docs.Chunk) error {
	f.createCount++
	if f.failNthCreate != 0 && f.createCount == f.failNthCreate {
		return assert.AnError
	}
	f.existing[doc.ID] = doc
	return nil
}

func (f *fakeStore) ApplyMerge(ctx context.Context, doc docs.Document, chunks []docs.Chunk, rec docs.MergeRecord) error {
	f.existing[doc.ID] = doc
	return nil
}

func (f *fakeStore) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	if d, ok := f.existing[id]; ok {
		d.Embedding = embedding
		f.existing[id] = d
	}
	return nil
}

func testLogger() observability.Logger { return observability.NewZerologLogger(context.Background()) }

func mergeCfg() config.MergeConfig { return config.MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40} }

func build(t *testing.T, store *fakeStore, embed *fakeEmbed, extractReply, verifyOrRewriteReply string) *Orchestrator {
	t.Helper()
	extractLLM := llmclient.New(&fakeProvider{reply: extractReply}, config.LLMConfig{}, testLogger())
	decideLLM := llmclient.New(&fakeProvider{reply: verifyOrRewriteReply}, config.LLMConfig{}, testLogger())

	extractor := topics.New(extractLLM, testLogger())
	decider := merge.New(mergeCfg(), embed, decideLLM, store, testLogger())
	creator := docs.NewCreator(store, embed, testLogger())
	merger := docs.NewMerger(store, embed, decideLLM, testLogger())

	cfg := config.Defaults()
	cfg.Parallel.LLMConcurrency = 2

	return New(nil, extractor, decider, creator, merger, store, cfg, nil, testLogger())
}

func TestRun_EmptyCrawlFailsFast(t *testing.T) {
	store := newFakeStore()
	o := build(t, store, &fakeEmbed{vec: make([]float32, 768)}, "[]", "{}")
	o.crawler = fakeCrawler{result: crawler.Result{PagesCrawled: 0}}

	report, err := o.Run(context.Background(), "http://example.com", 10)
	require.Error(t, err)
	assert.True(t, report.Failed)
	assert.Equal(t, 0, report.PagesCrawled)
	assert.Empty(t, store.existing)
}

func TestRun_SingleCreate(t *testing.T) {
	store := newFakeStore()
	extractReply := `[{"title":"Alpha","summary":"about alpha","content":"Alpha is a thing. It does stuff."}]`
	o := build(t, store, &fakeEmbed{vec: make([]float32, 768)}, extractReply, `{"decision":"CREATE"}`)
	o.crawler = fakeCrawler{result: crawler.Result{
		PagesCrawled: 1,
		OutputDir:    "/tmp/out",
		Pages:        []crawler.Page{{URL: "http://example.com/a", Markdown: "# Alpha\n\nAlpha is a thing."}},
	}}

	report, err := o.Run(context.Background(), "http://example.com", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocumentsCreated)
	assert.Equal(t, 0, report.DocumentsMerged)
	assert.Len(t, store.existing, 1)
}

func TestRun_HighSimilarityMerge(t *testing.T) {
	store := newFakeStore()
	vec := make([]float32, 768)
	vec[0] = 1
	store.existing["alpha_doc"] = docs.Document{ID: "alpha_doc", Title: "Alpha", Summary: "about alpha", Content: "original alpha content", Embedding: vec}

	extractReply := `[{"title":"Alpha Extended","summary":"more about alpha","content":"Alpha extended content."}]`
	rewriteReply := `{"content":"rewritten alpha doc","summary":"alpha summary","strategy":"enrich","changes_made":"added detail"}`
	o := build(t, store, &fakeEmbed{vec: vec}, extractReply, rewriteReply)
	o.crawler = fakeCrawler{result: crawler.Result{
		PagesCrawled: 1,
		OutputDir:    "/tmp/out",
		Pages:        []crawler.Page{{URL: "http://example.com/a", Markdown: "# Alpha Extended\n\nmore content"}},
	}}

	report, err := o.Run(context.Background(), "http://example.com", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocumentsMerged)
	assert.Equal(t, 0, report.DocumentsCreated)
	assert.Equal(t, "rewritten alpha doc", store.existing["alpha_doc"].Content)
}

func TestRun_PartialCreateFailureContinues(t *testing.T) {
	store := newFakeStore()
	store.failNthCreate = 2
	extractReply := `[{"title":"One","summary":"s1","content":"content one here"},` +
		`{"title":"Two","summary":"s2","content":"content two here"},` +
		`{"title":"Three","summary":"s3","content":"content three here"}]`
	o := build(t, store, &fakeEmbed{vec: make([]float32, 768)}, extractReply, `{"decision":"CREATE"}`)
	o.crawler = fakeCrawler{result: crawler.Result{
		PagesCrawled: 1,
		OutputDir:    "/tmp/out",
		Pages:        []crawler.Page{{URL: "http://example.com/a", Markdown: "# Page\n\nbody"}},
	}}

	report, err := o.Run(context.Background(), "http://example.com", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DocumentsCreated)
	assert.Len(t, report.Errors, 1)

	var persistStatus StageStatus
	for _, s := range report.Stages {
		if s.Stage == StagePersist {
			persistStatus = s.Status
		}
	}
	assert.Equal(t, StatusPartial, persistStatus)
}
