package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/internal/config"
	"ragingest/internal/docs"
	"ragingest/internal/llmclient"
	"ragingest/internal/observability"
	"ragingest/internal/topics"
)

type fakeEmbed struct {
	calls int
	vec   []float32
}

func (f *fakeEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls += len(texts)
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

func testLogger() observability.Logger { return observability.NewZerologLogger(context.Background()) }

func unitVec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestDecide_HighSimilarityMerges(t *testing.T) {
	cfg := config.MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40}
	embed := &fakeEmbed{vec: unitVec(768, 0)}
	llm := llmclient.New(&fakeProvider{reply: `{"decision":"CREATE"}`}, config.LLMConfig{Rate: config.RateConfig{DelaySeconds: 0}}, testLogger())
	d := New(cfg, embed, llm, nil, testLogger())

	topic := &topics.Topic{Title: "Alpha extended", Summary: "more alpha"}
	existing := []docs.Document{{ID: "alpha_1", Title: "Alpha", Summary: "alpha", Embedding: unitVec(768, 0)}}

	dec, err := d.Decide(context.Background(), topic, existing)
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, dec.Action)
	assert.Equal(t, "alpha_1", dec.DocID)
}

func TestDecide_LowSimilarityCreates(t *testing.T) {
	cfg := config.MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40}
	embed := &fakeEmbed{vec: unitVec(768, 0)}
	llm := llmclient.New(&fakeProvider{reply: `{"decision":"CREATE"}`}, config.LLMConfig{}, testLogger())
	d := New(cfg, embed, llm, nil, testLogger())

	topic := &topics.Topic{Title: "Totally different", Summary: "x"}
	existing := []docs.Document{{ID: "beta_1", Title: "Beta", Summary: "beta", Embedding: unitVec(768, 5)}}

	dec, err := d.Decide(context.Background(), topic, existing)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, dec.Action)
}

func TestDecide_UncertainBandConsultsLLM(t *testing.T) {
	cfg := config.MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40}
	embed := &fakeEmbed{vec: []float32{1, 1, 0}}
	llm := llmclient.New(&fakeProvider{reply: `{"decision":"MERGE"}`}, config.LLMConfig{}, testLogger())
	d := New(cfg, embed, llm, nil, testLogger())

	topic := &topics.Topic{Title: "Partial overlap", Summary: "x"}
	existing := []docs.Document{{ID: "gamma_1", Title: "Gamma", Summary: "gamma", Embedding: []float32{1, 0, 0}}}

	dec, err := d.Decide(context.Background(), topic, existing)
	require.NoError(t, err)
	assert.True(t, dec.Verified)
	assert.Equal(t, ActionMerge, dec.Action)
	assert.Equal(t, "gamma_1", dec.DocID)
}

func TestDecide_DedupsVerificationAcrossTopicsWithSameTitle(t *testing.T) {
	cfg := config.MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40}
	embed := &fakeEmbed{vec: []float32{1, 1, 0}}
	provider := &fakeProvider{reply: `{"decision":"CREATE"}`}
	llm := llmclient.New(provider, config.LLMConfig{}, testLogger())
	d := New(cfg, embed, llm, nil, testLogger())

	existing := []docs.Document{{ID: "gamma_1", Title: "Gamma", Summary: "gamma", Embedding: []float32{1, 0, 0}}}

	t1 := &topics.Topic{Title: "Same Title", Summary: "x"}
	t2 := &topics.Topic{Title: "same  title", Summary: "y"}

	d1, err := d.Decide(context.Background(), t1, existing)
	require.NoError(t, err)
	d2, err := d.Decide(context.Background(), t2, existing)
	require.NoError(t, err)

	assert.True(t, d1.VerifyAsked)
	assert.False(t, d2.VerifyAsked)
	assert.Equal(t, d1.Action, d2.Action)
}

func TestDecide_LLMFailureDefaultsToCreate(t *testing.T) {
	cfg := config.MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40}
	embed := &fakeEmbed{vec: []float32{1, 1, 0}}
	llm := llmclient.New(&fakeProvider{reply: "not json at all, no array, no object"}, config.LLMConfig{}, testLogger())
	d := New(cfg, embed, llm, nil, testLogger())

	topic := &topics.Topic{Title: "X", Summary: "x"}
	existing := []docs.Document{{ID: "gamma_1", Title: "Gamma", Summary: "gamma", Embedding: []float32{1, 0, 0}}}

	dec, err := d.Decide(context.Background(), topic, existing)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, dec.Action)
}

func TestDecide_NoCandidatesCreates(t *testing.T) {
	cfg := config.MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40}
	embed := &fakeEmbed{vec: unitVec(768, 0)}
	llm := llmclient.New(&fakeProvider{reply: `{"decision":"CREATE"}`}, config.LLMConfig{}, testLogger())
	d := New(cfg, embed, llm, nil, testLogger())

	topic := &topics.Topic{Title: "Anything", Summary: "x"}
	dec, err := d.Decide(context.Background(), topic, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, dec.Action)
}
