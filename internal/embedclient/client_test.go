package embedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ragingest/internal/config"
)

type nullLogger struct{}

func (nullLogger) Info(string, map[string]any)  {}
func (nullLogger) Error(string, map[string]any) {}
func (nullLogger) Debug(string, map[string]any) {}

func vecOfLen(n int, seed float32) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = seed
	}
	return v
}

func TestEmbedBatchReturnsFlatVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for range req.Input {
			raw, _ := json.Marshal(vecOfLen(Dimensions, 0.5))
			resp.Data = append(resp.Data, embedResponseItem{Embedding: raw})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	cfg := config.EmbeddingConfig{BaseURL: srv.URL, Model: "test", BatchSize: 100}
	client := New(cfg, nullLogger{})

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		require.Len(t, v, Dimensions)
	}
}

func TestEmbedBatchFlattensNestedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for range req.Input {
			nested := [][]float32{vecOfLen(Dimensions, 0.1)}
			raw, _ := json.Marshal(nested)
			resp.Data = append(resp.Data, embedResponseItem{Embedding: raw})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	cfg := config.EmbeddingConfig{BaseURL: srv.URL, Model: "test", BatchSize: 100}
	client := New(cfg, nullLogger{})

	vecs, err := client.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Len(t, vecs[0], Dimensions)
}

func TestEmbedBatchCachesRepeatedText(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls += len(req.Input)
		resp := embedResponse{}
		for range req.Input {
			raw, _ := json.Marshal(vecOfLen(Dimensions, 0.3))
			resp.Data = append(resp.Data, embedResponseItem{Embedding: raw})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	cfg := config.EmbeddingConfig{BaseURL: srv.URL, Model: "test", BatchSize: 100}
	client := New(cfg, nullLogger{})

	vecs1, err := client.EmbedBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)
	require.Len(t, vecs1, 1)
	require.Equal(t, 1, calls)

	vecs2, err := client.EmbedBatch(context.Background(), []string{"same text", "new text"})
	require.NoError(t, err)
	require.Len(t, vecs2, 2)
	require.Equal(t, 2, calls, "the repeated text should have been served from cache, not re-embedded")
	require.Equal(t, vecs1[0], vecs2[0])
}

func TestEmbedBatchFallsBackPerItemOnBatchFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls++
		if len(req.Input) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"batch too large"}`))
			return
		}
		resp := embedResponse{}
		for range req.Input {
			raw, _ := json.Marshal(vecOfLen(Dimensions, 0.2))
			resp.Data = append(resp.Data, embedResponseItem{Embedding: raw})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	// Force everything into a single batch request by giving a high batch size,
	// the server fails multi-item batches, so the client must fall back to
	// one request per item.
	cfg := config.EmbeddingConfig{BaseURL: srv.URL, Model: "test", BatchSize: 100, Retry: config.RetryConfig{MaxAttempts: 1}}
	client := New(cfg, nullLogger{})

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		require.Len(t, v, Dimensions)
	}
}
