// Package embedclient implements C1, EmbeddingClient: a rate-limited,
// retrying batch text-to-vector client with single-call fallback.
package embedclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ragingest/internal/config"
	"ragingest/internal/observability"
	"ragingest/internal/ragerrors"
)

// Dimensions is the flat embedding length every vector persisted by this
// pipeline must have.
const Dimensions = 768

// embedCacheLimit bounds the process-wide embedding cache so a long-running
// invocation over a large site can't grow it without limit.
const embedCacheLimit = 5000

// Client is C1. EmbedBatch embeds up to batch_size texts in one request,
// falling back transparently to per-text embedding on batch failure. A
// single Client is shared by every caller in an invocation (MergeDecider,
// DocumentCreator, DocumentMerger), so its write-through embedding cache,
// keyed by a hash of the input text, is the process-wide cache spec.md §5
// requires: once a text's embedding has been fetched, identical
// EmbeddingText strings from any caller are served from the cache until the
// entry is evicted. Concurrent misses on the same text each fetch it.
type Client interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type httpClient struct {
	cfg     config.EmbeddingConfig
	http    *http.Client
	limiter *rate.Limiter
	log     observability.Logger

	cacheMu    sync.Mutex
	cache      map[[32]byte][]float32
	cacheOrder [][32]byte
}

// New constructs an EmbeddingClient backed by an OpenAI-compatible
// embeddings endpoint, rate-limited per cfg.Rate.DelaySeconds.
func New(cfg config.EmbeddingConfig, log observability.Logger) Client {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 100 {
		cfg.BatchSize = 100
	}
	every := time.Duration(cfg.Rate.DelaySeconds * float64(time.Second))
	if every <= 0 {
		every = time.Millisecond
	}
	return &httpClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(every), 1),
		log:     log,
		cache:   make(map[[32]byte][]float32),
	}
}

func (c *httpClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([][32]byte, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		k := sha256.Sum256([]byte(t))
		keys[i] = k
		if v, ok := c.cacheGet(k); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fetched, err := c.embedUncached(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		if j >= len(fetched) {
			break
		}
		out[idx] = fetched[j]
		c.cachePut(keys[idx], fetched[j])
	}
	return out, nil
}

// embedUncached runs the batch-then-per-item-fallback request path for
// texts known not to be in the cache.
func (c *httpClient) embedUncached(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.cfg.BatchSize {
		end := i + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]
		vecs, err := c.embedWithRetry(ctx, batch)
		if err != nil {
			c.log.Error("embedding batch failed, falling back to per-item", map[string]any{"err": err.Error(), "batch_size": len(batch)})
			vecs = c.embedPerItem(ctx, batch)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *httpClient) cacheGet(key [32]byte) ([]float32, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	v, ok := c.cache[key]
	return v, ok
}

// cachePut writes vec through to the cache, evicting the oldest entry once
// embedCacheLimit is reached. A nil vec (a failed per-item embed) is never
// cached, so a transient failure doesn't poison future lookups.
func (c *httpClient) cachePut(key [32]byte, vec []float32) {
	if vec == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if _, exists := c.cache[key]; !exists {
		if len(c.cacheOrder) >= embedCacheLimit {
			oldest := c.cacheOrder[0]
			c.cacheOrder = c.cacheOrder[1:]
			delete(c.cache, oldest)
		}
		c.cacheOrder = append(c.cacheOrder, key)
	}
	c.cache[key] = vec
}

// embedPerItem embeds texts one at a time, returning nil for any that
// individually fail, never aborting the whole call.
func (c *httpClient) embedPerItem(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.embedWithRetry(ctx, []string{t})
		if err != nil {
			c.log.Error("embedding single item failed", map[string]any{"err": err.Error(), "index": i})
			out[i] = nil
			continue
		}
		if len(v) > 0 {
			out[i] = v[0]
		}
	}
	return out
}

func (c *httpClient) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := c.cfg.Retry.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ragerrors.Wrap(ragerrors.KindRetryable, "rate limiter wait cancelled", err)
		}
		vecs, err := c.doRequest(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ragerrors.Wrap(ragerrors.KindRetryable, "context cancelled during embedding backoff", ctx.Err())
		case <-time.After(baseDelay * time.Duration(1<<attempt)):
		}
	}
	return nil, ragerrors.Wrap(ragerrors.KindRetryable, "embedding request exhausted retries", lastErr)
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponseItem struct {
	Embedding json.RawMessage `json:"embedding"`
}

type embedResponse struct {
	Data []embedResponseItem `json:"data"`
}

func (c *httpClient) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindValidation, "marshal embedding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindValidation, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindRetryable, "embedding request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindRetryable, "read embedding response", err)
	}
	if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, ragerrors.Wrap(ragerrors.KindRetryable, fmt.Sprintf("embedding service status %d", resp.StatusCode), fmt.Errorf("%s", raw))
	}
	if resp.StatusCode/100 != 2 {
		return nil, ragerrors.Wrap(ragerrors.KindValidation, fmt.Sprintf("embedding service status %d", resp.StatusCode), fmt.Errorf("%s", raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, ragerrors.Wrap(ragerrors.KindValidation, "parse embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, ragerrors.New(ragerrors.KindValidation, fmt.Sprintf("embedding count mismatch: got %d want %d", len(parsed.Data), len(texts)))
	}

	out := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		vec, err := flatten(item.Embedding)
		if err != nil {
			return nil, ragerrors.Wrap(ragerrors.KindValidation, "flatten embedding vector", err)
		}
		out[i] = vec
	}
	return out, nil
}

// flatten defends against a nested [[...]] shape by flattening one level,
// per the spec's "MUST be a flat array" invariant.
func flatten(raw json.RawMessage) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err == nil {
		if len(nested) == 1 {
			return nested[0], nil
		}
		out := make([]float32, 0, len(nested)*Dimensions)
		for _, n := range nested {
			out = append(out, n...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("embedding value is neither a flat nor nested float array")
}

func isRetryable(err error) bool {
	return ragerrors.Is(err, ragerrors.KindRetryable)
}
