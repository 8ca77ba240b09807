package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ragingest/internal/config"
	"ragingest/internal/observability"
	"ragingest/internal/ragerrors"
)

// Client is C2. Generate sends a prompt to the provider and decodes the
// reply as JSON into the caller's out value; the shape is not validated
// beyond what json.Unmarshal enforces.
type Client struct {
	provider Provider
	limiter  *rate.Limiter
	log      observability.Logger
	retry    config.RetryConfig
}

// New constructs an LLMClient around a Provider, rate-limited per
// cfg.Rate.DelaySeconds with retry policy cfg.Retry.
func New(provider Provider, cfg config.LLMConfig, log observability.Logger) *Client {
	every := time.Duration(cfg.Rate.DelaySeconds * float64(time.Second))
	if every <= 0 {
		every = time.Millisecond
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 2 * time.Second
	}
	return &Client{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(every), 1),
		log:      log,
		retry:    retry,
	}
}

// Generate sends systemPrompt/userPrompt to the provider and parses the
// reply as JSON into out. On malformed JSON it recovers by regex-extracting
// the outermost JSON object or array before giving up.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	text, err := c.completeWithRetry(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if err := unmarshalLenient(text, out); err != nil {
		return ragerrors.Wrap(ragerrors.KindValidation, "parse LLM JSON response", err)
	}
	return nil
}

// GenerateText sends systemPrompt/userPrompt and returns the raw text reply,
// for callers that want prose, not JSON.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.completeWithRetry(ctx, systemPrompt, userPrompt)
}

func (c *Client) completeWithRetry(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", ragerrors.Wrap(ragerrors.KindRetryable, "rate limiter wait cancelled", err)
		}
		text, err := c.provider.Complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !ragerrors.Is(err, ragerrors.KindRetryable) {
			return "", err
		}
		c.log.Error("llm call failed, retrying", map[string]any{"attempt": attempt + 1, "err": err.Error()})
		select {
		case <-ctx.Done():
			return "", ragerrors.Wrap(ragerrors.KindRetryable, "context cancelled during llm backoff", ctx.Err())
		case <-time.After(c.retry.BaseDelay * time.Duration(1<<attempt)):
		}
	}
	return "", ragerrors.Wrap(ragerrors.KindRetryable, "llm request exhausted retries", lastErr)
}

var jsonArrayOrObject = regexp.MustCompile(`(?s)[\[{].*[\]}]`)

// unmarshalLenient tries a direct unmarshal first, then strips markdown
// code-fence wrappers, then falls back to regex-extracting the outermost
// JSON array/object.
func unmarshalLenient(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	stripped := stripCodeFence(trimmed)
	if err := json.Unmarshal([]byte(stripped), out); err == nil {
		return nil
	}
	if m := jsonArrayOrObject.FindString(stripped); m != "" {
		if err := json.Unmarshal([]byte(m), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no valid JSON found in LLM response")
}

func stripCodeFence(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
