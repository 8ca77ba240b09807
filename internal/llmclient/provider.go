// Package llmclient implements C2, LLMClient: a rate-limited, retrying
// prompted-text-to-JSON client, backed by a pluggable chat-completion
// Provider (OpenAI or Anthropic).
package llmclient

import "context"

// Provider performs a single-turn chat completion and returns the raw text
// response. Concrete implementations live in openaiprovider and
// anthropicprovider.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
