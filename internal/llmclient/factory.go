package llmclient

import (
	"fmt"
	"net/http"

	"ragingest/internal/config"
	"ragingest/internal/llmclient/anthropicprovider"
	"ragingest/internal/llmclient/openaiprovider"
)

// NewProvider selects a concrete Provider by cfg.Provider ("openai" or
// "anthropic").
func NewProvider(cfg config.LLMConfig, httpClient *http.Client) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return openaiprovider.New(cfg, httpClient), nil
	case "anthropic":
		return anthropicprovider.New(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
