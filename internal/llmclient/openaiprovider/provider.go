// Package openaiprovider adapts github.com/openai/openai-go/v2 to the
// llmclient.Provider interface.
package openaiprovider

import (
	"context"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"ragingest/internal/config"
	"ragingest/internal/ragerrors"
)

// Provider calls the OpenAI chat completions endpoint.
type Provider struct {
	sdk   sdk.Client
	model string
}

// New constructs a Provider from cfg. An empty httpClient uses
// http.DefaultClient.
func New(cfg config.LLMConfig, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = sdk.ChatModelGPT4o
	}
	return &Provider{sdk: sdk.NewClient(opts...), model: model}
}

func (p *Provider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []sdk.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, sdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, sdk.UserMessage(userPrompt))

	params := sdk.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
	}
	comp, err := p.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", ragerrors.Wrap(ragerrors.KindRetryable, "openai chat completion failed", err)
	}
	if len(comp.Choices) == 0 {
		return "", ragerrors.New(ragerrors.KindRetryable, "openai returned no choices")
	}
	return comp.Choices[0].Message.Content, nil
}
