// Package anthropicprovider adapts github.com/anthropics/anthropic-sdk-go to
// the llmclient.Provider interface.
package anthropicprovider

import (
	"context"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ragingest/internal/config"
	"ragingest/internal/ragerrors"
)

const defaultMaxTokens int64 = 1024

// Provider calls the Anthropic messages endpoint.
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
		model = string(sdk.ModelClaude3_7SonnetLatest)
	}
	return &Provider{sdk: sdk.NewClient(opts...), model: model}
}

func (p *Provider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: defaultMaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", ragerrors.Wrap(ragerrors.KindRetryable, "anthropic message failed", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
