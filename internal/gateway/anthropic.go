package gateway

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicGateway completes prompts with the Anthropic Messages API.
type AnthropicGateway struct {
	client anthropic.Client
	params Params
}

// NewAnthropic creates an Anthropic-backed gateway.
func NewAnthropic(apiKey string, params Params) *AnthropicGateway {
	if params.Model == "" {
		params.Model = DefaultAnthropicModel
	}
	return &AnthropicGateway{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		params: params,
	}
}

// CompleteText implements Gateway.
func (g *AnthropicGateway) CompleteText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.params.Model),
		MaxTokens: int64(g.params.maxTokens()),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(g.params.Temperature),
	})
	if err != nil {
		return "", Classify(ProviderAnthropic, err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", Classify(ProviderAnthropic, ErrEmptyResponse)
	}

	var sb strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}
