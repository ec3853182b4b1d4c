package gateway

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIGateway completes prompts with the OpenAI chat completions API.
type OpenAIGateway struct {
	client openai.Client
	params Params
}

// NewOpenAI creates an OpenAI-backed gateway.
func NewOpenAI(apiKey string, params Params) *OpenAIGateway {
	if params.Model == "" {
		params.Model = DefaultOpenAIModel
	}
	return &OpenAIGateway{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		params: params,
	}
}

// CompleteText implements Gateway.
func (g *OpenAIGateway) CompleteText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.params.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(g.params.maxTokens())),
		Temperature:         openai.Float(g.params.Temperature),
	})
	if err != nil {
		return "", Classify(ProviderOpenAI, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", Classify(ProviderOpenAI, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
