package gateway

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiGateway completes prompts with the Google GenAI API.
// The client needs a context to build, so it is created on first use.
type GeminiGateway struct {
	apiKey string
	params Params

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGemini creates a Gemini-backed gateway.
func NewGemini(apiKey string, params Params) *GeminiGateway {
	if params.Model == "" {
		params.Model = DefaultGeminiModel
	}
	return &GeminiGateway{apiKey: apiKey, params: params}
}

func (g *GeminiGateway) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.client, g.clientErr
}

// CompleteText implements Gateway.
func (g *GeminiGateway) CompleteText(ctx context.Context, prompt string) (string, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return "", &Error{Kind: KindAuth, Provider: ProviderGemini, Message: fmt.Sprintf("create client: %v", err), Err: err}
	}

	temp := float32(g.params.Temperature)
	result, err := client.Models.GenerateContent(ctx, g.params.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(g.params.maxTokens()), //nolint:gosec // bounded by config
	})
	if err != nil {
		return "", Classify(ProviderGemini, err)
	}
	if result == nil {
		return "", Classify(ProviderGemini, ErrEmptyResponse)
	}
	return result.Text(), nil
}
