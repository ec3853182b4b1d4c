package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "llama3.1"

// DefaultOllamaHost is the local Ollama server.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaGateway completes prompts against a local Ollama server.
type OllamaGateway struct {
	client *api.Client
	params Params
}

// NewOllama creates an Ollama-backed gateway. An unparsable host falls back to the local default.
func NewOllama(hostURL string, params Params) *OllamaGateway {
	if params.Model == "" {
		params.Model = DefaultOllamaModel
	}
	parsed, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsed, _ = url.Parse(DefaultOllamaHost)
	}
	return &OllamaGateway{
		client: api.NewClient(parsed, http.DefaultClient),
		params: params,
	}
}

// CompleteText implements Gateway.
func (g *OllamaGateway) CompleteText(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    g.params.Model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options: map[string]any{
			"temperature": g.params.Temperature,
			"num_predict": g.params.maxTokens(),
		},
	}

	var sb strings.Builder
	err := g.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", Classify(ProviderOllama, err)
	}
	return sb.String(), nil
}
