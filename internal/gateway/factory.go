package gateway

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/scoper/internal/config"
	"github.com/hpungsan/scoper/internal/metrics"
)

// Provider names, shared with config.
const (
	ProviderAnthropic = config.ProviderAnthropic
	ProviderOpenAI    = config.ProviderOpenAI
	ProviderGemini    = config.ProviderGemini
	ProviderOllama    = config.ProviderOllama
)

// Environment variables holding API keys. Keys never live in config files.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
)

const defaultMaxTokens = 2048

// Params are the per-call generation settings shared by all providers.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

func (p Params) maxTokens() int {
	if p.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return p.MaxTokens
}

// Deps are optional collaborators for New.
type Deps struct {
	Metrics *metrics.Recorder
	Logger  *zap.Logger

	// Getenv looks up API keys. Defaults to os.Getenv.
	Getenv func(string) string
}

// New builds the configured provider and wraps it with logging, metrics,
// timeout and empty-response middleware.
func New(cfg *config.Config, deps Deps) (Gateway, error) {
	getenv := deps.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	params := Params{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.EffectiveTemperature(),
	}

	var base Gateway
	switch cfg.Provider {
	case ProviderAnthropic:
		key := getenv(EnvAnthropicKey)
		if key == "" {
			return nil, fmt.Errorf("%s is not set", EnvAnthropicKey)
		}
		base = NewAnthropic(key, params)
	case ProviderOpenAI:
		key := getenv(EnvOpenAIKey)
		if key == "" {
			return nil, fmt.Errorf("%s is not set", EnvOpenAIKey)
		}
		base = NewOpenAI(key, params)
	case ProviderGemini:
		key := getenv(EnvGeminiKey)
		if key == "" {
			return nil, fmt.Errorf("%s is not set", EnvGeminiKey)
		}
		base = NewGemini(key, params)
	case ProviderOllama:
		base = NewOllama(cfg.OllamaHost, params)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	return Chain(base,
		WithLogging(deps.Logger),
		WithMetrics(deps.Metrics),
		WithTimeout(time.Duration(cfg.GatewayTimeoutSeconds)*time.Second),
		RequireText(cfg.Provider),
	), nil
}
