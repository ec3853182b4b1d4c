package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DirName is the name of both the global (~/.scoper) and repo (.scoper) config directories.
const DirName = ".scoper"

// Supported language model providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// KnownProviders lists every provider accepted in config.
var KnownProviders = []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOllama}

// Config holds application configuration.
type Config struct {
	// Provider selects the language model backend: anthropic, openai, gemini or ollama.
	Provider string `json:"provider,omitempty"`

	// Model is the provider-specific model name. Empty means the provider default.
	Model string `json:"model,omitempty"`

	// OllamaHost is the Ollama server URL (only used with provider "ollama").
	OllamaHost string `json:"ollama_host,omitempty"`

	// MaxTokens caps each completion.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature is the sampling temperature. nil means the default (0.3).
	Temperature *float64 `json:"temperature,omitempty"`

	// GatewayTimeoutSeconds bounds a single language model call. 0 means no extra bound.
	GatewayTimeoutSeconds int `json:"gateway_timeout_seconds,omitempty"`

	// NATSURL enables the JetStream pipeline trigger when set (e.g. nats://localhost:4222).
	NATSURL string `json:"nats_url,omitempty"`

	// NATSSubjectPrefix is prepended to the per-user subject briefs are published on.
	NATSSubjectPrefix string `json:"nats_subject_prefix,omitempty"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// AllowedPaths is an allowlist of directories for brief exports.
	// Paths outside ~/.scoper/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for exports.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open archive database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle archive database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultTemperature is used when the config does not set one.
const DefaultTemperature = 0.3

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:              ProviderAnthropic,
		OllamaHost:            "http://localhost:11434",
		MaxTokens:             2048,
		GatewayTimeoutSeconds: 90,
		NATSSubjectPrefix:     "scoper.briefs",
		LogLevel:              "info",
	}
}

// EffectiveTemperature returns the configured temperature or the default.
func (c *Config) EffectiveTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if !slices.Contains(KnownProviders, c.Provider) {
		return fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(KnownProviders, ", "))
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if c.GatewayTimeoutSeconds < 0 {
		return fmt.Errorf("gateway_timeout_seconds must be non-negative")
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.scoper.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.scoper) and repo (.scoper) directories.
// Repo config is found by walking upward from startDir to find the nearest .scoper/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .scoper/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, DirName, "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Provider = firstNonEmpty(overlay.Provider, base.Provider)
	result.Model = firstNonEmpty(overlay.Model, base.Model)
	result.OllamaHost = firstNonEmpty(overlay.OllamaHost, base.OllamaHost)
	result.NATSURL = firstNonEmpty(overlay.NATSURL, base.NATSURL)
	result.NATSSubjectPrefix = firstNonEmpty(overlay.NATSSubjectPrefix, base.NATSSubjectPrefix)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)

	result.MaxTokens = firstNonZero(overlay.MaxTokens, base.MaxTokens)
	result.GatewayTimeoutSeconds = firstNonZero(overlay.GatewayTimeoutSeconds, base.GatewayTimeoutSeconds)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Pointer scalar: an explicit 0.0 in the overlay still wins
	result.Temperature = base.Temperature
	if overlay.Temperature != nil {
		t := *overlay.Temperature
		result.Temperature = &t
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range slices.Concat(a, b) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
