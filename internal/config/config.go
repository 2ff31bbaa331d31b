// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.fiqhbridge/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider API keys and the preferred provider
//   - Knowledge: pgvector rulings store URL (optional)
//   - Chain: JSON-RPC endpoint and feature gate (optional)
//   - Storage: session history directory (absent means in-memory)
//   - Bridge: initialization budget and poll cadence
//
// Security: API keys are never logged; the config directory uses 0750
// permissions. Validation uses sentinel errors checked with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/amanahlabs/fiqhbridge/internal/native"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the preferred provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates the preferred provider has no API key.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidVectorStoreURL indicates the rulings store URL is malformed.
	ErrInvalidVectorStoreURL = errors.New("invalid vector store URL")

	// ErrInvalidChainRPCURL indicates the chain RPC endpoint is malformed.
	ErrInvalidChainRPCURL = errors.New("invalid chain RPC URL")

	// ErrInvalidInitTimeout indicates the initialization budget is out of range.
	ErrInvalidInitTimeout = errors.New("invalid init timeout")
)

// Supported AI providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
)

// Initialization budget bounds.
const (
	// DefaultInitTimeoutSeconds is the construction budget per attempt.
	DefaultInitTimeoutSeconds = 15

	// MaxInitTimeoutSeconds caps the budget so a bad config cannot stall
	// startup indefinitely.
	MaxInitTimeoutSeconds = 120
)

// Config stores application configuration.
// SECURITY: API keys are sensitive; never log a Config verbatim.
type Config struct {
	// Provider selection
	PreferredProvider string `mapstructure:"preferred_provider"`
	GeminiAPIKey      string `mapstructure:"gemini_api_key"` // SENSITIVE
	OpenAIAPIKey      string `mapstructure:"openai_api_key"` // SENSITIVE
	GroqAPIKey        string `mapstructure:"groq_api_key"`   // SENSITIVE

	// Answer language preference ("id", "en", "ar", ...)
	Language string `mapstructure:"language"`

	// Knowledge store (optional; empty disables vector search)
	VectorStoreURL string `mapstructure:"vector_store_url"`

	// Chain connectivity (optional)
	ChainRPCURL         string `mapstructure:"chain_rpc_url"`
	EnableChainFeatures bool   `mapstructure:"enable_chain_features"`

	// Session history directory; empty means in-memory only
	StoragePath string `mapstructure:"storage_path"`

	// Bridge tuning
	InitTimeoutSeconds int `mapstructure:"init_timeout_seconds"`
	PollIntervalMillis int `mapstructure:"poll_interval_millis"`

	// Per-call budget for single-shot queries
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`

	// Observability (optional OTLP trace export)
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".fiqhbridge")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("preferred_provider", ProviderGemini)
	v.SetDefault("language", "id")
	v.SetDefault("init_timeout_seconds", DefaultInitTimeoutSeconds)
	v.SetDefault("poll_interval_millis", 10)
	v.SetDefault("call_timeout_seconds", 60)
	v.SetDefault("enable_chain_features", false)
	v.SetDefault("service_name", "fiqhbridge")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment overrides explicitly.
// Hardcoded keys cannot fail to bind; a bind error here is a bug.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("groq_api_key", "GROQ_API_KEY")
	mustBind("preferred_provider", "FIQHBRIDGE_PROVIDER")
	mustBind("vector_store_url", "FIQHBRIDGE_VECTOR_STORE_URL")
	mustBind("chain_rpc_url", "FIQHBRIDGE_CHAIN_RPC_URL")
	mustBind("enable_chain_features", "FIQHBRIDGE_ENABLE_CHAIN")
	mustBind("storage_path", "FIQHBRIDGE_STORAGE_PATH")
	mustBind("otlp_endpoint", "FIQHBRIDGE_OTLP_ENDPOINT")
	mustBind("log_level", "FIQHBRIDGE_LOG_LEVEL")
}

// Validate checks the configuration for structural errors.
// A missing API key for the preferred provider is NOT fatal here: the bridge
// degrades to fallback answers. It becomes fatal only for the engine's
// construction, which reports InitConfigInvalid through the lifecycle.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.PreferredProvider {
	case ProviderGemini, ProviderOpenAI, ProviderGroq:
	default:
		return fmt.Errorf("%w: %q (supported: gemini, openai, groq)",
			ErrInvalidProvider, c.PreferredProvider)
	}

	if c.VectorStoreURL != "" {
		u, err := url.Parse(c.VectorStoreURL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return fmt.Errorf("%w: %q must be a postgres:// URL", ErrInvalidVectorStoreURL, c.VectorStoreURL)
		}
	}

	if c.ChainRPCURL != "" {
		u, err := url.Parse(c.ChainRPCURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: %q must be an http(s) URL", ErrInvalidChainRPCURL, c.ChainRPCURL)
		}
	}

	if c.InitTimeoutSeconds <= 0 || c.InitTimeoutSeconds > MaxInitTimeoutSeconds {
		return fmt.Errorf("%w: %d seconds (allowed 1..%d)",
			ErrInvalidInitTimeout, c.InitTimeoutSeconds, MaxInitTimeoutSeconds)
	}

	return nil
}

// APIKeys collects the configured provider keys.
func (c *Config) APIKeys() map[string]string {
	keys := make(map[string]string, 3)
	if c.GeminiAPIKey != "" {
		keys[ProviderGemini] = c.GeminiAPIKey
	}
	if c.OpenAIAPIKey != "" {
		keys[ProviderOpenAI] = c.OpenAIAPIKey
	}
	if c.GroqAPIKey != "" {
		keys[ProviderGroq] = c.GroqAPIKey
	}
	return keys
}

// InitTimeout returns the per-attempt construction budget.
func (c *Config) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSeconds) * time.Second
}

// PollInterval returns the future poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// CallTimeout returns the single-shot query budget.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// SlogLevel maps the configured log level string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ToNative maps the application config to the boundary construction config.
func (c *Config) ToNative() native.Config {
	return native.Config{
		APIKeys:             c.APIKeys(),
		PreferredProvider:   c.PreferredProvider,
		VectorStoreURL:      c.VectorStoreURL,
		ChainRPCURL:         c.ChainRPCURL,
		EnableChainFeatures: c.EnableChainFeatures,
		StoragePath:         c.StoragePath,
		Language:            c.Language,
	}
}
