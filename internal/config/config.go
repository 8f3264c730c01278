// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example OPENAI_API_KEY becomes
// openai_api_key in YAML.
//
// Only one upstream provider key is strictly required for the gateway to
// start. Redis is optional; set STORE_MODE=memory to run entirely in-process
// with no external dependencies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Provider API keys. At least one must be non-empty. These are the
	// global keys; projects may override them with encrypted per-project
	// credentials.
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Gemini    ProviderConfig
	Groq      ProviderConfig

	// Store selects the backing store for projects, keys and usage counters.
	Store StoreConfig

	// Redis holds the connection URL. Required only when Store.Mode is "redis".
	Redis RedisConfig

	// ClickHouse configures the request-log sink. Leave Addr empty to log
	// request records to the process log instead.
	ClickHouse ClickHouseConfig

	// EncryptionKey is the secret used to encrypt per-project provider
	// credentials at rest. Leave empty to disable the credential layer;
	// the gateway then uses only the global provider keys.
	EncryptionKey string

	// RateLimit controls per-API-key request-rate limiting.
	RateLimit RateLimitConfig

	// ProviderTimeout is the per-upstream-call timeout. Default: 30s.
	ProviderTimeout time.Duration

	// ProjectCacheTTL is how long project records are cached in memory
	// in front of the store. Default: 30s.
	ProjectCacheTTL time.Duration

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// ProviderConfig holds configuration for a single upstream provider.
type ProviderConfig struct {
	// APIKey is the global provider API key. Leave empty to disable the
	// provider (unless projects carry their own credentials for it).
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	// Useful for local mocks and development. Leave empty to use the default.
	BaseURL string
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	// Mode selects the store backend:
	//   "redis"  — Redis-backed (requires REDIS_URL). Recommended for production.
	//   "memory" — In-process. No external deps; not shared across replicas.
	// Default: "memory".
	Mode string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// ClickHouseConfig holds the request-log sink configuration.
type ClickHouseConfig struct {
	// Addr is host:port of the ClickHouse native endpoint,
	// e.g. "localhost:9000". Leave empty to disable the ClickHouse sink.
	Addr     string
	Database string
	Username string
	Password string
}

// RateLimitConfig controls per-API-key request-rate limiting.
type RateLimitConfig struct {
	// DefaultRPM is the requests-per-minute allowance for API keys that
	// don't carry their own limit. Default: 60.
	DefaultRPM int
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// At least one provider API key must be configured.
// REDIS_URL is only required when STORE_MODE=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_MODE", "memory")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CLICKHOUSE_USERNAME", "default")

	v.SetDefault("RATE_LIMIT_DEFAULT_RPM", 60)
	v.SetDefault("PROVIDER_TIMEOUT", "30s")
	v.SetDefault("PROJECT_CACHE_TTL", "30s")

	v.SetDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_BASE_URL")},
		Gemini:    ProviderConfig{APIKey: v.GetString("GOOGLE_API_KEY"), BaseURL: v.GetString("GEMINI_BASE_URL")},
		Groq:      ProviderConfig{APIKey: v.GetString("GROQ_API_KEY"), BaseURL: v.GetString("GROQ_BASE_URL")},

		Store: StoreConfig{Mode: strings.ToLower(v.GetString("STORE_MODE"))},
		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		ClickHouse: ClickHouseConfig{
			Addr:     v.GetString("CLICKHOUSE_ADDR"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
			Username: v.GetString("CLICKHOUSE_USERNAME"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
		},

		EncryptionKey: v.GetString("ENCRYPTION_KEY"),

		RateLimit: RateLimitConfig{
			DefaultRPM: v.GetInt("RATE_LIMIT_DEFAULT_RPM"),
		},

		ProviderTimeout: v.GetDuration("PROVIDER_TIMEOUT"),
		ProjectCacheTTL: v.GetDuration("PROJECT_CACHE_TTL"),

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if !c.AtLeastOneProviderKey() {
		return fmt.Errorf(
			"config: at least one provider API key is required " +
				"(OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY or GROQ_API_KEY)",
		)
	}

	switch c.Store.Mode {
	case "redis", "memory":
	default:
		return fmt.Errorf(
			"config: invalid STORE_MODE %q; must be one of: redis, memory",
			c.Store.Mode,
		)
	}

	if c.Store.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when STORE_MODE=redis; " +
				"set STORE_MODE=memory to run without Redis",
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.RateLimit.DefaultRPM < 1 {
		return fmt.Errorf("config: RATE_LIMIT_DEFAULT_RPM must be ≥ 1, got %d",
			c.RateLimit.DefaultRPM)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("config: PROVIDER_TIMEOUT must be a positive duration")
	}

	return nil
}

// AtLeastOneProviderKey returns true if at least one provider is configured.
func (c *Config) AtLeastOneProviderKey() bool {
	return c.OpenAI.APIKey != "" ||
		c.Anthropic.APIKey != "" ||
		c.Gemini.APIKey != "" ||
		c.Groq.APIKey != ""
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
