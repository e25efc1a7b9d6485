// Package config loads the market engine configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrMissing is returned when a setting required by the environment is absent.
	ErrMissing = errors.New("config: required setting missing")

	// ErrInvalid is returned for out-of-range or unknown values.
	ErrInvalid = errors.New("config: invalid setting")
)

// Environments.
const (
	Development = "development"
	Production  = "production"
)

// ProviderYahoo is the only supported market-data provider.
const ProviderYahoo = "yahoo"

// Config holds application configuration.
type Config struct {
	Port        string `env:"PORT"        envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	RedisTTL    time.Duration `env:"REDIS_TTL" envDefault:"30s"`

	Provider        string `env:"MARKET_DATA_PROVIDER" envDefault:"yahoo"`
	BenchmarkSymbol string `env:"BENCHMARK_SYMBOL"     envDefault:"^GSPC"`

	FetchMaxRetries int           `env:"FETCH_MAX_RETRIES" envDefault:"3"`
	FetchBaseDelay  time.Duration `env:"FETCH_BASE_DELAY"  envDefault:"2s"`

	OrchestratorWorkers  int           `env:"ORCHESTRATOR_WORKERS"  envDefault:"10"`
	OrchestratorDeadline time.Duration `env:"ORCHESTRATOR_DEADLINE" envDefault:"30s"`

	CacheShards        int           `env:"CACHE_SHARDS"         envDefault:"16"`
	CacheMaxEntries    int           `env:"CACHE_MAX_ENTRIES"    envDefault:"10000"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"1m"`

	RetentionDays int      `env:"RETENTION_DAYS" envDefault:"90"`
	WarmTickers   []string `env:"WARM_TICKERS"   envSeparator:","`
	WarmSchedule  string   `env:"WARM_SCHEDULE"  envDefault:"@every 10m"`
}

// Load reads a .env file if present, then the environment, and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required and bounded settings.
func (c *Config) Validate() error {
	if c.Environment == Production && c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required in production", ErrMissing)
	}
	if c.Environment != Development && c.Environment != Production {
		return fmt.Errorf("%w: ENVIRONMENT=%q", ErrInvalid, c.Environment)
	}
	if c.Provider != ProviderYahoo {
		return fmt.Errorf("%w: unknown MARKET_DATA_PROVIDER %q", ErrInvalid, c.Provider)
	}
	if c.FetchMaxRetries <= 0 {
		return fmt.Errorf("%w: FETCH_MAX_RETRIES must be positive", ErrInvalid)
	}
	if c.FetchBaseDelay < 0 {
		return fmt.Errorf("%w: FETCH_BASE_DELAY must not be negative", ErrInvalid)
	}
	if c.OrchestratorWorkers <= 0 {
		return fmt.Errorf("%w: ORCHESTRATOR_WORKERS must be positive", ErrInvalid)
	}
	if c.CacheShards <= 0 {
		return fmt.Errorf("%w: CACHE_SHARDS must be positive", ErrInvalid)
	}
	if c.CacheSweepInterval <= 0 {
		return fmt.Errorf("%w: CACHE_SWEEP_INTERVAL must be positive", ErrInvalid)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("%w: RETENTION_DAYS must be positive", ErrInvalid)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Retention is the age after which stored prices are swept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
