// Package config provides configuration management for Tempus. Settings load
// from environment variables with the TEMPUS_ prefix, optionally overridden
// by a YAML file named via TEMPUS_CONFIG_FILE or the --config flag, and every
// option has a sensible default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Tempus service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Context   ContextConfig   `yaml:"context"`
	Detector  DetectorConfig  `yaml:"detector"`
	Items     ItemsConfig     `yaml:"items"`
	Notify    NotifyConfig    `yaml:"notify"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 7070)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	// Engine is the storage backend: sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the sqlite data directory (default: ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string when Engine is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ContextConfig tunes snapshot assembly.
type ContextConfig struct {
	// RelevanceHalfLifeDays is the entity relevance half-life (default: 30).
	RelevanceHalfLifeDays float64 `yaml:"relevance_half_life_days"`

	// RelevanceFloor is the minimum decayed score for inclusion
	// (default: 0.2).
	RelevanceFloor float64 `yaml:"relevance_floor"`

	// PatternLookaheadDays bounds surfaced predictions (default: 7).
	PatternLookaheadDays int `yaml:"pattern_lookahead_days"`
}

// DetectorConfig tunes the background pattern sweep.
type DetectorConfig struct {
	// SweepInterval is how often the detector runs (default: 1h).
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ItemsConfig tunes the temporal item ledger.
type ItemsConfig struct {
	// DuplicateWindow suppresses recaptures of the same name (default: 24h).
	DuplicateWindow time.Duration `yaml:"duplicate_window"`

	// StaleTTL is the age at which active items auto-expire (default: 720h).
	StaleTTL time.Duration `yaml:"stale_ttl"`

	// ExpireInterval is how often the expiry sweep runs (default: 1h).
	ExpireInterval time.Duration `yaml:"expire_interval"`
}

// NotifyConfig configures the pattern webhook.
type NotifyConfig struct {
	// WebhookURL receives detected-pattern notifications; empty disables.
	WebhookURL string `yaml:"webhook_url"`

	// Timeout bounds one webhook delivery (default: 5s).
	Timeout time.Duration `yaml:"timeout"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// Mode is development or production (default: development). In
	// development, requests without a token are allowed.
	Mode string `yaml:"mode"`

	// APIToken is the bearer token required in production mode.
	APIToken string `yaml:"api_token"`
}

// RateLimitConfig bounds request throughput per client.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate (default: 20).
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the short-term allowance (default: 40).
	Burst int `yaml:"burst"`
}

// LoadConfig loads configuration from environment variables, then applies the
// YAML file named by TEMPUS_CONFIG_FILE (or path, when non-empty) on top.
// File values win over environment values so a deployment can pin its config.
func LoadConfig(path string) (*Config, error) {
	cfg := buildBaseConfig()

	if path == "" {
		path = os.Getenv("TEMPUS_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires TEMPUS_POSTGRES_DSN")
	}
	if c.Security.Mode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("config: production mode requires TEMPUS_API_TOKEN")
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("TEMPUS_PORT", 7070),
			Host: getEnv("TEMPUS_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			Engine:      getEnv("TEMPUS_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("TEMPUS_DATA_PATH", "./data"),
			PostgresDSN: getEnv("TEMPUS_POSTGRES_DSN", ""),
		},
		Context: ContextConfig{
			RelevanceHalfLifeDays: getEnvFloat("TEMPUS_RELEVANCE_HALF_LIFE_DAYS", 30),
			RelevanceFloor:        getEnvFloat("TEMPUS_RELEVANCE_FLOOR", 0.2),
			PatternLookaheadDays:  getEnvInt("TEMPUS_PATTERN_LOOKAHEAD_DAYS", 7),
		},
		Detector: DetectorConfig{
			SweepInterval: getEnvDuration("TEMPUS_DETECTOR_INTERVAL", time.Hour),
		},
		Items: ItemsConfig{
			DuplicateWindow: getEnvDuration("TEMPUS_DUPLICATE_WINDOW", 24*time.Hour),
			StaleTTL:        getEnvDuration("TEMPUS_ITEM_STALE_TTL", 30*24*time.Hour),
			ExpireInterval:  getEnvDuration("TEMPUS_EXPIRE_INTERVAL", time.Hour),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("TEMPUS_WEBHOOK_URL", ""),
			Timeout:    getEnvDuration("TEMPUS_WEBHOOK_TIMEOUT", 5*time.Second),
		},
		Security: SecurityConfig{
			Mode:     getEnv("TEMPUS_SECURITY_MODE", "development"),
			APIToken: getEnv("TEMPUS_API_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("TEMPUS_RATE_LIMIT_RPS", 20),
			Burst:             getEnvInt("TEMPUS_RATE_LIMIT_BURST", 40),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. A set but unparseable value falls back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax, e.g.
// "24h") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
