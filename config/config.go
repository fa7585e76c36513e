// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	gbytes "github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"
)

// Provider names with process-wide default credentials.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8000" yaml:"port"`
	BodySizeLimit   string        `env:"BODY_SIZE_LIMIT" envDefault:"25M" yaml:"body_size_limit"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`
}

// OIDCConfig holds the identity provider connection settings
type OIDCConfig struct {
	// DiscoveryURL is the fixed well-known OpenID configuration URL.
	DiscoveryURL string `env:"OIDC_DISCOVERY_URL" yaml:"discovery_url"`
}

// ProvidersConfig holds per-provider default API keys. A key supplied in
// a request always wins over these.
type ProvidersConfig struct {
	OpenAIAPIKey string `env:"OPENAI_API_KEY" yaml:"openai_api_key"`
	ClaudeAPIKey string `env:"CLAUDE_API_KEY" yaml:"claude_api_key"`
}

// Defaults returns the configured default credentials keyed by provider
// name. Providers without a configured key are omitted.
func (p ProvidersConfig) Defaults() map[string]string {
	defaults := make(map[string]string)
	if p.OpenAIAPIKey != "" {
		defaults[ProviderOpenAI] = p.OpenAIAPIKey
	}
	if p.ClaudeAPIKey != "" {
		defaults[ProviderClaude] = p.ClaudeAPIKey
	}
	return defaults
}

// LoggingConfig holds slog configuration
type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`
}

// AuditConfig holds the request-audit trail configuration. Only request
// metadata is recorded, never message content.
type AuditConfig struct {
	Enabled       bool          `env:"AUDIT_ENABLED" envDefault:"false" yaml:"enabled"`
	StorageType   string        `env:"AUDIT_STORAGE_TYPE" envDefault:"sqlite" yaml:"storage_type"`
	SQLitePath    string        `env:"AUDIT_SQLITE_PATH" envDefault:"chatgate.db" yaml:"sqlite_path"`
	PostgresDSN   string        `env:"AUDIT_POSTGRES_DSN" yaml:"postgres_dsn"`
	MongoURI      string        `env:"AUDIT_MONGO_URI" yaml:"mongo_uri"`
	MongoDatabase string        `env:"AUDIT_MONGO_DATABASE" envDefault:"chatgate" yaml:"mongo_database"`
	BufferSize    int           `env:"AUDIT_BUFFER_SIZE" envDefault:"1000" yaml:"buffer_size"`
	FlushInterval time.Duration `env:"AUDIT_FLUSH_INTERVAL" envDefault:"5s" yaml:"flush_interval"`
	RetentionDays int           `env:"AUDIT_RETENTION_DAYS" envDefault:"30" yaml:"retention_days"`
}

// Load reads configuration from the environment, preceded by an optional
// .env file and overlaid by an optional YAML file named in CONFIG_FILE.
// Values set in the YAML file take precedence over the environment.
func Load() (*Config, error) {
	// Optional .env; absence is not an error
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile applies the YAML file at path on top of cfg. Only fields
// present in the file replace existing values.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if file.Server.Port != "" {
		cfg.Server.Port = file.Server.Port
	}
	if file.Server.BodySizeLimit != "" {
		cfg.Server.BodySizeLimit = file.Server.BodySizeLimit
	}
	if file.Server.ShutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}
	if file.OIDC.DiscoveryURL != "" {
		cfg.OIDC.DiscoveryURL = file.OIDC.DiscoveryURL
	}
	if file.Providers.OpenAIAPIKey != "" {
		cfg.Providers.OpenAIAPIKey = file.Providers.OpenAIAPIKey
	}
	if file.Providers.ClaudeAPIKey != "" {
		cfg.Providers.ClaudeAPIKey = file.Providers.ClaudeAPIKey
	}
	if file.Logging.Level != "" {
		cfg.Logging.Level = file.Logging.Level
	}
	if file.Audit.Enabled {
		cfg.Audit.Enabled = true
	}
	if file.Audit.StorageType != "" {
		cfg.Audit.StorageType = file.Audit.StorageType
	}
	if file.Audit.SQLitePath != "" {
		cfg.Audit.SQLitePath = file.Audit.SQLitePath
	}
	if file.Audit.PostgresDSN != "" {
		cfg.Audit.PostgresDSN = file.Audit.PostgresDSN
	}
	if file.Audit.MongoURI != "" {
		cfg.Audit.MongoURI = file.Audit.MongoURI
	}
	if file.Audit.MongoDatabase != "" {
		cfg.Audit.MongoDatabase = file.Audit.MongoDatabase
	}
	if file.Audit.BufferSize != 0 {
		cfg.Audit.BufferSize = file.Audit.BufferSize
	}
	if file.Audit.FlushInterval != 0 {
		cfg.Audit.FlushInterval = file.Audit.FlushInterval
	}
	if file.Audit.RetentionDays != 0 {
		cfg.Audit.RetentionDays = file.Audit.RetentionDays
	}
	return nil
}

// Validate checks the configuration for values the gateway cannot start
// without.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid PORT %q", c.Server.Port)
	}

	if limit, err := gbytes.Parse(c.Server.BodySizeLimit); err != nil || limit <= 0 {
		return fmt.Errorf("invalid BODY_SIZE_LIMIT %q", c.Server.BodySizeLimit)
	}

	if c.OIDC.DiscoveryURL == "" {
		return fmt.Errorf("OIDC_DISCOVERY_URL is required")
	}
	u, err := url.Parse(c.OIDC.DiscoveryURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid OIDC_DISCOVERY_URL %q", c.OIDC.DiscoveryURL)
	}

	if c.Audit.Enabled {
		switch c.Audit.StorageType {
		case "sqlite":
			if c.Audit.SQLitePath == "" {
				return fmt.Errorf("AUDIT_SQLITE_PATH is required for sqlite audit storage")
			}
		case "postgresql":
			if c.Audit.PostgresDSN == "" {
				return fmt.Errorf("AUDIT_POSTGRES_DSN is required for postgresql audit storage")
			}
		case "mongodb":
			if c.Audit.MongoURI == "" {
				return fmt.Errorf("AUDIT_MONGO_URI is required for mongodb audit storage")
			}
		default:
			return fmt.Errorf("unsupported AUDIT_STORAGE_TYPE %q (sqlite, postgresql, mongodb)", c.Audit.StorageType)
		}
	}

	return nil
}
