package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the lorekeep assistant.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Assistant AssistantConfig `yaml:"assistant"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	MetricsPort     int           `yaml:"metrics_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Path to the sqlite database file. Empty means in-memory stores only.
	Path            string        `yaml:"path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key    string   `yaml:"key"`
	UserID string   `yaml:"user_id"`
	Email  string   `yaml:"email"`
	Name   string   `yaml:"name"`
	Worlds []string `yaml:"worlds"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type AssistantConfig struct {
	// DefaultMode is used when a compose request omits the mode.
	DefaultMode       string        `yaml:"default_mode"`
	MaxTurns          int           `yaml:"max_turns"`
	Timeout           time.Duration `yaml:"timeout"`
	StreamBuffer      int           `yaml:"stream_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PersonaDir        string        `yaml:"persona_dir"`
}

type RetentionConfig struct {
	// Schedule is a cron expression; empty disables pruning.
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Assistant.DefaultMode == "" {
		cfg.Assistant.DefaultMode = "ask"
	}
	if cfg.Assistant.MaxTurns == 0 {
		cfg.Assistant.MaxTurns = 16
	}
	if cfg.Assistant.Timeout == 0 {
		cfg.Assistant.Timeout = 5 * time.Minute
	}
	if cfg.Assistant.StreamBuffer == 0 {
		cfg.Assistant.StreamBuffer = 256
	}
	if cfg.Assistant.HeartbeatInterval == 0 {
		cfg.Assistant.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Retention.MaxAge == 0 {
		cfg.Retention.MaxAge = 90 * 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
