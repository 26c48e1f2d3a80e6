// Package config hydrates and validates the service configuration with
// env > file > default precedence.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig groups every runtime concern of the service.
type ServerConfig struct {
	Listen     ListenConfig     `koanf:"listen"`
	Logging    LoggingConfig    `koanf:"logging"`
	Cache      CacheConfig      `koanf:"cache"`
	Database   DatabaseConfig   `koanf:"database"`
	Rules      RulesConfig      `koanf:"rules"`
	Evaluation EvaluationConfig `koanf:"evaluation"`
}

// ListenConfig pins the HTTP listener address.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig shapes slog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig selects the shared cache backend.
type CacheConfig struct {
	Backend         string       `koanf:"backend"`
	RulesTTLSeconds int          `koanf:"rulesTtlSeconds"`
	Valkey          ValkeyConfig `koanf:"valkey"`
}

// ValkeyConfig carries the connection settings for the valkey backend.
type ValkeyConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

// ValkeyTLSConfig toggles TLS towards valkey.
type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// DatabaseConfig carries the primary database DSN and pool knobs.
type DatabaseConfig struct {
	DSN                    string `koanf:"dsn"`
	MaxOpenConns           int    `koanf:"maxOpenConns"`
	MaxIdleConns           int    `koanf:"maxIdleConns"`
	ConnMaxLifetimeSeconds int    `koanf:"connMaxLifetimeSeconds"`
}

// ConnMaxLifetime converts the configured lifetime to a duration.
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeSeconds) * time.Second
}

// RulesConfig points at an optional static rules file. When set, its rulesets
// take precedence over the configuration store and hot-reload on change.
type RulesConfig struct {
	RulesFile string `koanf:"rulesFile"`
}

// EvaluationConfig bounds a single evaluation request.
type EvaluationConfig struct {
	TimeoutSeconds int `koanf:"timeoutSeconds"`
}

// Timeout converts the configured per-request budget to a duration.
func (e EvaluationConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the baseline the file and env layers override.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Backend:         "memory",
				RulesTTLSeconds: 300,
			},
			Database: DatabaseConfig{
				MaxOpenConns:           10,
				MaxIdleConns:           5,
				ConnMaxLifetimeSeconds: 1800,
			},
			Evaluation: EvaluationConfig{
				TimeoutSeconds: 30,
			},
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}

	switch strings.ToLower(c.Server.Cache.Backend) {
	case "memory", "":
	case "valkey":
		if strings.TrimSpace(c.Server.Cache.Valkey.Address) == "" {
			return fmt.Errorf("config: valkey backend requires an address")
		}
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Server.Cache.Backend)
	}

	if c.Server.Cache.RulesTTLSeconds < 0 {
		return fmt.Errorf("config: rules ttl must not be negative")
	}
	if c.Server.Evaluation.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: evaluation timeout must be positive")
	}
	return nil
}
