// Package config loads engine settings with precedence
// file > environment > defaults, validated before use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP     *HTTPConfig     `json:"http"`
	Database *DatabaseConfig `json:"database"`
	Session  *SessionConfig  `json:"session"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DatabaseConfig holds the attendance archive settings.
type DatabaseConfig struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// SessionConfig holds lifecycle policy knobs.
type SessionConfig struct {
	// SingleLivePerOwner rejects opening a second session while one of the
	// owner's sessions is still live. Off by default; the engine treats
	// sessions independently unless a deployment wants the one-at-a-time
	// behavior.
	SingleLivePerOwner bool `json:"single_live_per_owner"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: &DatabaseConfig{
			Path:            "./rollcall.db",
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Second,
		},
		Session: &SessionConfig{
			SingleLivePerOwner: false,
		},
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	return nil
}

// LoadFromEnv returns the defaults overridden by ROLLCALL_* environment
// variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("ROLLCALL_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("ROLLCALL_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("ROLLCALL_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("ROLLCALL_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if path := os.Getenv("ROLLCALL_DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if v := os.Getenv("ROLLCALL_DATABASE_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxConnections = n
		}
	}
	if v := os.Getenv("ROLLCALL_SINGLE_LIVE_PER_OWNER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Session.SingleLivePerOwner = b
		}
	}

	return cfg
}

// fileConfig mirrors Config with string durations for JSON parsing.
type fileConfig struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	Database *struct {
		Path            string `json:"path"`
		MaxConnections  int    `json:"max_connections"`
		ConnMaxLifetime string `json:"conn_max_lifetime"`
	} `json:"database"`
	Session *struct {
		SingleLivePerOwner bool `json:"single_live_per_owner"`
	} `json:"session"`
}

// LoadFromFile parses a JSON config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if fc.HTTP != nil {
		if fc.HTTP.Host != "" {
			cfg.HTTP.Host = fc.HTTP.Host
		}
		if fc.HTTP.Port > 0 {
			cfg.HTTP.Port = fc.HTTP.Port
		}
		if d, err := time.ParseDuration(fc.HTTP.ReadTimeout); err == nil && fc.HTTP.ReadTimeout != "" {
			cfg.HTTP.ReadTimeout = d
		}
		if d, err := time.ParseDuration(fc.HTTP.WriteTimeout); err == nil && fc.HTTP.WriteTimeout != "" {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if fc.Database != nil {
		if fc.Database.Path != "" {
			cfg.Database.Path = fc.Database.Path
		}
		if fc.Database.MaxConnections > 0 {
			cfg.Database.MaxConnections = fc.Database.MaxConnections
		}
		if d, err := time.ParseDuration(fc.Database.ConnMaxLifetime); err == nil && fc.Database.ConnMaxLifetime != "" {
			cfg.Database.ConnMaxLifetime = d
		}
	}
	if fc.Session != nil {
		cfg.Session.SingleLivePerOwner = fc.Session.SingleLivePerOwner
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves the configuration with precedence file > env > defaults.
// File errors are silently ignored so env/defaults still work without one.
func Load(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}
