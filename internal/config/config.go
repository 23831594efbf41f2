// Package config provides configuration management for the debug adapter.
//
// Configuration controls:
//   - Attach target: host and port of the VM's debug agent
//   - Attach retry: how long and how aggressively to retry a refused attach
//   - Safety limits: request timeout and variable paging size
//   - Session behavior: breaking on uncaught exceptions
//
// Configuration can be loaded from a JSON file or use sensible defaults;
// launch arguments from the client override the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	apperrors "github.com/novaide/nova-debug/internal/errors"
)

// Config holds the adapter configuration.
type Config struct {
	// Attach target.
	Host string `json:"host"`
	Port int    `json:"port"`

	// Attach retry policy. A refused connection is retried with
	// exponential backoff until AttachTimeout elapses.
	AttachTimeout   time.Duration `json:"attachTimeout"`
	AttachRetryBase time.Duration `json:"attachRetryBase"`

	// RequestTimeout bounds every individual wire round trip.
	RequestTimeout time.Duration `json:"requestTimeout"`

	// PageSize caps how many children one variables request returns.
	PageSize int `json:"pageSize"`

	// BreakOnUncaught installs an uncaught-exception break on attach.
	BreakOnUncaught bool `json:"breakOnUncaught"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5005,
		AttachTimeout:   30 * time.Second,
		AttachRetryBase: 250 * time.Millisecond,
		RequestTimeout:  10 * time.Second,
		PageSize:        256,
		BreakOnUncaught: true,
		LogLevel:        "info",
	}
}

// LoadConfig loads configuration from a JSON file, layered over defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ConfigNotFound(path)
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.ConfigInvalid("malformed JSON", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return apperrors.ConfigInvalid(fmt.Sprintf("port %d out of range", c.Port), nil)
	}
	if c.PageSize <= 0 {
		return apperrors.ConfigInvalid("pageSize must be positive", nil)
	}
	if c.AttachTimeout <= 0 {
		return apperrors.ConfigInvalid("attachTimeout must be positive", nil)
	}
	if c.RequestTimeout <= 0 {
		return apperrors.ConfigInvalid("requestTimeout must be positive", nil)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.ConfigInvalid(fmt.Sprintf("unknown log level %q", c.LogLevel), nil)
	}
	return nil
}

// Address returns the attach target as host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
