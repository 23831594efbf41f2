package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/novaide/nova-debug/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Host = %q, want localhost", cfg.Host)
	}
	if cfg.Port != 5005 {
		t.Errorf("Port = %d, want 5005", cfg.Port)
	}
	if cfg.AttachTimeout != 30*time.Second {
		t.Errorf("AttachTimeout = %v, want 30s", cfg.AttachTimeout)
	}
	if cfg.PageSize != 256 {
		t.Errorf("PageSize = %d, want 256", cfg.PageSize)
	}
	if !cfg.BreakOnUncaught {
		t.Error("BreakOnUncaught should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\"): %v", err)
	}
	if cfg.Address() != "localhost:5005" {
		t.Errorf("Address() = %q, want localhost:5005", cfg.Address())
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if got := apperrors.GetCode(err); got != apperrors.CodeConfigNotFound {
		t.Errorf("error code = %v, want %v", got, apperrors.CodeConfigNotFound)
	}
}

func TestLoadConfig_MalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if got := apperrors.GetCode(err); got != apperrors.CodeConfigInvalid {
		t.Errorf("error code = %v, want %v", got, apperrors.CodeConfigInvalid)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"host": "10.0.0.5", "port": 8000, "logLevel": "debug"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Address() != "10.0.0.5:8000" {
		t.Errorf("Address() = %q, want 10.0.0.5:8000", cfg.Address())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Unspecified fields keep their defaults.
	if cfg.PageSize != 256 {
		t.Errorf("PageSize = %d, want default 256", cfg.PageSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, ok: true},
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }, ok: false},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, ok: false},
		{name: "zero page size", mutate: func(c *Config) { c.PageSize = 0 }, ok: false},
		{name: "negative attach timeout", mutate: func(c *Config) { c.AttachTimeout = -time.Second }, ok: false},
		{name: "zero request timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, ok: false},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if got := apperrors.GetCode(err); got != apperrors.CodeConfigInvalid {
					t.Errorf("error code = %v, want %v", got, apperrors.CodeConfigInvalid)
				}
			}
		})
	}
}
