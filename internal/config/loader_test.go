package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ProbePath != "/healthz" {
		t.Errorf("expected default probe path /healthz, got %q", cfg.ProbePath)
	}
	if cfg.ListenAddr != "127.0.0.1:7381" {
		t.Errorf("unexpected default listen addr %q", cfg.ListenAddr)
	}
	if cfg.ReadTimeout() != 10*time.Second {
		t.Errorf("expected 10s read timeout, got %v", cfg.ReadTimeout())
	}
	if cfg.ProbeInterval() != 30*time.Second {
		t.Errorf("expected 30s probe interval, got %v", cfg.ProbeInterval())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"apiBaseUrl": "https://tasks.example.com",
		"dataDir": "/var/lib/offline",
		"timeouts": {"readMs": 2000}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.APIBaseURL != "https://tasks.example.com" {
		t.Errorf("unexpected api base url %q", cfg.APIBaseURL)
	}
	if cfg.Timeouts.ReadMs != 2000 {
		t.Errorf("expected file read timeout 2000ms, got %d", cfg.Timeouts.ReadMs)
	}
	// Unset timeout fields fall back to defaults
	if cfg.Timeouts.WriteMs != 10_000 {
		t.Errorf("expected default write timeout, got %d", cfg.Timeouts.WriteMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrConfigFileNotFound) {
		t.Fatalf("expected ErrConfigFileNotFound, got %v", err)
	}
}

func TestLoadInvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfigFormat) {
		t.Fatalf("expected ErrInvalidConfigFormat, got %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OFFLINE_API_BASE_URL", "https://env.example.com")
	t.Setenv("OFFLINE_DATA_DIR", "/tmp/env-data")
	t.Setenv("OFFLINE_DEBUG", "true")
	t.Setenv("OFFLINE_READ_TIMEOUT_MS", "750")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.APIBaseURL != "https://env.example.com" {
		t.Errorf("env api base url not applied, got %q", cfg.APIBaseURL)
	}
	if cfg.DataDir != "/tmp/env-data" {
		t.Errorf("env data dir not applied, got %q", cfg.DataDir)
	}
	if !cfg.Debug {
		t.Error("env debug flag not applied")
	}
	if cfg.ReadTimeout() != 750*time.Millisecond {
		t.Errorf("env read timeout not applied, got %v", cfg.ReadTimeout())
	}
}

func TestEnvironmentOverridesIgnoreInvalidMillis(t *testing.T) {
	t.Setenv("OFFLINE_READ_TIMEOUT_MS", "banana")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Timeouts.ReadMs != 10_000 {
		t.Errorf("expected default read timeout, got %d", cfg.Timeouts.ReadMs)
	}
}

func TestValidateMissingFields(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIBaseURL) {
		t.Errorf("expected ErrMissingAPIBaseURL, got %v", err)
	}

	cfg.APIBaseURL = "https://tasks.example.com"
	cfg.DataDir = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingDataDir) {
		t.Errorf("expected ErrMissingDataDir, got %v", err)
	}
}
