package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Load loads configuration from a file path and applies environment variable overrides.
// Validation is deferred to allow CLI flag overrides to be applied first.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)

	// Note: Validation is NOT performed here to allow CLI flags to override
	// Call cfg.Validate() after applying CLI overrides in the caller

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}

	applyTimeoutDefaults(&cfg.Timeouts)

	return cfg, nil
}

// applyTimeoutDefaults restores defaults for timeout fields the file left unset
func applyTimeoutDefaults(t *TimeoutConfig) {
	def := DefaultConfig().Timeouts
	if t.ReadMs <= 0 {
		t.ReadMs = def.ReadMs
	}
	if t.WriteMs <= 0 {
		t.WriteMs = def.WriteMs
	}
	if t.ProbeMs <= 0 {
		t.ProbeMs = def.ProbeMs
	}
	if t.ProbeIntervalMs <= 0 {
		t.ProbeIntervalMs = def.ProbeIntervalMs
	}
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if apiURL := os.Getenv("OFFLINE_API_BASE_URL"); apiURL != "" {
		cfg.APIBaseURL = apiURL
	}

	if probePath := os.Getenv("OFFLINE_PROBE_PATH"); probePath != "" {
		cfg.ProbePath = probePath
	}

	if listen := os.Getenv("OFFLINE_LISTEN_ADDR"); listen != "" {
		cfg.ListenAddr = listen
	}

	if dataDir := os.Getenv("OFFLINE_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	if token := os.Getenv("OFFLINE_AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
	}

	if logLevel := os.Getenv("OFFLINE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if debug := os.Getenv("OFFLINE_DEBUG"); debug == "true" || debug == "1" {
		cfg.Debug = true
	}

	if ms := envMillis("OFFLINE_READ_TIMEOUT_MS"); ms > 0 {
		cfg.Timeouts.ReadMs = ms
	}
	if ms := envMillis("OFFLINE_WRITE_TIMEOUT_MS"); ms > 0 {
		cfg.Timeouts.WriteMs = ms
	}
	if ms := envMillis("OFFLINE_PROBE_TIMEOUT_MS"); ms > 0 {
		cfg.Timeouts.ProbeMs = ms
	}
	if ms := envMillis("OFFLINE_PROBE_INTERVAL_MS"); ms > 0 {
		cfg.Timeouts.ProbeIntervalMs = ms
	}
}

// envMillis parses a positive integer environment variable, returning 0 when unset or invalid
func envMillis(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
