package config

import "time"

// Config holds all configuration for the offline sync bridge
type Config struct {
	APIBaseURL string `json:"apiBaseUrl"`
	ProbePath  string `json:"probePath"`  // lightweight resource used for reachability probes
	ListenAddr string `json:"listenAddr"` // local status API listen address
	DataDir    string `json:"dataDir"`    // directory holding the durable store
	AuthToken  string `json:"authToken"`  // static bearer token attached to outbound requests
	LogLevel   string `json:"logLevel"`
	Debug      bool   `json:"debug"`

	Timeouts TimeoutConfig `json:"timeouts"`
}

// TimeoutConfig holds the wall-clock budgets for network operations.
// All values are milliseconds in the config file.
type TimeoutConfig struct {
	ReadMs          int `json:"readMs"`          // GET budget before falling back
	WriteMs         int `json:"writeMs"`         // POST/PATCH/DELETE budget
	ProbeMs         int `json:"probeMs"`         // connectivity probe budget
	ProbeIntervalMs int `json:"probeIntervalMs"` // periodic re-probe cadence
}

// DefaultConfig returns a config with production defaults applied
func DefaultConfig() *Config {
	return &Config{
		ProbePath:  "/healthz",
		ListenAddr: "127.0.0.1:7381",
		DataDir:    ".",
		LogLevel:   "info",
		Timeouts: TimeoutConfig{
			ReadMs:          10_000,
			WriteMs:         10_000,
			ProbeMs:         5_000,
			ProbeIntervalMs: 30_000,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.DataDir == "" {
		return ErrMissingDataDir
	}
	return nil
}

// ReadTimeout returns the GET budget as a duration
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.ReadMs) * time.Millisecond
}

// WriteTimeout returns the mutation budget as a duration
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.WriteMs) * time.Millisecond
}

// ProbeTimeout returns the probe budget as a duration
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Timeouts.ProbeMs) * time.Millisecond
}

// ProbeInterval returns the periodic probe cadence as a duration
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Timeouts.ProbeIntervalMs) * time.Millisecond
}
