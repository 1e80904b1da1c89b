// Package config loads the ingestion service's YAML configuration and
// applies environment variable overrides, mirroring the rest of this
// codebase's single config-driven constructor per external dependency.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"ticksync/internal/ratelimit"
)

// Config is the top-level configuration for the ingestion service.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Backfill  Backfill  `yaml:"backfill"`
}

// Storage holds paths for tick archive persistence.
type Storage struct {
	DataDir string `yaml:"data_dir"`
}

// Alpaca holds credentials and endpoints for the historical data provider.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimit configures the distributed multi-window rate limiter.
type RateLimit struct {
	AccountID string       `yaml:"account_id"`
	Long      WindowConfig `yaml:"long_window"`
	Contract  WindowConfig `yaml:"contract_window"`
	Duplicate WindowConfig `yaml:"duplicate_window"`
}

// WindowConfig describes a single rolling-window budget.
type WindowConfig struct {
	Limit           int64 `yaml:"limit"`
	DurationSeconds int64 `yaml:"duration_seconds"`
}

// Backfill configures the backfill coordinator and its shared key-value
// store connection.
type Backfill struct {
	KVURL             string `yaml:"kv_url"`
	HeartbeatTimeoutS int64  `yaml:"heartbeat_timeout_s"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyRateLimitDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyRateLimitDefaults fills in the §6.4 reference rate-limit regime for
// any window left unconfigured, so an omitted or partial rate_limit section
// still yields a usable limiter rather than one with a zero limit (which
// would deny every request forever).
func applyRateLimitDefaults(cfg *Config) {
	if cfg.RateLimit.AccountID == "" {
		cfg.RateLimit.AccountID = ratelimit.DefaultAccountID
	}

	defaults := make(map[string]ratelimit.Window, 3)
	for _, w := range ratelimit.DefaultWindows() {
		defaults[w.Name] = w
	}

	for name, wc := range map[string]*WindowConfig{
		"long":      &cfg.RateLimit.Long,
		"contract":  &cfg.RateLimit.Contract,
		"duplicate": &cfg.RateLimit.Duplicate,
	} {
		if wc.Limit == 0 && wc.DurationSeconds == 0 {
			d := defaults[name]
			wc.Limit = d.Limit
			wc.DurationSeconds = int64(d.Duration.Seconds())
		}
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("KV_URL"); v != "" {
		cfg.Backfill.KVURL = v
	}
	if v := os.Getenv("HEARTBEAT_TIMEOUT_S"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Backfill.HeartbeatTimeoutS = n
		}
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
