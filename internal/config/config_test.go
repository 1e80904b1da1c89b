package config

import (
	"os"
	"testing"
)

func TestLoadFullyPopulated(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/ticksync/data"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
logging:
  level: "info"
  format: "json"
rate_limit:
  account_id: "acct-1"
  long_window:
    limit: 60
    duration_seconds: 600
  contract_window:
    limit: 6
    duration_seconds: 2
  duplicate_window:
    limit: 1
    duration_seconds: 15
backfill:
  kv_url: "redis://localhost:6379/0"
  heartbeat_timeout_s: 300
`)

	tmpFile, err := os.CreateTemp("", "ticksync-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	os.Unsetenv("ALPACA_API_KEY")
	os.Unsetenv("ALPACA_API_SECRET")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("KV_URL")
	os.Unsetenv("HEARTBEAT_TIMEOUT_S")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/ticksync/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/ticksync/data")
	}

	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "test-secret")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	if cfg.RateLimit.AccountID != "acct-1" {
		t.Errorf("RateLimit.AccountID = %q, want %q", cfg.RateLimit.AccountID, "acct-1")
	}
	if cfg.RateLimit.Long.Limit != 60 || cfg.RateLimit.Long.DurationSeconds != 600 {
		t.Errorf("RateLimit.Long = %+v, want {60, 600}", cfg.RateLimit.Long)
	}
	if cfg.RateLimit.Contract.Limit != 6 || cfg.RateLimit.Contract.DurationSeconds != 2 {
		t.Errorf("RateLimit.Contract = %+v, want {6, 2}", cfg.RateLimit.Contract)
	}
	if cfg.RateLimit.Duplicate.Limit != 1 || cfg.RateLimit.Duplicate.DurationSeconds != 15 {
		t.Errorf("RateLimit.Duplicate = %+v, want {1, 15}", cfg.RateLimit.Duplicate)
	}

	if cfg.Backfill.KVURL != "redis://localhost:6379/0" {
		t.Errorf("Backfill.KVURL = %q, want %q", cfg.Backfill.KVURL, "redis://localhost:6379/0")
	}
	if cfg.Backfill.HeartbeatTimeoutS != 300 {
		t.Errorf("Backfill.HeartbeatTimeoutS = %d, want 300", cfg.Backfill.HeartbeatTimeoutS)
	}
}

func TestLoadAppliesRateLimitDefaults(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/ticksync/data"
`)

	tmpFile, err := os.CreateTemp("", "ticksync-config-nolimit-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.RateLimit.AccountID != "U12345" {
		t.Errorf("RateLimit.AccountID = %q, want default %q", cfg.RateLimit.AccountID, "U12345")
	}
	if cfg.RateLimit.Long.Limit != 60 || cfg.RateLimit.Long.DurationSeconds != 600 {
		t.Errorf("RateLimit.Long = %+v, want default {60, 600}", cfg.RateLimit.Long)
	}
	if cfg.RateLimit.Contract.Limit != 6 || cfg.RateLimit.Contract.DurationSeconds != 2 {
		t.Errorf("RateLimit.Contract = %+v, want default {6, 2}", cfg.RateLimit.Contract)
	}
	if cfg.RateLimit.Duplicate.Limit != 1 || cfg.RateLimit.Duplicate.DurationSeconds != 15 {
		t.Errorf("RateLimit.Duplicate = %+v, want default {1, 15}", cfg.RateLimit.Duplicate)
	}
}

func TestLoadPartialRateLimitKeepsConfiguredWindow(t *testing.T) {
	yamlContent := []byte(`
rate_limit:
  account_id: "U99999"
  contract_window:
    limit: 3
    duration_seconds: 1
`)

	tmpFile, err := os.CreateTemp("", "ticksync-config-partial-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.RateLimit.AccountID != "U99999" {
		t.Errorf("RateLimit.AccountID = %q, want %q (configured value kept)", cfg.RateLimit.AccountID, "U99999")
	}
	if cfg.RateLimit.Contract.Limit != 3 || cfg.RateLimit.Contract.DurationSeconds != 1 {
		t.Errorf("RateLimit.Contract = %+v, want configured {3, 1}", cfg.RateLimit.Contract)
	}
	if cfg.RateLimit.Long.Limit != 60 || cfg.RateLimit.Long.DurationSeconds != 600 {
		t.Errorf("RateLimit.Long = %+v, want default {60, 600} since it was left unconfigured", cfg.RateLimit.Long)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
backfill:
  heartbeat_timeout_s: 120
`)

	tmpFile, err := os.CreateTemp("", "ticksync-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("ALPACA_API_KEY", "env-key")
	os.Setenv("DATA_DIR", "/env/data")
	os.Setenv("HEARTBEAT_TIMEOUT_S", "600")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	defer os.Unsetenv("ALPACA_API_KEY")
	defer os.Unsetenv("DATA_DIR")
	defer os.Unsetenv("HEARTBEAT_TIMEOUT_S")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Backfill.HeartbeatTimeoutS != 600 {
		t.Errorf("Backfill.HeartbeatTimeoutS = %d, want 600 (env override)", cfg.Backfill.HeartbeatTimeoutS)
	}
}
