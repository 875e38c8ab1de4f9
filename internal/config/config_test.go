package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
device:
  id: spot-lobby
remote_control:
  server_url: wss://rcs.example.com/ws
  fixed_code_segment: ab
backend:
  enabled: true
  pairing_service_url: https://pair.example.com/api
store:
  driver: postgres
  postgres:
    host: localhost
    port: 5432
    name: spot
    user: spot
    password: spotpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.ID != "spot-lobby" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "spot-lobby")
	}
	if cfg.RemoteControl.ServerURL != "wss://rcs.example.com/ws" {
		t.Errorf("RemoteControl.ServerURL = %q, want %q", cfg.RemoteControl.ServerURL, "wss://rcs.example.com/ws")
	}
	if cfg.RemoteControl.FixedCodeSegment != "ab" {
		t.Errorf("RemoteControl.FixedCodeSegment = %q, want %q", cfg.RemoteControl.FixedCodeSegment, "ab")
	}
	if !cfg.Backend.Enabled {
		t.Error("Backend.Enabled = false, want true")
	}
	if cfg.Store.Postgres.Host != "localhost" {
		t.Errorf("Store.Postgres.Host = %q, want %q", cfg.Store.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_PG_PASSWORD", "secret123")

	yaml := `
store:
  driver: postgres
  postgres:
    host: localhost
    name: spot
    user: spot
    password: ${TEST_PG_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Postgres.Password != "secret123" {
		t.Errorf("Store.Postgres.Password = %q, want %q", cfg.Store.Postgres.Password, "secret123")
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("SPOT_DEVICE_ID", "from-env")
	t.Setenv("SPOT_STORE_DRIVER", "memory")
	t.Setenv("SPOT_RCS_JOIN_CODE_REFRESH_RATE", "90s")

	yaml := `
device:
  id: from-file
store:
  driver: file
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.ID != "from-env" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "from-env")
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, StoreDriverMemory)
	}
	if cfg.RemoteControl.JoinCodeRefreshRate != 90*time.Second {
		t.Errorf("RemoteControl.JoinCodeRefreshRate = %v, want %v", cfg.RemoteControl.JoinCodeRefreshRate, 90*time.Second)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load succeeded for a missing file")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
device:
  id: spot-lobby
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.RemoteControl.ServerURL != DefaultServerURL {
		t.Errorf("RemoteControl.ServerURL = %q, want %q", cfg.RemoteControl.ServerURL, DefaultServerURL)
	}
	if cfg.RemoteControl.JoinCodeRefreshRate != DefaultJoinCodeRefreshRate {
		t.Errorf("RemoteControl.JoinCodeRefreshRate = %v, want %v", cfg.RemoteControl.JoinCodeRefreshRate, DefaultJoinCodeRefreshRate)
	}
	if cfg.Store.Driver != StoreDriverFile {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, StoreDriverFile)
	}
	if cfg.Store.FilePath != DefaultStoreFilePath {
		t.Errorf("Store.FilePath = %q, want %q", cfg.Store.FilePath, DefaultStoreFilePath)
	}
	if cfg.Reconnect.JitterRetryCount != 3 {
		t.Errorf("Reconnect.JitterRetryCount = %d, want %d", cfg.Reconnect.JitterRetryCount, 3)
	}
	if cfg.Reconnect.JitterMinDelay != 500*time.Millisecond {
		t.Errorf("Reconnect.JitterMinDelay = %v, want %v", cfg.Reconnect.JitterMinDelay, 500*time.Millisecond)
	}
	if cfg.Reconnect.JitterBase != 2 {
		t.Errorf("Reconnect.JitterBase = %v, want %v", cfg.Reconnect.JitterBase, 2)
	}
	if cfg.Reconnect.MaxAttempts != 0 {
		t.Errorf("Reconnect.MaxAttempts = %d, want 0", cfg.Reconnect.MaxAttempts)
	}
	if cfg.PairingCode.MinValidity != time.Hour {
		t.Errorf("PairingCode.MinValidity = %v, want %v", cfg.PairingCode.MinValidity, time.Hour)
	}
	if cfg.Store.Postgres.Port != DefaultDBPort {
		t.Errorf("Store.Postgres.Port = %d, want %d", cfg.Store.Postgres.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Backend.MaxRetries == nil || *cfg.Backend.MaxRetries != DefaultBackendMaxRetries {
		t.Errorf("Backend.MaxRetries = %v, want %d", cfg.Backend.MaxRetries, DefaultBackendMaxRetries)
	}
}

func TestLoadWithDefaults_ZeroMaxRetries(t *testing.T) {
	yaml := `
backend:
  max_retries: 0
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Backend.MaxRetries == nil || *cfg.Backend.MaxRetries != 0 {
		t.Errorf("Backend.MaxRetries = %v, want 0", cfg.Backend.MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	validConfig := func() *Config {
		cfg := &Config{
			Store: StoreConfig{Driver: StoreDriverMemory},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing server url",
			modify:  func(c *Config) { c.RemoteControl.ServerURL = "" },
			wantErr: "remote_control.server_url is required",
		},
		{
			name:    "http server url",
			modify:  func(c *Config) { c.RemoteControl.ServerURL = "http://rcs.example.com" },
			wantErr: `remote_control.server_url must use one of [ws wss], got "http"`,
		},
		{
			name: "backend enabled without url",
			modify: func(c *Config) {
				c.Backend.Enabled = true
			},
			wantErr: "backend.pairing_service_url is required",
		},
		{
			name: "backend disabled ignores url",
			modify: func(c *Config) {
				c.Backend.Enabled = false
				c.Backend.PairingServiceURL = ""
			},
			wantErr: "",
		},
		{
			name:    "unknown store driver",
			modify:  func(c *Config) { c.Store.Driver = "sqlite" },
			wantErr: `store.driver "sqlite" is not one of memory, file, postgres, redis`,
		},
		{
			name:    "file driver without path",
			modify:  func(c *Config) { c.Store.Driver = StoreDriverFile },
			wantErr: "store.file_path is required for the file driver",
		},
		{
			name:    "redis driver without url",
			modify:  func(c *Config) { c.Store.Driver = StoreDriverRedis },
			wantErr: "store.redis.url is required for the redis driver",
		},
		{
			name:    "postgres driver missing host",
			modify:  func(c *Config) { c.Store.Driver = StoreDriverPostgres },
			wantErr: "store.postgres.host is required",
		},
		{
			name: "postgres min_conns exceeds max_conns",
			modify: func(c *Config) {
				c.Store.Driver = StoreDriverPostgres
				c.Store.Postgres = DBConfig{Host: "h", Name: "n", User: "u", Password: "p", MaxConns: 2, MinConns: 5}
			},
			wantErr: "store.postgres.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "jitter base below one",
			modify:  func(c *Config) { c.Reconnect.JitterBase = 0.5 },
			wantErr: "reconnect.jitter_base must be >= 1",
		},
		{
			name:    "negative max attempts",
			modify:  func(c *Config) { c.Reconnect.MaxAttempts = -1 },
			wantErr: "reconnect.max_attempts must be >= 0",
		},
		{
			name:    "negative max retries",
			modify:  func(c *Config) { n := -1; c.Backend.MaxRetries = &n },
			wantErr: "backend.max_retries must be >= 0",
		},
		{
			name:    "zero max retries disables retries",
			modify:  func(c *Config) { n := 0; c.Backend.MaxRetries = &n },
			wantErr: "",
		},
		{
			name:    "negative retry backoff",
			modify:  func(c *Config) { c.Backend.RetryBackoff = -time.Second },
			wantErr: "backend.retry_backoff must be > 0",
		},
		{
			name:    "metrics port out of range",
			modify:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}

			if err == nil {
				t.Errorf("Validate() error = nil, want %q", tt.wantErr)
				return
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
