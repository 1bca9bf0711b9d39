package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offline-cache.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.APIPrefix != "/api/" {
		t.Errorf("Expected default api prefix /api/, got %q", cfg.APIPrefix)
	}
	if cfg.StaticStrategy != StrategyCacheFirst {
		t.Errorf("Expected default static strategy %q, got %q", StrategyCacheFirst, cfg.StaticStrategy)
	}
	if cfg.Sync.Capacity != 200 || cfg.Sync.MaxRetries != 5 {
		t.Errorf("Unexpected sync defaults: %+v", cfg.Sync)
	}
	if !cfg.SkipWaiting {
		t.Error("Expected skip_waiting to default to true")
	}
	if cfg.NetworkTimeout != NetworkTimeout {
		t.Errorf("Expected network timeout %v, got %v", NetworkTimeout, cfg.NetworkTimeout)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
app_name: devops-dashboard
version: 1.2.0
origin: http://localhost:9000
manifest:
  - /
  - /index.html
  - https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css
allowed_origins:
  - https://cdnjs.cloudflare.com
static_strategy: stale-while-revalidate
network_timeout: 3s
max_entry_size: 2MB
skip_waiting: false
store:
  driver: sqlite
  path: /tmp/cache.db
sync:
  capacity: 50
  retry_delay: 250ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}

	if cfg.AppName != "devops-dashboard" || cfg.Version != "1.2.0" {
		t.Errorf("Unexpected identity: %s %s", cfg.AppName, cfg.Version)
	}
	if len(cfg.Manifest) != 3 {
		t.Errorf("Expected 3 manifest entries, got %d", len(cfg.Manifest))
	}
	if cfg.StaticStrategy != StrategyStaleWhileRevalidate {
		t.Errorf("Expected stale-while-revalidate, got %q", cfg.StaticStrategy)
	}
	if cfg.NetworkTimeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %v", cfg.NetworkTimeout)
	}
	if cfg.SkipWaiting {
		t.Error("Expected skip_waiting false from file")
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.Path != "/tmp/cache.db" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if cfg.Sync.Capacity != 50 || cfg.Sync.MaxRetries != 5 || cfg.Sync.RetryDelay != 250*time.Millisecond {
		t.Errorf("Unexpected sync config: %+v", cfg.Sync)
	}

	size, err := cfg.MaxEntryBytes()
	if err != nil {
		t.Fatalf("Expected size to parse, got: %v", err)
	}
	if size != 2_000_000 {
		t.Errorf("Expected 2MB = 2000000 bytes, got %d", size)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
app_name: devops-dashboard
version: 1.0.0
origin: http://localhost:9000
`)
	t.Setenv("OFFLINE_CACHE_VERSION", "2.0.0")
	t.Setenv("OFFLINE_CACHE_STORE_DRIVER", "sqlite")
	t.Setenv("OFFLINE_CACHE_SYNC_MAX_RETRIES", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Version != "2.0.0" {
		t.Errorf("Expected env version 2.0.0, got %q", cfg.Version)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Expected env driver sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.Sync.MaxRetries != 2 {
		t.Errorf("Expected env max retries 2, got %d", cfg.Sync.MaxRetries)
	}
	if cfg.AppName != "devops-dashboard" {
		t.Errorf("Expected file value to survive env parsing, got %q", cfg.AppName)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := writeConfig(t, "app_name: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}

	t.Setenv("OFFLINE_CACHE_SYNC_CAPACITY", "lots")
	_, err := Load("")
	if err == nil {
		t.Fatal("Expected error for invalid env value")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Errorf("Expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.AppName = "devops-dashboard"
		cfg.Version = "1.0.0"
		cfg.Origin = "http://localhost:9000"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing app name", func(c *Config) { c.AppName = "" }, "app_name"},
		{"missing version", func(c *Config) { c.Version = " " }, "version"},
		{"missing origin", func(c *Config) { c.Origin = "" }, "origin is required"},
		{"bad origin scheme", func(c *Config) { c.Origin = "ftp://host" }, "http or https"},
		{"unknown strategy", func(c *Config) { c.StaticStrategy = "network-only" }, "static_strategy"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = DriverSQLite; c.Store.Path = "" }, "store.path"},
		{"bad size", func(c *Config) { c.MaxEntrySize = "huge" }, "max_entry_size"},
		{"zero capacity", func(c *Config) { c.Sync.Capacity = 0 }, "sync.capacity"},
		{"zero timeout", func(c *Config) { c.NetworkTimeout = 0 }, "network_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
