// Package config loads offline-cache settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by ParseEnv.
const EnvPrefix = "OFFLINE_CACHE_"

// Static asset strategies selectable in configuration.
const (
	StrategyCacheFirst           = "cache-first"
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
)

// Store drivers selectable in configuration.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the complete offline-cache configuration.
type Config struct {
	AppName        string        `yaml:"app_name" env:"APP_NAME"`
	Version        string        `yaml:"version" env:"VERSION"`
	Origin         string        `yaml:"origin" env:"ORIGIN"`
	Listen         string        `yaml:"listen" env:"LISTEN"`
	Manifest       []string      `yaml:"manifest" env:"MANIFEST"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	APIPrefix      string        `yaml:"api_prefix" env:"API_PREFIX"`
	StaticStrategy string        `yaml:"static_strategy" env:"STATIC_STRATEGY"`
	OfflinePage    string        `yaml:"offline_page" env:"OFFLINE_PAGE"`
	NetworkTimeout time.Duration `yaml:"network_timeout" env:"NETWORK_TIMEOUT"`
	MaxEntrySize   string        `yaml:"max_entry_size" env:"MAX_ENTRY_SIZE"`
	SkipWaiting    bool          `yaml:"skip_waiting" env:"SKIP_WAITING"`
	Verbose        bool          `yaml:"verbose" env:"VERBOSE"`

	Store        StoreConfig        `yaml:"store" envPrefix:"STORE_"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Sync         SyncConfig         `yaml:"sync" envPrefix:"SYNC_"`
	Connectivity ConnectivityConfig `yaml:"connectivity" envPrefix:"CONNECTIVITY_"`
}

// StoreConfig selects the cache backend.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// SyncConfig bounds the background sync queue.
type SyncConfig struct {
	Capacity   int           `yaml:"capacity" env:"CAPACITY"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// ConnectivityConfig controls the origin reachability probe.
type ConnectivityConfig struct {
	ProbePath string        `yaml:"probe_path" env:"PROBE_PATH"`
	Interval  time.Duration `yaml:"interval" env:"INTERVAL"`
}

// TelemetryConfig points tracing at an OTLP/HTTP collector.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

// Default returns the configuration used when a field is not set anywhere.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		APIPrefix:      "/api/",
		StaticStrategy: StrategyCacheFirst,
		OfflinePage:    "/",
		NetworkTimeout: NetworkTimeout,
		MaxEntrySize:   "10MB",
		SkipWaiting:    true,
		Store: StoreConfig{
			Driver: DriverMemory,
			Path:   "offline-cache.db",
		},
		Sync: SyncConfig{
			Capacity:   200,
			MaxRetries: 5,
			RetryDelay: time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbePath: "/",
			Interval:  15 * time.Second,
		},
	}
}

// Load reads the YAML file at path (if any) over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file as YAML: %w", err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseEnv loads configuration overrides from environment variables.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that the configuration can drive a cache.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return fmt.Errorf("app_name is required")
	}
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	switch c.StaticStrategy {
	case StrategyCacheFirst, StrategyStaleWhileRevalidate:
	default:
		return fmt.Errorf("unknown static_strategy %q", c.StaticStrategy)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := c.MaxEntryBytes(); err != nil {
		return err
	}
	if c.NetworkTimeout <= 0 {
		return fmt.Errorf("network_timeout must be positive")
	}
	if c.Sync.Capacity <= 0 {
		return fmt.Errorf("sync.capacity must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	return nil
}

// OriginURL parses the origin the proxy forwards to.
func (c *Config) OriginURL() (*url.URL, error) {
	if strings.TrimSpace(c.Origin) == "" {
		return nil, fmt.Errorf("origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin must be an http or https URL, got %q", c.Origin)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin %q has no host", c.Origin)
	}
	return u, nil
}

// MaxEntryBytes parses MaxEntrySize ("10MB", "512 KiB", "1048576").
func (c *Config) MaxEntryBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxEntrySize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_entry_size %q: %w", c.MaxEntrySize, err)
	}
	return int64(n), nil
}
