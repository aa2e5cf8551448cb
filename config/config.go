// Package config loads the registryd configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "5m". Bare integers are treated as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// A bare YAML integer also decodes cleanly into a string, so the int
	// form has to be picked off by tag first.
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("invalid duration value %q: %w", value.Value, err)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for registryd. All
// configuration is loaded from YAML and can be overridden by environment
// variables following the pattern REGISTRYKIT_SECTION_KEY.
type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Sync      SyncConfig      `yaml:"sync"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RegistryConfig contains component registry settings.
type RegistryConfig struct {
	// CacheSize is the LRU read-cache capacity. 0 disables the cache.
	CacheSize int `yaml:"cache_size"`

	// MaxVersions bounds each component's version history.
	MaxVersions int `yaml:"max_versions"`

	// EventBuffer is the per-subscriber event channel capacity.
	EventBuffer int `yaml:"event_buffer"`
}

// LifecycleConfig contains state machine and recovery settings.
type LifecycleConfig struct {
	AutoRecovery        bool     `yaml:"auto_recovery"`
	RecoveryDelay       Duration `yaml:"recovery_delay"`
	MaxRecoveryAttempts int      `yaml:"max_recovery_attempts"`
	ErrorLogLimit       int      `yaml:"error_log_limit"`
	ErrorRetention      Duration `yaml:"error_retention"`
	CleanupInterval     Duration `yaml:"cleanup_interval"`
	OperationTimeout    Duration `yaml:"operation_timeout"`
}

// SyncConfig contains synchronization settings.
type SyncConfig struct {
	// Policy is the conflict resolution policy: auto, last-writer-wins or
	// manual.
	Policy string `yaml:"policy"`

	ConcurrencyCeiling int      `yaml:"concurrency_ceiling"`
	QueueLimit         int      `yaml:"queue_limit"`
	HistoryLimit       int      `yaml:"history_limit"`
	OperationTimeout   Duration `yaml:"operation_timeout"`
	ManualRetention    Duration `yaml:"manual_retention"`
	GCInterval         Duration `yaml:"gc_interval"`
}

// DatabaseConfig contains SQLite backup store settings.
type DatabaseConfig struct {
	// Path to the SQLite database file. Empty disables persistence.
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	AddSource   bool   `yaml:"add_source"`
	Environment string `yaml:"environment"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides. Loading order: defaults, then file values, then environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			CacheSize:   128,
			MaxVersions: 10,
			EventBuffer: 64,
		},
		Lifecycle: LifecycleConfig{
			AutoRecovery:        true,
			RecoveryDelay:       Duration(5 * time.Second),
			MaxRecoveryAttempts: 3,
			ErrorLogLimit:       50,
			ErrorRetention:      Duration(24 * time.Hour),
			CleanupInterval:     Duration(10 * time.Minute),
		},
		Sync: SyncConfig{
			Policy:             "auto",
			ConcurrencyCeiling: 3,
			QueueLimit:         32,
			HistoryLimit:       100,
			OperationTimeout:   Duration(2 * time.Minute),
			ManualRetention:    Duration(24 * time.Hour),
			GCInterval:         Duration(10 * time.Minute),
		},
		Database: DatabaseConfig{
			Path:        "./data/registry.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "registrykit",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
	}
}

// applyEnvOverrides applies environment variable overrides following the
// pattern REGISTRYKIT_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REGISTRYKIT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("REGISTRYKIT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("REGISTRYKIT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("REGISTRYKIT_SYNC_POLICY"); v != "" {
		cfg.Sync.Policy = v
	}
	if v := os.Getenv("REGISTRYKIT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REGISTRYKIT_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Registry.MaxVersions < 1 {
		errs = append(errs, "registry.max_versions must be at least 1")
	}
	if c.Registry.CacheSize < 0 {
		errs = append(errs, "registry.cache_size must not be negative")
	}

	switch c.Sync.Policy {
	case "auto", "last-writer-wins", "manual":
	default:
		errs = append(errs, "sync.policy must be auto, last-writer-wins or manual")
	}
	if c.Sync.ConcurrencyCeiling < 1 {
		errs = append(errs, "sync.concurrency_ceiling must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ListenAddr returns the HTTP API listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
