// Package config provides configuration loading, validation and hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Counter    CounterConfig    `yaml:"counter"`
	Storage    StorageConfig    `yaml:"storage"`
	Ingest     BatchConfig      `yaml:"ingest"`
	Fanout     BatchConfig      `yaml:"fanout"`
	Queues     QueueConfig      `yaml:"queues"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Usage      UsageConfig      `yaml:"usage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CounterConfig configures the fast usage counter store.
// Use "redis" in production; "memory" is single-process only.
type CounterConfig struct {
	Mode     string `yaml:"mode"` // "redis" or "memory"
	RedisURL string `yaml:"redis_url"`
}

// StorageConfig configures the durable event and key stores.
type StorageConfig struct {
	Driver   string `yaml:"driver"` // "mongo", "sqlite" or "memory"
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`
	SQLite   string `yaml:"sqlite_path"`
}

// BatchConfig configures one batching stage.
type BatchConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// QueueConfig configures the in-process job queues.
type QueueConfig struct {
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Capacity    int           `yaml:"capacity"`
}

// MetricsConfig configures the in-memory dashboard aggregation.
type MetricsConfig struct {
	WindowMinutes       int           `yaml:"window_minutes"`
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
	SnapshotInterval    time.Duration `yaml:"snapshot_interval"`
	LiveRingSize        int           `yaml:"live_ring_size"`
}

// UsageConfig configures durable mirroring of the fast counters.
type UsageConfig struct {
	SyncEvery int64 `yaml:"sync_every"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// PrometheusConfig configures the Prometheus endpoint.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	EVNTFY_SERVER_HOST        - Server host (default: 0.0.0.0)
//	EVNTFY_SERVER_PORT        - Server port (default: 8080)
//	EVNTFY_COUNTER_MODE       - Counter store: redis or memory (default: memory)
//	EVNTFY_REDIS_URL          - Redis URL (required when counter mode is redis)
//	EVNTFY_STORAGE_DRIVER     - Durable store: mongo, sqlite or memory (default: sqlite)
//	EVNTFY_MONGO_URI          - MongoDB URI (required when driver is mongo)
//	EVNTFY_SQLITE_PATH        - SQLite path (default: evntfy.db)
//	EVNTFY_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	EVNTFY_LOG_FORMAT         - Log format: json or console (default: json)
//	EVNTFY_PROMETHEUS_ENABLED - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	cfg.Prometheus.Enabled = true

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies EVNTFY_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EVNTFY_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("EVNTFY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("EVNTFY_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("EVNTFY_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("EVNTFY_COUNTER_MODE"); v != "" {
		cfg.Counter.Mode = v
	}
	if v := os.Getenv("EVNTFY_REDIS_URL"); v != "" {
		cfg.Counter.RedisURL = v
	}

	if v := os.Getenv("EVNTFY_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("EVNTFY_MONGO_URI"); v != "" {
		cfg.Storage.MongoURI = v
	}
	if v := os.Getenv("EVNTFY_MONGO_DB"); v != "" {
		cfg.Storage.MongoDB = v
	}
	if v := os.Getenv("EVNTFY_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite = v
	}

	if v := os.Getenv("EVNTFY_INGEST_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.BatchSize = n
		}
	}
	if v := os.Getenv("EVNTFY_INGEST_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.FlushInterval = d
		}
	}
	if v := os.Getenv("EVNTFY_FANOUT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fanout.BatchSize = n
		}
	}
	if v := os.Getenv("EVNTFY_FANOUT_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fanout.FlushInterval = d
		}
	}

	if v := os.Getenv("EVNTFY_USAGE_SYNC_EVERY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Usage.SyncEvery = n
		}
	}

	if v := os.Getenv("EVNTFY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EVNTFY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("EVNTFY_PROMETHEUS_ENABLED"); v != "" {
		cfg.Prometheus.Enabled = parseBool(v)
	}
	if v := os.Getenv("EVNTFY_PROMETHEUS_PATH"); v != "" {
		cfg.Prometheus.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Counter.Mode == "" {
		cfg.Counter.Mode = "memory"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLite == "" {
		cfg.Storage.SQLite = "evntfy.db"
	}
	if cfg.Storage.MongoDB == "" {
		cfg.Storage.MongoDB = "evntfy"
	}

	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 10000
	}
	if cfg.Ingest.FlushInterval == 0 {
		cfg.Ingest.FlushInterval = 500 * time.Millisecond
	}
	if cfg.Fanout.BatchSize == 0 {
		cfg.Fanout.BatchSize = 5000
	}
	if cfg.Fanout.FlushInterval == 0 {
		cfg.Fanout.FlushInterval = 500 * time.Millisecond
	}

	if cfg.Queues.Workers == 0 {
		cfg.Queues.Workers = 4
	}
	if cfg.Queues.MaxAttempts == 0 {
		cfg.Queues.MaxAttempts = 5
	}
	if cfg.Queues.Backoff == 0 {
		cfg.Queues.Backoff = 100 * time.Millisecond
	}
	if cfg.Queues.Capacity == 0 {
		cfg.Queues.Capacity = 1024
	}

	if cfg.Metrics.WindowMinutes == 0 {
		cfg.Metrics.WindowMinutes = 5
	}
	if cfg.Metrics.InactivityThreshold == 0 {
		cfg.Metrics.InactivityThreshold = 2 * time.Minute
	}
	if cfg.Metrics.SnapshotInterval == 0 {
		cfg.Metrics.SnapshotInterval = 10 * time.Second
	}
	if cfg.Metrics.LiveRingSize == 0 {
		cfg.Metrics.LiveRingSize = 50
	}

	if cfg.Usage.SyncEvery == 0 {
		cfg.Usage.SyncEvery = 1000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Prometheus.Path == "" {
		cfg.Prometheus.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validCounterModes := map[string]bool{"redis": true, "memory": true}
	if !validCounterModes[cfg.Counter.Mode] {
		return fmt.Errorf("counter.mode must be 'redis' or 'memory', got %q", cfg.Counter.Mode)
	}
	if cfg.Counter.Mode == "redis" && cfg.Counter.RedisURL == "" {
		return fmt.Errorf("counter.redis_url is required when counter.mode is 'redis'")
	}

	validDrivers := map[string]bool{"mongo": true, "sqlite": true, "memory": true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be 'mongo', 'sqlite' or 'memory', got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "mongo" && cfg.Storage.MongoURI == "" {
		return fmt.Errorf("storage.mongo_uri is required when storage.driver is 'mongo'")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Metrics.WindowMinutes < 1 || cfg.Metrics.WindowMinutes > 60 {
		return fmt.Errorf("metrics.window_minutes must be between 1 and 60")
	}

	return nil
}
