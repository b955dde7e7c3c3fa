package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/evntfy/evntfy/config"
)

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
counter:
  mode: memory
storage:
  driver: memory
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Ingest.BatchSize != 10000 {
		t.Errorf("ingest.batch_size = %d, want 10000", cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.FlushInterval != 500*time.Millisecond {
		t.Errorf("ingest.flush_interval = %v, want 500ms", cfg.Ingest.FlushInterval)
	}
	if cfg.Fanout.BatchSize != 5000 {
		t.Errorf("fanout.batch_size = %d, want 5000", cfg.Fanout.BatchSize)
	}
	if cfg.Metrics.WindowMinutes != 5 {
		t.Errorf("metrics.window_minutes = %d, want 5", cfg.Metrics.WindowMinutes)
	}
	if cfg.Metrics.SnapshotInterval != 10*time.Second {
		t.Errorf("metrics.snapshot_interval = %v, want 10s", cfg.Metrics.SnapshotInterval)
	}
	if cfg.Usage.SyncEvery != 1000 {
		t.Errorf("usage.sync_every = %d, want 1000", cfg.Usage.SyncEvery)
	}
	if cfg.Prometheus.Path != "/metrics" {
		t.Errorf("prometheus.path = %q, want /metrics", cfg.Prometheus.Path)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9999
counter:
  mode: redis
  redis_url: redis://localhost:6379/0
storage:
  driver: mongo
  mongo_uri: mongodb://localhost:27017
  mongo_db: analytics
ingest:
  batch_size: 2000
  flush_interval: 250ms
metrics:
  window_minutes: 10
  inactivity_threshold: 5m
usage:
  sync_every: 500
logging:
  level: warn
  format: console
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Counter.Mode != "redis" || cfg.Counter.RedisURL == "" {
		t.Errorf("counter = %+v", cfg.Counter)
	}
	if cfg.Storage.Driver != "mongo" || cfg.Storage.MongoDB != "analytics" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Ingest.FlushInterval != 250*time.Millisecond {
		t.Errorf("ingest.flush_interval = %v", cfg.Ingest.FlushInterval)
	}
	if cfg.Metrics.InactivityThreshold != 5*time.Minute {
		t.Errorf("metrics.inactivity_threshold = %v", cfg.Metrics.InactivityThreshold)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EVNTFY_SERVER_PORT", "4444")
	t.Setenv("EVNTFY_LOG_LEVEL", "error")
	t.Setenv("EVNTFY_INGEST_BATCH_SIZE", "777")

	path := writeConfig(t, `
counter:
  mode: memory
storage:
  driver: memory
server:
  port: 9090
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 4444 {
		t.Errorf("server.port = %d, want env override 4444", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("logging.level = %q, want error", cfg.Logging.Level)
	}
	if cfg.Ingest.BatchSize != 777 {
		t.Errorf("ingest.batch_size = %d, want 777", cfg.Ingest.BatchSize)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad driver",
			content: "storage: {driver: cassandra}",
			wantErr: "storage.driver",
		},
		{
			name:    "redis without url",
			content: "counter: {mode: redis}",
			wantErr: "counter.redis_url",
		},
		{
			name:    "mongo without uri",
			content: "storage: {driver: mongo}",
			wantErr: "storage.mongo_uri",
		},
		{
			name:    "bad log level",
			content: "logging: {level: verbose}",
			wantErr: "logging.level",
		},
		{
			name:    "window out of range",
			content: "metrics: {window_minutes: 90}",
			wantErr: "window_minutes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("Load succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVNTFY_COUNTER_MODE", "memory")
	t.Setenv("EVNTFY_STORAGE_DRIVER", "sqlite")
	t.Setenv("EVNTFY_SQLITE_PATH", "/tmp/pipeline.db")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Storage.SQLite != "/tmp/pipeline.db" {
		t.Errorf("storage.sqlite_path = %q", cfg.Storage.SQLite)
	}
	if !cfg.Prometheus.Enabled {
		t.Error("prometheus.enabled = false, want default true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/evntfy.yaml"); err == nil {
		t.Fatal("Load succeeded for missing file")
	}
}
