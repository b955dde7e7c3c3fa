package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/config"
)

func validConfig() string {
	return `
server:
  port: 9090
counter:
  mode: memory
storage:
  driver: memory
ingest:
  batch_size: 500
logging:
  level: debug
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evntfy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", got.Server.Port)
	}
	if got.Ingest.BatchSize != 500 {
		t.Errorf("ingest.batch_size = %d, want 500", got.Ingest.BatchSize)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	defer h.Stop()

	if err := os.WriteFile(path, []byte(`
counter:
  mode: memory
storage:
  driver: memory
ingest:
  batch_size: 2500
`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := h.Get().Ingest.BatchSize; got != 2500 {
		t.Errorf("ingest.batch_size after reload = %d, want 2500", got)
	}
}

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	defer h.Stop()

	if err := os.WriteFile(path, []byte(`storage: {driver: cassandra}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Fatal("Reload succeeded with invalid config")
	}
	if got := h.Get().Storage.Driver; got != "memory" {
		t.Errorf("storage.driver = %q, want old value memory", got)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var notified *config.Config
	h.OnChange(func(c *config.Config) {
		mu.Lock()
		notified = c
		mu.Unlock()
	})

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if notified == nil {
		t.Fatal("OnChange callback not invoked")
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	defer h.Stop()

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	if err := os.WriteFile(path, []byte(`
counter:
  mode: memory
storage:
  driver: memory
server:
  port: 7070
`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.Get().Server.Port == 7070 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("file change did not trigger reload")
}
