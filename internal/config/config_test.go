package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raysh454/kansa/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	c := config.Default()

	if c.Listen != ":8080" {
		t.Errorf("listen = %q", c.Listen)
	}
	if c.Queue.Workers != 3 {
		t.Errorf("workers = %d, want 3", c.Queue.Workers)
	}
	if got := c.CacheConfig().TTL; got != 5*time.Minute {
		t.Errorf("cache ttl = %s", got)
	}
	if got := c.PoolConfig().MaxSize; got != 3 {
		t.Errorf("pool max = %d", got)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kansa.yaml")
	raw := `
listen: ":9090"
pool:
  max_browsers: 5
queue:
  backend: memory
  workers: 7
cache:
  ttl_ms: 60000
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Listen != ":9090" {
		t.Errorf("listen = %q", c.Listen)
	}
	if c.Pool.MaxBrowsers != 5 {
		t.Errorf("max browsers = %d", c.Pool.MaxBrowsers)
	}
	if c.Queue.Backend != "memory" || c.Queue.Workers != 7 {
		t.Errorf("queue = %+v", c.Queue)
	}
	if got := c.CacheConfig().TTL; got != time.Minute {
		t.Errorf("cache ttl = %s", got)
	}
	// Untouched sections keep their defaults.
	if c.Analyzer.SettleDelayMs != 200 {
		t.Errorf("settle delay = %d", c.Analyzer.SettleDelayMs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Listen != config.Default().Listen {
		t.Errorf("listen = %q", c.Listen)
	}
}
