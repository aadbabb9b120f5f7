// Package config loads the top-level YAML configuration and hands each
// subsystem its own config struct. Durations are plain millisecond
// integers in the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/kansa/internal/admission"
	"github.com/raysh454/kansa/internal/analyzer"
	"github.com/raysh454/kansa/internal/browserpool"
	"github.com/raysh454/kansa/internal/cache"
	"github.com/raysh454/kansa/internal/queue"
	"github.com/raysh454/kansa/internal/server"
)

type Config struct {
	Listen string `yaml:"listen"`

	RateLimit struct {
		PerSec float64 `yaml:"per_sec"`
		Burst  int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Admission struct {
		DNSTimeoutMs int64 `yaml:"dns_timeout_ms"`
	} `yaml:"admission"`

	Pool struct {
		MaxBrowsers    int   `yaml:"max_browsers"`
		PollIntervalMs int64 `yaml:"poll_interval_ms"`
		PingTimeoutMs  int64 `yaml:"ping_timeout_ms"`
	} `yaml:"pool"`

	Analyzer struct {
		UserAgent     string `yaml:"user_agent"`
		SettleDelayMs int64  `yaml:"settle_delay_ms"`
	} `yaml:"analyzer"`

	Cache struct {
		TTLMs int64 `yaml:"ttl_ms"`
	} `yaml:"cache"`

	Queue queue.Config `yaml:"queue"`

	Storage struct {
		// Backend is "memory" or "sqlite".
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`

	Events struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"events"`
}

// Default returns the full default configuration.
func Default() Config {
	var c Config
	c.Listen = ":8080"
	c.RateLimit.PerSec = 5
	c.RateLimit.Burst = 10
	c.Admission.DNSTimeoutMs = 5000
	c.Pool.MaxBrowsers = 3
	c.Pool.PollIntervalMs = 100
	c.Pool.PingTimeoutMs = 2000
	c.Analyzer.UserAgent = analyzer.DefaultConfig().UserAgent
	c.Analyzer.SettleDelayMs = 200
	c.Cache.TTLMs = (5 * time.Minute).Milliseconds()
	c.Queue = queue.DefaultConfig()
	c.Storage.Backend = "sqlite"
	c.Storage.Path = "scan_results.db"
	c.Events.Buffer = 16
	return c
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}

func (c Config) AdmissionConfig() admission.Config {
	return admission.Config{DNSTimeout: ms(c.Admission.DNSTimeoutMs)}
}

func (c Config) PoolConfig() browserpool.Config {
	return browserpool.Config{
		MaxSize:      c.Pool.MaxBrowsers,
		PollInterval: ms(c.Pool.PollIntervalMs),
		PingTimeout:  ms(c.Pool.PingTimeoutMs),
	}
}

func (c Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		UserAgent:   c.Analyzer.UserAgent,
		SettleDelay: ms(c.Analyzer.SettleDelayMs),
	}
}

func (c Config) CacheConfig() cache.Config {
	return cache.Config{TTL: ms(c.Cache.TTLMs)}
}

func (c Config) ServerConfig() server.Config {
	return server.Config{
		ListenAddr:       c.Listen,
		SubmitRatePerSec: c.RateLimit.PerSec,
		SubmitBurst:      c.RateLimit.Burst,
	}
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
