// Package cache memoizes scan results per URL for a short TTL so rapid
// repeat submissions of the same target do not burn a browser slot.
// Keys are the raw URL string: no normalization, so URLs differing only
// by trailing slash or query order are distinct entries.
package cache

import (
	"sync"
	"time"

	"github.com/raysh454/kansa/internal/model"
)

// Config controls cache behavior.
type Config struct {
	// TTL is the entry lifetime measured from write time. Lookups do not
	// refresh it.
	TTL time.Duration
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute}
}

type entry struct {
	result   *model.ScanResult
	cachedAt time.Time
}

// Cache is a TTL map of scan results, safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
}

// New creates a Cache.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Cache{
		ttl:     cfg.TTL,
		entries: make(map[string]entry),
	}
}

// Get returns the cached result for url, or false when absent or expired.
// Expired entries are left for the next Put to sweep.
func (c *Cache) Get(url string) (*model.ScanResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	if !ok || time.Since(e.cachedAt) > c.ttl {
		return nil, false
	}
	return e.result, true
}

// Put stores (or overwrites) the result for url and lazily purges any
// expired entries.
func (c *Cache) Put(url string, result *model.ScanResult) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[url] = entry{result: result, cachedAt: now}
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
