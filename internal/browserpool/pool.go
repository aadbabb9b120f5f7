// Package browserpool manages a bounded set of reusable headless browser
// processes. Handles are checked out for exclusive use by exactly one
// analysis at a time and returned (or discarded, if found dead) afterwards.
package browserpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/kansa/internal/logging"
)

// Handle is an owned reference to a live browser process. While checked
// out it must not be shared between analyses.
type Handle interface {
	// Context returns the browser-level context used to open tabs.
	Context() context.Context

	// Ping cheaply probes whether the browser process is still alive.
	Ping(ctx context.Context) error

	// Close terminates the browser process.
	Close()
}

// Launcher creates a new browser handle. Injectable so the pool can be
// exercised without a real Chrome binary.
type Launcher func(ctx context.Context) (Handle, error)

// Config controls pool sizing and wait behavior.
type Config struct {
	// MaxSize caps live browser processes, idle and checked-out combined.
	MaxSize int

	// PollInterval is the backoff between idle-handle checks while a
	// caller waits for a slot.
	PollInterval time.Duration

	// PingTimeout bounds the liveness probe on checkout.
	PingTimeout time.Duration
}

// DefaultConfig returns pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:      3,
		PollInterval: 100 * time.Millisecond,
		PingTimeout:  2 * time.Second,
	}
}

// Pool hands out browser handles up to a fixed live-instance cap.
type Pool struct {
	cfg    Config
	launch Launcher
	logger logging.Logger

	mu     sync.Mutex
	idle   []Handle
	live   int
	closed bool
}

// New creates a Pool using the given launcher. A nil launcher defaults to
// ChromeLauncher.
func New(cfg Config, launch Launcher, logger logging.Logger) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultConfig().PingTimeout
	}
	if launch == nil {
		launch = ChromeLauncher
	}
	return &Pool{cfg: cfg, launch: launch, logger: logger}
}

// Acquire returns a live handle, blocking until one is available or ctx
// is done. A dead idle handle is discarded and replaced, never returned.
// Launch failures propagate to the caller.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("browserpool: pool is closed")
		}

		if n := len(p.idle); n > 0 {
			h := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			pingCtx, cancel := context.WithTimeout(ctx, p.cfg.PingTimeout)
			err := h.Ping(pingCtx)
			cancel()
			if err == nil {
				return h, nil
			}
			if p.logger != nil {
				p.logger.Warn("discarding dead browser from pool",
					logging.Field{Key: "error", Value: err.Error()})
			}
			h.Close()
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			continue
		}

		if p.live < p.cfg.MaxSize {
			p.live++
			p.mu.Unlock()

			h, err := p.launch(context.Background())
			if err != nil {
				p.mu.Lock()
				p.live--
				p.mu.Unlock()
				return nil, fmt.Errorf("browserpool: launching browser: %w", err)
			}
			if p.logger != nil {
				p.logger.Info("launched new browser instance",
					logging.Field{Key: "live", Value: p.Live()})
			}
			return h, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("browserpool: waiting for free browser: %w", ctx.Err())
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// Release returns a handle to the idle set, or closes it when the idle
// set is already full or the pool has shut down.
func (p *Pool) Release(h Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if !p.closed && len(p.idle) < p.cfg.MaxSize {
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		return
	}
	p.live--
	p.mu.Unlock()
	h.Close()
}

// Live reports the number of live browser processes, idle and checked out.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Close shuts the pool down and terminates all idle browsers. Checked-out
// handles are closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	p.mu.Unlock()

	for _, h := range idle {
		h.Close()
	}
}
