// Package queue schedules scan jobs under a fixed concurrency limit.
// Jobs move Queued -> Active -> Completed|Failed, transitions are driven
// only by the scheduler, and terminal history is bounded. Two backends
// exist behind one interface: a purely in-memory scheduler and a durable
// sqlite-backed one, chosen at startup by configuration.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/kansa/internal/events"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
)

// State is a job's lifecycle phase. Transitions are monotonic; Completed
// and Failed are terminal.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ScanRequest is an admitted scan submission. Immutable once enqueued.
type ScanRequest struct {
	URL         string    `json:"url"`
	RequesterID string    `json:"requester_id,omitempty"`
	Priority    int       `json:"priority"`
	TimeoutMs   int64     `json:"timeout_ms"`
	SkipCache   bool      `json:"skip_cache,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Timeout returns the per-job analysis deadline.
func (r ScanRequest) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Job is one scheduled scan, owned exclusively by the queue.
type Job struct {
	ID            string            `json:"id"`
	Request       ScanRequest       `json:"request"`
	State         State             `json:"state"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	Result        *model.ScanResult `json:"result,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// Metrics is the queue depth snapshot. Completed and Failed are
// cumulative counters; they survive history eviction.
type Metrics struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Executor runs one admitted scan request to produce a result. An
// analysis-level failure must be encoded in the result's telemetry; a
// returned error means infrastructure failure and fails the job.
type Executor func(ctx context.Context, req ScanRequest) (*model.ScanResult, error)

// Backend is the queue capability exposed to the rest of the engine.
type Backend interface {
	// Enqueue registers a request and returns immediately with the
	// Queued job.
	Enqueue(ctx context.Context, req ScanRequest) (*Job, error)

	// Job returns a snapshot of the job with the given ID.
	Job(id string) (*Job, bool)

	// Metrics returns the current queue depth.
	Metrics() Metrics

	Close()
}

// Config controls scheduling and backend selection.
type Config struct {
	// Backend selects the implementation by registered name.
	Backend string `yaml:"backend"`

	// Workers caps concurrently Active jobs.
	Workers int `yaml:"workers"`

	// GraceMs pads the outer job race beyond the per-job analysis
	// timeout, so a misbehaving inner timeout cannot pin a worker.
	GraceMs int64 `yaml:"grace_ms"`

	// DefaultTimeoutMs applies when a request carries no timeout.
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`

	// HistoryCompleted / HistoryFailed bound retained terminal jobs.
	HistoryCompleted int `yaml:"history_completed"`
	HistoryFailed    int `yaml:"history_failed"`

	// StoragePath is the sqlite backend's database path.
	StoragePath string `yaml:"storage_path"`
}

// DefaultConfig returns queue defaults.
func DefaultConfig() Config {
	return Config{
		Backend:          "memory",
		Workers:          3,
		GraceMs:          5000,
		DefaultTimeoutMs: 30000,
		HistoryCompleted: 50,
		HistoryFailed:    20,
		StoragePath:      "scan_queue.db",
	}
}

func (c Config) grace() time.Duration {
	return time.Duration(c.GraceMs) * time.Millisecond
}

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: backend is closed")

// BackendConstructor builds a Backend from config and its collaborators.
type BackendConstructor func(cfg Config, exec Executor, bus *events.Bus, logger logging.Logger) (Backend, error)

var (
	regMu    sync.RWMutex
	registry = map[string]BackendConstructor{}
)

// RegisterBackend registers a named backend constructor. Name is
// lower-cased internally; re-registering a name overwrites it.
func RegisterBackend(name string, ctor BackendConstructor) {
	if name == "" || ctor == nil {
		return
	}
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// NewBackend constructs the configured backend. It returns an error when
// the named backend has not been registered.
func NewBackend(cfg Config, exec Executor, bus *events.Bus, logger logging.Logger) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = "memory"
	}

	regMu.RLock()
	ctor, ok := registry[name]
	regMu.RUnlock()
	if !ok || ctor == nil {
		return nil, fmt.Errorf("queue backend %q not registered: available backends=%v", name, ListBackends())
	}

	b, err := ctor(cfg, exec, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to construct queue backend %q: %w", name, err)
	}
	if b == nil {
		return nil, errors.New("queue backend constructor returned nil")
	}
	return b, nil
}

// ListBackends returns the registered backend names.
func ListBackends() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}
