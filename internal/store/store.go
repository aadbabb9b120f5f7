// Package store is the persistence boundary for completed scan results.
// The core writes one record per completed scan and reads it back only by
// identifier; everything else it needs comes from the cache.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/raysh454/kansa/internal/model"
)

// ErrNotFound is returned when no result exists for the given ID.
var ErrNotFound = errors.New("store: result not found")

// Store persists scan results.
type Store interface {
	// SaveResult writes one result and returns its storage identifier.
	SaveResult(ctx context.Context, result *model.ScanResult) (string, error)

	// GetResult reads a result by identifier.
	GetResult(ctx context.Context, id string) (*model.ScanResult, error)

	Close() error
}

// MemoryStore keeps results in a map; used in tests and for running
// without durable storage.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*model.ScanResult
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]*model.ScanResult)}
}

func (m *MemoryStore) SaveResult(ctx context.Context, result *model.ScanResult) (string, error) {
	id := uuid.New().String()
	cp := *result
	cp.ID = id
	m.mu.Lock()
	m.results[id] = &cp
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) GetResult(ctx context.Context, id string) (*model.ScanResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Len reports the number of stored results.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

func (m *MemoryStore) Close() error { return nil }
