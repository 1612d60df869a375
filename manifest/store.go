package manifest

import (
	"context"
	"fmt"
	"sync"
)

// Store persists Params records, one per tensor key.
type Store interface {
	// Put commits a record with first-writer-wins semantics. Re-committing an
	// identical record is a no-op; committing a different record for an
	// existing key returns ErrConcurrentModification.
	Put(ctx context.Context, p Params) error

	// Get returns the committed record for a tensor key.
	Get(ctx context.Context, key string) (Params, error)

	// List returns all committed records.
	List(ctx context.Context) ([]Params, error)
}

// MemoryStore is an in-process Store for single-binary setups and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Params
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory manifest store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Params)}
}

func (m *MemoryStore) Put(_ context.Context, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[p.Key]; ok {
		if existing == p {
			return nil
		}
		return fmt.Errorf("key %q: %w", p.Key, ErrConcurrentModification)
	}
	m.records[p.Key] = p
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Params, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.records[key]
	if !ok {
		return Params{}, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Params, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Params, 0, len(m.records))
	for _, p := range m.records {
		out = append(out, p)
	}
	return out, nil
}
