// internal/store/memory.go
//
// In-memory implementation of the Store interface.
//
// Characteristics:
//   - Records are copied on the way in and out; callers never share memory
//     with the map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - State is lost when the process restarts.

package store

import (
	"context"
	"sync"
	"time"
)

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu      sync.RWMutex
	records map[Key]*Record
	now     func() time.Time
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{records: make(map[Key]*Record), now: time.Now}
}

func (m *memory) Create(ctx context.Context, rec *Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Key]; ok {
		return false, nil
	}
	c := rec.Clone()
	c.UpdatedAt = m.now().UTC()
	m.records[rec.Key] = c
	return true, nil
}

func (m *memory) Get(ctx context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[key]; ok {
		return r.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *memory) GetByAddress(ctx context.Context, addr string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.Address == addr {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) Update(ctx context.Context, key Key, fn func(*Record) error) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Key = key
	next.UpdatedAt = m.now().UTC()
	m.records[key] = next
	return next.Clone(), nil
}

func (m *memory) Put(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := rec.Clone()
	c.UpdatedAt = m.now().UTC()
	m.records[rec.Key] = c
	return nil
}

func (m *memory) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}
