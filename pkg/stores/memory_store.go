package stores

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/frkl/viva/pkg/engine"
)

// MemoryStore is a collection held entirely in memory. Flush is a no-op.
type MemoryStore[T any] struct {
	id      string
	mu      sync.RWMutex
	entries map[string]T
}

// NewMemoryStore creates a memory store seeded with entries.
func NewMemoryStore[T any](id string, entries map[string]T) *MemoryStore[T] {
	if id == "" {
		id = engine.DefaultCollectionID
	}
	m := make(map[string]T, len(entries))
	maps.Copy(m, entries)
	return &MemoryStore[T]{id: id, entries: m}
}

// ID returns the collection id.
func (s *MemoryStore[T]) ID() string {
	return s.id
}

// ListIDs returns all ids in sorted order.
func (s *MemoryStore[T]) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.entries)), nil
}

// Get returns the spec stored for id.
func (s *MemoryStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.entries[id]
	if !ok {
		var zero T
		return zero, engine.NewNotFoundError(fmt.Sprintf("no spec for '%s' in collection '%s'", id, s.id)).WithID(id)
	}
	return spec, nil
}

// Set stores spec under id.
func (s *MemoryStore[T]) Set(_ context.Context, id string, spec T) error {
	if err := engine.ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = spec
	return nil
}

// Delete removes id.
func (s *MemoryStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Flush does nothing.
func (s *MemoryStore[T]) Flush(_ context.Context) error {
	return nil
}

var _ engine.EnvironmentCollection = (*MemoryStore[engine.EnvironmentSpec])(nil)
