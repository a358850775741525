package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/orderable/products-api/internal/domain"
)

// MemoryStore provides an in-memory DocumentStore useful for testing and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Key]map[string]any
}

var (
	_ DocumentStore = (*MemoryStore)(nil)
	_ Pinger        = (*MemoryStore)(nil)
)

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Key]map[string]any)}
}

// Insert implements DocumentStore.
func (s *MemoryStore) Insert(_ context.Context, key Key, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[key]; exists {
		return fmt.Errorf("%w: %s", ErrConflict, key)
	}
	s.docs[key] = domain.CloneFields(doc)
	return nil
}

// Update implements DocumentStore.
func (s *MemoryStore) Update(_ context.Context, key Key, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[key]; !exists {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, key)
	}
	s.docs[key] = domain.CloneFields(doc)
	return nil
}

// Get implements DocumentStore.
func (s *MemoryStore) Get(_ context.Context, key Key) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, false, nil
	}
	return domain.CloneFields(doc), true, nil
}

// GetMulti implements DocumentStore.
func (s *MemoryStore) GetMulti(_ context.Context, keys []Key) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(keys))
	seen := make(map[Key]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if doc, ok := s.docs[key]; ok {
			out = append(out, Document{Key: key, Data: domain.CloneFields(doc)})
		}
	}
	return out, nil
}

// Delete implements DocumentStore.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return nil
}

// RunQuery implements DocumentStore.
func (s *MemoryStore) RunQuery(_ context.Context, query Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for key, doc := range s.docs {
		if key.Kind != query.Kind {
			continue
		}
		if query.StartAfter != "" && key.ID <= query.StartAfter {
			continue
		}
		if !matchesFilters(doc, query.Filters) {
			continue
		}
		out = append(out, Document{Key: key, Data: domain.CloneFields(doc)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ID < out[j].Key.ID })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// Ping implements Pinger.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func matchesFilters(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}
