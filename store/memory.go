package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Load returns a cloned record.
func (s *MemoryStore) Load(_ context.Context, id string) (*Record, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

// SaveIfVersion performs compare-and-set persistence.
func (s *MemoryStore) SaveIfVersion(_ context.Context, rec *Record, expectedVersion int) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory store not configured")
	}
	next, err := normalizeRecord(rec)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]*Record)
	}
	version, err := applyVersion(next, s.records[next.InstanceID], expectedVersion)
	if err != nil {
		return 0, err
	}
	s.records[next.InstanceID] = next
	return version, nil
}

// List returns every record ordered by instance id.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}
