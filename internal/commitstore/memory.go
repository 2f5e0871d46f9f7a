package commitstore

import (
	"context"
	"sync"

	"github.com/Alexovate/document-verifier/internal/ledger"
)

// MemoryStore is an in-memory, thread-safe Store. Nothing survives a
// restart, so it suits tests and throwaway development servers only.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[ledger.AccountID]int
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{index: make(map[ledger.AccountID]int)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[rec.AccountID]; ok {
		return ErrDuplicateKey
	}
	s.index[rec.AccountID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id ledger.AccountID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.records[i], nil
}

// Reload implements Store. Memory has no backing store to re-read.
func (s *MemoryStore) Reload(_ context.Context) error { return nil }

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
