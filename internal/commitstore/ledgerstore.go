package commitstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

// AccountReader reads the data region of a ledger account. *ledger.Gateway
// satisfies it.
type AccountReader interface {
	AccountData(ctx context.Context, id ledger.AccountID) ([]byte, error)
}

// LedgerStore reads commitments straight from the ledger: each anchored
// account carries its own digest in its data region. There is no separate
// index to fall out of sync with the ledger.
type LedgerStore struct {
	reader AccountReader
	logger *zap.Logger

	mu      sync.RWMutex
	journal []Record
	seen    map[ledger.AccountID]struct{}
}

// NewLedgerStore creates a LedgerStore over reader.
func NewLedgerStore(reader AccountReader, logger *zap.Logger) *LedgerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerStore{
		reader: reader,
		logger: logger,
		seen:   make(map[ledger.AccountID]struct{}),
	}
}

// EmbedsPayload implements PayloadStore.
func (s *LedgerStore) EmbedsPayload() bool { return true }

// Put implements Store. The digest must already be in the account data;
// Put confirms it is and journals the record.
func (s *LedgerStore) Put(ctx context.Context, rec Record) error {
	s.mu.RLock()
	_, dup := s.seen[rec.AccountID]
	s.mu.RUnlock()
	if dup {
		return ErrDuplicateKey
	}

	got, err := s.Get(ctx, rec.AccountID)
	if err != nil {
		return fmt.Errorf("read back %s: %w", rec.AccountID, err)
	}
	if got.Digest != rec.Digest {
		return fmt.Errorf("account %s holds digest %s, expected %s", rec.AccountID, got.Digest, rec.Digest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[rec.AccountID]; ok {
		return ErrDuplicateKey
	}
	s.seen[rec.AccountID] = struct{}{}
	s.journal = append(s.journal, rec)
	return nil
}

// Get implements Store.
func (s *LedgerStore) Get(ctx context.Context, id ledger.AccountID) (Record, error) {
	data, err := s.reader.AccountData(ctx, id)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if len(data) < fingerprint.Size {
		return Record{}, ErrNotFound
	}
	d, err := fingerprint.FromBytes(data[:fingerprint.Size])
	if err != nil {
		return Record{}, err
	}
	if d.IsZero() {
		// Allocated but never written.
		return Record{}, ErrNotFound
	}
	return Record{AccountID: id, Digest: d}, nil
}

// Reload implements Store. The ledger is always read live.
func (s *LedgerStore) Reload(_ context.Context) error { return nil }

// List implements Store. Only records written by this process are known.
func (s *LedgerStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.journal))
	copy(out, s.journal)
	return out, nil
}

// Close implements Store.
func (s *LedgerStore) Close() error { return nil }
