// Package commitstore records which digest was anchored under which ledger
// account.
//
// A Store maps AccountID to Record with write-once keys. Five
// implementations are provided:
//   - MemoryStore: in-process, for tests.
//   - FileStore: a JSON file guarded by a cross-process lock.
//   - SQLiteStore: a local SQLite database.
//   - PostgresStore: shared across registry instances.
//   - LedgerStore: reads the digest back from the account's own data, so
//     nothing is kept off-ledger at all.
package commitstore

import (
	"context"
	"errors"
	"time"

	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

var (
	// ErrDuplicateKey is returned by Put when the account already has a record.
	ErrDuplicateKey = errors.New("commitstore: account already recorded")

	// ErrNotFound is returned by Get when the account has no record.
	ErrNotFound = errors.New("commitstore: account not recorded")
)

// Record is one anchored commitment. TxRef and CreatedAt are kept for audit
// only.
type Record struct {
	AccountID ledger.AccountID   `json:"account"`
	Digest    fingerprint.Digest `json:"hash"`
	TxRef     ledger.TxRef       `json:"signature,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Store is the persistence interface for commitments.
type Store interface {
	// Put inserts rec. It is atomic per account and durable before it
	// returns.
	Put(ctx context.Context, rec Record) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id ledger.AccountID) (Record, error)

	// Reload re-reads the backing store so writes made by other processes
	// become visible to Get.
	Reload(ctx context.Context) error

	// List returns all records in insertion order.
	List(ctx context.Context) ([]Record, error)

	Close() error
}

// PayloadStore is implemented by stores that keep the digest inside the
// ledger account itself. Anchoring must then pass the digest as the
// account payload at creation time.
type PayloadStore interface {
	Store
	EmbedsPayload() bool
}

// EmbedsPayload reports whether s expects the digest embedded on-ledger.
func EmbedsPayload(s Store) bool {
	ps, ok := s.(PayloadStore)
	return ok && ps.EmbedsPayload()
}
