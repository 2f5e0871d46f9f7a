package anchor

import (
	"encoding/json"
	"time"

	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

// OrphanSource says how an orphan was found.
type OrphanSource string

const (
	// OrphanIndexFailed: this process confirmed the account but failed to
	// index it. Digest and TxRef are known.
	OrphanIndexFailed OrphanSource = "index_failed"
	// OrphanUnindexed: a verification found the account on the ledger with
	// no index record. The digest is unknown.
	OrphanUnindexed OrphanSource = "unindexed"
)

// Orphan is a ledger account with no matching index record.
type Orphan struct {
	AccountID   ledger.AccountID   `json:"account"`
	Digest      fingerprint.Digest `json:"hash"`
	TxRef       ledger.TxRef       `json:"signature"`
	OperationID string             `json:"operation_id,omitempty"`
	Source      OrphanSource       `json:"source"`
	DetectedAt  time.Time          `json:"detected_at"`
}

// MarshalJSON leaves out the hash and signature when they are unknown.
func (o Orphan) MarshalJSON() ([]byte, error) {
	type plain Orphan
	out := struct {
		plain
		Digest *fingerprint.Digest `json:"hash,omitempty"`
		TxRef  *ledger.TxRef       `json:"signature,omitempty"`
	}{plain: plain(o)}
	if !o.Digest.IsZero() {
		out.Digest = &o.Digest
	}
	if !o.TxRef.IsZero() {
		out.TxRef = &o.TxRef
	}
	return json.Marshal(out)
}

// Orphans returns the orphan journal in detection order.
func (s *Service) Orphans() []Orphan {
	s.orphanMu.Lock()
	defer s.orphanMu.Unlock()
	out := make([]Orphan, len(s.orphans))
	copy(out, s.orphans)
	return out
}

// recordOrphan appends o unless its account is already journaled. It reports
// whether o was added.
func (s *Service) recordOrphan(o Orphan) bool {
	s.orphanMu.Lock()
	defer s.orphanMu.Unlock()
	if _, ok := s.reported[o.AccountID]; ok {
		return false
	}
	s.reported[o.AccountID] = struct{}{}
	s.orphans = append(s.orphans, o)
	s.observer.OrphanDetected()
	return true
}
