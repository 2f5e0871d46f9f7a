package simledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/fxamacker/cbor/v2"
)

type snapshotAccount struct {
	Lamports uint64 `cbor:"1,keyasint"`
	Owner    []byte `cbor:"2,keyasint"`
	Data     []byte `cbor:"3,keyasint"`
}

type snapshot struct {
	Version   int                        `cbor:"1,keyasint"`
	Slot      uint64                     `cbor:"2,keyasint"`
	Blockhash []byte                     `cbor:"3,keyasint"`
	Nonce     uint64                     `cbor:"4,keyasint"`
	Accounts  map[string]snapshotAccount `cbor:"5,keyasint"`
}

// saveSnapshot writes state atomically via a temp file. Transaction history
// is not persisted; confirmations of in-flight writes do not survive a
// restart. Callers hold l.mu.
func (l *Ledger) saveSnapshot() error {
	snap := snapshot{
		Version:   1,
		Slot:      l.slot,
		Blockhash: l.blockhash[:],
		Nonce:     l.nonce,
		Accounts:  make(map[string]snapshotAccount, len(l.accounts)),
	}
	for id, a := range l.accounts {
		snap.Accounts[id.String()] = snapshotAccount{
			Lamports: a.Lamports,
			Owner:    append([]byte(nil), a.Owner[:]...),
			Data:     a.Data,
		}
	}
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.cfg.SnapshotPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := l.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, l.cfg.SnapshotPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// loadSnapshot restores state, reporting whether a snapshot existed.
func (l *Ledger) loadSnapshot() (bool, error) {
	data, err := os.ReadFile(l.cfg.SnapshotPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != 1 {
		return false, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if len(snap.Blockhash) != len(ledger.Hash{}) {
		return false, errors.New("snapshot blockhash has wrong length")
	}

	l.slot = snap.Slot
	l.nonce = snap.Nonce
	copy(l.blockhash[:], snap.Blockhash)
	l.recent = map[ledger.Hash]uint64{l.blockhash: l.slot + l.cfg.BlockhashValidity}
	l.accounts = make(map[ledger.AccountID]*account, len(snap.Accounts))
	for key, a := range snap.Accounts {
		id, err := ledger.ParseAccountID(key)
		if err != nil {
			return false, fmt.Errorf("snapshot account %q: %w", key, err)
		}
		if len(a.Owner) != len(ledger.AccountID{}) {
			return false, fmt.Errorf("snapshot account %q: owner has wrong length", key)
		}
		acct := &account{Lamports: a.Lamports, Data: a.Data}
		copy(acct.Owner[:], a.Owner)
		l.accounts[id] = acct
	}
	return true, nil
}
