package ledger

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountID is the 32-byte public key that addresses a ledger account.
// Program IDs are account IDs too.
type AccountID [32]byte

// SystemProgramID is the native program that creates accounts and moves
// lamports. It is the all-zero key ("11111111111111111111111111111111").
var SystemProgramID = AccountID{}

// ParseAccountID decodes a base58 account address.
func ParseAccountID(s string) (AccountID, error) {
	if s == "" {
		return AccountID{}, errors.New("account id is empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return AccountID{}, fmt.Errorf("account id is not base58: %w", err)
	}
	if len(raw) != len(AccountID{}) {
		return AccountID{}, fmt.Errorf("account id must decode to 32 bytes, got %d", len(raw))
	}
	var id AccountID
	copy(id[:], raw)
	return id, nil
}

// MustParseAccountID is ParseAccountID for constants; it panics on error.
func MustParseAccountID(s string) AccountID {
	id, err := ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id AccountID) String() string { return base58.Encode(id[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *AccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TxRef is the signature identifying a submitted transaction.
type TxRef [64]byte

// ParseTxRef decodes a base58 transaction signature.
func ParseTxRef(s string) (TxRef, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return TxRef{}, fmt.Errorf("tx ref is not base58: %w", err)
	}
	if len(raw) != len(TxRef{}) {
		return TxRef{}, fmt.Errorf("tx ref must decode to 64 bytes, got %d", len(raw))
	}
	var ref TxRef
	copy(ref[:], raw)
	return ref, nil
}

func (r TxRef) String() string { return base58.Encode(r[:]) }

// IsZero reports whether r is unset.
func (r TxRef) IsZero() bool { return r == TxRef{} }

// MarshalText implements encoding.TextMarshaler.
func (r TxRef) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return []byte{}, nil
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text leaves r zero.
func (r *TxRef) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = TxRef{}
		return nil
	}
	parsed, err := ParseTxRef(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Hash is a recent blockhash used to bound transaction validity.
type Hash [32]byte

// ParseHash decodes a base58 blockhash.
func ParseHash(s string) (Hash, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("blockhash is not base58: %w", err)
	}
	if len(raw) != len(Hash{}) {
		return Hash{}, fmt.Errorf("blockhash must decode to 32 bytes, got %d", len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

// Blockhash pairs a recent blockhash with the last block height at which a
// transaction referencing it may still land.
type Blockhash struct {
	Hash                 Hash
	LastValidBlockHeight uint64
}

// Commitment levels understood by ledger nodes.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// SignatureStatus reports the progress of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus string
	// Err is non-empty when the transaction landed but failed.
	Err string
}

// Reached reports whether the status satisfies the target commitment.
func (s *SignatureStatus) Reached(target string) bool {
	switch target {
	case CommitmentFinalized:
		return s.ConfirmationStatus == CommitmentFinalized
	case CommitmentProcessed:
		return s.ConfirmationStatus != ""
	default:
		return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
	}
}

// AccountInfo is the observable state of an existing account.
type AccountInfo struct {
	Lamports uint64
	Owner    AccountID
	Data     []byte
}
