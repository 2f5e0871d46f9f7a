package anchor

import "errors"

// Operational failures. Each is wrapped with the underlying cause, so match
// with errors.Is.
var (
	// ErrInvalidInput is returned before any ledger call when a digest or
	// account address is malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientResources means the payer could not be funded.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrWriteFailed means the ledger write was not confirmed. Nothing was
	// indexed.
	ErrWriteFailed = errors.New("ledger write failed")

	// ErrPersistenceFailed means the ledger write confirmed but the index
	// write did not. The account is an orphan.
	ErrPersistenceFailed = errors.New("index write failed after ledger confirmation")

	// ErrLookupFailed means the ledger or the index could not be read.
	ErrLookupFailed = errors.New("lookup failed")
)

// Reason explains a non-matching verification. It is never an error.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonAccountNotFound Reason = "account_not_found"
	ReasonDigestUnknown   Reason = "digest_unknown"
	ReasonDigestMismatch  Reason = "digest_mismatch"
)

// Outcome returns the metrics label for a verification result.
func (r Reason) Outcome() string {
	if r == ReasonNone {
		return "match"
	}
	return string(r)
}
