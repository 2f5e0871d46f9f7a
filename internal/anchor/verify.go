package anchor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/Alexovate/document-verifier/internal/commitstore"
	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

// Result is the outcome of a verification. Match and Reason are exclusive:
// Reason is empty exactly when Match is true.
type Result struct {
	Match  bool
	Digest fingerprint.Digest
	Reason Reason
}

// Verify recomputes the digest of r and compares it with what was anchored
// under accountID. Negative outcomes are reported in Result.Reason; the
// error is reserved for operational failures. When the digest was computed
// before the failure, Result.Digest still carries it.
func (s *Service) Verify(ctx context.Context, r io.Reader, accountID string) (Result, error) {
	digest, err := s.ComputeDigest(r)
	if err != nil {
		s.observer.VerificationCompleted("error")
		return Result{}, err
	}
	return s.VerifyDigest(ctx, digest, accountID)
}

// VerifyDigest is Verify for an already computed digest. It reads the
// ledger and the index and never writes to either.
func (s *Service) VerifyDigest(ctx context.Context, digest fingerprint.Digest, accountID string) (Result, error) {
	res, err := s.verify(ctx, digest, accountID)
	if err != nil {
		s.observer.VerificationCompleted("error")
		return Result{Digest: digest}, err
	}
	s.observer.VerificationCompleted(res.Reason.Outcome())
	return res, nil
}

func (s *Service) verify(ctx context.Context, digest fingerprint.Digest, accountID string) (Result, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Result{}, fmt.Errorf("%w: account address is required", ErrInvalidInput)
	}
	noMatch := func(r Reason) Result { return Result{Digest: digest, Reason: r} }

	// An address that does not decode cannot name an account on the ledger.
	id, err := ledger.ParseAccountID(accountID)
	if err != nil {
		return noMatch(ReasonAccountNotFound), nil
	}

	exists, err := s.gw.AccountExists(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if !exists {
		return noMatch(ReasonAccountNotFound), nil
	}

	if err := s.store.Reload(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: reload index: %v", ErrLookupFailed, err)
	}
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, commitstore.ErrNotFound) {
		s.reportUnindexed(id)
		return noMatch(ReasonDigestUnknown), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	if rec.Digest != digest {
		return noMatch(ReasonDigestMismatch), nil
	}
	return Result{Match: true, Digest: digest}, nil
}

// reportUnindexed journals an account that exists on the ledger but has no
// index record. Each account is reported once per process.
func (s *Service) reportUnindexed(id ledger.AccountID) {
	added := s.recordOrphan(Orphan{
		AccountID:  id,
		Source:     OrphanUnindexed,
		DetectedAt: s.now().UTC(),
	})
	if added {
		s.logger.Warn("anchor: ledger account missing from index",
			zap.String("event", "orphan_detected"),
			zap.String("account_id", id.String()),
		)
	}
}
