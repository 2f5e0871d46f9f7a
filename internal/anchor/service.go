// Package anchor commits document digests to the ledger and verifies
// documents against them.
//
// Anchoring runs Funding → Creating → Indexing → Done. A failure in any
// state ends the operation; the ledger write is never rolled back, so a
// failure in Indexing leaves an orphan account that is logged and kept in
// the service's orphan journal for reconciliation.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexovate/document-verifier/internal/commitstore"
	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

// Gateway is the ledger surface the service needs. *ledger.Gateway
// satisfies it.
type Gateway interface {
	EnsureFunded(ctx context.Context) error
	CreateAccount(ctx context.Context, space uint64, payload []byte) (ledger.AccountID, ledger.TxRef, error)
	AccountExists(ctx context.Context, id ledger.AccountID) (bool, error)
}

// Observer receives anchor and verification outcomes, typically to feed
// metrics.
type Observer interface {
	AnchorCompleted(result string)
	VerificationCompleted(outcome string)
	OrphanDetected()
}

type nopObserver struct{}

func (nopObserver) AnchorCompleted(string)       {}
func (nopObserver) VerificationCompleted(string) {}
func (nopObserver) OrphanDetected()              {}

// State is a step of the anchoring state machine.
type State int

const (
	StateFunding State = iota
	StateCreating
	StateIndexing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFunding:
		return "funding"
	case StateCreating:
		return "creating"
	case StateIndexing:
		return "indexing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config tunes the service.
type Config struct {
	// AccountSpace is the data size of each anchor account in bytes.
	AccountSpace uint64
	// IndexTimeout bounds the index write that follows a confirmed ledger
	// write.
	IndexTimeout time.Duration
}

// Receipt describes a completed anchor.
type Receipt struct {
	OperationID string
	AccountID   ledger.AccountID
	TxRef       ledger.TxRef
	Digest      fingerprint.Digest
}

// Service anchors and verifies document digests.
type Service struct {
	gw       Gateway
	store    commitstore.Store
	cfg      Config
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	orphanMu sync.Mutex
	orphans  []Orphan
	reported map[ledger.AccountID]struct{}
}

// NewService creates a Service. gw and store are owned by the caller.
func NewService(gw Gateway, store commitstore.Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.AccountSpace == 0 {
		cfg.AccountSpace = fingerprint.Size
	}
	if cfg.IndexTimeout == 0 {
		cfg.IndexTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gw:       gw,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		observer: nopObserver{},
		now:      time.Now,
		reported: make(map[ledger.AccountID]struct{}),
	}
}

// SetObserver installs o. A nil o restores the no-op observer.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// ComputeDigest fingerprints the content of r.
func (s *Service) ComputeDigest(r io.Reader) (fingerprint.Digest, error) {
	d, err := fingerprint.SumReader(r)
	if err != nil {
		return fingerprint.Digest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return d, nil
}

// Anchor commits hexDigest under a newly created ledger account and records
// the pair in the store.
//
// On ErrPersistenceFailed the returned Receipt is still filled in: it names
// the confirmed but unindexed account. Every other error returns a zero
// Receipt.
//
// Once the create transaction has been submitted, cancelling ctx no longer
// stops the operation: the confirmation wait and the index write run on a
// detached context so a confirmed write is always indexed when possible.
func (s *Service) Anchor(ctx context.Context, hexDigest string) (Receipt, error) {
	opID := uuid.NewString()
	log := s.logger.With(zap.String("operation_id", opID))

	digest, err := fingerprint.ParseHex(hexDigest)
	if err != nil {
		s.observer.AnchorCompleted("invalid_input")
		return Receipt{}, fmt.Errorf("%w: %q is not a 64-character lowercase hex digest", ErrInvalidInput, hexDigest)
	}
	log = log.With(zap.String("digest", digest.String()))

	s.transition(log, StateFunding)
	if err := s.gw.EnsureFunded(ctx); err != nil {
		return Receipt{}, s.fail(log, "insufficient_resources", fmt.Errorf("%w: %v", ErrInsufficientResources, err))
	}

	s.transition(log, StateCreating)
	if err := ctx.Err(); err != nil {
		return Receipt{}, s.fail(log, "write_failed", fmt.Errorf("%w: cancelled before submission: %v", ErrWriteFailed, err))
	}
	var payload []byte
	if commitstore.EmbedsPayload(s.store) {
		payload = digest.Bytes()
	}
	account, ref, err := s.gw.CreateAccount(context.WithoutCancel(ctx), s.cfg.AccountSpace, payload)
	if err != nil {
		return Receipt{}, s.fail(log, "write_failed", fmt.Errorf("%w: %v", ErrWriteFailed, err))
	}
	log = log.With(zap.String("account_id", account.String()), zap.String("tx_ref", ref.String()))

	s.transition(log, StateIndexing)
	idxCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.IndexTimeout)
	defer cancel()
	rec := commitstore.Record{AccountID: account, Digest: digest, TxRef: ref, CreatedAt: s.now().UTC()}
	if err := s.store.Put(idxCtx, rec); err != nil {
		log.Error("anchor: ledger/index divergence",
			zap.String("event", "orphan_created"),
			zap.Error(err),
		)
		s.recordOrphan(Orphan{
			AccountID:   account,
			Digest:      digest,
			TxRef:       ref,
			OperationID: opID,
			Source:      OrphanIndexFailed,
			DetectedAt:  s.now().UTC(),
		})
		return Receipt{OperationID: opID, AccountID: account, TxRef: ref, Digest: digest}, s.fail(log, "persistence_failed",
			fmt.Errorf("%w: account %s: %v", ErrPersistenceFailed, account, err))
	}

	s.transition(log, StateDone)
	s.observer.AnchorCompleted("success")
	log.Info("document anchored")
	return Receipt{OperationID: opID, AccountID: account, TxRef: ref, Digest: digest}, nil
}

// Commitment returns the indexed record for accountID.
func (s *Service) Commitment(ctx context.Context, accountID string) (commitstore.Record, error) {
	id, err := ledger.ParseAccountID(accountID)
	if err != nil {
		return commitstore.Record{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.Reload(ctx); err != nil {
		return commitstore.Record{}, fmt.Errorf("%w: reload index: %v", ErrLookupFailed, err)
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, commitstore.ErrNotFound) {
			return commitstore.Record{}, err
		}
		return commitstore.Record{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	return rec, nil
}

func (s *Service) transition(log *zap.Logger, st State) {
	log.Debug("anchor state", zap.String("state", st.String()))
}

func (s *Service) fail(log *zap.Logger, result string, err error) error {
	log.Debug("anchor state", zap.String("state", StateFailed.String()), zap.Error(err))
	s.observer.AnchorCompleted(result)
	return err
}
