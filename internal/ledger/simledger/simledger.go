// Package simledger is an in-process ledger that implements ledger.Client.
//
// It verifies signatures, charges fees, enforces rent exemption and
// blockhash expiry, and confirms transactions as slots advance. Slots
// advance once per block produced and once per signature status poll, so a
// gateway waiting for confirmation always makes progress without a
// background goroutine.
//
// State can optionally be persisted to a CBOR snapshot so a development
// ledger survives restarts.
package simledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Rent parameters: an account is exempt when it holds two years of rent
// for its data plus a fixed storage overhead.
const (
	accountStorageOverhead = 128
	lamportsPerByteYear    = 3480
	exemptionYears         = 2
)

// Config tunes the simulated ledger.
type Config struct {
	// SlotsToConfirm is how many slots after landing a transaction reports
	// "confirmed". Default 1.
	SlotsToConfirm uint64
	// SlotsToFinalize is how many slots until "finalized". Default 4.
	SlotsToFinalize uint64
	// BlockhashValidity is how many slots a blockhash stays usable. Default 150.
	BlockhashValidity uint64
	// FeePerSignature is charged to the fee payer. Default 5000.
	FeePerSignature uint64
	// MaxAirdrop caps a single faucet request. Default 5 SOL.
	MaxAirdrop uint64
	// DataProgram, when set, accepts payload-write instructions.
	DataProgram *ledger.AccountID
	// SnapshotPath, when set, persists state after every block.
	SnapshotPath string
}

// Faults injects failures for tests.
type Faults struct {
	// FailSend makes SendTransaction return this error without landing.
	FailSend error
	// FailReads makes GetAccountInfo and GetBalance return this error.
	FailReads error
	// FailAirdrop makes RequestAirdrop return this error.
	FailAirdrop error
	// DropConfirmations makes landed transactions invisible to
	// GetSignatureStatus, so confirmation never arrives.
	DropConfirmations bool
	// Unhealthy makes Health return this error.
	Unhealthy error
}

type account struct {
	Lamports uint64
	Owner    ledger.AccountID
	Data     []byte
}

type txRecord struct {
	Slot uint64
	Err  string
}

// Ledger is a thread-safe in-memory ledger.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	slot      uint64
	blockhash ledger.Hash
	recent    map[ledger.Hash]uint64 // blockhash -> last valid slot
	accounts  map[ledger.AccountID]*account
	txs       map[ledger.TxRef]*txRecord
	nonce     uint64
	faults    Faults
	logger    *zap.Logger
}

var _ ledger.Client = (*Ledger)(nil)

// New creates a ledger at slot zero, or restores it from cfg.SnapshotPath
// when that file exists.
func New(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if cfg.SlotsToConfirm == 0 {
		cfg.SlotsToConfirm = 1
	}
	if cfg.SlotsToFinalize < cfg.SlotsToConfirm {
		cfg.SlotsToFinalize = cfg.SlotsToConfirm + 3
	}
	if cfg.BlockhashValidity == 0 {
		cfg.BlockhashValidity = 150
	}
	if cfg.FeePerSignature == 0 {
		cfg.FeePerSignature = 5000
	}
	if cfg.MaxAirdrop == 0 {
		cfg.MaxAirdrop = 5 * ledger.LamportsPerSOL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		cfg:      cfg,
		recent:   make(map[ledger.Hash]uint64),
		accounts: make(map[ledger.AccountID]*account),
		txs:      make(map[ledger.TxRef]*txRecord),
		logger:   logger,
	}
	l.blockhash = nextBlockhash(ledger.Hash{}, 0)
	l.recent[l.blockhash] = cfg.BlockhashValidity

	if cfg.SnapshotPath != "" {
		restored, err := l.loadSnapshot()
		if err != nil {
			return nil, err
		}
		if restored {
			logger.Info("simulated ledger restored",
				zap.String("path", cfg.SnapshotPath),
				zap.Uint64("slot", l.slot),
				zap.Int("accounts", len(l.accounts)),
			)
		}
	}
	return l, nil
}

// SetFaults replaces the active fault injection settings.
func (l *Ledger) SetFaults(f Faults) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = f
}

// Fund credits lamports to id directly, creating the account if needed.
func (l *Ledger) Fund(id ledger.AccountID, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[id]
	if acct == nil {
		acct = &account{Owner: ledger.SystemProgramID}
		l.accounts[id] = acct
	}
	acct.Lamports += lamports
}

// CloseAccount removes id, as if its owner had reclaimed it.
func (l *Ledger) CloseAccount(id ledger.AccountID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, id)
}

// Slot returns the current slot.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

// Advance produces n empty blocks.
func (l *Ledger) Advance(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < n; i++ {
		l.produceBlock()
	}
}

// GetBalance implements ledger.Client.
func (l *Ledger) GetBalance(_ context.Context, id ledger.AccountID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.faults.FailReads != nil {
		return 0, l.faults.FailReads
	}
	if acct := l.accounts[id]; acct != nil {
		return acct.Lamports, nil
	}
	return 0, nil
}

// RequestAirdrop implements ledger.Client.
func (l *Ledger) RequestAirdrop(_ context.Context, id ledger.AccountID, lamports uint64) (ledger.TxRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.faults.FailAirdrop != nil {
		return ledger.TxRef{}, l.faults.FailAirdrop
	}
	if lamports > l.cfg.MaxAirdrop {
		return ledger.TxRef{}, fmt.Errorf("airdrop of %d exceeds faucet limit %d", lamports, l.cfg.MaxAirdrop)
	}
	acct := l.accounts[id]
	if acct == nil {
		acct = &account{Owner: ledger.SystemProgramID}
		l.accounts[id] = acct
	}
	acct.Lamports += lamports

	ref := l.syntheticRef(id[:])
	l.txs[ref] = &txRecord{Slot: l.slot + 1}
	l.produceBlock()
	return ref, nil
}

// GetLatestBlockhash implements ledger.Client.
func (l *Ledger) GetLatestBlockhash(_ context.Context) (ledger.Blockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledger.Blockhash{Hash: l.blockhash, LastValidBlockHeight: l.recent[l.blockhash]}, nil
}

// GetBlockHeight implements ledger.Client.
func (l *Ledger) GetBlockHeight(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot, nil
}

// GetMinimumBalanceForRentExemption implements ledger.Client.
func (l *Ledger) GetMinimumBalanceForRentExemption(_ context.Context, space uint64) (uint64, error) {
	return rentExempt(space), nil
}

func rentExempt(space uint64) uint64 {
	return (accountStorageOverhead + space) * lamportsPerByteYear * exemptionYears
}

// SendTransaction implements ledger.Client. Malformed, unsigned or stale
// transactions are rejected outright. Transactions whose instructions fail
// still land: the fee is charged and the status carries the error.
func (l *Ledger) SendTransaction(_ context.Context, raw []byte) (ledger.TxRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.faults.FailSend != nil {
		return ledger.TxRef{}, l.faults.FailSend
	}

	tx, err := ledger.DecodeTransaction(raw)
	if err != nil {
		return ledger.TxRef{}, fmt.Errorf("decode transaction: %w", err)
	}
	if err := tx.VerifySignatures(); err != nil {
		return ledger.TxRef{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return ledger.TxRef{}, errors.New("transaction has no fee payer")
	}
	lastValid, ok := l.recent[tx.Message.RecentBlockhash]
	if !ok || l.slot > lastValid {
		return ledger.TxRef{}, errors.New("blockhash not found")
	}
	ref := tx.Ref()
	if _, dup := l.txs[ref]; dup {
		return ledger.TxRef{}, errors.New("transaction already processed")
	}

	payer := l.accounts[tx.Message.AccountKeys[0]]
	fee := l.cfg.FeePerSignature * uint64(len(tx.Signatures))
	if payer == nil || payer.Lamports < fee {
		return ledger.TxRef{}, errors.New("insufficient funds for fee")
	}
	payer.Lamports -= fee

	rec := &txRecord{Slot: l.slot + 1}
	if err := l.execute(&tx.Message); err != nil {
		rec.Err = err.Error()
		l.logger.Debug("simulated transaction failed", zap.String("signature", ref.String()), zap.Error(err))
	}
	l.txs[ref] = rec
	l.produceBlock()
	return ref, nil
}

// execute applies all instructions or none.
func (l *Ledger) execute(msg *ledger.Message) error {
	staged := make(map[ledger.AccountID]*account)
	get := func(id ledger.AccountID) *account {
		if a, ok := staged[id]; ok {
			return a
		}
		a := l.accounts[id]
		if a == nil {
			return nil
		}
		cp := &account{Lamports: a.Lamports, Owner: a.Owner, Data: append([]byte(nil), a.Data...)}
		staged[id] = cp
		return cp
	}

	for i, ix := range msg.Instructions {
		program := msg.AccountKeys[ix.ProgramIDIndex]
		keys := make([]ledger.AccountID, len(ix.Accounts))
		for j, idx := range ix.Accounts {
			keys[j] = msg.AccountKeys[idx]
		}

		switch {
		case program == ledger.SystemProgramID:
			if err := l.executeSystem(msg, ix, keys, get, staged); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		case l.cfg.DataProgram != nil && program == *l.cfg.DataProgram:
			if len(keys) != 1 || !msg.IsWritable(int(ix.Accounts[0])) {
				return fmt.Errorf("instruction %d: data write needs exactly one writable account", i)
			}
			target := get(keys[0])
			if target == nil {
				return fmt.Errorf("instruction %d: target account does not exist", i)
			}
			if target.Owner != program {
				return fmt.Errorf("instruction %d: target not owned by data program", i)
			}
			if len(ix.Data) > len(target.Data) {
				return fmt.Errorf("instruction %d: payload %d bytes exceeds account space %d", i, len(ix.Data), len(target.Data))
			}
			copy(target.Data, ix.Data)
		default:
			return fmt.Errorf("instruction %d: unknown program %s", i, program)
		}
	}

	for id, a := range staged {
		l.accounts[id] = a
	}
	return nil
}

func (l *Ledger) executeSystem(
	msg *ledger.Message,
	ix ledger.CompiledInstruction,
	keys []ledger.AccountID,
	get func(ledger.AccountID) *account,
	staged map[ledger.AccountID]*account,
) error {
	if ca, ok := ledger.DecodeSystemCreateAccount(ix.Data); ok {
		if len(keys) != 2 {
			return errors.New("create account needs two accounts")
		}
		if !msg.IsSigner(int(ix.Accounts[0])) || !msg.IsSigner(int(ix.Accounts[1])) {
			return errors.New("create account requires funder and new account signatures")
		}
		from := get(keys[0])
		if from == nil || from.Lamports < ca.Lamports {
			return errors.New("insufficient lamports for new account")
		}
		if existing := get(keys[1]); existing != nil {
			return fmt.Errorf("account %s already in use", keys[1])
		}
		if ca.Lamports < rentExempt(ca.Space) {
			return errors.New("new account would not be rent exempt")
		}
		from.Lamports -= ca.Lamports
		staged[keys[1]] = &account{
			Lamports: ca.Lamports,
			Owner:    ca.Owner,
			Data:     make([]byte, ca.Space),
		}
		return nil
	}

	if amount, ok := ledger.DecodeSystemTransfer(ix.Data); ok {
		if len(keys) != 2 || !msg.IsSigner(int(ix.Accounts[0])) {
			return errors.New("transfer requires a signing source")
		}
		from := get(keys[0])
		if from == nil || from.Lamports < amount {
			return errors.New("insufficient lamports for transfer")
		}
		to := get(keys[1])
		if to == nil {
			to = &account{Owner: ledger.SystemProgramID}
			staged[keys[1]] = to
		}
		from.Lamports -= amount
		to.Lamports += amount
		return nil
	}

	return errors.New("unsupported system instruction")
}

// GetSignatureStatus implements ledger.Client. Each call advances one slot.
func (l *Ledger) GetSignatureStatus(_ context.Context, ref ledger.TxRef) (*ledger.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.produceBlock()

	rec, ok := l.txs[ref]
	if !ok || l.faults.DropConfirmations {
		return nil, nil
	}
	status := &ledger.SignatureStatus{Slot: rec.Slot, Err: rec.Err}
	age := l.slot - rec.Slot
	switch {
	case age >= l.cfg.SlotsToFinalize:
		status.ConfirmationStatus = ledger.CommitmentFinalized
	case age >= l.cfg.SlotsToConfirm:
		status.ConfirmationStatus = ledger.CommitmentConfirmed
	default:
		status.ConfirmationStatus = ledger.CommitmentProcessed
	}
	return status, nil
}

// GetAccountInfo implements ledger.Client.
func (l *Ledger) GetAccountInfo(_ context.Context, id ledger.AccountID) (*ledger.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.faults.FailReads != nil {
		return nil, l.faults.FailReads
	}
	acct := l.accounts[id]
	if acct == nil {
		return nil, nil
	}
	return &ledger.AccountInfo{
		Lamports: acct.Lamports,
		Owner:    acct.Owner,
		Data:     append([]byte(nil), acct.Data...),
	}, nil
}

// Health implements ledger.Client.
func (l *Ledger) Health(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.faults.Unhealthy
}

// produceBlock advances the slot, rolls the blockhash and expires old ones.
// Callers hold l.mu.
func (l *Ledger) produceBlock() {
	l.slot++
	l.blockhash = nextBlockhash(l.blockhash, l.slot)
	l.recent[l.blockhash] = l.slot + l.cfg.BlockhashValidity
	for h, lastValid := range l.recent {
		if lastValid < l.slot {
			delete(l.recent, h)
		}
	}
	if l.cfg.SnapshotPath != "" {
		if err := l.saveSnapshot(); err != nil {
			l.logger.Warn("simulated ledger snapshot failed", zap.Error(err))
		}
	}
}

// nextBlockhash chains each blockhash from its predecessor and the slot.
func nextBlockhash(prev ledger.Hash, slot uint64) ledger.Hash {
	var buf [40]byte
	copy(buf[:32], prev[:])
	binary.LittleEndian.PutUint64(buf[32:], slot)
	return ledger.Hash(blake3.Sum256(buf[:]))
}

// syntheticRef derives a unique signature-shaped reference for faucet
// transfers, which have no client-side signature.
func (l *Ledger) syntheticRef(seed []byte) ledger.TxRef {
	l.nonce++
	h := blake3.New()
	_, _ = h.Write([]byte("simledger-airdrop"))
	_, _ = h.Write(seed)
	var n [16]byte
	binary.LittleEndian.PutUint64(n[:8], l.slot)
	binary.LittleEndian.PutUint64(n[8:], l.nonce)
	_, _ = h.Write(n[:])
	var ref ledger.TxRef
	_, _ = h.Digest().Read(ref[:])
	return ref
}
