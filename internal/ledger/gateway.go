package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LamportsPerSOL is the number of base units in one SOL.
const LamportsPerSOL = 1_000_000_000

// Config tunes a Gateway. Zero values are replaced by defaults in New.
type Config struct {
	// Commitment is the confirmation level a write must reach.
	Commitment string
	// MinBalance is the payer balance below which EnsureFunded tops up.
	MinBalance uint64
	// TopUpAmount is the airdrop size requested when topping up.
	TopUpAmount uint64
	// AllowAirdrop enables faucet top-ups; disable on networks without one.
	AllowAirdrop bool
	// ConfirmTimeout bounds how long a write waits for confirmation.
	ConfirmTimeout time.Duration
	// PollInterval is the delay between signature status polls.
	PollInterval time.Duration
	// DataProgram, when set, owns created accounts and writes payloads
	// into their data region. nil disables payload embedding.
	DataProgram *AccountID
}

// Gateway submits anchoring writes and existence probes to a ledger on
// behalf of a single funded payer.
type Gateway struct {
	client Client
	payer  Signer
	cfg    Config
	logger *zap.Logger

	// fundMu serialises balance checks and top-ups so concurrent writers
	// never request overlapping airdrops.
	fundMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// New creates a Gateway. The caller owns client until Close is called.
func New(client Client, payer Signer, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentConfirmed
	}
	if cfg.MinBalance == 0 {
		cfg.MinBalance = LamportsPerSOL
	}
	if cfg.TopUpAmount == 0 {
		cfg.TopUpAmount = 2 * LamportsPerSOL
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{client: client, payer: payer, cfg: cfg, logger: logger}
}

// Close releases the underlying client if it holds resources. Calls after
// Close fail.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if c, ok := g.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (g *Gateway) checkOpen() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errors.New("ledger: gateway closed")
	}
	return nil
}

// Payer returns the address fees are charged to.
func (g *Gateway) Payer() AccountID {
	return g.payer.PublicKey()
}

// SupportsPayload reports whether CreateAccount can embed data.
func (g *Gateway) SupportsPayload() bool {
	return g.cfg.DataProgram != nil
}

// Ping checks that the ledger node is reachable and healthy.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	if err := g.client.Health(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	return nil
}

// Balance returns the payer's current balance in lamports.
func (g *Gateway) Balance(ctx context.Context) (uint64, error) {
	if err := g.checkOpen(); err != nil {
		return 0, err
	}
	bal, err := g.client.GetBalance(ctx, g.payer.PublicKey())
	if err != nil {
		return 0, fmt.Errorf("%w: get balance: %v", ErrLookupFailed, err)
	}
	return bal, nil
}

// EnsureFunded tops the payer up when its balance is below MinBalance and
// waits for the top-up to confirm. It is safe to call before every write.
func (g *Gateway) EnsureFunded(ctx context.Context) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	g.fundMu.Lock()
	defer g.fundMu.Unlock()

	payer := g.payer.PublicKey()
	bal, err := g.client.GetBalance(ctx, payer)
	if err != nil {
		return fmt.Errorf("%w: get balance: %v", ErrInsufficientFunds, err)
	}
	if bal >= g.cfg.MinBalance {
		return nil
	}
	if !g.cfg.AllowAirdrop {
		return fmt.Errorf("%w: balance %d below minimum %d and airdrops are disabled",
			ErrInsufficientFunds, bal, g.cfg.MinBalance)
	}

	g.logger.Info("requesting airdrop",
		zap.String("payer", payer.String()),
		zap.Uint64("balance", bal),
		zap.Uint64("amount", g.cfg.TopUpAmount),
	)
	ref, err := g.client.RequestAirdrop(ctx, payer, g.cfg.TopUpAmount)
	if err != nil {
		return fmt.Errorf("%w: request airdrop: %v", ErrInsufficientFunds, err)
	}
	if err := g.awaitConfirmation(ctx, ref, 0); err != nil {
		return fmt.Errorf("%w: airdrop %s: %v", ErrInsufficientFunds, ref, err)
	}

	bal, err = g.client.GetBalance(ctx, payer)
	if err != nil {
		return fmt.Errorf("%w: get balance after airdrop: %v", ErrInsufficientFunds, err)
	}
	if bal < g.cfg.MinBalance {
		return fmt.Errorf("%w: balance %d still below minimum %d after airdrop",
			ErrInsufficientFunds, bal, g.cfg.MinBalance)
	}
	g.logger.Info("airdrop confirmed", zap.String("signature", ref.String()), zap.Uint64("balance", bal))
	return nil
}

// CreateAccount mints a fresh rent-exempt account of space bytes in one
// transaction and blocks until it reaches the configured commitment. When
// payload is non-nil it is written into the account's data region by the
// configured data program in the same transaction.
func (g *Gateway) CreateAccount(ctx context.Context, space uint64, payload []byte) (AccountID, TxRef, error) {
	if err := g.checkOpen(); err != nil {
		return AccountID{}, TxRef{}, err
	}
	if payload != nil {
		if g.cfg.DataProgram == nil {
			return AccountID{}, TxRef{}, fmt.Errorf("%w: payload given but no data program configured", ErrWriteFailed)
		}
		if uint64(len(payload)) > space {
			return AccountID{}, TxRef{}, fmt.Errorf("%w: payload of %d bytes exceeds space %d", ErrWriteFailed, len(payload), space)
		}
	}

	account, err := GenerateKeypair()
	if err != nil {
		return AccountID{}, TxRef{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	rent, err := g.client.GetMinimumBalanceForRentExemption(ctx, space)
	if err != nil {
		return AccountID{}, TxRef{}, fmt.Errorf("%w: rent exemption: %v", ErrWriteFailed, err)
	}
	bh, err := g.client.GetLatestBlockhash(ctx)
	if err != nil {
		return AccountID{}, TxRef{}, fmt.Errorf("%w: latest blockhash: %v", ErrWriteFailed, err)
	}

	payer := g.payer.PublicKey()
	owner := SystemProgramID
	if payload != nil {
		owner = *g.cfg.DataProgram
	}
	instrs := []Instruction{CreateAccountInstruction(payer, account.PublicKey(), rent, space, owner)}
	if payload != nil {
		instrs = append(instrs, WriteDataInstruction(owner, account.PublicKey(), payload))
	}

	msg, err := CompileMessage(payer, bh.Hash, instrs)
	if err != nil {
		return AccountID{}, TxRef{}, fmt.Errorf("%w: compile message: %v", ErrWriteFailed, err)
	}
	tx := &Transaction{Message: msg}
	if err := tx.Sign(g.payer, account); err != nil {
		return AccountID{}, TxRef{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	ref, err := g.client.SendTransaction(ctx, tx.Serialize())
	if err != nil {
		return AccountID{}, TxRef{}, fmt.Errorf("%w: send transaction: %v", ErrWriteFailed, err)
	}
	g.logger.Debug("create-account submitted",
		zap.String("account", account.PublicKey().String()),
		zap.String("signature", ref.String()),
		zap.Uint64("rent", rent),
	)

	if err := g.awaitConfirmation(ctx, ref, bh.LastValidBlockHeight); err != nil {
		return AccountID{}, TxRef{}, err
	}

	g.logger.Info("ledger account created",
		zap.String("account", account.PublicKey().String()),
		zap.String("signature", ref.String()),
		zap.Bool("payload", payload != nil),
	)
	return account.PublicKey(), ref, nil
}

// AccountExists probes whether id exists. It never mutates ledger state.
func (g *Gateway) AccountExists(ctx context.Context, id AccountID) (bool, error) {
	if err := g.checkOpen(); err != nil {
		return false, err
	}
	info, err := g.client.GetAccountInfo(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: get account %s: %v", ErrLookupFailed, id, err)
	}
	return info != nil, nil
}

// AccountData returns the data region of id.
func (g *Gateway) AccountData(ctx context.Context, id AccountID) ([]byte, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	info, err := g.client.GetAccountInfo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get account %s: %v", ErrLookupFailed, id, err)
	}
	if info == nil {
		return nil, ErrAccountNotFound
	}
	return info.Data, nil
}

// awaitConfirmation polls until ref reaches the configured commitment, fails
// on-chain, expires, or ConfirmTimeout elapses. lastValid of zero disables
// the blockhash expiry check.
func (g *Gateway) awaitConfirmation(ctx context.Context, ref TxRef, lastValid uint64) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := g.client.GetSignatureStatus(ctx, ref)
		switch {
		case err != nil:
			// The transaction may still land; keep polling until the deadline.
			lastErr = err
			g.logger.Debug("signature status poll failed", zap.String("signature", ref.String()), zap.Error(err))
		case status != nil && status.Err != "":
			return fmt.Errorf("%w: transaction %s failed: %s", ErrWriteFailed, ref, status.Err)
		case status != nil && status.Reached(g.cfg.Commitment):
			return nil
		case status == nil && lastValid > 0:
			height, herr := g.client.GetBlockHeight(ctx)
			if herr == nil && height > lastValid {
				return fmt.Errorf("%w: transaction %s expired at block height %d", ErrWriteFailed, ref, height)
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w: confirmation of %s: %v (last poll error: %v)", ErrWriteFailed, ref, ctx.Err(), lastErr)
			}
			return fmt.Errorf("%w: confirmation of %s: %v", ErrWriteFailed, ref, ctx.Err())
		case <-ticker.C:
		}
	}
}
