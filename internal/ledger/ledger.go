// Package ledger is the boundary between document anchoring and the
// distributed ledger.
//
// Client is the RPC surface a ledger node exposes. Two implementations are
// provided:
//   - solrpc.Client: JSON-RPC over HTTP to a Solana-compatible node.
//   - simledger.Ledger: an in-process ledger for development and tests.
//
// Gateway wraps a Client with a funded payer and turns the raw RPC calls
// into the three operations anchoring needs: EnsureFunded, CreateAccount
// and AccountExists.
package ledger

import (
	"context"
	"errors"
)

// Client is the set of ledger node calls the gateway depends on.
type Client interface {
	GetBalance(ctx context.Context, account AccountID) (uint64, error)
	RequestAirdrop(ctx context.Context, account AccountID, lamports uint64) (TxRef, error)
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, space uint64) (uint64, error)
	SendTransaction(ctx context.Context, raw []byte) (TxRef, error)
	// GetSignatureStatus returns nil, nil when the node has not seen ref.
	GetSignatureStatus(ctx context.Context, ref TxRef) (*SignatureStatus, error)
	// GetAccountInfo returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, account AccountID) (*AccountInfo, error)
	Health(ctx context.Context) error
}

var (
	// ErrInsufficientFunds means the payer could not be brought up to the
	// configured minimum balance.
	ErrInsufficientFunds = errors.New("ledger: payer has insufficient funds")

	// ErrWriteFailed means a transaction was rejected, failed on-chain or
	// was not confirmed in time. Fees may already have been charged.
	ErrWriteFailed = errors.New("ledger: write failed")

	// ErrLookupFailed means a read could not reach the ledger.
	ErrLookupFailed = errors.New("ledger: lookup failed")

	// ErrAccountNotFound is returned by AccountData for absent accounts.
	ErrAccountNotFound = errors.New("ledger: account not found")
)
