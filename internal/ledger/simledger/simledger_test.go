package simledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/Alexovate/document-verifier/internal/ledger/simledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

func signedCreate(t *testing.T, sim *simledger.Ledger, payer, fresh *ledger.Keypair, lamports uint64) []byte {
	t.Helper()
	bh, err := sim.GetLatestBlockhash(ctx)
	require.NoError(t, err)
	msg, err := ledger.CompileMessage(payer.PublicKey(), bh.Hash, []ledger.Instruction{
		ledger.CreateAccountInstruction(payer.PublicKey(), fresh.PublicKey(), lamports, 32, ledger.SystemProgramID),
	})
	require.NoError(t, err)
	tx := &ledger.Transaction{Message: msg}
	require.NoError(t, tx.Sign(payer, fresh))
	return tx.Serialize()
}

func newKeys(t *testing.T) (*ledger.Keypair, *ledger.Keypair) {
	t.Helper()
	a, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	b, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	return a, b
}

func TestSendTransaction_createAccount(t *testing.T) {
	sim, err := simledger.New(simledger.Config{}, zap.NewNop())
	require.NoError(t, err)
	payer, fresh := newKeys(t)
	sim.Fund(payer.PublicKey(), ledger.LamportsPerSOL)

	rent, err := sim.GetMinimumBalanceForRentExemption(ctx, 32)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_113_600), rent)

	ref, err := sim.SendTransaction(ctx, signedCreate(t, sim, payer, fresh, rent))
	require.NoError(t, err)

	st, err := sim.GetSignatureStatus(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Empty(t, st.Err)
	assert.True(t, st.Reached(ledger.CommitmentConfirmed))

	bal, err := sim.GetBalance(ctx, payer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(ledger.LamportsPerSOL)-rent-2*5000, bal)

	info, err := sim.GetAccountInfo(ctx, fresh.PublicKey())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, rent, info.Lamports)
}

func TestSendTransaction_duplicateRejected(t *testing.T) {
	sim, err := simledger.New(simledger.Config{}, zap.NewNop())
	require.NoError(t, err)
	payer, fresh := newKeys(t)
	sim.Fund(payer.PublicKey(), ledger.LamportsPerSOL)

	rent, _ := sim.GetMinimumBalanceForRentExemption(ctx, 32)
	raw := signedCreate(t, sim, payer, fresh, rent)
	_, err = sim.SendTransaction(ctx, raw)
	require.NoError(t, err)
	_, err = sim.SendTransaction(ctx, raw)
	assert.Error(t, err)
}

func TestSendTransaction_notRentExemptLandsWithError(t *testing.T) {
	sim, err := simledger.New(simledger.Config{}, zap.NewNop())
	require.NoError(t, err)
	payer, fresh := newKeys(t)
	sim.Fund(payer.PublicKey(), ledger.LamportsPerSOL)

	ref, err := sim.SendTransaction(ctx, signedCreate(t, sim, payer, fresh, 1))
	require.NoError(t, err)

	st, err := sim.GetSignatureStatus(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Contains(t, st.Err, "rent exempt")

	info, err := sim.GetAccountInfo(ctx, fresh.PublicKey())
	require.NoError(t, err)
	assert.Nil(t, info)

	// The fee is still charged.
	bal, _ := sim.GetBalance(ctx, payer.PublicKey())
	assert.Equal(t, uint64(ledger.LamportsPerSOL)-2*5000, bal)
}

func TestSendTransaction_staleBlockhash(t *testing.T) {
	sim, err := simledger.New(simledger.Config{BlockhashValidity: 2}, zap.NewNop())
	require.NoError(t, err)
	payer, fresh := newKeys(t)
	sim.Fund(payer.PublicKey(), ledger.LamportsPerSOL)

	raw := signedCreate(t, sim, payer, fresh, 2_000_000)
	sim.Advance(5)
	_, err = sim.SendTransaction(ctx, raw)
	assert.ErrorContains(t, err, "blockhash not found")
}

func TestSendTransaction_badSignature(t *testing.T) {
	sim, err := simledger.New(simledger.Config{}, zap.NewNop())
	require.NoError(t, err)
	payer, fresh := newKeys(t)
	sim.Fund(payer.PublicKey(), ledger.LamportsPerSOL)

	raw := signedCreate(t, sim, payer, fresh, 2_000_000)
	raw[1] ^= 0xff // corrupt the payer signature
	_, err = sim.SendTransaction(ctx, raw)
	assert.Error(t, err)
}

func TestSnapshot_restoresAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.cbor")

	sim, err := simledger.New(simledger.Config{SnapshotPath: path}, zap.NewNop())
	require.NoError(t, err)
	payer, fresh := newKeys(t)
	_, err = sim.RequestAirdrop(ctx, payer.PublicKey(), ledger.LamportsPerSOL)
	require.NoError(t, err)

	rent, _ := sim.GetMinimumBalanceForRentExemption(ctx, 32)
	_, err = sim.SendTransaction(ctx, signedCreate(t, sim, payer, fresh, rent))
	require.NoError(t, err)
	slot := sim.Slot()

	restored, err := simledger.New(simledger.Config{SnapshotPath: path}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, slot, restored.Slot())

	info, err := restored.GetAccountInfo(ctx, fresh.PublicKey())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, rent, info.Lamports)
}
