package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/Alexovate/document-verifier/internal/ledger/simledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newGateway(t *testing.T, simCfg simledger.Config, cfg ledger.Config) (*ledger.Gateway, *simledger.Ledger) {
	t.Helper()
	sim, err := simledger.New(simCfg, zap.NewNop())
	require.NoError(t, err)
	payer, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 2 * time.Second
	}
	gw := ledger.New(sim, payer, cfg, zap.NewNop())
	t.Cleanup(func() { _ = gw.Close() })
	return gw, sim
}

func TestEnsureFunded_topsUpOnce(t *testing.T) {
	gw, _ := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})

	require.NoError(t, gw.EnsureFunded(ctx))
	bal, err := gw.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*ledger.LamportsPerSOL), bal)

	// Already above the minimum: no second airdrop.
	require.NoError(t, gw.EnsureFunded(ctx))
	bal, err = gw.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*ledger.LamportsPerSOL), bal)
}

func TestEnsureFunded_concurrentCallersDoNotDoubleTopUp(t *testing.T) {
	gw, _ := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, gw.EnsureFunded(ctx))
		}()
	}
	wg.Wait()

	bal, err := gw.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*ledger.LamportsPerSOL), bal)
}

func TestEnsureFunded_airdropDisabled(t *testing.T) {
	gw, _ := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: false})
	err := gw.EnsureFunded(ctx)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestEnsureFunded_airdropFails(t *testing.T) {
	gw, sim := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})
	sim.SetFaults(simledger.Faults{FailAirdrop: errors.New("faucet dry")})
	assert.ErrorIs(t, gw.EnsureFunded(ctx), ledger.ErrInsufficientFunds)
}

func TestCreateAccount_confirmsAndExists(t *testing.T) {
	gw, sim := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})
	require.NoError(t, gw.EnsureFunded(ctx))

	id, ref, err := gw.CreateAccount(ctx, 32, nil)
	require.NoError(t, err)
	assert.False(t, ref.IsZero())

	exists, err := gw.AccountExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := sim.GetAccountInfo(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Len(t, info.Data, 32)
	assert.Equal(t, ledger.SystemProgramID, info.Owner)
}

func TestCreateAccount_unfundedPayerFails(t *testing.T) {
	gw, _ := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})
	_, _, err := gw.CreateAccount(ctx, 32, nil)
	assert.ErrorIs(t, err, ledger.ErrWriteFailed)
}

func TestCreateAccount_confirmationTimeout(t *testing.T) {
	gw, sim := newGateway(t, simledger.Config{}, ledger.Config{
		AllowAirdrop:   true,
		ConfirmTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, gw.EnsureFunded(ctx))
	sim.SetFaults(simledger.Faults{DropConfirmations: true})

	_, _, err := gw.CreateAccount(ctx, 32, nil)
	assert.ErrorIs(t, err, ledger.ErrWriteFailed)
}

func TestCreateAccount_blockhashExpiry(t *testing.T) {
	gw, sim := newGateway(t, simledger.Config{BlockhashValidity: 3}, ledger.Config{AllowAirdrop: true})
	require.NoError(t, gw.EnsureFunded(ctx))
	sim.SetFaults(simledger.Faults{DropConfirmations: true})

	_, _, err := gw.CreateAccount(ctx, 32, nil)
	require.ErrorIs(t, err, ledger.ErrWriteFailed)
	assert.Contains(t, err.Error(), "expired")
}

func TestCreateAccount_sendRejected(t *testing.T) {
	gw, sim := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})
	require.NoError(t, gw.EnsureFunded(ctx))
	sim.SetFaults(simledger.Faults{FailSend: errors.New("connection reset")})

	_, _, err := gw.CreateAccount(ctx, 32, nil)
	assert.ErrorIs(t, err, ledger.ErrWriteFailed)
}

func TestCreateAccount_payloadRequiresDataProgram(t *testing.T) {
	gw, _ := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})
	require.NoError(t, gw.EnsureFunded(ctx))
	assert.False(t, gw.SupportsPayload())

	_, _, err := gw.CreateAccount(ctx, 32, []byte("digest"))
	assert.ErrorIs(t, err, ledger.ErrWriteFailed)
}

func TestCreateAccount_embedsPayload(t *testing.T) {
	programKP, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	program := programKP.PublicKey()

	gw, _ := newGateway(t,
		simledger.Config{DataProgram: &program},
		ledger.Config{AllowAirdrop: true, DataProgram: &program},
	)
	require.NoError(t, gw.EnsureFunded(ctx))

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	id, _, err := gw.CreateAccount(ctx, 32, payload)
	require.NoError(t, err)

	data, err := gw.AccountData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestAccountExists_absentAndLookupFailure(t *testing.T) {
	gw, sim := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})
	stranger, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	exists, err := gw.AccountExists(ctx, stranger.PublicKey())
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = gw.AccountData(ctx, stranger.PublicKey())
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	sim.SetFaults(simledger.Faults{FailReads: errors.New("dial tcp: refused")})
	_, err = gw.AccountExists(ctx, stranger.PublicKey())
	assert.ErrorIs(t, err, ledger.ErrLookupFailed)
}

func TestGateway_closed(t *testing.T) {
	gw, _ := newGateway(t, simledger.Config{}, ledger.Config{AllowAirdrop: true})
	require.NoError(t, gw.Close())
	assert.Error(t, gw.EnsureFunded(ctx))
	_, err := gw.AccountExists(ctx, ledger.SystemProgramID)
	assert.Error(t, err)
}
