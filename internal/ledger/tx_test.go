package ledger_test

import (
	"testing"

	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountID_base58RoundTrip(t *testing.T) {
	assert.Equal(t, "11111111111111111111111111111111", ledger.SystemProgramID.String())

	kp, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	parsed, err := ledger.ParseAccountID(kp.PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), parsed)

	for _, bad := range []string{"", "nonexistent-account-id", "0OIl", "abc"} {
		_, err := ledger.ParseAccountID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompileMessage_ordersAccounts(t *testing.T) {
	payer, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	fresh, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	program, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	instrs := []ledger.Instruction{
		ledger.CreateAccountInstruction(payer.PublicKey(), fresh.PublicKey(), 1000, 32, program.PublicKey()),
		ledger.WriteDataInstruction(program.PublicKey(), fresh.PublicKey(), []byte("payload")),
	}
	msg, err := ledger.CompileMessage(payer.PublicKey(), ledger.Hash{1}, instrs)
	require.NoError(t, err)

	require.Len(t, msg.AccountKeys, 4)
	assert.Equal(t, payer.PublicKey(), msg.AccountKeys[0])
	assert.Equal(t, fresh.PublicKey(), msg.AccountKeys[1])
	assert.Equal(t, uint8(2), msg.Header.NumRequiredSignatures)
	assert.Equal(t, uint8(0), msg.Header.NumReadonlySignedAccounts)
	assert.Equal(t, uint8(2), msg.Header.NumReadonlyUnsignedAccounts)

	assert.True(t, msg.IsWritable(0))
	assert.True(t, msg.IsWritable(1))
	assert.False(t, msg.IsWritable(2))
	assert.False(t, msg.IsWritable(3))
	assert.True(t, msg.IsSigner(1))
	assert.False(t, msg.IsSigner(2))
}

func TestTransaction_serializeDecodeVerify(t *testing.T) {
	payer, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	fresh, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	ix := ledger.CreateAccountInstruction(payer.PublicKey(), fresh.PublicKey(), 1_113_600, 32, ledger.SystemProgramID)
	msg, err := ledger.CompileMessage(payer.PublicKey(), ledger.Hash{7, 7, 7}, []ledger.Instruction{ix})
	require.NoError(t, err)

	tx := &ledger.Transaction{Message: msg}
	require.NoError(t, tx.Sign(payer, fresh))

	decoded, err := ledger.DecodeTransaction(tx.Serialize())
	require.NoError(t, err)
	require.NoError(t, decoded.VerifySignatures())
	assert.Equal(t, tx.Ref(), decoded.Ref())
	assert.Equal(t, msg.RecentBlockhash, decoded.Message.RecentBlockhash)
	require.Len(t, decoded.Message.Instructions, 1)

	ca, ok := ledger.DecodeSystemCreateAccount(decoded.Message.Instructions[0].Data)
	require.True(t, ok)
	assert.Equal(t, uint64(1_113_600), ca.Lamports)
	assert.Equal(t, uint64(32), ca.Space)
	assert.Equal(t, ledger.SystemProgramID, ca.Owner)
}

func TestTransaction_tamperedMessageFailsVerify(t *testing.T) {
	payer, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	other, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	msg, err := ledger.CompileMessage(payer.PublicKey(), ledger.Hash{}, []ledger.Instruction{
		ledger.TransferInstruction(payer.PublicKey(), other.PublicKey(), 10),
	})
	require.NoError(t, err)
	tx := &ledger.Transaction{Message: msg}
	require.NoError(t, tx.Sign(payer))

	raw := tx.Serialize()
	raw[len(raw)-1] ^= 0xff // flip a bit in the transfer amount

	decoded, err := ledger.DecodeTransaction(raw)
	require.NoError(t, err)
	assert.Error(t, decoded.VerifySignatures())
}

func TestTransaction_signMissingSigner(t *testing.T) {
	payer, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	fresh, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	msg, err := ledger.CompileMessage(payer.PublicKey(), ledger.Hash{}, []ledger.Instruction{
		ledger.CreateAccountInstruction(payer.PublicKey(), fresh.PublicKey(), 1, 32, ledger.SystemProgramID),
	})
	require.NoError(t, err)
	tx := &ledger.Transaction{Message: msg}
	assert.Error(t, tx.Sign(payer))
}

func TestDecodeTransaction_rejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{nil, {0x01}, {0x00, 0x01, 0x00}} {
		_, err := ledger.DecodeTransaction(raw)
		assert.Error(t, err)
	}
}
