package ledger_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSignerFromBase58(t *testing.T) {
	kp, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	loaded, err := ledger.LoadSignerFromBase58(base58.Encode(kp.Secret()))
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), loaded.PublicKey())

	_, err = ledger.LoadSignerFromBase58(base58.Encode([]byte("short")))
	assert.Error(t, err)
}

func TestLoadSignerFile_jsonArray(t *testing.T) {
	kp, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	ints := make([]int, 0, 64)
	for _, b := range kp.Secret() {
		ints = append(ints, int(b))
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := ledger.LoadSignerFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), loaded.PublicKey())
}

func TestSealKeyfile_roundTrip(t *testing.T) {
	kp, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	sealed, err := ledger.SealKeyfile(kp, "correct horse")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "payer.key")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	loaded, err := ledger.LoadSignerFile(path, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), loaded.PublicKey())

	_, err = ledger.LoadSignerFile(path, "wrong")
	assert.Error(t, err)

	_, err = ledger.LoadSignerFile(path, "")
	assert.Error(t, err)
}

func TestKeypairFromSecret_mismatchedHalves(t *testing.T) {
	a, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	b, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	mixed := append(a.Secret()[:32], b.Secret()[32:]...)
	_, err = ledger.KeypairFromSecret(mixed)
	assert.Error(t, err)
}
