package commitstore_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexovate/document-verifier/internal/commitstore"
	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/ledger"
)

var ctx = context.Background()

// harness opens a fresh, empty store. seed is called before each Put so
// backends that read from the ledger can see the digest; it may be nil.
type harness struct {
	open  func(t *testing.T) commitstore.Store
	seed  func(rec commitstore.Record)
	audit bool // store keeps TxRef and CreatedAt
}

func newRecord(t *testing.T, content string) commitstore.Record {
	t.Helper()
	kp, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	var ref ledger.TxRef
	copy(ref[:], fingerprint.Sum([]byte("sig:"+content)).Bytes())
	return commitstore.Record{
		AccountID: kp.PublicKey(),
		Digest:    fingerprint.Sum([]byte(content)),
		TxRef:     ref,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (h harness) put(t *testing.T, s commitstore.Store, rec commitstore.Record) error {
	t.Helper()
	if h.seed != nil {
		h.seed(rec)
	}
	return s.Put(ctx, rec)
}

func runContract(t *testing.T, h harness) {
	t.Run("get unknown", func(t *testing.T) {
		s := h.open(t)
		_, err := s.Get(ctx, newRecord(t, "nobody").AccountID)
		assert.ErrorIs(t, err, commitstore.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := h.open(t)
		rec := newRecord(t, "alpha")
		require.NoError(t, h.put(t, s, rec))
		require.NoError(t, s.Reload(ctx))

		got, err := s.Get(ctx, rec.AccountID)
		require.NoError(t, err)
		assert.Equal(t, rec.AccountID, got.AccountID)
		assert.Equal(t, rec.Digest, got.Digest)
		if h.audit {
			assert.Equal(t, rec.TxRef, got.TxRef)
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, rec.CreatedAt)
		}
	})

	t.Run("duplicate key keeps first record", func(t *testing.T) {
		s := h.open(t)
		rec := newRecord(t, "first")
		require.NoError(t, h.put(t, s, rec))

		err := s.Put(ctx, rec)
		assert.ErrorIs(t, err, commitstore.ErrDuplicateKey)

		got, err := s.Get(ctx, rec.AccountID)
		require.NoError(t, err)
		assert.Equal(t, rec.Digest, got.Digest)
	})

	t.Run("list preserves insertion order", func(t *testing.T) {
		s := h.open(t)
		var want []ledger.AccountID
		for i := 0; i < 3; i++ {
			rec := newRecord(t, fmt.Sprintf("doc-%d", i))
			require.NoError(t, h.put(t, s, rec))
			want = append(want, rec.AccountID)
		}
		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, rec := range list {
			assert.Equal(t, want[i], rec.AccountID)
		}
	})

	t.Run("concurrent distinct puts", func(t *testing.T) {
		s := h.open(t)
		const n = 16
		recs := make([]commitstore.Record, n)
		for i := range recs {
			recs[i] = newRecord(t, fmt.Sprintf("concurrent-%d", i))
			if h.seed != nil {
				h.seed(recs[i])
			}
		}

		var wg sync.WaitGroup
		for _, rec := range recs {
			wg.Add(1)
			go func(rec commitstore.Record) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, rec))
			}(rec)
		}
		wg.Wait()

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, n)
		for _, rec := range recs {
			got, err := s.Get(ctx, rec.AccountID)
			require.NoError(t, err)
			assert.Equal(t, rec.Digest, got.Digest)
		}
	})

	t.Run("concurrent same-key puts admit one", func(t *testing.T) {
		s := h.open(t)
		rec := newRecord(t, "contended")
		if h.seed != nil {
			h.seed(rec)
		}

		var ok, dup atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				switch err := s.Put(ctx, rec); {
				case err == nil:
					ok.Add(1)
				case assert.ErrorIs(t, err, commitstore.ErrDuplicateKey):
					dup.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(7), dup.Load())
	})
}
