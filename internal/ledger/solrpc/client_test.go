package solrpc_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Alexovate/document-verifier/internal/ledger"
	"github.com/Alexovate/document-verifier/internal/ledger/simledger"
	"github.com/Alexovate/document-verifier/internal/ledger/solrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

// fakeNode serves the JSON-RPC methods the client uses from a simulated
// ledger, encoding results the way a real node does.
func fakeNode(t *testing.T, sim *simledger.Ledger) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		str := func(i int) string {
			var s string
			_ = json.Unmarshal(req.Params[i], &s)
			return s
		}
		acct := func(i int) ledger.AccountID {
			id, err := ledger.ParseAccountID(str(i))
			require.NoError(t, err)
			return id
		}

		var result any
		var rpcErr *solrpc.RPCError
		switch req.Method {
		case "getBalance":
			bal, _ := sim.GetBalance(r.Context(), acct(0))
			result = map[string]any{"context": map[string]any{"slot": 1}, "value": bal}
		case "requestAirdrop":
			var lamports uint64
			_ = json.Unmarshal(req.Params[1], &lamports)
			ref, err := sim.RequestAirdrop(r.Context(), acct(0), lamports)
			if err != nil {
				rpcErr = &solrpc.RPCError{Code: -32600, Message: err.Error()}
				break
			}
			result = ref.String()
		case "getLatestBlockhash":
			bh, _ := sim.GetLatestBlockhash(r.Context())
			result = map[string]any{"value": map[string]any{
				"blockhash":            bh.Hash.String(),
				"lastValidBlockHeight": bh.LastValidBlockHeight,
			}}
		case "getBlockHeight":
			h, _ := sim.GetBlockHeight(r.Context())
			result = h
		case "getMinimumBalanceForRentExemption":
			var space uint64
			_ = json.Unmarshal(req.Params[0], &space)
			result, _ = sim.GetMinimumBalanceForRentExemption(r.Context(), space)
		case "sendTransaction":
			raw, err := base64.StdEncoding.DecodeString(str(0))
			require.NoError(t, err)
			ref, err := sim.SendTransaction(r.Context(), raw)
			if err != nil {
				rpcErr = &solrpc.RPCError{Code: -32002, Message: err.Error()}
				break
			}
			result = ref.String()
		case "getSignatureStatuses":
			var sigs []string
			_ = json.Unmarshal(req.Params[0], &sigs)
			ref, err := ledger.ParseTxRef(sigs[0])
			require.NoError(t, err)
			st, _ := sim.GetSignatureStatus(r.Context(), ref)
			if st == nil {
				result = map[string]any{"value": []any{nil}}
				break
			}
			var errField any
			if st.Err != "" {
				errField = map[string]any{"InstructionError": st.Err}
			}
			result = map[string]any{"value": []any{map[string]any{
				"slot":               st.Slot,
				"err":                errField,
				"confirmationStatus": st.ConfirmationStatus,
			}}}
		case "getAccountInfo":
			info, _ := sim.GetAccountInfo(r.Context(), acct(0))
			if info == nil {
				result = map[string]any{"value": nil}
				break
			}
			result = map[string]any{"value": map[string]any{
				"lamports": info.Lamports,
				"owner":    info.Owner.String(),
				"data":     []string{base64.StdEncoding.EncodeToString(info.Data), "base64"},
			}}
		case "getHealth":
			result = "ok"
		default:
			rpcErr = &solrpc.RPCError{Code: -32601, Message: "Method not found"}
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_gatewayRoundTrip(t *testing.T) {
	sim, err := simledger.New(simledger.Config{}, zap.NewNop())
	require.NoError(t, err)
	srv := fakeNode(t, sim)
	defer srv.Close()

	client := solrpc.New(solrpc.Config{URL: srv.URL})
	defer client.Close()

	require.NoError(t, client.Health(ctx))

	payer, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	gw := ledger.New(client, payer, ledger.Config{
		AllowAirdrop:   true,
		PollInterval:   time.Millisecond,
		ConfirmTimeout: 2 * time.Second,
	}, zap.NewNop())

	require.NoError(t, gw.EnsureFunded(ctx))
	id, ref, err := gw.CreateAccount(ctx, 32, nil)
	require.NoError(t, err)
	assert.False(t, ref.IsZero())

	exists, err := gw.AccountExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	stranger, err := ledger.GenerateKeypair()
	require.NoError(t, err)
	exists, err = gw.AccountExists(ctx, stranger.PublicKey())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_surfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"Node is behind"}}`))
	}))
	defer srv.Close()

	client := solrpc.New(solrpc.Config{URL: srv.URL})
	err := client.Health(ctx)

	var rpcErr *solrpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32005, rpcErr.Code)
}

func TestClient_transportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := solrpc.New(solrpc.Config{URL: srv.URL, Timeout: time.Second})
	_, err := client.GetAccountInfo(ctx, ledger.SystemProgramID)
	assert.Error(t, err)
}

func TestClient_nullSignatureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":5},"value":[null]}}`))
	}))
	defer srv.Close()

	client := solrpc.New(solrpc.Config{URL: srv.URL})
	st, err := client.GetSignatureStatus(ctx, ledger.TxRef{1})
	require.NoError(t, err)
	assert.Nil(t, st)
}
