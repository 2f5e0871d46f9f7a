// Package solrpc is a minimal JSON-RPC 2.0 client for Solana-compatible
// ledger nodes. It implements ledger.Client and nothing more.
package solrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Alexovate/document-verifier/internal/ledger"
)

// DefaultURL is the JSON-RPC endpoint of a local test validator.
const DefaultURL = "http://localhost:8899"

// Config holds client configuration.
type Config struct {
	URL        string
	Commitment string        // default "confirmed"
	Timeout    time.Duration // per request, default 15s
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC over HTTP.
type Client struct {
	url        string
	commitment string
	httpClient *http.Client
	nextID     atomic.Uint64
}

var _ ledger.Client = (*Client)(nil)

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Commitment == "" {
		cfg.Commitment = ledger.CommitmentConfirmed
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		commitment: cfg.Commitment,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Close drops idle keep-alive connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call performs one JSON-RPC request and decodes result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request to %s: %w", method, c.url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		// Nodes report JSON-RPC errors with non-200 codes too; prefer the body.
		var r response
		if json.Unmarshal(raw, &r) == nil && r.Error != nil {
			return r.Error
		}
		return fmt.Errorf("%s: node returned status %d", method, resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if r.Error != nil {
		return r.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) commitmentOpt() map[string]any {
	return map[string]any{"commitment": c.commitment}
}

// GetBalance implements ledger.Client.
func (c *Client) GetBalance(ctx context.Context, account ledger.AccountID) (uint64, error) {
	var out struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{account.String(), c.commitmentOpt()}, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// RequestAirdrop implements ledger.Client.
func (c *Client) RequestAirdrop(ctx context.Context, account ledger.AccountID, lamports uint64) (ledger.TxRef, error) {
	var sig string
	if err := c.call(ctx, "requestAirdrop", []any{account.String(), lamports, c.commitmentOpt()}, &sig); err != nil {
		return ledger.TxRef{}, err
	}
	return ledger.ParseTxRef(sig)
}

// GetLatestBlockhash implements ledger.Client.
func (c *Client) GetLatestBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	var out struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", []any{c.commitmentOpt()}, &out); err != nil {
		return ledger.Blockhash{}, err
	}
	h, err := ledger.ParseHash(out.Value.Blockhash)
	if err != nil {
		return ledger.Blockhash{}, err
	}
	return ledger.Blockhash{Hash: h, LastValidBlockHeight: out.Value.LastValidBlockHeight}, nil
}

// GetBlockHeight implements ledger.Client.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getBlockHeight", []any{c.commitmentOpt()}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetMinimumBalanceForRentExemption implements ledger.Client.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, space uint64) (uint64, error) {
	var lamports uint64
	if err := c.call(ctx, "getMinimumBalanceForRentExemption", []any{space, c.commitmentOpt()}, &lamports); err != nil {
		return 0, err
	}
	return lamports, nil
}

// SendTransaction implements ledger.Client.
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (ledger.TxRef, error) {
	opts := map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
	}
	var sig string
	if err := c.call(ctx, "sendTransaction", []any{base64.StdEncoding.EncodeToString(raw), opts}, &sig); err != nil {
		return ledger.TxRef{}, err
	}
	return ledger.ParseTxRef(sig)
}

// GetSignatureStatus implements ledger.Client.
func (c *Client) GetSignatureStatus(ctx context.Context, ref ledger.TxRef) (*ledger.SignatureStatus, error) {
	var out struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			Err                json.RawMessage `json:"err"`
			ConfirmationStatus string          `json:"confirmationStatus"`
		} `json:"value"`
	}
	opts := map[string]any{"searchTransactionHistory": true}
	if err := c.call(ctx, "getSignatureStatuses", []any{[]string{ref.String()}, opts}, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}
	v := out.Value[0]
	status := &ledger.SignatureStatus{Slot: v.Slot, ConfirmationStatus: v.ConfirmationStatus}
	if len(v.Err) > 0 && string(v.Err) != "null" {
		status.Err = string(v.Err)
	}
	return status, nil
}

// GetAccountInfo implements ledger.Client.
func (c *Client) GetAccountInfo(ctx context.Context, account ledger.AccountID) (*ledger.AccountInfo, error) {
	var out struct {
		Value *struct {
			Lamports uint64   `json:"lamports"`
			Owner    string   `json:"owner"`
			Data     []string `json:"data"`
		} `json:"value"`
	}
	opts := map[string]any{"encoding": "base64", "commitment": c.commitment}
	if err := c.call(ctx, "getAccountInfo", []any{account.String(), opts}, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		return nil, nil
	}

	owner, err := ledger.ParseAccountID(out.Value.Owner)
	if err != nil {
		return nil, fmt.Errorf("account owner: %w", err)
	}
	info := &ledger.AccountInfo{Lamports: out.Value.Lamports, Owner: owner}
	if len(out.Value.Data) > 0 && out.Value.Data[0] != "" {
		if len(out.Value.Data) > 1 && out.Value.Data[1] != "base64" {
			return nil, fmt.Errorf("unexpected account data encoding %q", out.Value.Data[1])
		}
		data, err := base64.StdEncoding.DecodeString(out.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("decode account data: %w", err)
		}
		info.Data = data
	}
	return info, nil
}

// Health implements ledger.Client.
func (c *Client) Health(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return errors.New("node reports " + status)
	}
	return nil
}
