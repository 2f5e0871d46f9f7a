package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response carrying the server's error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// DigestResult is the response of POST /digest.
type DigestResult struct {
	Hash     string `json:"hash"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

// Receipt is the response of POST /anchor.
type Receipt struct {
	Success     bool   `json:"success"`
	Account     string `json:"account"`
	Signature   string `json:"signature"`
	OperationID string `json:"operation_id"`
}

// VerifyResult is the response of POST /verify.
type VerifyResult struct {
	Match          bool   `json:"match"`
	Hash           string `json:"hash"`
	AccountAddress string `json:"accountAddress"`
	Reason         string `json:"reason"`
	Message        string `json:"message"`
}

// Commitment is an indexed anchor record.
type Commitment struct {
	Account   string    `json:"account"`
	Hash      string    `json:"hash"`
	Signature string    `json:"signature,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Orphan is a ledger account the server could not index.
type Orphan struct {
	Account     string    `json:"account"`
	Hash        string    `json:"hash"`
	Signature   string    `json:"signature"`
	OperationID string    `json:"operation_id"`
	Source      string    `json:"source"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Client talks to the anchoring API.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	cache       *commitmentCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an operator token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCacheTTL enables in-memory caching of Commitment lookups.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL must be positive, got %v", ttl)
		}
		c.cache = newCommitmentCache(ttl)
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Digest uploads a document and returns its fingerprint. contentType must
// be one the server accepts (PDF, PNG, JPEG, DOCX).
func (c *Client) Digest(ctx context.Context, fileName, contentType string, r io.Reader) (*DigestResult, error) {
	body, ct, err := uploadBody(fileName, contentType, r, nil)
	if err != nil {
		return nil, err
	}
	var out DigestResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/digest", ct, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Anchor commits a hex digest to the ledger.
func (c *Client) Anchor(ctx context.Context, hash string) (*Receipt, error) {
	payload, err := json.Marshal(map[string]string{"hash": hash})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var out Receipt
	if err := c.call(ctx, http.MethodPost, "/api/v1/anchor", "application/json", bytes.NewReader(payload), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify uploads a document and checks it against the digest anchored at
// account.
func (c *Client) Verify(ctx context.Context, fileName string, r io.Reader, account string) (*VerifyResult, error) {
	body, ct, err := uploadBody(fileName, "application/octet-stream", r, map[string]string{"accountAddress": account})
	if err != nil {
		return nil, err
	}
	var out VerifyResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/verify", ct, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commitment returns the indexed record for account, or ErrNotFound.
func (c *Client) Commitment(ctx context.Context, account string) (*Commitment, error) {
	if c.cache != nil {
		if rec, ok := c.cache.get(account); ok {
			return rec, nil
		}
	}
	var out Commitment
	if err := c.call(ctx, http.MethodGet, "/api/v1/commitments/"+url.PathEscape(account), "", nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(account, &out)
	}
	return &out, nil
}

// Orphans returns the server's orphan journal. Requires an operator token
// when auth is enabled.
func (c *Client) Orphans(ctx context.Context) ([]Orphan, error) {
	var out struct {
		Orphans []Orphan `json:"orphans"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/orphans", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Orphans, nil
}

func (c *Client) call(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

// uploadBody buffers a multipart form with a "file" part and extra fields.
func uploadBody(fileName, contentType string, r io.Reader, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("read document: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// --- simple in-memory commitment cache ---

type cacheEntry struct {
	rec       *Commitment
	expiresAt time.Time
}

type commitmentCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newCommitmentCache(ttl time.Duration) *commitmentCache {
	return &commitmentCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

func (c *commitmentCache) get(key string) (*Commitment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.rec, true
}

func (c *commitmentCache) set(key string, rec *Commitment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{rec: rec, expiresAt: time.Now().Add(c.ttl)}
}
