package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Alexovate/document-verifier/internal/anchor"
	"github.com/Alexovate/document-verifier/internal/commitstore"
	"github.com/Alexovate/document-verifier/internal/fingerprint"
	"github.com/Alexovate/document-verifier/internal/identity"
)

// DefaultMaxUploadBytes is the largest document accepted by default.
const DefaultMaxUploadBytes = 10 << 20

// allowedTypes are the content types accepted by POST /digest.
var allowedTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

var verifyMessages = map[anchor.Reason]string{
	anchor.ReasonNone:            "✅ Document is authentic (hash matches)",
	anchor.ReasonDigestMismatch:  "❌ Document has been tampered with (hash mismatch)",
	anchor.ReasonAccountNotFound: "❌ No anchor account exists at this address",
	anchor.ReasonDigestUnknown:   "❌ No hash is recorded for this account",
}

// documentSvc is the interface expected by DocumentHandler, satisfied by
// *anchor.Service.
type documentSvc interface {
	ComputeDigest(r io.Reader) (fingerprint.Digest, error)
	Anchor(ctx context.Context, hexDigest string) (anchor.Receipt, error)
	Verify(ctx context.Context, r io.Reader, accountID string) (anchor.Result, error)
	Commitment(ctx context.Context, accountID string) (commitstore.Record, error)
	Orphans() []anchor.Orphan
}

// DocumentHandler exposes fingerprinting, anchoring and verification over
// HTTP.
type DocumentHandler struct {
	svc       documentSvc
	tokens    *identity.TokenIssuer // nil = operator routes are open
	maxUpload int64
	logger    *zap.Logger
}

// NewDocumentHandler creates a DocumentHandler. tokens may be nil to leave
// the anchor and orphan routes unauthenticated.
func NewDocumentHandler(svc documentSvc, tokens *identity.TokenIssuer, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		svc:       svc,
		tokens:    tokens,
		maxUpload: DefaultMaxUploadBytes,
		logger:    logger,
	}
}

// SetMaxUploadBytes changes the document size limit.
func (h *DocumentHandler) SetMaxUploadBytes(n int64) {
	if n > 0 {
		h.maxUpload = n
	}
}

// Register mounts the document routes on the given router group.
func (h *DocumentHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/digest", h.Digest)
	rg.POST("/anchor", identity.RequireToken(h.tokens, identity.ScopeAnchor), h.Anchor)
	rg.POST("/verify", h.Verify)
	rg.GET("/commitments/:account", h.GetCommitment)
	rg.GET("/orphans", identity.RequireToken(h.tokens, identity.ScopeOrphans), h.ListOrphans)
}

// Digest handles POST /digest: fingerprints an uploaded document.
func (h *DocumentHandler) Digest(c *gin.Context) {
	fh, problem := h.formFile(c)
	if problem != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": problem})
		return
	}
	fileType := fh.Header.Get("Content-Type")
	if !allowedTypes[fileType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type. Allowed: PDF, PNG, JPG, DOCX"})
		return
	}

	digest, ok := h.digestFile(c, fh)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hash":     digest.String(),
		"fileName": fh.Filename,
		"fileSize": fh.Size,
		"fileType": fileType,
	})
}

type anchorRequest struct {
	Hash string `json:"hash"`
}

// Anchor handles POST /anchor: commits a digest to the ledger.
func (h *DocumentHandler) Anchor(c *gin.Context) {
	var req anchorRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Hash) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Hash is required"})
		return
	}
	if _, err := fingerprint.ParseHex(req.Hash); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hash format"})
		return
	}

	receipt, err := h.svc.Anchor(c.Request.Context(), req.Hash)
	if err != nil {
		h.anchorError(c, receipt, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"account":      receipt.AccountID.String(),
		"signature":    receipt.TxRef.String(),
		"operation_id": receipt.OperationID,
	})
}

func (h *DocumentHandler) anchorError(c *gin.Context, receipt anchor.Receipt, err error) {
	switch {
	case errors.Is(err, anchor.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hash format"})
	case errors.Is(err, anchor.ErrInsufficientResources):
		h.logger.Error("anchor: payer funding failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger payer has insufficient funds"})
	case errors.Is(err, anchor.ErrWriteFailed):
		h.logger.Error("anchor: ledger write failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "ledger write failed"})
	case errors.Is(err, anchor.ErrPersistenceFailed):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":        "document anchored but not indexed; reported for reconciliation",
			"account":      receipt.AccountID.String(),
			"signature":    receipt.TxRef.String(),
			"operation_id": receipt.OperationID,
		})
	default:
		h.logger.Error("anchor: unexpected error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store hash"})
	}
}

// Verify handles POST /verify: checks an uploaded document against the
// digest anchored at accountAddress.
func (h *DocumentHandler) Verify(c *gin.Context) {
	fh, problem := h.formFile(c)
	account := strings.TrimSpace(c.PostForm("accountAddress"))
	if problem != "" {
		verifyFailure(c, http.StatusBadRequest, account, anchor.Result{}, reasonInvalidInput, problem)
		return
	}
	if account == "" {
		verifyFailure(c, http.StatusBadRequest, account, anchor.Result{}, reasonInvalidInput, "Account address is required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("open uploaded file", zap.Error(err))
		verifyFailure(c, http.StatusInternalServerError, account, anchor.Result{}, reasonLookupFailed, "Failed to verify document")
		return
	}
	defer f.Close()

	res, err := h.svc.Verify(c.Request.Context(), f, account)
	if err != nil {
		if errors.Is(err, anchor.ErrInvalidInput) {
			verifyFailure(c, http.StatusBadRequest, account, res, reasonInvalidInput, "Invalid verification request")
			return
		}
		h.logger.Error("verify failed", zap.String("account_id", account), zap.Error(err))
		verifyFailure(c, http.StatusBadGateway, account, res, reasonLookupFailed, "Failed to verify document")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"match":          res.Match,
		"hash":           res.Digest.String(),
		"accountAddress": account,
		"reason":         string(res.Reason),
		"message":        verifyMessages[res.Reason],
	})
}

// Reasons for a verification that could not be carried out.
const (
	reasonInvalidInput = "invalid_input"
	reasonLookupFailed = "lookup_failed"
)

// verifyFailure writes a non-matching verification body. The hash is only
// present when the document was fingerprinted.
func verifyFailure(c *gin.Context, status int, account string, res anchor.Result, reason, message string) {
	body := gin.H{
		"match":          false,
		"accountAddress": account,
		"reason":         reason,
		"message":        message,
		"error":          message,
	}
	if !res.Digest.IsZero() {
		body["hash"] = res.Digest.String()
	}
	c.JSON(status, body)
}

// GetCommitment handles GET /commitments/:account: returns the indexed
// record for an account.
func (h *DocumentHandler) GetCommitment(c *gin.Context) {
	rec, err := h.svc.Commitment(c.Request.Context(), c.Param("account"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, rec)
	case errors.Is(err, anchor.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account address"})
	case errors.Is(err, commitstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "commitment not found"})
	default:
		h.logger.Error("commitment lookup", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to query commitment store"})
	}
}

// ListOrphans handles GET /orphans: returns the orphan journal.
func (h *DocumentHandler) ListOrphans(c *gin.Context) {
	orphans := h.svc.Orphans()
	c.JSON(http.StatusOK, gin.H{
		"orphans": orphans,
		"count":   len(orphans),
	})
}

// formFile reads the "file" part, enforcing the upload limit. On failure it
// returns a client-facing message instead of the header.
func (h *DocumentHandler) formFile(c *gin.Context) (*multipart.FileHeader, string) {
	// Leave room for the multipart envelope and other fields.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, h.tooLargeMessage()
		}
		return nil, "No file provided"
	}
	if fh.Size > h.maxUpload {
		return nil, h.tooLargeMessage()
	}
	return fh, ""
}

func (h *DocumentHandler) digestFile(c *gin.Context, fh *multipart.FileHeader) (fingerprint.Digest, bool) {
	f, err := fh.Open()
	if err != nil {
		h.logger.Error("open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return fingerprint.Digest{}, false
	}
	defer f.Close()

	digest, err := h.svc.ComputeDigest(f)
	if err != nil {
		h.logger.Error("digest uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return fingerprint.Digest{}, false
	}
	return digest, true
}

func (h *DocumentHandler) tooLargeMessage() string {
	return fmt.Sprintf("File too large. Maximum size: %dMB", h.maxUpload>>20)
}
