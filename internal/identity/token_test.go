package identity_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Alexovate/document-verifier/internal/identity"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer(testSecret, "docanchor", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error: %v", err)
	}
	return ti
}

func TestNewTokenIssuer_shortSecret(t *testing.T) {
	if _, err := identity.NewTokenIssuer([]byte("short"), "docanchor", time.Hour); err == nil {
		t.Error("expected error for short secret, got nil")
	}
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("ops@example.com", []string{identity.ScopeAnchor})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	if _, err := ti.Issue("", nil); err == nil {
		t.Error("expected error for empty subject, got nil")
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("ops@example.com", []string{identity.ScopeAnchor})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "ops@example.com" {
		t.Errorf("Subject: got %q, want %q", claims.Subject, "ops@example.com")
	}
	if claims.ID == "" {
		t.Error("expected a token ID")
	}
	if !identity.HasScope(claims, identity.ScopeAnchor) {
		t.Error("HasScope(anchor) should be true")
	}
	if identity.HasScope(claims, identity.ScopeOrphans) {
		t.Error("HasScope(orphans) should be false")
	}
	if identity.HasScope(nil, identity.ScopeAnchor) {
		t.Error("HasScope(nil, ...) should be false")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.IssueWithTTL("ops", nil, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	ti := newTestTokenIssuer(t)
	other, err := identity.NewTokenIssuer([]byte("ffffffffffffffffffffffffffffffff"), "docanchor", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	token, _ := other.Issue("ops", nil)
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for foreign signature, got nil")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	a, _ := identity.NewTokenIssuer(testSecret, "registry-a", time.Hour)
	b, _ := identity.NewTokenIssuer(testSecret, "registry-b", time.Hour)

	token, _ := a.Issue("ops", nil)
	if _, err := b.Verify(token); err == nil {
		t.Error("expected error for wrong issuer, got nil")
	}
}

func TestTokenIssuer_Verify_noneAlgorithm(t *testing.T) {
	ti := newTestTokenIssuer(t)
	// {"alg":"none","typ":"JWT"} . {"iss":"docanchor","sub":"ops","exp":9999999999} .
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
		"eyJpc3MiOiJkb2NhbmNob3IiLCJzdWIiOiJvcHMiLCJleHAiOjk5OTk5OTk5OTl9."
	if _, err := ti.Verify(unsigned); err == nil {
		t.Error("expected error for alg=none token, got nil")
	}
}

func setupProtectedRouter(t *testing.T, ti *identity.TokenIssuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", identity.RequireToken(ti, identity.ScopeAnchor), func(c *gin.Context) {
		claims := identity.ClaimsFromCtx(c)
		sub := ""
		if claims != nil {
			sub = claims.Subject
		}
		c.JSON(http.StatusOK, gin.H{"subject": sub})
	})
	return r
}

func TestRequireToken(t *testing.T) {
	ti := newTestTokenIssuer(t)
	router := setupProtectedRouter(t, ti)

	good, _ := ti.Issue("ops", []string{identity.ScopeAnchor})
	unscoped, _ := ti.Issue("ops", []string{identity.ScopeOrphans})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"wrong scope", "Bearer " + unscoped, http.StatusForbidden},
		{"valid", "Bearer " + good, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRequireToken_disabled(t *testing.T) {
	router := setupProtectedRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", w.Code)
	}
}
