package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shaiso/Courier/internal/config"
)

func newAuthClient(t *testing.T, tokenURL string) *AuthClient {
	t.Helper()
	return NewAuthClient(map[string]config.APIConfig{
		"billing": {
			TokenURL:     tokenURL,
			ClientSecret: "s3cret",
		},
	})
}

func TestAuthClientIssueExpiresIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("expected grant_type=client_credentials, got %q", got)
		}
		if got := r.Form.Get("client_id"); got != "acc-1" {
			t.Errorf("expected client_id=acc-1, got %q", got)
		}
		if got := r.Form.Get("client_secret"); got != "s3cret" {
			t.Errorf("expected configured client_secret, got %q", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-abc",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	client := newAuthClient(t, srv.URL)

	cred, err := client.Issue(context.Background(), "billing", "acc-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if cred.Token != "tok-abc" {
		t.Errorf("expected token tok-abc, got %q", cred.Token)
	}

	ttl := cred.ExpiresAt.Sub(cred.IssuedAt)
	if ttl != time.Hour {
		t.Errorf("expected 1h ttl from expires_in, got %s", ttl)
	}
}

func TestAuthClientIssueExpiresAt(t *testing.T) {
	expiresAt := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-abc",
			"expires_at":   expiresAt.Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	client := newAuthClient(t, srv.URL)

	cred, err := client.Issue(context.Background(), "billing", "acc-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if !cred.ExpiresAt.Equal(expiresAt) {
		t.Errorf("expected expires_at %s, got %s", expiresAt, cred.ExpiresAt)
	}
}

func TestAuthClientIssueJWTExpFallback(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "acc-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Провайдер не присылает срок — только сам JWT.
		json.NewEncoder(w).Encode(map[string]any{"access_token": signed})
	}))
	defer srv.Close()

	client := newAuthClient(t, srv.URL)

	cred, err := client.Issue(context.Background(), "billing", "acc-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if cred.ExpiresAt.Unix() != exp.Unix() {
		t.Errorf("expected expiry from jwt exp claim %d, got %d", exp.Unix(), cred.ExpiresAt.Unix())
	}
}

func TestAuthClientIssueNoExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "opaque-token"})
	}))
	defer srv.Close()

	client := newAuthClient(t, srv.URL)

	if _, err := client.Issue(context.Background(), "billing", "acc-1"); err == nil {
		t.Fatal("expected error for opaque token without expiry")
	}
}

func TestAuthClientIssueUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newAuthClient(t, srv.URL)

	if _, err := client.Issue(context.Background(), "billing", "acc-1"); err == nil {
		t.Fatal("expected error for 401 from token endpoint")
	}
}

func TestAuthClientUnknownAPI(t *testing.T) {
	client := newAuthClient(t, "http://localhost:1")

	if _, err := client.Issue(context.Background(), "nope", "acc-1"); err == nil {
		t.Fatal("expected error for unknown api")
	}
}
