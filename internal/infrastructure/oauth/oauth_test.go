package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mindlink-dev/mindlink/internal/domain"
)

type memStore struct {
	token *domain.TokenSet
}

func (m *memStore) LoadToken() (*domain.TokenSet, error) { return m.token, nil }
func (m *memStore) SaveToken(t *domain.TokenSet) error    { m.token = t; return nil }

func fakeIDToken(t *testing.T, accountID string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload, err := json.Marshal(map[string]any{accountClaim: accountID})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return strings.Join([]string{header, body, ""}, ".")
}

func TestExtractAccountID(t *testing.T) {
	token := fakeIDToken(t, "acct_123")
	id, err := extractAccountID(token)
	if err != nil {
		t.Fatalf("extractAccountID() error = %v", err)
	}
	if id != "acct_123" {
		t.Errorf("extractAccountID() = %q, want acct_123", id)
	}
}

func TestExtractAccountIDMissingClaim(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{}`))
	token := header + "." + payload + "."
	if _, err := extractAccountID(token); err == nil {
		t.Fatal("expected error when account claim is missing")
	}
}

func TestExtractAccountIDNotAJWT(t *testing.T) {
	if _, err := extractAccountID("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed JWT")
	}
}

func TestRefreshRetainsExistingIDTokenWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access","expires_in":3600}`)
	}))
	defer srv.Close()

	store := &memStore{}
	c := New(store, nil, zaptest.NewLogger(t), WithEndpoints(srv.URL+"/authorize", srv.URL+"/token"))

	current := &domain.TokenSet{
		AccessToken:  "old-access",
		RefreshToken: "refresh-abc",
		IDToken:      fakeIDToken(t, "acct_999"),
		AccountID:    "acct_999",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	next, err := c.Refresh(context.Background(), current)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if next.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", next.AccessToken)
	}
	if next.RefreshToken != "refresh-abc" {
		t.Errorf("RefreshToken = %q, want refresh-abc (retained)", next.RefreshToken)
	}
	if next.IDToken != current.IDToken {
		t.Errorf("IDToken = %q, want the existing ID token (retained)", next.IDToken)
	}
	if next.AccountID != "acct_999" {
		t.Errorf("AccountID = %q, want acct_999 (retained)", next.AccountID)
	}
	if store.token != next {
		t.Error("expected refreshed token to be persisted")
	}
}

func TestEnsureValidReturnsUnexpiredTokenWithoutNetworkCall(t *testing.T) {
	store := &memStore{token: &domain.TokenSet{
		AccessToken: "still-good",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	c := New(store, nil, zaptest.NewLogger(t))

	got, err := c.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if got.AccessToken != "still-good" {
		t.Errorf("AccessToken = %q, want still-good", got.AccessToken)
	}
}
