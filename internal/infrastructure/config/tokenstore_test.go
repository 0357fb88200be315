package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mindlink-dev/mindlink/internal/domain"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ts := NewTokenStore(dir)

	got, err := ts.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() on empty dir error = %v", err)
	}
	if got != nil {
		t.Fatal("expected nil token when auth.json does not exist")
	}

	want := &domain.TokenSet{
		AccessToken:  "abc",
		RefreshToken: "refresh",
		IDToken:      "idtok",
		TokenType:    "Bearer",
		AccountID:    "acct_1",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Round(time.Second),
	}
	if err := ts.SaveToken(want); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	got, err = ts.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || got.AccountID != want.AccountID {
		t.Errorf("LoadToken() = %+v, want %+v", got, want)
	}
}

func TestTokenStoreMigratesLegacyShape(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"access_token":"old-token","refresh_token":"old-refresh","expires_at":"2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, authFileName), []byte(legacy), 0o600); err != nil {
		t.Fatalf("write legacy auth.json: %v", err)
	}

	ts := NewTokenStore(dir)
	got, err := ts.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got.AccessToken != "old-token" {
		t.Errorf("AccessToken = %q, want old-token", got.AccessToken)
	}
	if got.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer (filled in on migration)", got.TokenType)
	}

	raw, err := os.ReadFile(filepath.Join(dir, authFileName))
	if err != nil {
		t.Fatalf("read rewritten auth.json: %v", err)
	}
	if !strings.Contains(string(raw), `"token_type"`) {
		t.Error("expected rewritten auth.json to include token_type in the current shape")
	}
}
