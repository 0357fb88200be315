package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mindlink-dev/mindlink/internal/domain"
	apperrors "github.com/mindlink-dev/mindlink/pkg/errors"
)

const authFileName = "auth.json"

// TokenStore persists the OAuth Client's TokenSet at auth.json,
// accepting the pre-migration shape on read and always writing the
// current shape back.
type TokenStore struct {
	mu   sync.Mutex
	path string
}

// NewTokenStore builds a TokenStore rooted at dir (typically the
// Config Store's directory).
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{path: filepath.Join(dir, authFileName)}
}

// LoadToken returns nil, nil if no token has ever been saved.
func (t *TokenStore) LoadToken() (*domain.TokenSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.FileIOError(t.path, "read", err)
	}

	var ts domain.TokenSet
	if err := json.Unmarshal(data, &ts); err == nil && ts.AccessToken != "" && ts.TokenType != "" {
		return &ts, nil
	}

	var legacy struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ExpiresAt    time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, "parse auth.json", err)
	}
	migrated := domain.TokenSet{
		AccessToken:  legacy.AccessToken,
		RefreshToken: legacy.RefreshToken,
		ExpiresAt:    legacy.ExpiresAt,
		TokenType:    "Bearer",
	}
	if err := t.saveLocked(&migrated); err != nil {
		return nil, err
	}
	return &migrated, nil
}

// SaveToken writes ts in the current shape.
func (t *TokenStore) SaveToken(ts *domain.TokenSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked(ts)
}

func (t *TokenStore) saveLocked(ts *domain.TokenSet) error {
	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfiguration, "marshal token set", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.FileIOError(tmp, "write", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return apperrors.FileIOError(t.path, "rename", err)
	}
	return nil
}
