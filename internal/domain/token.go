// Package domain holds the shared data model owned exclusively by the
// Orchestrator: TokenSet/AuthState, Config, ProcessRecord, TunnelState,
// and TrayState. No component other than the one documented as its
// owner mutates these types.
package domain

import "time"

// expirySkew is the fixed skew applied to TokenSet.ExpiresAt: a token
// with less than this much time left is treated as expired for
// request-time checks.
const expirySkew = 5 * time.Minute

// TokenSet is the credential bundle obtained from the OpenAI OAuth
// token endpoint and persisted at <home>/.mindlink/auth.json.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
	AccountID    string    `json:"account_id"`
}

// legacyTokenSet is the pre-migration on-disk shape: no token_type,
// id_token, or account_id fields. Accepted on read, never written.
type legacyTokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired reports whether the token set should be treated as expired
// for a request made at `now`, applying the 5-minute skew.
func (t TokenSet) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Sub(now) < expirySkew
}

// AuthState owns at most one TokenSet at a time.
type AuthState struct {
	Token *TokenSet
}
