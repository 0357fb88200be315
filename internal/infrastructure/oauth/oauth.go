// Package oauth implements the PKCE authorization-code flow against
// the upstream ChatGPT auth server: a loopback callback server,
// browser-driven authorization, token exchange, refresh, and
// structural (unverified) extraction of the account id claim from the
// returned ID token.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/pkg/errors"
)

const (
	authorizeURL = "https://auth.openai.com/oauth/authorize"
	tokenURL     = "https://auth.openai.com/oauth/token"
	clientID     = "app_EMoamEEZ73f0CkXaXp7hrann"
	scope        = "openid profile email offline_access"

	// LoopbackPort is fixed: the upstream authorization server only
	// accepts this exact redirect port. Do not make this configurable.
	LoopbackPort = 1455

	callbackTimeout = 300 * time.Second
	accountClaim    = "https://api.openai.com/auth.chatgpt_account_id"
)

// OpenBrowser abstracts launching the system browser so tests and
// headless environments can substitute a no-op or capturing stub.
type OpenBrowser func(url string) error

// Client drives the login/refresh/ensure-valid protocol and persists
// the resulting TokenSet through Store.
type Client struct {
	httpClient   *http.Client
	openBrowser  OpenBrowser
	store        TokenStore
	log          *zap.Logger
	authorizeURL string
	tokenURL     string

	mu    sync.Mutex
	state *domain.AuthState
}

// Option customizes a Client at construction; WithEndpoints exists
// for tests that substitute an httptest server for the real upstream.
type Option func(*Client)

// WithEndpoints overrides the authorize/token URLs.
func WithEndpoints(authorize, token string) Option {
	return func(c *Client) {
		c.authorizeURL = authorize
		c.tokenURL = token
	}
}

// TokenStore is the minimal persistence contract the OAuth client
// needs; internal/infrastructure/config.TokenStore satisfies it and is
// passed in directly by cmd/mindlinkd.
type TokenStore interface {
	LoadToken() (*domain.TokenSet, error)
	SaveToken(*domain.TokenSet) error
}

// New builds a Client. openBrowser may be nil, in which case login
// only logs the authorization URL for manual handling.
func New(store TokenStore, openBrowser OpenBrowser, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		openBrowser:  openBrowser,
		store:        store,
		log:          log,
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// pkce holds one login attempt's verifier/challenge/state triple.
type pkce struct {
	verifier  string
	challenge string
	state     string
}

func newPKCE() (pkce, error) {
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return pkce{}, err
	}
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return pkce{}, err
	}
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	state := base64.RawURLEncoding.EncodeToString(stateBytes)
	return pkce{verifier: verifier, challenge: challenge, state: state}, nil
}

// Login runs the full interactive PKCE flow and persists the result.
func (c *Client) Login(ctx context.Context) (*domain.TokenSet, error) {
	p, err := newPKCE()
	if err != nil {
		return nil, errors.Wrap(errors.KindAuthentication, "generate PKCE parameters", err)
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", LoopbackPort)}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != p.state {
			errCh <- errors.New(errors.KindAuthentication, "authorization state mismatch")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if reason := q.Get("error"); reason != "" {
			errCh <- errors.New(errors.KindAuthentication, "authorization rejected: "+reason).WithRecoverable(true)
			http.Error(w, reason, http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			errCh <- errors.New(errors.KindAuthentication, "authorization callback missing code")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "<html><body>Login complete — you may close this tab.</body></html>")
		codeCh <- code
	})
	srv.Handler = mux

	listener, err := newListener(srv.Addr)
	if err != nil {
		return nil, errors.Wrap(errors.KindAuthentication, "bind loopback callback listener", err).WithRecoverable(true)
	}

	go func() {
		_ = srv.Serve(listener)
	}()
	defer srv.Close()

	authURL := c.buildAuthorizeURL(p)
	if c.openBrowser != nil {
		if err := c.openBrowser(authURL); err != nil {
			c.log.Warn("failed to open browser automatically, emitting URL for manual handling", zap.String("url", authURL), zap.Error(err))
		}
	} else {
		c.log.Info("open this URL to authenticate", zap.String("url", authURL))
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-time.After(callbackTimeout):
		return nil, errors.New(errors.KindAuthentication, "timed out waiting for authorization callback").WithRecoverable(true)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tokens, err := c.exchangeCode(ctx, code, p.verifier)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveToken(tokens); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.state = &domain.AuthState{Token: tokens}
	c.mu.Unlock()
	return tokens, nil
}

func (c *Client) buildAuthorizeURL(p pkce) string {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", fmt.Sprintf("http://localhost:%d/auth/callback", LoopbackPort))
	v.Set("scope", scope)
	v.Set("state", p.state)
	v.Set("code_challenge", p.challenge)
	v.Set("code_challenge_method", "S256")
	v.Set("id_token_add_organizations", "true")
	v.Set("codex_cli_simplified_flow", "true")
	return c.authorizeURL + "?" + v.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", clientID)
	form.Set("code", code)
	form.Set("redirect_uri", fmt.Sprintf("http://localhost:%d/auth/callback", LoopbackPort))
	form.Set("code_verifier", verifier)

	resp, err := c.postForm(ctx, form)
	if err != nil {
		return nil, err
	}

	accountID, err := extractAccountID(resp.IDToken)
	if err != nil {
		return nil, err
	}

	expiresIn := resp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
		c.log.Info("token response omitted expires_in, using the 3600s default")
	}

	return &domain.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
		AccountID:    accountID,
	}, nil
}

// Refresh exchanges the current refresh token for a new access token,
// retaining the id token and account id if the response omits them.
func (c *Client) Refresh(ctx context.Context, current *domain.TokenSet) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", clientID)
	form.Set("refresh_token", current.RefreshToken)

	resp, err := c.postForm(ctx, form)
	if err != nil {
		return nil, errors.Wrap(errors.KindAuthentication, "refresh access token", err).WithRecoverable(true)
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}
	idToken := resp.IDToken
	accountID := current.AccountID
	if idToken == "" {
		idToken = current.IDToken
	} else if acc, err := extractAccountID(idToken); err == nil {
		accountID = acc
	}

	expiresIn := resp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
		c.log.Info("refresh response omitted expires_in, using the 3600s default")
	}

	next := &domain.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
		AccountID:    accountID,
	}
	if err := c.store.SaveToken(next); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.state = &domain.AuthState{Token: next}
	c.mu.Unlock()
	return next, nil
}

func (c *Client) postForm(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, "call token endpoint", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, errors.Wrap(errors.KindAuthentication, "decode token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.KindAuthentication, fmt.Sprintf("token endpoint returned %s", resp.Status)).WithRecoverable(true)
	}
	return &tr, nil
}

// extractAccountID parses the ID token's payload segment without
// verifying its signature or any time claim — by design, since the
// server that just minted it is inherently trusted in this flow — and
// returns the account-id claim, failing only if the claim is absent.
func extractAccountID(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", errors.New(errors.KindAuthentication, "ID token is not a well-formed JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.Wrap(errors.KindAuthentication, "decode ID token payload", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", errors.Wrap(errors.KindAuthentication, "parse ID token claims", err)
	}
	raw, ok := claims[accountClaim]
	if !ok {
		return "", errors.New(errors.KindAuthentication, "ID token missing chatgpt_account_id claim")
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", errors.New(errors.KindAuthentication, "ID token missing chatgpt_account_id claim")
	}
	return id, nil
}

// EnsureValid returns a usable TokenSet, logging in if none exists,
// refreshing if the current one is near expiry, and falling back to a
// fresh login if refresh itself fails.
func (c *Client) EnsureValid(ctx context.Context) (*domain.TokenSet, error) {
	current, err := c.store.LoadToken()
	if err != nil {
		return nil, err
	}
	if current == nil {
		return c.Login(ctx)
	}
	if !current.IsExpired(time.Now()) {
		return current, nil
	}
	refreshed, err := c.Refresh(ctx, current)
	if err != nil {
		c.log.Warn("refresh failed, falling back to interactive login", zap.Error(err))
		return c.Login(ctx)
	}
	return refreshed, nil
}
