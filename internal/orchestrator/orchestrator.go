// Package orchestrator holds the shared handles to every component
// and is the only surface the tray, dashboard, or CLI are permitted
// to invoke — no collaborator reaches into another's internals.
package orchestrator

import (
	"context"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/binres"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/chatgpt"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/config"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/oauth"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/supervisor"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/tunnel"
	httpapi "github.com/mindlink-dev/mindlink/internal/interfaces/http"
	"github.com/mindlink-dev/mindlink/internal/interfaces/wsfeed"
)

const (
	authCacheTTL       = 30 * time.Second
	authCacheLoginTTL  = 15 * time.Second
	instanceTokenKey   = "instance_token"
)

// Status is the aggregate record returned by Status().
type Status struct {
	IsServing       bool
	IsAuthenticated bool
	TunnelURL       string
	ServerURL       string
	RouterURL       string
	RouterHost      string
	RouterPort      int
	InstanceToken   string
	LastError       string
}

// Orchestrator wires every infrastructure collaborator together.
type Orchestrator struct {
	mu sync.Mutex

	cfgStore   *config.Store
	oauthClient *oauth.Client
	resolver   *binres.Resolver
	supervisor *supervisor.Supervisor
	tunnelCtl  *tunnel.Controller
	server     *httpapi.Server
	feed       *wsfeed.Hub
	log        *zap.Logger

	isServing  bool
	lastError  string
	routerURL  string
	routerHost string
	routerPort int

	authCachedAt  time.Time
	authCached    bool
	loginInFlight bool
}

// New builds an Orchestrator from its already-constructed
// collaborators.
func New(cfgStore *config.Store, oauthClient *oauth.Client, resolver *binres.Resolver, sup *supervisor.Supervisor, tunnelCtl *tunnel.Controller, feed *wsfeed.Hub, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfgStore:    cfgStore,
		oauthClient: oauthClient,
		resolver:    resolver,
		supervisor:  sup,
		tunnelCtl:   tunnelCtl,
		feed:        feed,
		log:         log,
	}
}

// Status returns the aggregate status record, caching the
// authentication check for 30s (15s while a login is in flight) to
// avoid hammering the upstream token endpoint on every poll.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	ttl := authCacheTTL
	if o.loginInFlight {
		ttl = authCacheLoginTTL
	}
	if time.Since(o.authCachedAt) > ttl {
		token, lerr := o.oauthClient.EnsureValid(ctx)
		o.authCached = lerr == nil && token != nil
		o.authCachedAt = time.Now()
	}

	st := Status{
		IsServing:       o.isServing,
		IsAuthenticated: o.authCached,
		LastError:       o.lastError,
		InstanceToken:   o.peekInstanceToken(),
		RouterURL:       o.routerURL,
		RouterHost:      o.routerHost,
		RouterPort:      o.routerPort,
	}
	if o.tunnelCtl != nil {
		ts := o.tunnelCtl.State()
		if ts.Connected {
			st.TunnelURL = ts.PublicURL
		}
	}
	if o.server != nil {
		st.ServerURL = o.server.LocalURL()
	}
	return st
}

func (o *Orchestrator) peekInstanceToken() string {
	tok, _ := o.cfgStore.Get(instanceTokenKey)
	return tok
}

// Login runs the OAuth flow (or refreshes an existing token) without
// starting the API server.
func (o *Orchestrator) Login(ctx context.Context) error {
	_, err := o.oauthClient.EnsureValid(ctx)
	return err
}

// LoginAndServe ensures a valid credential, starts the API server,
// and attempts to create a tunnel. Tunnel failure is non-fatal: it is
// recorded as LastError rather than aborting the server start.
func (o *Orchestrator) LoginAndServe(ctx context.Context) error {
	o.mu.Lock()
	o.loginInFlight = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.loginInFlight = false
		o.mu.Unlock()
	}()

	if _, err := o.oauthClient.EnsureValid(ctx); err != nil {
		return err
	}

	cfg := o.cfgStore.Snapshot()
	client := chatgpt.New(o.log)
	srv := httpapi.NewServer(
		httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port, Mode: "release"},
		client,
		func(ctx context.Context) (string, error) {
			ts, err := o.oauthClient.EnsureValid(ctx)
			if err != nil {
				return "", err
			}
			return ts.AccessToken, nil
		},
		o.feed,
		o.log,
	)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	o.server = srv
	o.isServing = true
	o.lastError = ""
	o.mu.Unlock()

	if cfg.Tunnel.Enabled {
		var (
			url string
			err error
		)
		if cfg.Tunnel.Kind == domain.TunnelKindNamed {
			url, err = o.tunnelCtl.CreateNamed(ctx, cfg.Server.Port, cfg.Tunnel.Name)
		} else {
			url, err = o.tunnelCtl.CreateQuick(ctx, cfg.Server.Port)
		}
		if err != nil {
			o.mu.Lock()
			o.lastError = "tunnel unavailable: " + err.Error() + " (retry with create_tunnel once resolved)"
			o.mu.Unlock()
			o.log.Warn("tunnel creation failed, serving locally only", zap.Error(err))
		} else {
			o.log.Info("tunnel established", zap.String("url", url))
		}
	}

	return nil
}

// StopServing closes the tunnel, stops the server, and clears
// IsServing.
func (o *Orchestrator) StopServing(ctx context.Context) error {
	if o.tunnelCtl != nil {
		_ = o.tunnelCtl.Close()
	}

	o.mu.Lock()
	srv := o.server
	o.mu.Unlock()
	if srv != nil {
		if err := srv.Stop(ctx); err != nil {
			return err
		}
	}

	o.mu.Lock()
	o.isServing = false
	o.server = nil
	o.mu.Unlock()
	return nil
}

// CreateTunnel opens a tunnel directly, outside of LoginAndServe.
func (o *Orchestrator) CreateTunnel(ctx context.Context) (string, error) {
	cfg := o.cfgStore.Snapshot()
	if cfg.Tunnel.Kind == domain.TunnelKindNamed {
		return o.tunnelCtl.CreateNamed(ctx, cfg.Server.Port, cfg.Tunnel.Name)
	}
	return o.tunnelCtl.CreateQuick(ctx, cfg.Server.Port)
}

// CloseTunnel closes the current tunnel, if any.
func (o *Orchestrator) CloseTunnel() error {
	return o.tunnelCtl.Close()
}

// StartRouter resolves the router binary and launches it under the
// Process Supervisor.
func (o *Orchestrator) StartRouter(ctx context.Context) error {
	path, err := o.resolver.Ensure(ctx, binres.KindRouter)
	if err != nil {
		return err
	}
	cfg := o.cfgStore.Snapshot()
	o.supervisor.Register(domain.ProcessRouter, "router", domain.DefaultMonitorConfig())

	cmd := exec.Command(path, "--port", portString(cfg.Router.Port))
	if err := o.supervisor.Start(domain.ProcessRouter, cmd); err != nil {
		return err
	}
	o.mu.Lock()
	o.routerURL = "http://" + cfg.Router.Host + ":" + portString(cfg.Router.Port)
	o.routerHost = cfg.Router.Host
	o.routerPort = cfg.Router.Port
	o.mu.Unlock()
	return nil
}

// StopRouter stops the supervised router process.
func (o *Orchestrator) StopRouter() error {
	err := o.supervisor.Stop(domain.ProcessRouter)
	o.mu.Lock()
	o.routerURL = ""
	o.routerHost = ""
	o.routerPort = 0
	o.mu.Unlock()
	return err
}

// InstallRouter verifies the router binary is resolvable without
// starting it — the install step for a system that never downloads
// the router.
func (o *Orchestrator) InstallRouter(ctx context.Context) error {
	_, err := o.resolver.Ensure(ctx, binres.KindRouter)
	return err
}

// ReinstallRouter stops any running router and re-verifies it.
func (o *Orchestrator) ReinstallRouter(ctx context.Context) error {
	_ = o.StopRouter()
	return o.InstallRouter(ctx)
}

// GetOrCreateInstanceToken returns the per-install UUID, generating
// and persisting one on first call.
func (o *Orchestrator) GetOrCreateInstanceToken() (string, error) {
	if tok, ok := o.cfgStore.Get(instanceTokenKey); ok && tok != "" {
		return tok, nil
	}
	tok := uuid.NewString()
	if err := o.cfgStore.Set(instanceTokenKey, tok); err != nil {
		return "", err
	}
	return tok, nil
}

// RotateInstanceToken generates and persists a fresh instance token.
func (o *Orchestrator) RotateInstanceToken() (string, error) {
	tok := uuid.NewString()
	if err := o.cfgStore.Set(instanceTokenKey, tok); err != nil {
		return "", err
	}
	return tok, nil
}

// QRPayload returns the pairing payload: the tunnel URL and instance
// token if a tunnel is live, otherwise just the token with a status
// note.
func (o *Orchestrator) QRPayload() (map[string]string, error) {
	token, err := o.GetOrCreateInstanceToken()
	if err != nil {
		return nil, err
	}
	if o.tunnelCtl != nil {
		ts := o.tunnelCtl.State()
		if ts.Connected {
			return map[string]string{"url": ts.PublicURL, "token": token}, nil
		}
	}
	return map[string]string{"token": token, "status": "No tunnel active"}, nil
}

// SetLastError records an operator-visible error, used by the Health
// Loop when it observes a failure outside the request path.
func (o *Orchestrator) SetLastError(msg string) {
	o.mu.Lock()
	o.lastError = msg
	o.mu.Unlock()
}

// IsServing reports whether the server is currently running.
func (o *Orchestrator) IsServing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isServing
}

func portString(p int) string {
	return strconv.Itoa(p)
}
