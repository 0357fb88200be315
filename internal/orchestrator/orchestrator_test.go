package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/binres"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/config"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/oauth"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/supervisor"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/tunnel"
)

type memStore struct {
	tok *domain.TokenSet
}

func (m *memStore) LoadToken() (*domain.TokenSet, error) { return m.tok, nil }
func (m *memStore) SaveToken(ts *domain.TokenSet) error   { m.tok = ts; return nil }

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := zaptest.NewLogger(t)

	cfgStore, err := config.Load(filepath.Join(t.TempDir(), "config.json"), log)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	store := &memStore{tok: &domain.TokenSet{
		AccessToken: "valid-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	oauthClient := oauth.New(store, func(string) error { return nil }, log)

	resolver := binres.New(t.TempDir(), "router", log)
	sup := supervisor.New(log)
	tunnelCtl := tunnel.New(resolver, log)

	return New(cfgStore, oauthClient, resolver, sup, tunnelCtl, nil, log)
}

func TestStatusReportsAuthenticatedWithUnexpiredToken(t *testing.T) {
	o := newTestOrchestrator(t)
	st := o.Status(context.Background())
	if !st.IsAuthenticated {
		t.Error("expected IsAuthenticated = true for an unexpired token")
	}
	if st.IsServing {
		t.Error("expected IsServing = false before LoginAndServe")
	}
}

func TestGetOrCreateInstanceTokenIsStable(t *testing.T) {
	o := newTestOrchestrator(t)
	first, err := o.GetOrCreateInstanceToken()
	if err != nil {
		t.Fatalf("GetOrCreateInstanceToken() error = %v", err)
	}
	second, err := o.GetOrCreateInstanceToken()
	if err != nil {
		t.Fatalf("GetOrCreateInstanceToken() error = %v", err)
	}
	if first != second {
		t.Errorf("instance token changed across calls: %q vs %q", first, second)
	}
}

func TestRotateInstanceTokenChangesValue(t *testing.T) {
	o := newTestOrchestrator(t)
	first, _ := o.GetOrCreateInstanceToken()
	second, err := o.RotateInstanceToken()
	if err != nil {
		t.Fatalf("RotateInstanceToken() error = %v", err)
	}
	if first == second {
		t.Error("expected RotateInstanceToken to produce a new value")
	}
}

func TestQRPayloadWithoutTunnelReportsNoTunnelActive(t *testing.T) {
	o := newTestOrchestrator(t)
	payload, err := o.QRPayload()
	if err != nil {
		t.Fatalf("QRPayload() error = %v", err)
	}
	if payload["status"] != "No tunnel active" {
		t.Errorf("QRPayload() = %v, want status=No tunnel active", payload)
	}
	if payload["token"] == "" {
		t.Error("expected a non-empty instance token in the QR payload")
	}
}

func TestLoginAndServeStartsServerAndStopServingTearsItDown(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.LoginAndServe(ctx); err != nil {
		t.Fatalf("LoginAndServe() error = %v", err)
	}
	if !o.IsServing() {
		t.Fatal("expected IsServing() = true after LoginAndServe")
	}

	if err := o.StopServing(ctx); err != nil {
		t.Fatalf("StopServing() error = %v", err)
	}
	if o.IsServing() {
		t.Error("expected IsServing() = false after StopServing")
	}
}
