package healthloop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mindlink-dev/mindlink/internal/domain"
)

func TestProbeHTTPReturnsFalseOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := New(nil, time.Second, nil, zaptest.NewLogger(t))
	if l.probeHTTP(context.Background(), srv.URL) {
		t.Error("expected probeHTTP to return false for a 503 response")
	}
}

func TestProbeHTTPReturnsTrueOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := New(nil, time.Second, nil, zaptest.NewLogger(t))
	if !l.probeHTTP(context.Background(), srv.URL) {
		t.Error("expected probeHTTP to return true for a 200 response")
	}
}

func TestProbeHTTPReturnsFalseOnUnreachable(t *testing.T) {
	l := New(nil, time.Second, nil, zaptest.NewLogger(t))
	if l.probeHTTP(context.Background(), "http://127.0.0.1:1") {
		t.Error("expected probeHTTP to return false for an unreachable address")
	}
}

func TestProbeRouterFallsBackToHTTPWithoutGRPCTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := New(nil, time.Second, nil, zaptest.NewLogger(t))
	if !l.probeRouter(context.Background(), "", 0, srv.URL) {
		t.Error("expected probeRouter to fall back to HTTP when host/port are unset")
	}
}

func TestProbeRouterFalseOnUnreachableGRPCTarget(t *testing.T) {
	l := New(nil, time.Second, nil, zaptest.NewLogger(t))
	if l.probeRouter(context.Background(), "127.0.0.1", 1, "http://127.0.0.1:1") {
		t.Error("expected probeRouter to return false for an unreachable gRPC target")
	}
}

func TestPublishOnlyFiresOnStateChange(t *testing.T) {
	var seen []domain.TrayState
	l := New(nil, time.Second, func(s domain.TrayState) { seen = append(seen, s) }, zaptest.NewLogger(t))

	l.publish(domain.TrayConnected)
	l.publish(domain.TrayConnected)
	l.publish(domain.TrayError)

	if len(seen) != 2 {
		t.Fatalf("onChange fired %d times, want 2 (dedup repeated state)", len(seen))
	}
	if seen[0] != domain.TrayConnected || seen[1] != domain.TrayError {
		t.Errorf("seen = %v, want [connected error]", seen)
	}
}
