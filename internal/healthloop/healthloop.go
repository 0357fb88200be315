// Package healthloop periodically probes every supervised component
// and derives the Tray State the UI surfaces, restarting only the
// components safe to restart without user interaction.
package healthloop

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/infrastructure/grpchealth"
	"github.com/mindlink-dev/mindlink/internal/orchestrator"
	"github.com/mindlink-dev/mindlink/pkg/safego"
)

const probeTimeout = 5 * time.Second

// OnTrayStateChange is invoked whenever the derived Tray State differs
// from the previous cycle's.
type OnTrayStateChange func(domain.TrayState)

// Recorder persists each cycle's observation. The Diagnostics Ledger
// satisfies this; nil disables persistence.
type Recorder interface {
	RecordHealthSample(state domain.TrayState, serverHealthy, tunnelHealthy, routerHealthy bool, lastError string) error
}

// Loop owns the periodic health-check goroutine.
type Loop struct {
	orch     *orchestrator.Orchestrator
	interval time.Duration
	log      *zap.Logger
	onChange OnTrayStateChange
	recorder Recorder

	httpClient *http.Client
	grpcProber *grpchealth.Prober
	prevState  domain.TrayState
}

// New builds a Loop polling at interval. onChange and recorder may be
// nil.
func New(orch *orchestrator.Orchestrator, interval time.Duration, onChange OnTrayStateChange, log *zap.Logger) *Loop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Loop{
		orch:       orch,
		interval:   interval,
		log:        log,
		onChange:   onChange,
		httpClient: &http.Client{Timeout: probeTimeout},
		grpcProber: grpchealth.New(log),
	}
}

// WithRecorder attaches a Diagnostics Ledger (or any Recorder) so
// every cycle's observation is persisted.
func (l *Loop) WithRecorder(r Recorder) *Loop {
	l.recorder = r
	return l
}

// Run blocks, probing every interval until ctx is cancelled. Intended
// to be launched via safego.Go by the caller.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// Start launches Run in a panic-safe background goroutine.
func (l *Loop) Start(ctx context.Context) {
	safego.Go(l.log, "health-loop", func() {
		l.Run(ctx)
	})
}

func (l *Loop) tick(ctx context.Context) {
	status := l.orch.Status(ctx)
	if !status.IsServing {
		state := domain.DeriveTrayState(false, status.LastError, false, false)
		l.record(state, false, false, false, status.LastError)
		l.publish(state)
		return
	}

	serverHealthy := l.probeServer(ctx, status.ServerURL)
	tunnelHealthy := status.TunnelURL == "" || l.probeTunnel(ctx, status.TunnelURL)
	routerHealthy := status.RouterURL == "" || l.probeRouter(ctx, status.RouterHost, status.RouterPort, status.RouterURL)

	// The tunnel is never auto-restarted here: cloudflared can die for
	// reasons that need a fresh login or operator attention, and a
	// silent respawn would mask that. Router and the auxiliary
	// dashboard are safe to restart unattended.
	if !routerHealthy && status.RouterURL != "" {
		l.log.Warn("health loop observed an unhealthy router, attempting restart")
		if err := l.orch.StopRouter(); err != nil {
			l.log.Warn("failed to stop router before restart", zap.Error(err))
		}
		if err := l.orch.StartRouter(ctx); err != nil {
			l.log.Error("router restart failed", zap.Error(err))
			l.orch.SetLastError("router restart failed: " + err.Error())
		}
	}

	state := domain.DeriveTrayState(true, status.LastError, serverHealthy, tunnelHealthy)
	l.record(state, serverHealthy, tunnelHealthy, routerHealthy, status.LastError)
	l.publish(state)
}

func (l *Loop) record(state domain.TrayState, serverHealthy, tunnelHealthy, routerHealthy bool, lastError string) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordHealthSample(state, serverHealthy, tunnelHealthy, routerHealthy, lastError); err != nil {
		l.log.Warn("failed to persist health sample", zap.Error(err))
	}
}

func (l *Loop) publish(state domain.TrayState) {
	if state == l.prevState {
		return
	}
	l.prevState = state
	l.log.Info("tray state changed", zap.String("state", string(state)))
	if l.onChange != nil {
		l.onChange(state)
	}
}

func (l *Loop) probeServer(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	return l.probeHTTP(ctx, url+"/health")
}

func (l *Loop) probeTunnel(ctx context.Context, url string) bool {
	return l.probeHTTP(ctx, url+"/health")
}

// probeRouter checks the router's standard grpc.health.v1 service.
// It falls back to a plain HTTP /health GET when no router host/port
// is known (e.g. a router implementation that hasn't wired gRPC
// health yet), so the loop still degrades gracefully.
func (l *Loop) probeRouter(ctx context.Context, host string, port int, url string) bool {
	if host == "" || port == 0 {
		return l.probeHTTP(ctx, url+"/health")
	}
	healthy, err := l.grpcProber.Check(ctx, host, port, "")
	if err != nil {
		l.log.Debug("router gRPC health probe failed", zap.Error(err))
		return false
	}
	return healthy
}

func (l *Loop) probeHTTP(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
