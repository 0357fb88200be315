package supervisor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mindlink-dev/mindlink/internal/domain"
)

func waitForEvent(t *testing.T, ch <-chan Event, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %q", kind)
		}
	}
}

func TestStartEmitsStartedThenStopped(t *testing.T) {
	log := zaptest.NewLogger(t)
	s := New(log)
	mc := domain.DefaultMonitorConfig()
	s.Register(domain.ProcessRouter, "test-router", mc)

	cmd := exec.Command("sh", "-c", "echo hello; exit 0")
	if err := s.Start(domain.ProcessRouter, cmd); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	events := s.Events(domain.ProcessRouter)
	waitForEvent(t, events, EventStarted, time.Second)
	waitForEvent(t, events, EventStopped, 3*time.Second)

	info, ok := s.Info(domain.ProcessRouter)
	if !ok {
		t.Fatal("expected record to still exist after exit")
	}
	if info.Status != domain.ProcessStopped {
		t.Errorf("Status = %v, want %v", info.Status, domain.ProcessStopped)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	log := zaptest.NewLogger(t)
	s := New(log)
	s.Register(domain.ProcessTunnel, "test-tunnel", domain.DefaultMonitorConfig())

	if err := s.Stop(domain.ProcessTunnel); err != nil {
		t.Fatalf("Stop() on no owned child should be a no-op success, got %v", err)
	}
	if err := s.Stop(domain.ProcessTunnel); err != nil {
		t.Fatalf("second Stop() should also succeed, got %v", err)
	}
}

func TestRestartLimitReached(t *testing.T) {
	log := zaptest.NewLogger(t)
	s := New(log)
	mc := domain.DefaultMonitorConfig()
	mc.MaxRestartAttempts = 0
	s.Register(domain.ProcessRouter, "test-router", mc)

	err := s.Restart(context.Background(), domain.ProcessRouter)
	if err == nil {
		t.Fatal("expected restart limit error when MaxRestartAttempts is 0")
	}
}

func TestCaptureLinesDropsLinesOverTheLengthLimit(t *testing.T) {
	log := zaptest.NewLogger(t)
	s := New(log)
	mc := domain.DefaultMonitorConfig()
	mc.OutputBufferLineLimit = 10
	s.Register(domain.ProcessRouter, "test-router", mc)

	cmd := exec.Command("sh", "-c", "echo short; echo this-line-is-longer-than-the-limit")
	if err := s.Start(domain.ProcessRouter, cmd); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	events := s.Events(domain.ProcessRouter)
	out := waitForEvent(t, events, EventOutputReceived, 2*time.Second)
	if out.Line != "short" {
		t.Errorf("first delivered line = %q, want %q (the over-limit line must be dropped)", out.Line, "short")
	}
	waitForEvent(t, events, EventStopped, 2*time.Second)
}

func TestCrashedProcessTransitionsStatus(t *testing.T) {
	log := zaptest.NewLogger(t)
	s := New(log)
	s.Register(domain.ProcessRouter, "test-router", domain.DefaultMonitorConfig())

	cmd := exec.Command("sh", "-c", "exit 7")
	if err := s.Start(domain.ProcessRouter, cmd); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	events := s.Events(domain.ProcessRouter)
	waitForEvent(t, events, EventStarted, time.Second)
	waitForEvent(t, events, EventCrashed, 3*time.Second)

	info, _ := s.Info(domain.ProcessRouter)
	if info.Status != domain.ProcessCrashed {
		t.Errorf("Status = %v, want %v", info.Status, domain.ProcessCrashed)
	}
}
