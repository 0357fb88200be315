package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/orchestrator"
)

func TestUpdateAppliesStatusMsg(t *testing.T) {
	m := newModel(func(ctx context.Context) orchestrator.Status { return orchestrator.Status{} })

	next, _ := m.Update(statusMsg(orchestrator.Status{
		IsServing:       true,
		IsAuthenticated: true,
		ServerURL:       "http://127.0.0.1:8765",
	}))
	got := next.(model)

	if got.trayState != domain.TrayConnected {
		t.Errorf("trayState = %v, want connected", got.trayState)
	}
}

func TestUpdateQuitsOnQKey(t *testing.T) {
	m := newModel(func(ctx context.Context) orchestrator.Status { return orchestrator.Status{} })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a command to be returned for the quit key")
	}
}

func TestUpdateAdvancesSpinnerOnTick(t *testing.T) {
	m := newModel(func(ctx context.Context) orchestrator.Status { return orchestrator.Status{} })
	next, cmd := m.Update(m.spin.Tick())
	if cmd == nil {
		t.Error("expected the spinner to schedule its next tick")
	}
	_ = next.(model)
}

func TestValueOrDash(t *testing.T) {
	if got := valueOrDash(""); got == "" {
		t.Error("expected a placeholder for an empty value")
	}
	if got := valueOrDash("http://x"); got != "http://x" {
		t.Errorf("valueOrDash(%q) = %q", "http://x", got)
	}
}
