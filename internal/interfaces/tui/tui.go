// Package tui implements the `mindlinkd status --watch` dashboard: a
// bubbletea program polling the Orchestrator and rendering the
// current Tray State, endpoints, and recent errors.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mindlink-dev/mindlink/internal/domain"
	"github.com/mindlink-dev/mindlink/internal/orchestrator"
)

const pollInterval = 2 * time.Second

// StatusFn polls the orchestrator for a fresh snapshot.
type StatusFn func(ctx context.Context) orchestrator.Status

// Run starts the dashboard and blocks until the user quits.
func Run(statusFn StatusFn) error {
	p := tea.NewProgram(newModel(statusFn))
	_, err := p.Run()
	return err
}

type tickMsg time.Time

type statusMsg orchestrator.Status

type model struct {
	statusFn  StatusFn
	status    orchestrator.Status
	trayState domain.TrayState
	width     int
	spin      spinner.Model
}

func newModel(statusFn StatusFn) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warnStyle
	return model{statusFn: statusFn, spin: s}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tick(), m.spin.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) poll() tea.Cmd {
	statusFn := m.statusFn
	return func() tea.Msg {
		return statusMsg(statusFn(context.Background()))
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.poll(), tick())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case statusMsg:
		m.status = orchestrator.Status(msg)
		// This dashboard only has the cached Status snapshot, not a
		// live probe — treat "server URL present" as the server signal
		// and always consider the tunnel non-blocking, since the
		// authoritative reachability check runs in the Health Loop.
		m.trayState = domain.DeriveTrayState(m.status.IsServing, m.status.LastError, m.status.ServerURL != "", true)
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

func (m model) View() string {
	s := titleStyle.Render("mindlinkd status") + "\n\n"
	trayCell := trayStyled(m.trayState)
	if m.trayState == domain.TrayConnecting {
		trayCell = m.spin.View() + " " + trayCell
	}
	s += row("tray state", trayCell)
	s += row("serving", boolStyled(m.status.IsServing))
	s += row("authenticated", boolStyled(m.status.IsAuthenticated))
	s += row("server", valueOrDash(m.status.ServerURL))
	s += row("tunnel", valueOrDash(m.status.TunnelURL))
	s += row("router", valueOrDash(m.status.RouterURL))
	if m.status.LastError != "" {
		s += row("last error", errStyle.Render(m.status.LastError))
	}
	s += "\n" + hintStyle.Render("q to quit, refreshes every 2s")
	return s
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func trayStyled(t domain.TrayState) string {
	switch t {
	case domain.TrayConnected:
		return okStyle.Render(string(t))
	case domain.TrayConnecting:
		return warnStyle.Render(string(t))
	case domain.TrayError:
		return errStyle.Render(string(t))
	default:
		return hintStyle.Render(string(t))
	}
}

func boolStyled(b bool) string {
	if b {
		return okStyle.Render("yes")
	}
	return warnStyle.Render("no")
}

func valueOrDash(s string) string {
	if s == "" {
		return hintStyle.Render("-")
	}
	return fmt.Sprintf("%s", s)
}
