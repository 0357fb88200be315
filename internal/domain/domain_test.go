package domain

import (
	"testing"
	"time"
)

func TestTokenSetIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"plenty of time left", now.Add(time.Hour), false},
		{"exactly on the skew boundary", now.Add(5 * time.Minute), false},
		{"inside the skew window", now.Add(4 * time.Minute), true},
		{"already expired", now.Add(-time.Minute), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := TokenSet{ExpiresAt: tc.expiresAt}
			if got := ts.IsExpired(now); got != tc.want {
				t.Errorf("IsExpired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}

	bad := Default()
	bad.Server.Port = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected zero port to be rejected")
	}

	bad = Default()
	bad.Tunnel.Kind = "bogus"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected bad tunnel kind to be rejected")
	}

	bad = Default()
	bad.Tunnel.Kind = TunnelKindNamed
	bad.Tunnel.Name = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected named tunnel without a name to be rejected")
	}
}

func TestDeriveTrayState(t *testing.T) {
	cases := []struct {
		name          string
		isServing     bool
		lastError     string
		serverHealthy bool
		tunnelHealthy bool
		want          TrayState
	}{
		{"error takes precedence", true, "boom", true, true, TrayError},
		{"not serving", false, "", false, false, TrayDisconnected},
		{"fully healthy", true, "", true, true, TrayConnected},
		{"server healthy, tunnel not", true, "", true, false, TrayConnecting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveTrayState(tc.isServing, tc.lastError, tc.serverHealthy, tc.tunnelHealthy)
			if got != tc.want {
				t.Errorf("DeriveTrayState() = %v, want %v", got, tc.want)
			}
		})
	}
}
