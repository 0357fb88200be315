package domain

// CurrentConfigVersion is the schema version new configs are written
// with; Load migrates anything older.
const CurrentConfigVersion = 1

// Config is the versioned, validated record persisted at
// <home>/.mindlink/config.json.
type Config struct {
	Version    int              `json:"version"`
	Server     ServerConfig     `json:"server"`
	Router     RouterConfig     `json:"bifrost"`
	Tunnel     TunnelConfig     `json:"tunnel"`
	Features   FeaturesConfig   `json:"features"`
	Monitoring MonitoringConfig `json:"monitoring"`
	// Custom holds opaque per-install fields such as the instance token,
	// set/read through the Config Store's escape hatch.
	Custom map[string]string `json:"custom,omitempty"`
}

// ServerConfig is the API Server's bind address.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RouterConfig describes the auxiliary router child process.
type RouterConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Enabled bool   `json:"enabled"`
}

// TunnelKind enumerates the supported Cloudflare tunnel modes.
type TunnelKind string

const (
	TunnelKindQuick TunnelKind = "quick"
	TunnelKindNamed TunnelKind = "named"
)

// TunnelConfig controls whether and how the Tunnel Controller runs.
type TunnelConfig struct {
	Enabled bool       `json:"enabled"`
	Kind    TunnelKind `json:"kind"`
	Name    string     `json:"name,omitempty"`
}

// ReasoningEffort enumerates the supported chat-completion reasoning levels.
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// FeaturesConfig toggles request-shaping behavior.
type FeaturesConfig struct {
	ReasoningEffort ReasoningEffort `json:"reasoning_effort"`
	Summaries       bool            `json:"summaries"`
	Compatibility   bool            `json:"compatibility"`
}

// MonitoringConfig controls the Health Loop.
type MonitoringConfig struct {
	HealthCheckIntervalSeconds int  `json:"health_check_interval_seconds"`
	ErrorThreshold             int  `json:"error_threshold"`
	Notifications              bool `json:"notifications"`
}

// Default returns the Config written the first time the daemon runs
// with no on-disk file.
func Default() Config {
	return Config{
		Version: CurrentConfigVersion,
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Router: RouterConfig{
			Host:    "127.0.0.1",
			Port:    8766,
			Enabled: false,
		},
		Tunnel: TunnelConfig{
			Enabled: false,
			Kind:    TunnelKindQuick,
		},
		Features: FeaturesConfig{
			ReasoningEffort: ReasoningMedium,
			Summaries:       true,
			Compatibility:   false,
		},
		Monitoring: MonitoringConfig{
			HealthCheckIntervalSeconds: 30,
			ErrorThreshold:              3,
			Notifications:               true,
		},
		Custom: map[string]string{},
	}
}

var validReasoningEfforts = map[ReasoningEffort]bool{
	ReasoningLow:    true,
	ReasoningMedium: true,
	ReasoningHigh:   true,
}

var validTunnelKinds = map[TunnelKind]bool{
	TunnelKindQuick: true,
	TunnelKindNamed: true,
}

// Validate enforces the invariants of spec.md §3: non-zero ports,
// non-empty hosts, enumerated fields drawn from their sets.
func (c Config) Validate() error {
	switch {
	case c.Server.Port == 0:
		return errInvalidConfig("server.port must be non-zero")
	case c.Server.Host == "":
		return errInvalidConfig("server.host must be non-empty")
	case c.Router.Enabled && c.Router.Port == 0:
		return errInvalidConfig("bifrost.port must be non-zero when enabled")
	case c.Router.Enabled && c.Router.Host == "":
		return errInvalidConfig("bifrost.host must be non-empty when enabled")
	case !validTunnelKinds[c.Tunnel.Kind]:
		return errInvalidConfig("tunnel.kind must be one of quick|named")
	case c.Tunnel.Kind == TunnelKindNamed && c.Tunnel.Name == "":
		return errInvalidConfig("tunnel.name is required for a named tunnel")
	case !validReasoningEfforts[c.Features.ReasoningEffort]:
		return errInvalidConfig("features.reasoning_effort must be one of low|medium|high")
	case c.Monitoring.HealthCheckIntervalSeconds <= 0:
		return errInvalidConfig("monitoring.health_check_interval_seconds must be positive")
	case c.Monitoring.ErrorThreshold <= 0:
		return errInvalidConfig("monitoring.error_threshold must be positive")
	}
	return nil
}
