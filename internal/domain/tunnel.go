package domain

// TunnelState tracks the Tunnel Controller's current view of the
// cloudflared child: a tunnel is connected iff a live child process
// exists and the stderr/stdout parser has emitted a public URL.
type TunnelState struct {
	Kind         TunnelKind
	LocalPort    int
	PublicURL    string
	Connected    bool
}
