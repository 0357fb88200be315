package domain

// TrayState is derived each Health Loop cycle — never stored as truth.
// See spec.md §4.8 for the derivation order.
type TrayState string

const (
	TrayDisconnected TrayState = "disconnected"
	TrayConnecting   TrayState = "connecting"
	TrayConnected    TrayState = "connected"
	TrayError        TrayState = "error"
)

// DeriveTrayState implements the precedence spec.md §4.8 specifies:
// error beats disconnected beats connected beats connecting.
func DeriveTrayState(isServing bool, lastError string, serverHealthy, tunnelHealthy bool) TrayState {
	switch {
	case lastError != "":
		return TrayError
	case !isServing:
		return TrayDisconnected
	case serverHealthy && tunnelHealthy:
		return TrayConnected
	default:
		return TrayConnecting
	}
}
