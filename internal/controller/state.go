package controller

// State is the link connection state. The degraded state keeps the
// transport alive for a fast-retry window after consecutive failures;
// either a success returns the link to connected or the window expires
// and forces a full reconnect.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// operational reports whether the link will attempt transport I/O.
func (s State) operational() bool {
	return s == StateConnected || s == StateDegraded
}
