package controller

import "context"

// Transport is the request/response protocol to one controller. Framing is
// an implementation detail behind this interface; implementations report
// hardware faults as device_error and connection trouble as
// link_unavailable so the link can classify failures.
type Transport interface {
	// Connect dials and performs the handshake.
	Connect(ctx context.Context) error

	// Read returns current values for the named channels.
	Read(ctx context.Context, channels []string) (map[string]float64, error)

	// Write applies one setpoint value.
	Write(ctx context.Context, setpoint string, value float64) error

	// Close tears down the connection. Safe to call when not connected.
	Close() error
}
