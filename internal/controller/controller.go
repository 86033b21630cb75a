package controller

import "time"

// Controller describes one physical or simulated refrigeration device.
// Controllers come from configuration and are never created at runtime;
// each owns exactly one Link while the supervisor runs.
type Controller struct {
	ID         string
	Address    string
	Password   string
	Transport  string
	PollPeriod time.Duration
	Channels   []string          // readable telemetry channels
	Setpoints  []string          // writable setpoint channels
	Units      map[string]string // channel -> unit, optional
}

// CanRead reports whether the channel is in the readable set.
func (c Controller) CanRead(channel string) bool {
	for _, ch := range c.Channels {
		if ch == channel {
			return true
		}
	}

	return false
}

// CanWrite reports whether the setpoint is in the writable set.
func (c Controller) CanWrite(setpoint string) bool {
	for _, sp := range c.Setpoints {
		if sp == setpoint {
			return true
		}
	}

	return false
}

// Unit returns the configured unit for a channel, or the empty string.
func (c Controller) Unit(channel string) string {
	if c.Units == nil {
		return ""
	}

	return c.Units[channel]
}
