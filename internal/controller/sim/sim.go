// Package sim provides a simulated controller transport that stands in for
// real refrigeration hardware during development and testing. It mimics the
// behavior of a dilution refrigerator slave process: temperature channels
// drift toward their setpoints with noise, pressure channels random-walk,
// and discrete channels hold their last written value.
package sim

import (
	"context"
	"math/rand"
	"sync"
)

// Baseline channel values for a fridge sitting at room temperature.
var defaultChannels = map[string]float64{
	"mixing-chamber-temp": 0.012, // K
	"still-temp":          0.800, // K
	"platform-temp":       3.2,   // K
	"water-in-temp":       20.0,  // C
	"water-out-temp":      24.0,  // C
	"p1-pressure":         1.0e-3,
	"p2-pressure":         1.0e-3,
	"p3-pressure":         1.0e-3,
	"pulsetube":           1,
	"compressor":          1,
	"turbo1":              1,
}

// Transport is an in-memory controller. Safe for the single-owner use the
// link gives it; the mutex only guards against test inspection races.
type Transport struct {
	mu        sync.Mutex
	connected bool
	values    map[string]float64
	setpoints map[string]float64
	rng       *rand.Rand

	// FailConnect and FailOps force errors for fault-path testing.
	FailConnect error
	FailOps     error
}

func New(seed int64) *Transport {
	values := make(map[string]float64, len(defaultChannels))
	for ch, v := range defaultChannels {
		values[ch] = v
	}

	return &Transport{
		values:    values,
		setpoints: make(map[string]float64),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (t *Transport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailConnect != nil {
		return t.FailConnect
	}
	t.connected = true

	return nil
}

func (t *Transport) Read(_ context.Context, channels []string) (map[string]float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailOps != nil {
		return nil, t.FailOps
	}

	out := make(map[string]float64, len(channels))
	for _, ch := range channels {
		v, ok := t.values[ch]
		if !ok {
			v = 0
		}
		v = t.step(ch, v)
		t.values[ch] = v
		out[ch] = v
	}

	return out, nil
}

func (t *Transport) Write(_ context.Context, setpoint string, value float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailOps != nil {
		return t.FailOps
	}

	t.setpoints[setpoint] = value
	// Discrete channels (pumps, valves, switches) take the value directly.
	if _, ok := t.values[setpoint]; ok {
		t.values[setpoint] = value
	}

	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false

	return nil
}

// SetFailConnect forces subsequent Connect calls to fail with err.
func (t *Transport) SetFailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.FailConnect = err
}

// SetFailOps forces subsequent Read/Write calls to fail with err.
func (t *Transport) SetFailOps(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.FailOps = err
}

// Setpoint returns the last written value for a setpoint channel.
func (t *Transport) Setpoint(name string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.setpoints[name]

	return v, ok
}

// step advances one channel by a small jittered drift. Temperature channels
// pull toward their corresponding "<name>-setpoint" when one was written.
func (t *Transport) step(ch string, v float64) float64 {
	if target, ok := t.setpoints[ch+"-setpoint"]; ok {
		v += (target - v) * 0.1
	}

	jitter := 1 + (t.rng.Float64()-0.5)*0.02
	return v * jitter
}
