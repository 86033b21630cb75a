package alert

import (
	"sync"
	"time"

	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/telemetry"
)

const submitQueueSize = 1024

// Status is the lifecycle state of one rule.
type Status int

const (
	StatusClear Status = iota
	StatusRaised
	StatusAcknowledged
)

func (s Status) String() string {
	switch s {
	case StatusClear:
		return "clear"
	case StatusRaised:
		return "raised"
	case StatusAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// State is the derived, mutable state of one rule. A state exists for every
// rule at all times; transitions are the only mutation path.
type State struct {
	Rule          Rule
	Status        Status
	RaisedAt      time.Time
	LastEvaluated time.Time
	LastValue     float64
}

// Engine evaluates every incoming sample against the rules matching its
// channel. Evaluation runs on a single goroutine in sample-submission
// order, which keeps hysteresis meaningful per sample stream.
type Engine struct {
	rules []Rule
	bus   *event.Bus

	mu     sync.RWMutex
	states map[string]*State

	in      chan telemetry.Sample
	done    chan struct{}
	stopped chan struct{}
}

func NewEngine(rules []Rule, bus *event.Bus) (*Engine, error) {
	errFactory := errors.New()

	states := make(map[string]*State, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, ok := states[r.Name]; ok {
			return nil, errFactory.WithData(ErrDuplicateRule, r.Name)
		}
		states[r.Name] = &State{Rule: r, Status: StatusClear}
	}

	e := &Engine{
		rules:   rules,
		bus:     bus,
		states:  states,
		in:      make(chan telemetry.Sample, submitQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()

	return e, nil
}

// Submit feeds one sample into the evaluation pipeline. Blocks briefly when
// the pipeline is saturated rather than reordering or dropping samples.
func (e *Engine) Submit(s telemetry.Sample) {
	select {
	case e.in <- s:
	case <-e.done:
	}
}

// Acknowledge marks a raised alert as acknowledged. It still clears later
// under the same hysteresis-guarded rule as a raised alert.
func (e *Engine) Acknowledge(ruleName string) error {
	errFactory := errors.New()

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[ruleName]
	if !ok {
		return errFactory.WithData(ErrUnknownRule, ruleName)
	}
	if st.Status != StatusRaised {
		return errFactory.WithData(ErrNotRaised, struct {
			Rule   string
			Status string
		}{ruleName, st.Status.String()})
	}

	e.setStatus(st, StatusAcknowledged, "", st.LastValue)

	return nil
}

// States returns a snapshot of all rule states.
func (e *Engine) States() []State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]State, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *e.states[r.Name])
	}

	return out
}

// Close stops the evaluation pipeline after draining submitted samples.
func (e *Engine) Close() {
	close(e.done)
	<-e.stopped
}

func (e *Engine) run() {
	defer close(e.stopped)

	for {
		select {
		case s := <-e.in:
			e.Evaluate(s)
		case <-e.done:
			for {
				select {
				case s := <-e.in:
					e.Evaluate(s)
				default:
					return
				}
			}
		}
	}
}

// Evaluate applies one sample to every rule matching its channel.
// Called from the single pipeline goroutine; exported for tests that drive
// the engine synchronously.
func (e *Engine) Evaluate(s telemetry.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.Channel != s.Channel {
			continue
		}

		st := e.states[r.Name]
		st.LastEvaluated = s.Timestamp
		st.LastValue = s.Value

		switch st.Status {
		case StatusClear:
			if r.Operator.holds(s.Value, r.Threshold) {
				st.RaisedAt = s.Timestamp
				e.setStatus(st, StatusRaised, s.ControllerID, s.Value)
			}
		case StatusRaised, StatusAcknowledged:
			if r.clears(s.Value) {
				e.setStatus(st, StatusClear, s.ControllerID, s.Value)
			}
		}
	}
}

// setStatus records the transition and publishes it. Callers hold e.mu.
func (e *Engine) setStatus(st *State, to Status, controllerID string, value float64) {
	from := st.Status
	st.Status = to

	logger.Info().
		Str("rule", st.Rule.Name).
		Str("channel", st.Rule.Channel).
		Str("severity", string(st.Rule.Severity)).
		Str("from", from.String()).
		Str("to", to.String()).
		Float64("value", value).
		Msg("Alert state changed")

	if e.bus != nil {
		e.bus.Publish(event.TypeAlert, event.AlertTransition{
			Rule:         st.Rule.Name,
			Channel:      st.Rule.Channel,
			ControllerID: controllerID,
			Severity:     string(st.Rule.Severity),
			From:         from.String(),
			To:           to.String(),
			Value:        value,
		})
	}
}
