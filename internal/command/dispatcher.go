package command

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/qcryo/fridgectl/internal/controller"
	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/observability"
	"github.com/qcryo/fridgectl/internal/store"
)

const (
	queueSize        = 64
	resultBufferSize = 64
	writeTimeout     = 10 * time.Second
)

// Outcome is the lifecycle state of a command.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Command is one operator setpoint write. Owned by the dispatcher until a
// terminal outcome, then handed off through the Results channel.
type Command struct {
	ID           string
	ControllerID string
	Setpoint     string
	Value        float64
	IssuedAt     time.Time
	Outcome      Outcome
}

// Result pairs a terminal command with the error that decided its outcome.
type Result struct {
	Command Command
	Err     error
}

// LinkRegistry resolves a controller id to its link. The scheduler
// implements it.
type LinkRegistry interface {
	Link(id string) (*controller.Link, bool)
}

// Dispatcher validates operator commands against controller capability and
// serializes delivery through the link, which enforces mutual exclusion
// with concurrent reads. Command application is a single attempt: a device
// fault yields failed, never an automatic retry, because re-issuing a
// setpoint write may be unsafe without operator confirmation.
type Dispatcher struct {
	links LinkRegistry
	audit store.Store
	bus   *event.Bus

	queue   chan Command
	results chan Result
	done    chan struct{}
	stopped chan struct{}
}

// New creates a dispatcher. audit may be nil when command logging to the
// store is disabled.
func New(links LinkRegistry, audit store.Store, bus *event.Bus) *Dispatcher {
	d := &Dispatcher{
		links:   links,
		audit:   audit,
		bus:     bus,
		queue:   make(chan Command, queueSize),
		results: make(chan Result, resultBufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.worker()

	return d
}

// Results delivers every terminal outcome exactly once. The operator
// surface must consume it; delivery blocks rather than dropping outcomes.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Submit validates the command and queues it for delivery. Capability and
// validation failures fail fast with outcome rejected and never reach the
// link; the operator must resubmit with corrected input.
func (d *Dispatcher) Submit(ctx context.Context, controllerID, setpoint string, value float64) (Command, error) {
	errFactory := errors.New()

	cmd := Command{
		ID:           uuid.NewString(),
		ControllerID: controllerID,
		Setpoint:     setpoint,
		Value:        value,
		IssuedAt:     time.Now(),
		Outcome:      OutcomePending,
	}

	link, ok := d.links.Link(controllerID)
	if !ok {
		err := errFactory.WithData(ErrUnknownController, controllerID)
		d.finalize(&cmd, OutcomeRejected, err)
		return cmd, err
	}

	if !link.Controller().CanWrite(setpoint) {
		err := errFactory.WithData(ErrInvalidCapability, struct {
			Controller string
			Setpoint   string
		}{controllerID, setpoint})
		d.finalize(&cmd, OutcomeRejected, err)
		return cmd, err
	}

	select {
	case d.queue <- cmd:
		return cmd, nil
	case <-d.done:
		return cmd, errFactory.New(ErrDispatcherClosed)
	case <-ctx.Done():
		return cmd, errFactory.Wrap(ErrDispatcherClosed, ctx.Err())
	}
}

// Close stops the worker after the in-flight command completes.
func (d *Dispatcher) Close() {
	close(d.done)
	<-d.stopped
}

func (d *Dispatcher) worker() {
	defer close(d.stopped)

	for {
		select {
		case cmd := <-d.queue:
			d.deliver(&cmd)
		case <-d.done:
			// Commands accepted before shutdown still get a terminal
			// outcome; they fail rather than vanish.
			for {
				select {
				case cmd := <-d.queue:
					d.finalize(&cmd, OutcomeFailed, errors.New().New(ErrDispatcherClosed))
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(cmd *Command) {
	link, ok := d.links.Link(cmd.ControllerID)
	if !ok {
		// Controller was removed while the command was queued.
		d.finalize(cmd, OutcomeFailed, errors.New().WithData(ErrUnknownController, cmd.ControllerID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := link.Write(ctx, cmd.Setpoint, cmd.Value); err != nil {
		d.finalize(cmd, OutcomeFailed, err)
		return
	}

	d.finalize(cmd, OutcomeApplied, nil)
}

// finalize records the terminal outcome and reports it through every
// surface: results channel, event bus, metrics, and the store audit trail.
func (d *Dispatcher) finalize(cmd *Command, outcome Outcome, err error) {
	cmd.Outcome = outcome

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	logger.Info().
		Str("command", cmd.ID).
		Str("controller", cmd.ControllerID).
		Str("setpoint", cmd.Setpoint).
		Float64("value", cmd.Value).
		Str("outcome", string(outcome)).
		Msg("Command finished")

	observability.IncCommandOutcome(string(outcome))

	if d.bus != nil {
		d.bus.Publish(event.TypeCommandOutcome, event.CommandOutcome{
			CommandID:    cmd.ID,
			ControllerID: cmd.ControllerID,
			Setpoint:     cmd.Setpoint,
			Outcome:      string(outcome),
			Error:        errMsg,
		})
	}

	if d.audit != nil {
		rec := store.CommandRecord{
			ID:           cmd.ID,
			ControllerID: cmd.ControllerID,
			Setpoint:     cmd.Setpoint,
			Value:        cmd.Value,
			Outcome:      string(outcome),
			IssuedAt:     cmd.IssuedAt,
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if auditErr := d.audit.RecordCommand(ctx, rec); auditErr != nil {
			logger.Warn().Err(auditErr).Str("command", cmd.ID).Msg("Failed to record command audit entry")
		}
		cancel()
	}

	d.results <- Result{Command: *cmd, Err: err}
}
