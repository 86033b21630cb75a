package controller

import (
	"context"
	"sync"
	"time"

	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/observability"
	"github.com/qcryo/fridgectl/internal/telemetry"
)

const (
	DefaultFailureThreshold = 3
	DefaultDegradedTimeout  = 30 * time.Second
	DefaultCloseTimeout     = 10 * time.Second
)

// Config tunes the link failure handling.
type Config struct {
	FailureThreshold int
	DegradedTimeout  time.Duration
	CloseTimeout     time.Duration
}

func DefaultLinkConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		DegradedTimeout:  DefaultDegradedTimeout,
		CloseTimeout:     DefaultCloseTimeout,
	}
}

type opKind int

const (
	opConnect opKind = iota
	opRead
	opWrite
	opClose
)

type request struct {
	kind     opKind
	ctx      context.Context
	channels []string
	setpoint string
	value    float64
	result   chan result
}

type result struct {
	samples []telemetry.Sample
	err     error
}

// Link manages the connection lifecycle and transport I/O for one
// controller. All operations funnel through a single goroutine, so at most
// one read or write is in flight per link and concurrent callers are served
// in submission order.
type Link struct {
	ctrl      Controller
	transport Transport
	cfg       Config
	bus       *event.Bus

	requests chan *request
	done     chan struct{}

	mu       sync.RWMutex
	state    State
	lastRead time.Time

	// owned by the run goroutine
	consecutiveFails int
	degradedSince    time.Time
	seq              uint64

	closeOnce sync.Once
}

func NewLink(ctrl Controller, transport Transport, cfg Config, bus *event.Bus) *Link {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.DegradedTimeout <= 0 {
		cfg.DegradedTimeout = DefaultDegradedTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}

	l := &Link{
		ctrl:      ctrl,
		transport: transport,
		cfg:       cfg,
		bus:       bus,
		requests:  make(chan *request),
		done:      make(chan struct{}),
		state:     StateDisconnected,
	}
	go l.run()

	return l
}

func (l *Link) Controller() Controller {
	return l.ctrl
}

func (l *Link) ID() string {
	return l.ctrl.ID
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.state
}

// LastRead returns the time of the last successful read.
func (l *Link) LastRead() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.lastRead
}

// Connect establishes the transport connection and handshake.
func (l *Link) Connect(ctx context.Context) error {
	_, err := l.submit(&request{kind: opConnect, ctx: ctx})

	return err
}

// Read polls the given channels and returns a batch of samples with
// per-controller monotonic sequence numbers.
func (l *Link) Read(ctx context.Context, channels []string) ([]telemetry.Sample, error) {
	return l.submit(&request{kind: opRead, ctx: ctx, channels: channels})
}

// Write applies one setpoint. Channels outside the writable capability set
// are rejected immediately without touching the transport.
func (l *Link) Write(ctx context.Context, setpoint string, value float64) error {
	if !l.ctrl.CanWrite(setpoint) {
		return errors.New().WithData(ErrInvalidCapability, struct {
			Controller string
			Setpoint   string
		}{
			Controller: l.ctrl.ID,
			Setpoint:   setpoint,
		})
	}

	_, err := l.submit(&request{kind: opWrite, ctx: ctx, setpoint: setpoint, value: value})

	return err
}

// Close drains the in-flight operation and tears the link down. The
// in-flight operation is allowed to complete within the close timeout;
// after that the transport is closed underneath it to force teardown.
func (l *Link) Close(ctx context.Context) error {
	errFactory := errors.New()

	l.closeOnce.Do(func() {
		go func() {
			select {
			case l.requests <- &request{kind: opClose, ctx: context.Background(), result: make(chan result, 1)}:
			case <-l.done:
			}
		}()
	})

	timeout := time.NewTimer(l.cfg.CloseTimeout)
	defer timeout.Stop()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		l.teardown()
		return errFactory.Wrap(ErrCloseTimeout, ctx.Err())
	case <-timeout.C:
		l.teardown()
		return errFactory.New(ErrCloseTimeout).WithMessage("link close timed out")
	}
}

func (l *Link) submit(req *request) ([]telemetry.Sample, error) {
	errFactory := errors.New()
	req.result = make(chan result, 1)

	select {
	case l.requests <- req:
	case <-l.done:
		return nil, errFactory.New(ErrLinkClosed)
	case <-req.ctx.Done():
		return nil, errFactory.Wrap(ErrLinkUnavailable, req.ctx.Err())
	}

	select {
	case res := <-req.result:
		return res.samples, res.err
	case <-req.ctx.Done():
		// The operation keeps running in the loop; the caller just stops
		// waiting. The one-in-flight invariant is preserved.
		return nil, errFactory.Wrap(ErrLinkUnavailable, req.ctx.Err())
	}
}

func (l *Link) run() {
	defer close(l.done)

	for req := range l.requests {
		if req.ctx.Err() != nil {
			req.result <- result{err: errors.New().Wrap(ErrLinkUnavailable, req.ctx.Err())}
			continue
		}

		l.maybeExpireDegraded()

		switch req.kind {
		case opConnect:
			req.result <- result{err: l.handleConnect(req.ctx)}
		case opRead:
			samples, err := l.handleRead(req.ctx, req.channels)
			req.result <- result{samples: samples, err: err}
		case opWrite:
			req.result <- result{err: l.handleWrite(req.ctx, req.setpoint, req.value)}
		case opClose:
			l.teardown()
			req.result <- result{}
			return
		}
	}
}

// maybeExpireDegraded forces a full reconnect once the fast-retry window
// of the degraded state has passed.
func (l *Link) maybeExpireDegraded() {
	if l.State() != StateDegraded {
		return
	}
	if time.Since(l.degradedSince) < l.cfg.DegradedTimeout {
		return
	}

	logger.Debug().
		Str("controller", l.ctrl.ID).
		Dur("degraded_for", time.Since(l.degradedSince)).
		Msg("Degraded window expired, forcing reconnect")

	l.teardown()
	l.transition(StateDisconnected)
}

func (l *Link) handleConnect(ctx context.Context) error {
	errFactory := errors.New()

	if l.State().operational() {
		return nil
	}

	l.transition(StateConnecting)
	if err := l.transport.Connect(ctx); err != nil {
		l.transition(StateDisconnected)
		return errFactory.Wrap(ErrLinkUnavailable, err)
	}

	l.consecutiveFails = 0
	l.transition(StateConnected)

	return nil
}

func (l *Link) handleRead(ctx context.Context, channels []string) ([]telemetry.Sample, error) {
	errFactory := errors.New()

	if !l.State().operational() {
		return nil, errFactory.WithData(ErrLinkUnavailable, l.State().String())
	}

	values, err := l.transport.Read(ctx, channels)
	if err != nil {
		return nil, l.recordFailure(err)
	}

	l.recordSuccess()
	now := time.Now()

	l.mu.Lock()
	l.lastRead = now
	l.mu.Unlock()

	samples := make([]telemetry.Sample, 0, len(values))
	for _, ch := range channels {
		v, ok := values[ch]
		if !ok {
			continue
		}
		l.seq++
		samples = append(samples, telemetry.Sample{
			ControllerID: l.ctrl.ID,
			Channel:      ch,
			Value:        v,
			Unit:         l.ctrl.Unit(ch),
			Timestamp:    now,
			Seq:          l.seq,
		})
	}

	return samples, nil
}

func (l *Link) handleWrite(ctx context.Context, setpoint string, value float64) error {
	errFactory := errors.New()

	if !l.State().operational() {
		return errFactory.WithData(ErrLinkUnavailable, l.State().String())
	}

	if err := l.transport.Write(ctx, setpoint, value); err != nil {
		return l.recordFailure(err)
	}

	l.recordSuccess()

	return nil
}

// recordFailure classifies the transport error and advances the failure
// count toward the degraded state.
func (l *Link) recordFailure(err error) error {
	l.consecutiveFails++

	if l.State() == StateConnected && l.consecutiveFails >= l.cfg.FailureThreshold {
		l.degradedSince = time.Now()
		l.transition(StateDegraded)
	}

	if errors.HasCode(err, ErrDeviceError) {
		return err
	}

	return errors.New().Wrap(ErrLinkUnavailable, err)
}

func (l *Link) recordSuccess() {
	l.consecutiveFails = 0

	if l.State() == StateDegraded {
		l.transition(StateConnected)
	}
}

func (l *Link) teardown() {
	if err := l.transport.Close(); err != nil {
		logger.Debug().Err(err).Str("controller", l.ctrl.ID).Msg("Transport close failed")
	}
}

func (l *Link) transition(to State) {
	l.mu.Lock()
	from := l.state
	if from == to {
		l.mu.Unlock()
		return
	}
	l.state = to
	l.mu.Unlock()

	logger.Info().
		Str("controller", l.ctrl.ID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Link state changed")

	observability.IncLinkTransition(l.ctrl.ID, to.String())
	if l.bus != nil {
		l.bus.Publish(event.TypeLinkState, event.LinkStateChange{
			ControllerID: l.ctrl.ID,
			From:         from.String(),
			To:           to.String(),
		})
	}
}
