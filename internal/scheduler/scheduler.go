package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/qcryo/fridgectl/internal/buffer"
	"github.com/qcryo/fridgectl/internal/controller"
	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/telemetry"
)

const DefaultPollPeriod = time.Second

const (
	ErrDuplicateController = errors.ErrorCode("scheduler_duplicate_controller")
	ErrUnknownController   = errors.ErrorCode("scheduler_unknown_controller")
)

// SampleSink receives the polled sample stream alongside the buffer.
// The alert engine implements it.
type SampleSink interface {
	Submit(s telemetry.Sample)
}

// Scheduler drives periodic polling of all registered controller links,
// one timer goroutine per controller with its own cadence. Polls run
// synchronously inside each goroutine and the ticker coalesces missed
// ticks, so a slow device can never pile up pending polls.
type Scheduler struct {
	buf    *buffer.Buffer
	alerts SampleSink

	mu      sync.Mutex
	pollers map[string]*poller
}

type poller struct {
	link   *controller.Link
	period time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

func New(buf *buffer.Buffer, alerts SampleSink) *Scheduler {
	return &Scheduler{
		buf:     buf,
		alerts:  alerts,
		pollers: make(map[string]*poller),
	}
}

// Add registers a link and starts its poll timer.
func (s *Scheduler) Add(link *controller.Link) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := link.ID()
	if _, ok := s.pollers[id]; ok {
		return errFactory.WithData(ErrDuplicateController, id)
	}

	period := link.Controller().PollPeriod
	if period <= 0 {
		period = DefaultPollPeriod
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		link:   link,
		period: period,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.pollers[id] = p
	go p.run(ctx, s)

	logger.Info().
		Str("controller", id).
		Dur("period", period).
		Msg("Polling started")

	return nil
}

// Remove cancels the controller's timer and closes its link gracefully:
// an in-flight operation completes or times out before teardown.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	errFactory := errors.New()

	s.mu.Lock()
	p, ok := s.pollers[id]
	if ok {
		delete(s.pollers, id)
	}
	s.mu.Unlock()

	if !ok {
		return errFactory.WithData(ErrUnknownController, id)
	}

	p.cancel()
	select {
	case <-p.done:
	case <-ctx.Done():
	}

	if err := p.link.Close(ctx); err != nil {
		return err
	}

	logger.Info().Str("controller", id).Msg("Polling stopped")

	return nil
}

// Link returns the registered link for a controller id. The command
// dispatcher uses it to route setpoint writes.
func (s *Scheduler) Link(id string) (*controller.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pollers[id]
	if !ok {
		return nil, false
	}

	return p.link, true
}

// Stop removes all controllers.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Remove(ctx, id); err != nil {
			logger.Warn().Err(err).Str("controller", id).Msg("Failed to stop polling cleanly")
		}
	}
}

func (p *poller) run(ctx context.Context, s *Scheduler) {
	defer close(p.done)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, s)
		}
	}
}

// poll runs one cycle: reconnect when the link is down, otherwise read the
// controller's channels and fan the samples out to the buffer and the alert
// engine. Failures only skip this cycle; the link's own degradation and
// backoff decide what happens next.
func (p *poller) poll(ctx context.Context, s *Scheduler) {
	opCtx, cancel := context.WithTimeout(ctx, p.period)
	defer cancel()

	if p.link.State() == controller.StateDisconnected {
		if err := p.link.Connect(opCtx); err != nil {
			logger.Debug().Err(err).Str("controller", p.link.ID()).Msg("Reconnect attempt failed")
		}
		return
	}

	samples, err := p.link.Read(opCtx, p.link.Controller().Channels)
	if err != nil {
		if errors.HasCode(err, controller.ErrDeviceError) {
			logger.Warn().Err(err).Str("controller", p.link.ID()).Msg("Device fault during poll")
		} else {
			logger.Debug().Err(err).Str("controller", p.link.ID()).Msg("Poll failed")
		}
		return
	}

	for _, sample := range samples {
		s.buf.Push(sample)
		if s.alerts != nil {
			s.alerts.Submit(sample)
		}
	}
}
