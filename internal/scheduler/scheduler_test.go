package scheduler_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/qcryo/fridgectl/internal/buffer"
	"github.com/qcryo/fridgectl/internal/controller"
	"github.com/qcryo/fridgectl/internal/controller/sim"
	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/scheduler"
	"github.com/qcryo/fridgectl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init(false, false, true, "warning")
	os.Exit(m.Run())
}

type captureSink struct {
	mu      sync.Mutex
	samples []telemetry.Sample
}

func (c *captureSink) Submit(s telemetry.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.samples)
}

func simLink(id string, period time.Duration, tr *sim.Transport) *controller.Link {
	ctrl := controller.Controller{
		ID:         id,
		Transport:  "sim",
		PollPeriod: period,
		Channels:   []string{"mixing-chamber-temp", "still-temp"},
		Setpoints:  []string{"mixing-chamber-temp-setpoint"},
		Units:      map[string]string{"mixing-chamber-temp": "K", "still-temp": "K"},
	}

	return controller.NewLink(ctrl, tr, controller.Config{}, nil)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPollingFillsBufferAndSink(t *testing.T) {
	buf := buffer.New(100, nil)
	sink := &captureSink{}
	s := scheduler.New(buf, sink)
	defer s.Stop(context.Background())

	link := simLink("fridge-1", 10*time.Millisecond, sim.New(1))
	require.NoError(t, s.Add(link))

	waitFor(t, func() bool { return buf.Len() >= 4 }, "no samples polled into the buffer")
	waitFor(t, func() bool { return sink.count() >= 4 }, "no samples reached the sink")

	batch := buf.PopBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "fridge-1", batch[0].ControllerID)
	assert.Equal(t, "mixing-chamber-temp", batch[0].Channel)
	assert.Equal(t, "K", batch[0].Unit)
	assert.Equal(t, uint64(1), batch[0].Seq)
}

func TestDuplicateControllerRejected(t *testing.T) {
	s := scheduler.New(buffer.New(100, nil), nil)
	defer s.Stop(context.Background())

	link := simLink("fridge-1", time.Hour, sim.New(1))
	require.NoError(t, s.Add(link))

	dup := simLink("fridge-1", time.Hour, sim.New(2))
	err := s.Add(dup)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, scheduler.ErrDuplicateController))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = dup.Close(ctx)
}

func TestRemoveStopsPollingAndClosesLink(t *testing.T) {
	buf := buffer.New(100, nil)
	s := scheduler.New(buf, nil)

	link := simLink("fridge-1", 10*time.Millisecond, sim.New(1))
	require.NoError(t, s.Add(link))

	waitFor(t, func() bool { return buf.Len() > 0 }, "polling never started")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Remove(ctx, "fridge-1"))

	_, ok := s.Link("fridge-1")
	assert.False(t, ok)

	_, err := link.Read(context.Background(), []string{"mixing-chamber-temp"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, controller.ErrLinkClosed))

	err = s.Remove(ctx, "fridge-1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, scheduler.ErrUnknownController))
}

func TestReconnectAfterConnectFailures(t *testing.T) {
	buf := buffer.New(100, nil)
	s := scheduler.New(buf, nil)
	defer s.Stop(context.Background())

	tr := sim.New(1)
	tr.SetFailConnect(assert.AnError)

	link := simLink("fridge-1", 10*time.Millisecond, tr)
	require.NoError(t, s.Add(link))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, buf.Len(), "no samples while the controller is unreachable")
	assert.Equal(t, controller.StateDisconnected, link.State())

	tr.SetFailConnect(nil)

	waitFor(t, func() bool { return buf.Len() > 0 }, "polling never resumed after reconnect")
	assert.Equal(t, controller.StateConnected, link.State())
}

func TestLinkLookup(t *testing.T) {
	s := scheduler.New(buffer.New(100, nil), nil)
	defer s.Stop(context.Background())

	link := simLink("fridge-1", time.Hour, sim.New(1))
	require.NoError(t, s.Add(link))

	got, ok := s.Link("fridge-1")
	require.True(t, ok)
	assert.Same(t, link, got)

	_, ok = s.Link("fridge-2")
	assert.False(t, ok)
}
