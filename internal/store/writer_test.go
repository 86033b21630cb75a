package store_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/qcryo/fridgectl/internal/buffer"
	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/store"
	"github.com/qcryo/fridgectl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init(false, false, true, "warning")
	os.Exit(m.Run())
}

// fakeStore counts write attempts and can fail a configurable number of
// times before succeeding. failures < 0 means fail forever.
type fakeStore struct {
	mu       sync.Mutex
	attempts int
	failures int
	failWith error
	written  telemetry.Batch
}

func (f *fakeStore) WriteBatch(_ context.Context, batch telemetry.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return f.failWith
	}
	f.written = append(f.written, batch...)

	return nil
}

func (f *fakeStore) RecordCommand(_ context.Context, _ store.CommandRecord) error {
	return nil
}

func (f *fakeStore) Close() error {
	return nil
}

func (f *fakeStore) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts
}

func (f *fakeStore) writtenBatch() telemetry.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(telemetry.Batch, len(f.written))
	copy(out, f.written)

	return out
}

func sample(controller string, seq uint64) telemetry.Sample {
	return telemetry.Sample{
		ControllerID: controller,
		Channel:      "mixing-chamber-temp",
		Value:        0.012,
		Unit:         "K",
		Timestamp:    time.Now(),
		Seq:          seq,
	}
}

func fastConfig() store.WriterConfig {
	return store.WriterConfig{
		BatchSize:     10,
		FlushInterval: 10 * time.Millisecond,
		RetryBase:     time.Millisecond,
		RetryCap:      2 * time.Millisecond,
		MaxAttempts:   5,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFlushOnFullBatch(t *testing.T) {
	fs := &fakeStore{}
	buf := buffer.New(100, nil)
	w := store.NewWriter(fs, buf, store.WriterConfig{
		BatchSize:     10,
		FlushInterval: time.Hour, // only the notify path can trigger this flush
	}, nil)
	defer w.Close()

	for seq := uint64(1); seq <= 10; seq++ {
		buf.Push(sample("fridge-1", seq))
	}

	waitFor(t, func() bool { return len(fs.writtenBatch()) == 10 },
		"full batch was not flushed before the interval")

	written := fs.writtenBatch()
	for i, s := range written {
		assert.Equal(t, uint64(i+1), s.Seq, "submission order preserved")
	}
}

func TestFlushOnInterval(t *testing.T) {
	fs := &fakeStore{}
	buf := buffer.New(100, nil)
	w := store.NewWriter(fs, buf, fastConfig(), nil)
	defer w.Close()

	buf.Push(sample("fridge-1", 1))

	waitFor(t, func() bool { return len(fs.writtenBatch()) == 1 },
		"partial batch was not flushed on interval")
}

func TestTransientFailureRetriesThenDrops(t *testing.T) {
	fs := &fakeStore{
		failures: -1,
		failWith: errors.New().New(store.ErrWriteFailed),
	}
	buf := buffer.New(100, nil)

	bus := event.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	w := store.NewWriter(fs, buf, fastConfig(), bus)
	defer w.Close()

	buf.Push(sample("fridge-1", 1))

	select {
	case ev := <-sub:
		require.Equal(t, event.TypeStoreError, ev.Type)
		payload, ok := ev.Payload.(event.StoreError)
		require.True(t, ok)
		assert.Equal(t, string(store.ErrWriteFailed), payload.Code)
		assert.Equal(t, 1, payload.Samples)
	case <-time.After(2 * time.Second):
		t.Fatal("no store error event after exhausted retries")
	}

	assert.Equal(t, 6, fs.attemptCount(), "one initial attempt plus five retries")
}

func TestTransientFailureEventuallySucceeds(t *testing.T) {
	fs := &fakeStore{
		failures: 2,
		failWith: errors.New().New(store.ErrWriteFailed),
	}
	buf := buffer.New(100, nil)
	w := store.NewWriter(fs, buf, fastConfig(), nil)
	defer w.Close()

	buf.Push(sample("fridge-1", 1))

	waitFor(t, func() bool { return len(fs.writtenBatch()) == 1 },
		"batch was not written after transient failures cleared")
	assert.Equal(t, 3, fs.attemptCount())
}

func TestMalformedBatchDroppedWithoutRetry(t *testing.T) {
	fs := &fakeStore{
		failures: -1,
		failWith: errors.New().New(store.ErrMalformedBatch),
	}
	buf := buffer.New(100, nil)

	bus := event.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	w := store.NewWriter(fs, buf, fastConfig(), bus)
	defer w.Close()

	buf.Push(sample("fridge-1", 1))

	select {
	case ev := <-sub:
		require.Equal(t, event.TypeStoreError, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no store error event for malformed batch")
	}

	assert.Equal(t, 1, fs.attemptCount(), "poison batches get exactly one attempt")
}

func TestSequenceGapReported(t *testing.T) {
	fs := &fakeStore{}
	buf := buffer.New(100, nil)

	bus := event.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	w := store.NewWriter(fs, buf, fastConfig(), bus)
	defer w.Close()

	buf.Push(sample("fridge-1", 1))
	buf.Push(sample("fridge-1", 2))
	buf.Push(sample("fridge-1", 5))

	select {
	case ev := <-sub:
		require.Equal(t, event.TypeSequenceGap, ev.Type)
		gap, ok := ev.Payload.(event.SequenceGap)
		require.True(t, ok)
		assert.Equal(t, "fridge-1", gap.ControllerID)
		assert.Equal(t, uint64(2), gap.From)
		assert.Equal(t, uint64(5), gap.To)
		assert.Equal(t, uint64(2), gap.Missing)
	case <-time.After(2 * time.Second):
		t.Fatal("no sequence gap event")
	}

	assert.Len(t, fs.writtenBatch(), 3, "gapped batch is still written")
}

func TestGapBeforeFirstSampleReported(t *testing.T) {
	fs := &fakeStore{}
	buf := buffer.New(100, nil)

	bus := event.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	w := store.NewWriter(fs, buf, fastConfig(), bus)
	defer w.Close()

	// Sequences start at 1; everything before seq 501 was evicted upstream.
	buf.Push(sample("fridge-1", 501))

	select {
	case ev := <-sub:
		require.Equal(t, event.TypeSequenceGap, ev.Type)
		gap, ok := ev.Payload.(event.SequenceGap)
		require.True(t, ok)
		assert.Equal(t, uint64(0), gap.From)
		assert.Equal(t, uint64(501), gap.To)
		assert.Equal(t, uint64(500), gap.Missing)
	case <-time.After(2 * time.Second):
		t.Fatal("no sequence gap event for a late first sample")
	}
}

func TestCloseFlushesRemaining(t *testing.T) {
	fs := &fakeStore{}
	buf := buffer.New(100, nil)
	w := store.NewWriter(fs, buf, store.WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, nil)

	for seq := uint64(1); seq <= 5; seq++ {
		buf.Push(sample("fridge-1", seq))
	}

	require.NoError(t, w.Close())
	assert.Len(t, fs.writtenBatch(), 5, "close drains the buffer")
}
