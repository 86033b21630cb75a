package store

import (
	"context"
	"time"

	"github.com/qcryo/fridgectl/internal/buffer"
	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/observability"
	"github.com/qcryo/fridgectl/internal/telemetry"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultRetryBase     = 500 * time.Millisecond
	DefaultRetryCap      = 30 * time.Second
	DefaultMaxAttempts   = 5
)

type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	RetryBase     time.Duration
	RetryCap      time.Duration
	MaxAttempts   int
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		RetryBase:     DefaultRetryBase,
		RetryCap:      DefaultRetryCap,
		MaxAttempts:   DefaultMaxAttempts,
	}
}

// Writer drains the sample buffer into the store in batches: a batch is
// written when it fills or when the flush interval elapses, whichever comes
// first. The single drain goroutine preserves the buffer's FIFO order, so
// per-controller chronological submission order reaches the store intact.
type Writer struct {
	store Store
	buf   *buffer.Buffer
	cfg   WriterConfig
	bus   *event.Bus

	// lastSeq tracks the highest sequence number seen per controller for
	// gap reporting; only the drain goroutine touches it.
	lastSeq map[string]uint64

	shutdownChan chan struct{}
	doneChan     chan struct{}
}

func NewWriter(s Store, buf *buffer.Buffer, cfg WriterConfig, bus *event.Bus) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultRetryCap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	w := &Writer{
		store:        s,
		buf:          buf,
		cfg:          cfg,
		bus:          bus,
		lastSeq:      make(map[string]uint64),
		shutdownChan: make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go w.drain()

	return w
}

// Close flushes what remains in the buffer and stops the drain loop.
func (w *Writer) Close() error {
	close(w.shutdownChan)
	<-w.doneChan

	return w.store.Close()
}

func (w *Writer) drain() {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flushAll()
		case <-w.buf.Notify():
			if w.buf.Len() >= w.cfg.BatchSize {
				w.flushAll()
			}
		case <-w.shutdownChan:
			w.flushAll()
			return
		}
	}
}

// flushAll writes full batches until the buffer drops below one batch, then
// a final partial batch. A backlog after a store outage drains here without
// waiting one interval per batch.
func (w *Writer) flushAll() {
	for {
		batch := w.buf.PopBatch(w.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}

		w.reportGaps(batch)
		w.writeWithRetry(batch)

		if len(batch) < w.cfg.BatchSize {
			return
		}
	}
}

// writeWithRetry retries transient failures with exponential backoff, up
// to MaxAttempts retries after the initial attempt, then drops the batch.
// A malformed batch is dropped after exactly one attempt so a poison batch
// can never wedge the drain loop.
func (w *Writer) writeWithRetry(batch telemetry.Batch) {
	backoff := w.cfg.RetryBase

	for retries := 0; ; retries++ {
		err := w.store.WriteBatch(context.Background(), batch)
		if err == nil {
			observability.AddSamplesWritten(len(batch))
			logger.Debug().Int("samples", len(batch)).Msg("Flushed batch to store")
			return
		}

		observability.IncStoreWriteFailure()

		if errors.HasCode(err, ErrMalformedBatch) {
			w.dropBatch(batch, err)
			return
		}

		if retries >= w.cfg.MaxAttempts {
			w.dropBatch(batch, err)
			return
		}

		logger.Warn().
			Err(err).
			Int("retry", retries+1).
			Dur("backoff", backoff).
			Msg("Store write failed, retrying")

		select {
		case <-time.After(backoff):
		case <-w.shutdownChan:
			w.dropBatch(batch, err)
			return
		}

		backoff *= 2
		if backoff > w.cfg.RetryCap {
			backoff = w.cfg.RetryCap
		}
	}
}

func (w *Writer) dropBatch(batch telemetry.Batch, err error) {
	observability.IncBatchDropped()

	logger.Error().
		Err(err).
		Int("samples", len(batch)).
		Strs("controllers", batch.ControllerIDs()).
		Msg("Dropping batch after store write failure")

	if w.bus != nil {
		w.bus.Publish(event.TypeStoreError, event.StoreError{
			Code:    string(errors.CodeOf(err)),
			Samples: len(batch),
			Error:   err.Error(),
		})
	}
}

// reportGaps surfaces missing sequence numbers. Gaps mean samples were lost
// upstream (buffer eviction, link trouble); they are reported, never fatal.
// Link sequences start at 1, so an unseen controller counts from 0 and a
// first sample with seq > 1 is itself a gap.
func (w *Writer) reportGaps(batch telemetry.Batch) {
	for _, s := range batch {
		last := w.lastSeq[s.ControllerID]
		if s.Seq > last+1 {
			missing := s.Seq - last - 1

			logger.Warn().
				Str("controller", s.ControllerID).
				Uint64("from", last).
				Uint64("to", s.Seq).
				Uint64("missing", missing).
				Msg("Sample sequence gap")

			if w.bus != nil {
				w.bus.Publish(event.TypeSequenceGap, event.SequenceGap{
					ControllerID: s.ControllerID,
					From:         last,
					To:           s.Seq,
					Missing:      missing,
				})
			}
		}
		if s.Seq > last {
			w.lastSeq[s.ControllerID] = s.Seq
		}
	}
}
