package buffer

import (
	"sync"

	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/observability"
	"github.com/qcryo/fridgectl/internal/telemetry"
)

// DefaultCapacity holds roughly a minute of full-rate telemetry across a
// small lab of controllers.
const DefaultCapacity = 4096

// Buffer is a bounded FIFO between the poll path and the write path.
// Push never blocks: when the store is slower than ingestion the oldest
// samples are evicted and counted. Bounded memory is bought with historical
// completeness.
type Buffer struct {
	mu      sync.Mutex
	data    []telemetry.Sample
	cap     int
	dropped uint64
	notify  chan struct{}
	bus     *event.Bus
}

func New(capacity int, bus *event.Bus) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{
		data:   make([]telemetry.Sample, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
		bus:    bus,
	}
}

// Push appends a sample, evicting the oldest entry when full.
func (b *Buffer) Push(s telemetry.Sample) {
	b.mu.Lock()

	var droppedTotal uint64
	evicted := false
	if len(b.data) >= b.cap {
		b.data = b.data[1:]
		b.dropped++
		droppedTotal = b.dropped
		evicted = true
	}
	b.data = append(b.data, s)
	length := len(b.data)

	b.mu.Unlock()

	observability.SetBufferLength(length)
	if evicted {
		observability.AddSamplesDropped(1)
		if b.bus != nil {
			b.bus.Publish(event.TypeSamplesDropped, event.SamplesDropped{
				Dropped: 1,
				Total:   droppedTotal,
			})
		}
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// PopBatch removes and returns up to max samples in FIFO order.
func (b *Buffer) PopBatch(max int) telemetry.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(b.data) {
		max = len(b.data)
	}

	out := make(telemetry.Batch, max)
	copy(out, b.data[:max])
	b.data = append(b.data[:0], b.data[max:]...)

	observability.SetBufferLength(len(b.data))

	return out
}

// Notify signals after each Push; the writer uses it to flush a full batch
// before its interval elapses.
func (b *Buffer) Notify() <-chan struct{} {
	return b.notify
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.data)
}

// Dropped returns the monotonic count of evicted samples.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropped
}
