package event

import (
	"sync"
	"time"
)

// Type identifies the kind of event carried on the bus.
type Type string

const (
	TypeLinkState      Type = "link_state"
	TypeAlert          Type = "alert"
	TypeCommandOutcome Type = "command_outcome"
	TypeSamplesDropped Type = "samples_dropped"
	TypeSequenceGap    Type = "sequence_gap"
	TypeStoreError     Type = "store_error"
)

// Event is one state-change notification for the dashboard/observability
// boundary. Payload is one of the typed payload structs below.
type Event struct {
	Type    Type
	Time    time.Time
	Payload any
}

// LinkStateChange reports a controller link transition.
type LinkStateChange struct {
	ControllerID string
	From         string
	To           string
}

// AlertTransition reports an alert state change.
type AlertTransition struct {
	Rule         string
	Channel      string
	ControllerID string
	Severity     string
	From         string
	To           string
	Value        float64
}

// CommandOutcome reports a terminal command outcome.
type CommandOutcome struct {
	CommandID    string
	ControllerID string
	Setpoint     string
	Outcome      string
	Error        string
}

// SamplesDropped reports buffer evictions; Total is the monotonic counter.
type SamplesDropped struct {
	Dropped uint64
	Total   uint64
}

// SequenceGap reports missing samples observed on the write path.
type SequenceGap struct {
	ControllerID string
	From         uint64
	To           uint64
	Missing      uint64
}

// StoreError reports a dropped batch after write failure.
type StoreError struct {
	Code    string
	Samples int
	Error   string
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that cannot keep up loses events rather than stalling the supervisor.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber with the given channel buffer.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)

	return ch
}

// Publish delivers the event to all subscribers without blocking.
func (b *Bus) Publish(t Type, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	ev := Event{Type: t, Time: time.Now(), Payload: payload}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
