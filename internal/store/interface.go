package store

import (
	"context"
	"time"

	"github.com/qcryo/fridgectl/internal/telemetry"
)

// Store is the write boundary to the time-series store. The supervisor only
// writes; range queries belong to the dashboard layer.
type Store interface {
	// WriteBatch persists the batch atomically in one transaction.
	// Retried writes are idempotent on (controller id, channel, seq).
	WriteBatch(ctx context.Context, batch telemetry.Batch) error

	// RecordCommand appends one entry to the command audit trail.
	RecordCommand(ctx context.Context, rec CommandRecord) error

	Close() error
}

// CommandRecord is one audited operator command.
type CommandRecord struct {
	ID           string
	ControllerID string
	Setpoint     string
	Value        float64
	Outcome      string
	IssuedAt     time.Time
}
