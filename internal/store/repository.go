package store

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/fridgectl/telemetry.db"
)

type Config struct {
	DBPath string
}

func DefaultConfig() Config {
	return Config{
		DBPath: defaultDBPath,
	}
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}

	return nil
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepository opens (and if needed initializes) the SQLite store.
func NewRepository(cfg Config) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Telemetry store opened")

	return &sqliteRepository{db: db}, nil
}

func (r *sqliteRepository) WriteBatch(ctx context.Context, batch telemetry.Batch) error {
	errFactory := errors.New()

	if err := validateBatch(batch); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		rollback(tx)
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.ExecContext(ctx,
			s.ControllerID,
			s.Channel,
			s.Value,
			s.Unit,
			s.Timestamp.UnixNano(),
			int64(s.Seq),
		); err != nil {
			rollback(tx)
			return errFactory.Wrap(ErrWriteFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (r *sqliteRepository) RecordCommand(ctx context.Context, rec CommandRecord) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, insertCommandSQL,
		rec.ID,
		rec.ControllerID,
		rec.Setpoint,
		rec.Value,
		rec.Outcome,
		rec.IssuedAt.UnixNano(),
	); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Debug().Err(err).Msg("WAL checkpoint on close failed")
	}

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}

// validateBatch rejects batches the store could never accept. Such batches
// are malformed rather than transient failures and must not be retried.
func validateBatch(batch telemetry.Batch) error {
	errFactory := errors.New()

	for _, s := range batch {
		if s.ControllerID == "" || s.Channel == "" {
			return errFactory.WithData(ErrMalformedBatch, "missing controller id or channel")
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return errFactory.WithData(ErrMalformedBatch, struct {
				Controller string
				Channel    string
			}{s.ControllerID, s.Channel})
		}
	}

	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Debug().Err(err).Msg("Failed to roll back transaction")
	}
}
