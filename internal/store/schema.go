package store

import (
	"database/sql"

	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       controller_id TEXT NOT NULL,
	       channel       TEXT NOT NULL,
	       value         REAL NOT NULL,
	       unit          TEXT NOT NULL DEFAULT '',
	       timestamp     INTEGER NOT NULL,
	       seq           INTEGER NOT NULL,
	       PRIMARY KEY (controller_id, channel, seq)
	   );
	   CREATE INDEX IF NOT EXISTS idx_samples_time
	       ON samples (controller_id, channel, timestamp);
	   CREATE TABLE IF NOT EXISTS commands (
	       id            TEXT PRIMARY KEY,
	       controller_id TEXT NOT NULL,
	       setpoint      TEXT NOT NULL,
	       value         REAL NOT NULL,
	       outcome       TEXT NOT NULL,
	       issued_at     INTEGER NOT NULL
	   );`

	// The conflict clause makes batch retries idempotent on the
	// per-controller dedup key.
	insertSampleSQL = `
    INSERT INTO samples (controller_id, channel, value, unit, timestamp, seq)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT (controller_id, channel, seq) DO NOTHING`

	insertCommandSQL = `
    INSERT INTO commands (id, controller_id, setpoint, value, outcome, issued_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT (id) DO UPDATE SET outcome = excluded.outcome`
)

// InitSchema creates the schema when missing and records its version.
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	if version == SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Info().Int("version", SchemaVersion).Msg("Store schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 when none exists.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

func tableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
