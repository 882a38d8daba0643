package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mirrorstate/mirror-core/internal/infrastructure/config"
)

// SQLite configuration constants.
const (
	// sqliteDirPermissions is the permission mode for the database directory.
	sqliteDirPermissions = 0750

	// sqliteFilePermissions is the permission mode for the database file.
	sqliteFilePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// sqliteConnectTimeout is the timeout for verifying database connectivity.
	sqliteConnectTimeout = 5 * time.Second
)

// SQLiteBackend is the embedded single-file engine.
//
// JSON values are stored as TEXT. SQLite works best with a single writer,
// so the connection pool is capped at one open connection; the per-entity
// write queues above this layer keep contention low.
type SQLiteBackend struct {
	db  *sql.DB
	app string
	log Logger
}

// OpenSQLite opens (creating if necessary) the embedded database.
//
// Schema migrations run at open time but are best-effort: a migration
// failure is logged at WARN and the backend continues against the
// existing schema.
func OpenSQLite(ctx context.Context, cfg config.SQLiteConfig, appName string, log Logger) (*SQLiteBackend, error) {
	if log == nil {
		log = noopLogger{}
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, sqliteDirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, sqliteConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// File might not exist until first write; ignore errors.
	_ = os.Chmod(cfg.Path, sqliteFilePermissions) //nolint:errcheck

	b := &SQLiteBackend{db: db, app: appName, log: log}

	if err := b.migrate(ctx); err != nil {
		log.Warn("schema migration failed, continuing with existing schema", "error", err)
	}

	return b, nil
}

// Load retrieves the entity row, or (nil, nil) when absent.
func (b *SQLiteBackend) Load(ctx context.Context, uniqueID string) (*Row, error) {
	query := `
		SELECT unique_id, application_name, entity_id, state_json, base_state,
			first_observed, last_reported, last_modified
		FROM entity_store
		WHERE unique_id = ?`

	var (
		row                        Row
		entityID                   sql.NullString
		stateJSON, baseJSON        sql.NullString
		firstObs, lastRep, lastMod sql.NullString
	)
	err := b.db.QueryRowContext(ctx, query, uniqueID).Scan(
		&row.UniqueID,
		&row.AppName,
		&entityID,
		&stateJSON,
		&baseJSON,
		&firstObs,
		&lastRep,
		&lastMod,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity row: %w", err)
	}

	row.EntityID = entityID.String
	if row.State, err = decodeState(stateJSON.String); err != nil {
		return nil, err
	}
	if row.BaseState, err = decodeState(baseJSON.String); err != nil {
		return nil, err
	}
	row.FirstObserved = parseSQLiteTime(firstObs)
	row.LastReported = parseSQLiteTime(lastRep)
	row.LastModified = parseSQLiteTime(lastMod)

	return &row, nil
}

// Update upserts the entity row keyed on unique_id.
func (b *SQLiteBackend) Update(ctx context.Context, uniqueID, entityID string, state, baseState map[string]any) error {
	stateJSON, err := encodeState(state)
	if err != nil {
		return err
	}
	baseJSON, err := encodeState(baseState)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO entity_store (
			unique_id, application_name, entity_id, state_json, base_state,
			first_observed, last_reported, last_modified
		) VALUES (?, ?, NULLIF(?, ''), ?, COALESCE(NULLIF(?, ''), ?), ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			application_name = excluded.application_name,
			entity_id = COALESCE(excluded.entity_id, entity_store.entity_id),
			state_json = excluded.state_json,
			base_state = CASE WHEN ? != '' THEN ? ELSE entity_store.base_state END,
			last_reported = excluded.last_reported,
			last_modified = excluded.last_modified`

	_, err = b.db.ExecContext(ctx, query,
		uniqueID, b.app, entityID, stateJSON, baseJSON, stateJSON, now, now, now,
		baseJSON, baseJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting entity row: %w", err)
	}
	return nil
}

// UpdateLocal upserts one (unique_id, key) locals row.
func (b *SQLiteBackend) UpdateLocal(ctx context.Context, uniqueID, key string, value any) error {
	valueJSON, err := encodeValue(value)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entity_locals (unique_id, key, value_json, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(unique_id, key) DO UPDATE SET
			value_json = excluded.value_json,
			last_modified = excluded.last_modified`

	_, err = b.db.ExecContext(ctx, query,
		uniqueID, key, valueJSON, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting locals row: %w", err)
	}
	return nil
}

// LoadLocals retrieves all locals rows for an entity, or (nil, nil) when
// the entity has none.
func (b *SQLiteBackend) LoadLocals(ctx context.Context, uniqueID string) (map[string]any, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT key, value_json FROM entity_locals WHERE unique_id = ?", uniqueID)
	if err != nil {
		return nil, fmt.Errorf("querying locals: %w", err)
	}
	defer rows.Close()

	var locals map[string]any
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return nil, fmt.Errorf("scanning locals row: %w", err)
		}
		value, err := decodeValue(valueJSON)
		if err != nil {
			return nil, err
		}
		if locals == nil {
			locals = make(map[string]any)
		}
		locals[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating locals: %w", err)
	}
	return locals, nil
}

// DeleteLocal removes one locals row. Absent keys are a no-op success.
func (b *SQLiteBackend) DeleteLocal(ctx context.Context, uniqueID, key string) error {
	_, err := b.db.ExecContext(ctx,
		"DELETE FROM entity_locals WHERE unique_id = ? AND key = ?", uniqueID, key)
	if err != nil {
		return fmt.Errorf("deleting locals row: %w", err)
	}
	return nil
}

// DeleteLocals removes the entire locals sub-table for an entity.
func (b *SQLiteBackend) DeleteLocals(ctx context.Context, uniqueID string) error {
	_, err := b.db.ExecContext(ctx,
		"DELETE FROM entity_locals WHERE unique_id = ?", uniqueID)
	if err != nil {
		return fmt.Errorf("deleting locals: %w", err)
	}
	return nil
}

// Purge removes the entity row and all of its locals.
func (b *SQLiteBackend) Purge(ctx context.Context, uniqueID string) error {
	if err := b.DeleteLocals(ctx, uniqueID); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx,
		"DELETE FROM entity_store WHERE unique_id = ?", uniqueID); err != nil {
		return fmt.Errorf("deleting entity row: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// parseSQLiteTime parses an RFC3339 column, returning the zero time for
// NULL or malformed values. The format is controlled by this package.
func parseSQLiteTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s.String) //nolint:errcheck // Format is controlled
	return t
}
