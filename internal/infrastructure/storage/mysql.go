package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/mirrorstate/mirror-core/internal/infrastructure/config"
)

// MySQL connection pool settings.
const (
	myMaxOpenConns    = 10
	myMaxIdleConns    = 2
	myConnMaxLifetime = 10 * time.Minute
	myConnectTimeout  = 5 * time.Second
)

// mysqlSchema holds the entity schema statements for MySQL. JSON values
// use the native JSON column type. Statements run one at a time because
// the driver does not allow multi-statement exec by default.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS entity_store (
		unique_id        VARCHAR(255) PRIMARY KEY,
		application_name VARCHAR(255) NOT NULL,
		entity_id        VARCHAR(255),
		state_json       JSON,
		base_state       JSON,
		first_observed   DATETIME(3) NOT NULL,
		last_reported    DATETIME(3),
		last_modified    DATETIME(3) NOT NULL,
		INDEX idx_entity_store_app (application_name)
	)`,
	"CREATE TABLE IF NOT EXISTS entity_locals (" +
		"unique_id VARCHAR(255) NOT NULL, " +
		"`key` VARCHAR(255) NOT NULL, " +
		"value_json JSON NOT NULL, " +
		"last_modified DATETIME(3) NOT NULL, " +
		"UNIQUE KEY uniq_entity_local (unique_id, `key`), " +
		"INDEX idx_entity_locals_id (unique_id)" +
		")",
}

// MySQLBackend is the MySQL client/server engine.
type MySQLBackend struct {
	db  *sql.DB
	app string
	log Logger
}

// OpenMySQL connects to MySQL and initialises the schema.
// Schema failures are logged and non-fatal.
func OpenMySQL(ctx context.Context, cfg config.MySQLConfig, appName string, log Logger) (*MySQLBackend, error) {
	if log == nil {
		log = noopLogger{}
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	db.SetMaxOpenConns(myMaxOpenConns)
	db.SetMaxIdleConns(myMaxIdleConns)
	db.SetConnMaxLifetime(myConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, myConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	b := &MySQLBackend{db: db, app: appName, log: log}

	for _, stmt := range mysqlSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Warn("schema initialisation failed, continuing with existing schema", "error", err)
			break
		}
	}

	return b, nil
}

// Load retrieves the entity row, or (nil, nil) when absent.
func (b *MySQLBackend) Load(ctx context.Context, uniqueID string) (*Row, error) {
	query := `
		SELECT unique_id, application_name, COALESCE(entity_id, ''),
			COALESCE(state_json, ''), COALESCE(base_state, ''),
			first_observed, COALESCE(last_reported, first_observed), last_modified
		FROM entity_store
		WHERE unique_id = ?`

	var (
		row                 Row
		stateJSON, baseJSON string
	)
	err := b.db.QueryRowContext(ctx, query, uniqueID).Scan(
		&row.UniqueID,
		&row.AppName,
		&row.EntityID,
		&stateJSON,
		&baseJSON,
		&row.FirstObserved,
		&row.LastReported,
		&row.LastModified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity row: %w", err)
	}

	if row.State, err = decodeState(stateJSON); err != nil {
		return nil, err
	}
	if row.BaseState, err = decodeState(baseJSON); err != nil {
		return nil, err
	}
	return &row, nil
}

// Update upserts the entity row keyed on unique_id.
func (b *MySQLBackend) Update(ctx context.Context, uniqueID, entityID string, state, baseState map[string]any) error {
	stateJSON, err := encodeState(state)
	if err != nil {
		return err
	}
	baseJSON, err := encodeState(baseState)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO entity_store (
			unique_id, application_name, entity_id, state_json, base_state,
			first_observed, last_reported, last_modified
		) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), COALESCE(NULLIF(?, ''), NULLIF(?, '')), ?, ?, ?)
		AS new
		ON DUPLICATE KEY UPDATE
			application_name = new.application_name,
			entity_id = COALESCE(new.entity_id, entity_store.entity_id),
			state_json = new.state_json,
			base_state = COALESCE(NULLIF(?, ''), entity_store.base_state),
			last_reported = new.last_reported,
			last_modified = new.last_modified`

	_, err = b.db.ExecContext(ctx, query,
		uniqueID, b.app, entityID, stateJSON, baseJSON, stateJSON, now, now, now,
		baseJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting entity row: %w", err)
	}
	return nil
}

// UpdateLocal upserts one (unique_id, key) locals row.
func (b *MySQLBackend) UpdateLocal(ctx context.Context, uniqueID, key string, value any) error {
	valueJSON, err := encodeValue(value)
	if err != nil {
		return err
	}

	query := "INSERT INTO entity_locals (unique_id, `key`, value_json, last_modified) " +
		"VALUES (?, ?, ?, ?) AS new " +
		"ON DUPLICATE KEY UPDATE value_json = new.value_json, last_modified = new.last_modified"

	_, err = b.db.ExecContext(ctx, query, uniqueID, key, valueJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting locals row: %w", err)
	}
	return nil
}

// LoadLocals retrieves all locals rows for an entity, or (nil, nil) when
// the entity has none.
func (b *MySQLBackend) LoadLocals(ctx context.Context, uniqueID string) (map[string]any, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT `key`, value_json FROM entity_locals WHERE unique_id = ?", uniqueID)
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
func (b *MySQLBackend) DeleteLocal(ctx context.Context, uniqueID, key string) error {
	_, err := b.db.ExecContext(ctx,
		"DELETE FROM entity_locals WHERE unique_id = ? AND `key` = ?", uniqueID, key)
	if err != nil {
		return fmt.Errorf("deleting locals row: %w", err)
	}
	return nil
}

// DeleteLocals removes the entire locals sub-table for an entity.
func (b *MySQLBackend) DeleteLocals(ctx context.Context, uniqueID string) error {
	_, err := b.db.ExecContext(ctx,
		"DELETE FROM entity_locals WHERE unique_id = ?", uniqueID)
	if err != nil {
		return fmt.Errorf("deleting locals: %w", err)
	}
	return nil
}

// Purge removes the entity row and all of its locals.
func (b *MySQLBackend) Purge(ctx context.Context, uniqueID string) error {
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
func (b *MySQLBackend) Close() error {
	if b.db == nil {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("closing mysql connection: %w", err)
	}
	return nil
}
