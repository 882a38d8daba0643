package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirrorstate/mirror-core/internal/infrastructure/config"
)

// Postgres connection pool settings.
const (
	pgMaxConns        = 10
	pgMinConns        = 2
	pgMaxConnLifetime = 10 * time.Minute
	pgMaxConnIdleTime = 5 * time.Minute
)

// pgSchema is the entity schema for PostgreSQL. JSON values use the native
// JSONB column type; everything else matches the SQLite layout.
const pgSchema = `
CREATE TABLE IF NOT EXISTS entity_store (
	unique_id        TEXT PRIMARY KEY,
	application_name TEXT NOT NULL,
	entity_id        TEXT,
	state_json       JSONB,
	base_state       JSONB,
	first_observed   TIMESTAMPTZ NOT NULL,
	last_reported    TIMESTAMPTZ,
	last_modified    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_store_app ON entity_store(application_name);
CREATE TABLE IF NOT EXISTS entity_locals (
	unique_id     TEXT NOT NULL,
	key           TEXT NOT NULL,
	value_json    JSONB NOT NULL,
	last_modified TIMESTAMPTZ NOT NULL,
	UNIQUE (unique_id, key)
);
CREATE INDEX IF NOT EXISTS idx_entity_locals_id ON entity_locals(unique_id);
`

// PostgresBackend is the PostgreSQL client/server engine.
type PostgresBackend struct {
	pool *pgxpool.Pool
	app  string
	log  Logger
}

// OpenPostgres connects to PostgreSQL and initialises the schema.
// Schema failures are logged and non-fatal.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, appName string, log Logger) (*PostgresBackend, error) {
	if log == nil {
		log = noopLogger{}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}

	poolCfg.MaxConns = pgMaxConns
	poolCfg.MinConns = pgMinConns
	poolCfg.MaxConnLifetime = pgMaxConnLifetime
	poolCfg.MaxConnIdleTime = pgMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	b := &PostgresBackend{pool: pool, app: appName, log: log}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		log.Warn("schema initialisation failed, continuing with existing schema", "error", err)
	}

	return b, nil
}

// Load retrieves the entity row, or (nil, nil) when absent.
func (b *PostgresBackend) Load(ctx context.Context, uniqueID string) (*Row, error) {
	query := `
		SELECT unique_id, application_name, COALESCE(entity_id, ''),
			COALESCE(state_json, '{}'::jsonb), COALESCE(base_state, '{}'::jsonb),
			first_observed, COALESCE(last_reported, first_observed), last_modified
		FROM entity_store
		WHERE unique_id = $1`

	var row Row
	err := b.pool.QueryRow(ctx, query, uniqueID).Scan(
		&row.UniqueID,
		&row.AppName,
		&row.EntityID,
		&row.State,
		&row.BaseState,
		&row.FirstObserved,
		&row.LastReported,
		&row.LastModified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity row: %w", err)
	}
	return &row, nil
}

// Update upserts the entity row keyed on unique_id.
func (b *PostgresBackend) Update(ctx context.Context, uniqueID, entityID string, state, baseState map[string]any) error {
	now := time.Now().UTC()
	// On insert with no explicit base state, the written state doubles as
	// the base. On conflict, a NULL base parameter keeps the stored base.
	query := `
		INSERT INTO entity_store (
			unique_id, application_name, entity_id, state_json, base_state,
			first_observed, last_reported, last_modified
		) VALUES ($1, $2, NULLIF($3, ''), $4, COALESCE($5, $4), $6, $6, $6)
		ON CONFLICT (unique_id) DO UPDATE SET
			application_name = EXCLUDED.application_name,
			entity_id = COALESCE(EXCLUDED.entity_id, entity_store.entity_id),
			state_json = EXCLUDED.state_json,
			base_state = COALESCE($5, entity_store.base_state),
			last_reported = EXCLUDED.last_reported,
			last_modified = EXCLUDED.last_modified`

	_, err := b.pool.Exec(ctx, query, uniqueID, b.app, entityID, state, baseState, now)
	if err != nil {
		return fmt.Errorf("upserting entity row: %w", err)
	}
	return nil
}

// UpdateLocal upserts one (unique_id, key) locals row.
func (b *PostgresBackend) UpdateLocal(ctx context.Context, uniqueID, key string, value any) error {
	query := `
		INSERT INTO entity_locals (unique_id, key, value_json, last_modified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (unique_id, key) DO UPDATE SET
			value_json = EXCLUDED.value_json,
			last_modified = EXCLUDED.last_modified`

	// Wrap in a one-element map so scalar values survive the JSONB codec
	// symmetrically with LoadLocals.
	_, err := b.pool.Exec(ctx, query, uniqueID, key, wrapJSONB(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting locals row: %w", err)
	}
	return nil
}

// LoadLocals retrieves all locals rows for an entity, or (nil, nil) when
// the entity has none.
func (b *PostgresBackend) LoadLocals(ctx context.Context, uniqueID string) (map[string]any, error) {
	rows, err := b.pool.Query(ctx,
		"SELECT key, value_json FROM entity_locals WHERE unique_id = $1", uniqueID)
	if err != nil {
		return nil, fmt.Errorf("querying locals: %w", err)
	}
	defer rows.Close()

	var locals map[string]any
	for rows.Next() {
		var key string
		var wrapped map[string]any
		if err := rows.Scan(&key, &wrapped); err != nil {
			return nil, fmt.Errorf("scanning locals row: %w", err)
		}
		if locals == nil {
			locals = make(map[string]any)
		}
		locals[key] = wrapped["v"]
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating locals: %w", err)
	}
	return locals, nil
}

// DeleteLocal removes one locals row. Absent keys are a no-op success.
func (b *PostgresBackend) DeleteLocal(ctx context.Context, uniqueID, key string) error {
	_, err := b.pool.Exec(ctx,
		"DELETE FROM entity_locals WHERE unique_id = $1 AND key = $2", uniqueID, key)
	if err != nil {
		return fmt.Errorf("deleting locals row: %w", err)
	}
	return nil
}

// DeleteLocals removes the entire locals sub-table for an entity.
func (b *PostgresBackend) DeleteLocals(ctx context.Context, uniqueID string) error {
	_, err := b.pool.Exec(ctx,
		"DELETE FROM entity_locals WHERE unique_id = $1", uniqueID)
	if err != nil {
		return fmt.Errorf("deleting locals: %w", err)
	}
	return nil
}

// Purge removes the entity row and all of its locals.
func (b *PostgresBackend) Purge(ctx context.Context, uniqueID string) error {
	if err := b.DeleteLocals(ctx, uniqueID); err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx,
		"DELETE FROM entity_store WHERE unique_id = $1", uniqueID); err != nil {
		return fmt.Errorf("deleting entity row: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

// wrapJSONB boxes a locals value in a one-element object so that scalars,
// arrays, and null all round-trip through the JSONB codec identically.
func wrapJSONB(value any) map[string]any {
	return map[string]any{"v": value}
}
