// Package storage provides the persistence backend for Mirror Core's
// virtual entities.
//
// One Backend interface fronts three interchangeable engines:
//
//   - SQLiteBackend: embedded single-file engine, JSON stored as TEXT
//   - PostgresBackend: client/server engine over pgx, JSONB columns
//   - MySQLBackend: client/server engine over database/sql, JSON columns
//
// Exactly one backend is active per process, selected via
// config.StorageConfig and constructed by Open. All engines share the
// same logical schema:
//
//   - entity_store: one row per entity (unique_id keyed upsert), holding
//     the serialized live state and the base-state snapshot used for
//     configuration-drift detection
//   - entity_locals: (unique_id, key) -> serialized value side-table
//
// Schema initialisation is best-effort by design: a failed migration is
// logged and the backend keeps serving against the schema that exists,
// because losing persistence must degrade the runtime, not crash it.
package storage
