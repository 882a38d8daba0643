package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mirrorstate/mirror-core/internal/infrastructure/config"
)

// Logger defines the logging interface used by storage backends.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Row is the durable representation of one entity's configuration.
//
// State holds the live value set; BaseState holds the declared-defaults
// snapshot taken at the last (re)initialisation, which the storage engine
// compares against current compiled-in defaults to detect drift.
type Row struct {
	UniqueID      string
	AppName       string
	EntityID      string // consumer-side entity id, empty when unknown
	State         map[string]any
	BaseState     map[string]any
	FirstObserved time.Time
	LastReported  time.Time
	LastModified  time.Time
}

// Backend is the normalized persistence interface shared by all engines.
//
// Implementations differ only in connection setup/teardown and value
// encoding (SQLite stores JSON as TEXT, the server engines use native
// JSON column types). Caller semantics are identical:
//
//   - Load returns (nil, nil) when no row exists for the unique id.
//   - Update is an upsert keyed on unique_id; it never duplicates rows.
//     A nil baseState leaves the stored base state untouched (on insert
//     the written state doubles as the base). An empty entityID leaves
//     the stored consumer-side id untouched.
//   - LoadLocals returns (nil, nil) when the entity has no locals rows.
//   - DeleteLocal of an absent key is a no-op success.
//
// All implementations must be safe for concurrent use.
type Backend interface {
	Load(ctx context.Context, uniqueID string) (*Row, error)
	Update(ctx context.Context, uniqueID, entityID string, state, baseState map[string]any) error

	UpdateLocal(ctx context.Context, uniqueID, key string, value any) error
	LoadLocals(ctx context.Context, uniqueID string) (map[string]any, error)
	DeleteLocal(ctx context.Context, uniqueID, key string) error
	DeleteLocals(ctx context.Context, uniqueID string) error

	// Purge removes the entity row and all of its locals.
	Purge(ctx context.Context, uniqueID string) error

	Close() error
}

// Supported engine names, matching config.StorageConfig.Engine.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
)

// Open creates the backend selected by configuration.
//
// Exactly one backend is active per process; it is opened once after
// configuration is loaded and closed once at shutdown. Schema
// initialisation failures inside the engines are logged and non-fatal —
// the backend continues operating against whatever schema exists.
func Open(ctx context.Context, cfg config.StorageConfig, appName string, log Logger) (Backend, error) {
	if log == nil {
		log = noopLogger{}
	}

	switch cfg.Engine {
	case EngineSQLite:
		return OpenSQLite(ctx, cfg.SQLite, appName, log)
	case EnginePostgres:
		return OpenPostgres(ctx, cfg.Postgres, appName, log)
	case EngineMySQL:
		return OpenMySQL(ctx, cfg.MySQL, appName, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}
