// Package migrations embeds SQL migration files into the binary.
//
// This allows Mirror Core to run migrations without needing the SQL files
// present on the filesystem - they're compiled into the executable.
package migrations

import (
	"embed"

	"github.com/mirrorstate/mirror-core/internal/infrastructure/storage"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the storage package.
	// The embed directive above captures all .sql files in this directory.
	storage.MigrationsFS = migrationsFS
	storage.MigrationsDir = "." // Files are at root of embedded FS
}
