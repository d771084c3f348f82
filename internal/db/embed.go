package db

import (
	"embed"
	"io/fs"
)

//go:embed migrations
var embeddedMigrations embed.FS

// getMigrationsFS returns the filesystem holding the SQL migration
// files. Migrations are embedded so deployed binaries carry their own
// schema history.
func getMigrationsFS() (fs.FS, error) {
	return fs.Sub(embeddedMigrations, "migrations")
}
