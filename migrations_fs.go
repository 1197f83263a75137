package ticketmail

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the mail schema with sqlite alternatives under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// GetCoreMigrationsFS returns the tree migrations.Register applies by default.
func GetCoreMigrationsFS() fs.FS {
	return migrationsFS
}
