// Package migrations embeds the SmartAuth schema migrations into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/smartauth/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
