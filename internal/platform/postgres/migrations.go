package postgres

import "embed"

// MigrationsFS embeds the goose migration files so the binary can apply
// schema changes without a migrations directory on disk.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir is the path of the embedded migrations inside MigrationsFS.
const MigrationsDir = "migrations"
