package migrations

import "embed"

// FS contains embedded Postgres migrations for the game journal.
//
//go:embed *.sql
var FS embed.FS
