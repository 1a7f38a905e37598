package migrations

import "embed"

// FS contains embedded SQLite migrations for colony save storage.
//
//go:embed *.sql
var FS embed.FS
