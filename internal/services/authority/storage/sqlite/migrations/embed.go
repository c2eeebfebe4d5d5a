package migrations

import "embed"

// FS contains embedded SQLite migrations for authority storage.
//
//go:embed *.sql
var FS embed.FS
