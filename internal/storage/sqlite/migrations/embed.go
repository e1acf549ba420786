package migrations

import "embed"

// FS contains embedded SQLite migrations for liasse storage.
//
//go:embed *.sql
var FS embed.FS
