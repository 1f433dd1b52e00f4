package migrations

import "embed"

// FS contains the PostgreSQL schema.
//
//go:embed *.sql
var FS embed.FS
