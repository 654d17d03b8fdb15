// Package migrations embeds the Postgres schema in its legacy row shape.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
