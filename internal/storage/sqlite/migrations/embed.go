// Package migrations embeds SQLite schema migrations for discussion storage.
package migrations

import "embed"

// FS contains embedded SQLite migrations for discussion storage.
//
//go:embed *.sql
var FS embed.FS
