// Package migrations embeds the SQL migrations of the SQLite receipt store
package migrations

import "embed"

// FS holds the numbered up migrations, applied in file name order
//
//go:embed *.sql
var FS embed.FS
