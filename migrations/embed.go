// Package migrations holds the SQLite schema for device history, shipped
// inside the binary. Pass FS to (*database.DB).Migrate.
package migrations

import "embed"

// FS holds every *.sql file in this directory at its root.
//
//go:embed *.sql
var FS embed.FS
