// Package dbmigrations exposes embedded SQL migrations for pgkit binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into pgkit binaries.
//
//go:embed *.sql
var Files embed.FS
