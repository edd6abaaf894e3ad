// Package migrations embeds the PostgreSQL schema migrations so the migrate
// command and the integration tests apply the same files.
package migrations

import "embed"

// FS holds the numbered up and down migration files.
//
//go:embed *.sql
var FS embed.FS
