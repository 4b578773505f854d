// Package migrations embeds the SQL migrations for the gateway and api
// services (order matters: 001, 002, ...).
package migrations

import "embed"

// Files holds every .sql file in this directory.
//
//go:embed *.sql
var Files embed.FS
