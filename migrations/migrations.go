// Package migrations embeds the PostgreSQL schema for the scheduler.
package migrations

import "embed"

// FS holds the numbered *.sql files applied by db.Migrator.
//
//go:embed *.sql
var FS embed.FS
