package db

import "embed"

// EmbedMigrations carries the schema migrations for the query ledger,
// experiments, metrics, and snapshot tables so the server binary can
// migrate on startup without shipping loose SQL files.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
