/*
Package migration manages the archive database schema with versioned,
embedded SQL migrations.

# Overview

SchemaMigrator wraps golang-migrate with per-dialect migration files
compiled into the binary via go:embed, so the ragflow migrate command works
without any files on disk. Supported dialects are postgres, mysql and
sqlite; bookkeeping lives in the ragflow_schema_migrations table.

The sqlite dialect runs through the cgo "sqlite3" sql driver that
golang-migrate's sqlite3 backend registers. The archive's own GORM tier uses
the pure Go "sqlite" driver, which keeps the two drivers from colliding in
one binary.

# Usage

Build a migrator from the application's archive section:

	m, err := migration.NewMigratorFromArchiveConfig(cfg.Archive)
	if err != nil {
		...
	}
	defer m.Close()
	err = m.Up(ctx)

CLI wraps a Migrator with the human-readable output used by the migrate
subcommand: up, down, down-all, goto, force, version and status.
*/
package migration
