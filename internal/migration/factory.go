package migration

import (
	"fmt"

	"github.com/BaSui01/ragflow/config"
)

// NewMigratorFromConfig builds a migrator for the configured archive.
func NewMigratorFromConfig(cfg *config.Config) (*SchemaMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromArchiveConfig(cfg.Archive)
}

// NewMigratorFromArchiveConfig builds a migrator from the archive section.
// The archive DSN is reused as the migration connection string; mysql DSNs
// get multiStatements enabled on the way through.
func NewMigratorFromArchiveConfig(archiveCfg config.ArchiveConfig) (*SchemaMigrator, error) {
	dbType, err := ParseDatabaseType(archiveCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid archive driver: %w", err)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  NormalizeDSN(dbType, archiveCfg.DSN),
		TableName:    "ragflow_schema_migrations",
	})
}

// NewMigratorFromURL builds a migrator from an explicit dialect and URL.
func NewMigratorFromURL(dbType, dbURL string) (*SchemaMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  NormalizeDSN(dt, dbURL),
		TableName:    "ragflow_schema_migrations",
	})
}
