package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// SchemaVersion is the migration version the match repository is written
// against.
const SchemaVersion uint = 2

// migrationsTable records applied migrations for the match store.
const migrationsTable = "docmatch_schema_migrations"

// Migrator applies the match store migrations through golang-migrate.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // database/sql view of the pgx pool; closed with the migrator
	logger  zerolog.Logger
}

// NewMigrator creates a migrator reading migrations from migrationsPath.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if db.pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	if migrationsPath == "" {
		return nil, fmt.Errorf("migrations path is required")
	}
	if _, err := os.Stat(migrationsPath); err != nil {
		return nil, fmt.Errorf("migrations path validation failed: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		logger:  logger.With().Str("migrations", migrationsPath).Logger(),
	}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	return m.apply("up", m.migrate.Up)
}

// Down rolls back all migrations.
func (m *Migrator) Down() error {
	return m.apply("down", m.migrate.Down)
}

// Steps applies n migrations, rolling back when n is negative. Stepping past
// the newest migration is not an error.
func (m *Migrator) Steps(n int) error {
	err := m.apply(fmt.Sprintf("steps %d", n), func() error { return m.migrate.Steps(n) })
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Info().Int("steps", n).Msg("no further migrations available")
		return nil
	}
	return err
}

// apply runs one golang-migrate operation, treating ErrNoChange as success.
func (m *Migrator) apply(op string, fn func() error) error {
	m.logger.Info().Str("op", op).Msg("migrating match store")
	if err := fn(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Str("op", op).Msg("match store schema unchanged")
			return nil
		}
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	m.logger.Info().Str("op", op).Msg("match store migration complete")
	return nil
}

// Version returns the applied version and whether the last migration failed.
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Current reports an error unless the schema is clean and at SchemaVersion.
func (m *Migrator) Current() error {
	v, dirty, err := m.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return fmt.Errorf("match store schema has no migrations applied")
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case dirty:
		return fmt.Errorf("match store schema version %d is dirty", v)
	case v != SchemaVersion:
		return fmt.Errorf("match store schema version %d, want %d", v, SchemaVersion)
	}
	return nil
}

// Force sets the recorded version without running migrations, to recover from
// a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing match store schema version")
	return m.migrate.Force(version)
}

// DropAll drops the docmatch and confidence_lookup tables together with the
// migrations table.
func (m *Migrator) DropAll() error {
	m.logger.Warn().Msg("dropping all match store objects")
	return m.migrate.Drop()
}

// Close releases the migration source and the database/sql handle.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	var sqlErr error
	if m.sqlDB != nil {
		sqlErr = m.sqlDB.Close()
	}
	if err := errors.Join(sourceErr, dbErr, sqlErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}
