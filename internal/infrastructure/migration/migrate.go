// Package migration wraps golang-migrate with the schema conventions
// used by the gateway: timestamped up/down SQL pairs applied against
// Postgres.
package migration

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Migrator applies migration pairs from a directory to a database.
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// New builds a Migrator over an open Postgres connection.
func New(db *sql.DB, migrationsPath string, logger *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	m.logger.Info("Applying pending migrations")

	done, err := m.apply(m.migrate.Up, "No migrations to apply")
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	if done {
		m.logVersion("Migrations completed")
	}
	return nil
}

// Down rolls everything back.
func (m *Migrator) Down() error {
	m.logger.Info("Rolling back all migrations")

	done, err := m.apply(m.migrate.Down, "No migrations to roll back")
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	if done {
		m.logger.Info("Rollback complete, schema is empty")
	}
	return nil
}

// Steps applies n migrations; negative n rolls back.
func (m *Migrator) Steps(n int) error {
	m.logger.Info("Stepping schema", zap.Int("steps", n))

	done, err := m.apply(func() error { return m.migrate.Steps(n) }, "No migrations to apply")
	if err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	if done {
		m.logVersion("Migration steps completed")
	}
	return nil
}

// GoTo migrates up or down until the schema sits at version.
func (m *Migrator) GoTo(version uint) error {
	m.logger.Info("Moving schema to version", zap.Uint("target_version", version))

	done, err := m.apply(func() error { return m.migrate.Migrate(version) }, "Already at target version")
	if err != nil {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	if done {
		m.logger.Info("Schema now at version", zap.Uint("version", version))
	}
	return nil
}

// apply runs fn and folds migrate.ErrNoChange into a logged no-op. The
// bool reports whether anything actually changed.
func (m *Migrator) apply(fn func() error, noChangeMsg string) (bool, error) {
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info(noChangeMsg)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Migrator) logVersion(msg string) {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		m.logger.Warn("Failed to read migration version", zap.Error(err))
		return
	}
	m.logger.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
}

// Version reports the current schema version. A pristine database is
// version 0, not an error.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force stamps the version without running any SQL. Only for repairing
// a dirty schema.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Stamping schema version without running SQL", zap.Int("version", version))

	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}

	m.logger.Info("Schema version stamped", zap.Int("version", version))
	return nil
}

// Drop destroys every object in the database.
func (m *Migrator) Drop() error {
	m.logger.Warn("Dropping every object in the database")

	if err := m.migrate.Drop(); err != nil {
		return fmt.Errorf("failed to drop database: %w", err)
	}

	m.logger.Info("Database objects dropped")
	return nil
}

func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
