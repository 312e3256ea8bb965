// Package migrations has the embedded SQLite schema of the task dashboard.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/taskdash/internal/log"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded task dashboard schema migrations on a SQLite database.
type Migrator struct {
	db     *sql.DB
	logger log.Logger
}

// NewMigrator returns a new migrator.
func NewMigrator(db *sql.DB, logger log.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.Noop
	}
	return &Migrator{db: db, logger: logger}, nil
}

// Up runs all the pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	var applied bool
	err := m.withInstance(func(inst *migrate.Migrate) error {
		err := inst.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		applied = err == nil
		return err
	})
	if err != nil {
		return fmt.Errorf("could not apply migrations: %w", err)
	}

	if applied {
		m.logger.Debugf("SQLite schema migrations applied")
	}
	return nil
}

// Version returns the applied schema version, dirty is true when a migration failed half way.
func (m *Migrator) Version(ctx context.Context) (version uint, dirty bool, err error) {
	err = m.withInstance(func(inst *migrate.Migrate) error {
		version, dirty, err = inst.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("could not get schema version: %w", err)
	}

	return version, dirty, nil
}

// withInstance runs fn with a migrate instance. Only the embedded source is
// closed afterwards, closing the instance would close the shared database.
func (m *Migrator) withInstance(fn func(inst *migrate.Migrate) error) error {
	driver, err := sqlite3.WithInstance(m.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return fmt.Errorf("could not create fs: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			m.logger.Errorf("Could not close migrations fs: %s", err)
		}
	}()

	inst, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	return fn(inst)
}
