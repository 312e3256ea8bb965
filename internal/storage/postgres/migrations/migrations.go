package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/taskdash/internal/log"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded task dashboard schema migrations on a Postgres database.
type Migrator struct {
	db     *sql.DB
	logger log.Logger
}

// NewMigrator returns a new migrator, db must use the pgx stdlib driver.
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
	inst, err := m.instance()
	if err != nil {
		return err
	}

	if err := inst.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	m.logger.Debugf("Postgres schema migrations applied")
	return nil
}

// Version returns the applied schema version.
func (m *Migrator) Version(ctx context.Context) (version uint, dirty bool, err error) {
	inst, err := m.instance()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = inst.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("could not get schema version: %w", err)
	}

	return version, dirty, nil
}

func (m *Migrator) instance() (*migrate.Migrate, error) {
	driver, err := pgxmigrate.WithInstance(m.db, &pgxmigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("could not create driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, fmt.Errorf("could not create fs: %w", err)
	}

	inst, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("could not create migration instance: %w", err)
	}

	return inst, nil
}
