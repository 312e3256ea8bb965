// Package postgres is the hosted relational backend. Row changes on tasks and
// steps are pushed by triggers with NOTIFY and relayed to realtime subscribers
// by the Listener.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage/postgres/migrations"
)

// RepositoryConfig is the configuration for the Postgres repository.
type RepositoryConfig struct {
	DSN    string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Postgres"})
	return nil
}

// Repository is a Postgres implementation of storage.Repository.
type Repository struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewRepository connects to Postgres and runs the pending migrations.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}

	r := &Repository{pool: pool, logger: cfg.Logger}
	migrator, err := r.migrator()
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := migrator.Up(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("Postgres repository initialized")
	return r, nil
}

// Pool returns the underlying connection pool.
func (r *Repository) Pool() *pgxpool.Pool { return r.pool }

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// SchemaVersion returns the applied migration version.
func (r *Repository) SchemaVersion(ctx context.Context) (uint, bool, error) {
	migrator, err := r.migrator()
	if err != nil {
		return 0, false, err
	}
	return migrator.Version(ctx)
}

// TableColumns returns the column names of a table in the current schema.
func (r *Repository) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, fmt.Errorf("could not query table info: %w", err)
	}

	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("could not scan columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s: %w", table, model.ErrNotFound)
	}

	return columns, nil
}

func (r *Repository) migrator() (*migrations.Migrator, error) {
	m, err := migrations.NewMigrator(stdlib.OpenDBFromPool(r.pool), r.logger)
	if err != nil {
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	return m, nil
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
