package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/slok/taskdash/internal/auth"
	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/conventions"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/session"
	"github.com/slok/taskdash/internal/settings"
	"github.com/slok/taskdash/internal/storage"
	"github.com/slok/taskdash/internal/storage/memory"
	"github.com/slok/taskdash/internal/storage/postgres"
	"github.com/slok/taskdash/internal/storage/sqlite"
	"github.com/slok/taskdash/internal/tasksync"
)

// Config configures the SDK client.
//
// All fields are optional, an empty Config{} uses ~/.taskdash/taskdash.db.
type Config struct {
	// Backend is the live backend. Default: [BackendSQLite].
	Backend BackendType

	// DBPath is the SQLite database path. Default: ~/.taskdash/taskdash.db.
	DBPath string

	// PostgresDSN is the Postgres connection string, required by [BackendPostgres].
	PostgresDSN string

	// UseMockData serves fixture data without touching the backend.
	UseMockData bool

	// AdminEmails get admin privileges. Default: admin@example.com.
	AdminEmails []string

	// Logger receives the SDK logs. Default: noop (silent).
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}

	if c.Backend == BackendSQLite && c.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DBPath = conventions.DBPath(filepath.Join(home, conventions.DefaultDataDir))
	}

	if c.Backend == BackendPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("postgres dsn is required: %w", ErrNotValid)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the SDK entry point. It holds the identity signed in with it.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	repo     storage.Repository
	auth     *auth.Service
	tasks    *tasksync.Syncer
	settings *settings.Service
	live     *tasksync.LiveProvider
	flags    config.Flags
	admins   model.AdminAllowList
	logger   log.Logger
	closeFn  func() error

	mu       sync.RWMutex
	identity model.Identity
}

// New creates a new SDK client. On fixture mode the client starts signed in
// as the fixture admin.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, mapError(fmt.Errorf("invalid config: %w", err))
	}

	repo, closeFn, err := newRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		repo:    repo,
		flags:   config.StaticFlags{Mock: cfg.UseMockData, Configured: true},
		admins:  model.DefaultAdminAllowList,
		logger:  cfg.Logger,
		closeFn: closeFn,
	}
	if len(cfg.AdminEmails) > 0 {
		c.admins = model.AdminAllowList(cfg.AdminEmails)
	}
	if cfg.UseMockData {
		c.identity = session.MockIdentity()
	}

	c.auth, err = auth.NewService(auth.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create auth service: %w", err)
	}

	fixture, err := tasksync.NewFixtureProvider(tasksync.FixtureProviderConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create fixture provider: %w", err)
	}
	c.live, err = tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create live provider: %w", err)
	}
	factory, err := tasksync.NewFactory(c.flags, fixture, c.live)
	if err != nil {
		return nil, fmt.Errorf("could not create provider factory: %w", err)
	}

	c.tasks, err = tasksync.NewSyncer(tasksync.SyncerConfig{Factory: factory, Identity: c, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create task syncer: %w", err)
	}

	c.settings, err = settings.NewService(settings.ServiceConfig{Repository: repo, Flags: c.flags, Identity: c, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create settings service: %w", err)
	}

	return c, nil
}

func newRepository(ctx context.Context, cfg Config) (storage.Repository, func() error, error) {
	switch cfg.Backend {
	case BackendSQLite:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: cfg.DBPath, Logger: cfg.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, repo.Close, nil
	case BackendPostgres:
		repo, err := postgres.NewRepository(ctx, postgres.RepositoryConfig{DSN: cfg.PostgresDSN, Logger: cfg.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, repo.Close, nil
	case BackendMemory:
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("unsupported backend type: %s: %w", cfg.Backend, ErrNotValid)
}

// Close releases resources held by the client, including the database connection.
// Submitted commands still running are completed first, so Close can block for
// the command completion delay. After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.live != nil {
		if err := c.live.WaitCompletions(context.Background()); err != nil {
			c.logger.Warningf("Closing with running command steps: %s", err)
		}
	}
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

// Loading is always false, the client identity is known at any time.
func (c *Client) Loading() bool { return false }

// Identity returns the internal identity, used by the services of the client.
func (c *Client) Identity() model.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// CurrentIdentity returns the signed in user, empty when nobody is signed in.
func (c *Client) CurrentIdentity() Identity {
	return fromInternalIdentity(c.Identity())
}

func (c *Client) setSession(s *model.Session) Identity {
	u := s.User
	id := model.Identity{User: &u, Session: s, Admin: c.admins.IsAdmin(u.Email)}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	return fromInternalIdentity(id)
}

// SignUp creates an account and signs in with it.
//
// Returns [ErrNotValid] on invalid email or short passwords and
// [ErrAlreadyExists] if the email is already registered.
func (c *Client) SignUp(ctx context.Context, email, password string) (Identity, error) {
	if c.flags.UseMockData() {
		return c.CurrentIdentity(), nil
	}

	s, err := c.auth.SignUp(ctx, email, password)
	if err != nil {
		return Identity{}, mapError(err)
	}
	return c.setSession(s), nil
}

// SignIn signs in with email and password.
//
// Returns [ErrUnauthenticated] on wrong credentials.
func (c *Client) SignIn(ctx context.Context, email, password string) (Identity, error) {
	if c.flags.UseMockData() {
		return c.CurrentIdentity(), nil
	}

	s, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return Identity{}, mapError(err)
	}
	return c.setSession(s), nil
}

// SignOut revokes the session of the client.
func (c *Client) SignOut(ctx context.Context) error {
	id := c.Identity()

	c.mu.Lock()
	c.identity = model.Identity{}
	c.mu.Unlock()

	if c.flags.UseMockData() || id.Session == nil || id.Session.AccessToken == "" {
		return nil
	}
	return mapError(c.auth.SignOut(ctx, id.Session.AccessToken))
}
