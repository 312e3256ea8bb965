package commands

import (
	"context"
	"fmt"

	"github.com/slok/taskdash/internal/auth"
	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/conventions"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/realtime"
	"github.com/slok/taskdash/internal/session"
	"github.com/slok/taskdash/internal/settings"
	"github.com/slok/taskdash/internal/storage"
	"github.com/slok/taskdash/internal/storage/memory"
	"github.com/slok/taskdash/internal/storage/notify"
	"github.com/slok/taskdash/internal/storage/postgres"
	"github.com/slok/taskdash/internal/storage/sqlite"
	"github.com/slok/taskdash/internal/tasksync"
)

// schemaVersioner knows the applied migration version of a backend.
type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (uint, bool, error)
}

// backend is the opened live backend with its realtime change feed.
type backend struct {
	repo      storage.Repository
	inspector storage.SchemaInspector
	versioner schemaVersioner
	broker    *realtime.Broker
	// listen runs the backend change feed, nil when writes are published in process.
	listen func(ctx context.Context) error
	close  func() error
}

// openBackend opens the selected live backend. Without a configured backend, or
// on fixture mode, an in-memory backend is used so nothing is written to disk.
func openBackend(ctx context.Context, flags config.EnvFlags, logger log.Logger) (*backend, error) {
	broker, err := realtime.NewBroker(realtime.BrokerConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create realtime broker: %w", err)
	}

	kind := flags.Backend()
	if flags.UseMockData() || !flags.BackendConfigured() {
		kind = config.BackendMemory
	}

	b := &backend{broker: broker}
	switch kind {
	case config.BackendSQLite:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: flags.DBPath(), Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create sqlite repository: %w", err)
		}
		b.inspector, b.versioner, b.close = repo, repo, repo.Close
		b.repo, err = notify.NewRepository(notify.RepositoryConfig{Repository: repo, Publisher: broker, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create notifying repository: %w", err)
		}

	case config.BackendPostgres:
		repo, err := postgres.NewRepository(ctx, postgres.RepositoryConfig{DSN: flags.PostgresDSN(), Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create postgres repository: %w", err)
		}
		listener, err := postgres.NewListener(postgres.ListenerConfig{Pool: repo.Pool(), Publisher: broker, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create change listener: %w", err)
		}
		b.repo, b.inspector, b.versioner, b.close = repo, repo, repo, repo.Close
		b.listen = listener.Run

	case config.BackendMemory:
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create memory repository: %w", err)
		}
		b.inspector, b.close = repo, func() error { return nil }
		b.repo, err = notify.NewRepository(notify.RepositoryConfig{Repository: repo, Publisher: broker, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create notifying repository: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown backend %q: %w", kind, model.ErrNotValid)
	}

	logger.Debugf("Using %s backend", kind)
	return b, nil
}

func (b *backend) Close() error {
	_ = b.broker.Close()
	return b.close()
}

// app has the services a command needs, wired for the current identity.
type app struct {
	flags      config.EnvFlags
	backend    *backend
	authClient *auth.Client
	session    *session.Provider
	tasks      *tasksync.Factory
	logger     log.Logger
}

// newApp opens the backend and resolves the current identity from the local session.
func newApp(ctx context.Context, root RootCommand) (*app, error) {
	logger := root.Logger
	flags := root.Flags()

	b, err := openBackend(ctx, flags, logger)
	if err != nil {
		return nil, err
	}

	authSvc, err := auth.NewService(auth.ServiceConfig{Repository: b.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create auth service: %w", err)
	}

	authClient, err := auth.NewClient(auth.ClientConfig{
		Backend: authSvc,
		Store:   auth.NewFileSessionStore(conventions.SessionPath(root.ConfigDir)),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create auth client: %w", err)
	}

	nav := session.NewMemoryNavigator(session.PathDashboard, func(path string) {
		logger.Debugf("Navigating to %s", path)
	})
	provider, err := session.NewProvider(session.ProviderConfig{
		Auth:      authClient,
		Flags:     flags,
		Admins:    flags.AdminAllowList(),
		Navigator: nav,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create session provider: %w", err)
	}
	if err := provider.Init(ctx); err != nil {
		return nil, fmt.Errorf("could not resolve identity: %w", err)
	}

	fixture, err := tasksync.NewFixtureProvider(tasksync.FixtureProviderConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create fixture provider: %w", err)
	}
	live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: b.repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create live provider: %w", err)
	}
	factory, err := tasksync.NewFactory(flags, fixture, live)
	if err != nil {
		return nil, fmt.Errorf("could not create provider factory: %w", err)
	}

	return &app{
		flags:      flags,
		backend:    b,
		authClient: authClient,
		session:    provider,
		tasks:      factory,
		logger:     logger,
	}, nil
}

// newSyncer returns a task syncer for the current identity. Realtime changes
// are only followed when asked to.
func (a *app) newSyncer(realtimeChanges bool) (*tasksync.Syncer, error) {
	cfg := tasksync.SyncerConfig{
		Factory:  a.tasks,
		Identity: a.session,
		Logger:   a.logger,
	}
	if realtimeChanges {
		cfg.Subscriber = a.backend.broker
		cfg.Ownership = a.backend.repo
	}

	syncer, err := tasksync.NewSyncer(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create task syncer: %w", err)
	}
	a.session.OnChange(func(session.State, model.Identity) { syncer.IdentityChanged() })

	return syncer, nil
}

func (a *app) newSettings() (*settings.Service, error) {
	svc, err := settings.NewService(settings.ServiceConfig{
		Repository: a.backend.repo,
		Flags:      a.flags,
		Identity:   a.session,
		Subscriber: a.backend.broker,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create settings service: %w", err)
	}
	return svc, nil
}

// requireIdentity fails when there is no signed in user.
func (a *app) requireIdentity() (model.Identity, error) {
	id := a.session.Identity()
	if !id.Authenticated() {
		return id, fmt.Errorf("not signed in, use the login command: %w", model.ErrUnauthenticated)
	}
	return id, nil
}

func (a *app) Close() error {
	a.session.Close()
	return a.backend.Close()
}
