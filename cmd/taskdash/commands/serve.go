package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskdash/internal/auth"
	"github.com/slok/taskdash/internal/server"
	"github.com/slok/taskdash/internal/tasksync"
)

const completionsDrainTimeout = 5 * time.Second

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr    string
	callbackURL   string
	secureCookies bool
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the dashboard HTTP server.")
	c.Cmd.Flag("listen-addr", "Address the server listens on.").Envar("TASKDASH_LISTEN_ADDR").Default(":8080").StringVar(&c.listenAddr)
	c.Cmd.Flag("callback-url", "Public URL of the magic link callback.").Envar("TASKDASH_CALLBACK_URL").Default("http://localhost:8080/auth/callback").StringVar(&c.callbackURL)
	c.Cmd.Flag("secure-cookies", "Set the secure flag on session cookies (HTTPS only).").BoolVar(&c.secureCookies)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	flags := c.rootCmd.Flags()

	b, err := openBackend(ctx, flags, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	authSvc, err := auth.NewService(auth.ServiceConfig{
		Repository:  b.repo,
		CallbackURL: c.callbackURL,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create auth service: %w", err)
	}

	fixture, err := tasksync.NewFixtureProvider(tasksync.FixtureProviderConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create fixture provider: %w", err)
	}
	live, err := tasksync.NewLiveProvider(tasksync.LiveProviderConfig{Repository: b.repo, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create live provider: %w", err)
	}
	factory, err := tasksync.NewFactory(flags, fixture, live)
	if err != nil {
		return fmt.Errorf("could not create provider factory: %w", err)
	}

	srv, err := server.New(server.Config{
		ListenAddr:    c.listenAddr,
		Auth:          authSvc,
		Tasks:         factory,
		Settings:      b.repo,
		Flags:         flags,
		Admins:        flags.AdminAllowList(),
		SecureCookies: c.secureCookies,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}

	runErr := srv.Run(ctx)

	// Commands submitted before the shutdown are completed while the backend is still open.
	drainCtx, cancel := context.WithTimeout(context.Background(), completionsDrainTimeout)
	defer cancel()
	if err := live.WaitCompletions(drainCtx); err != nil {
		logger.Warningf("Server stopped with running command steps: %s", err)
	}

	return runErr
}
