package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/taskdash/cmd/taskdash/commands"
	"github.com/slok/taskdash/internal/apperror"
	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/log"
	loglogrus "github.com/slok/taskdash/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	// Env files are loaded before parsing so flags can be set from them.
	if err := config.LoadDotEnv("."); err != nil {
		return err
	}

	app := kingpin.New("taskdash", "Agent task dashboard.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	signUpCmd := commands.NewSignUpCommand(rootCmd, app)
	loginCmd := commands.NewLoginCommand(rootCmd, app)
	magicLinkCmd := commands.NewMagicLinkCommand(rootCmd, app)
	verifyCmd := commands.NewVerifyCommand(rootCmd, app)
	logoutCmd := commands.NewLogoutCommand(rootCmd, app)
	whoamiCmd := commands.NewWhoamiCommand(rootCmd, app)
	refreshCmd := commands.NewRefreshCommand(rootCmd, app)
	doctorCmd := commands.NewDoctorCommand(rootCmd, app)
	serveCmd := commands.NewServeCommand(rootCmd, app)

	// Task subcommands share a parent command.
	taskCmd := app.Command("task", "Manage tasks.")
	taskListCmd := commands.NewTaskListCommand(rootCmd, taskCmd)
	taskCreateCmd := commands.NewTaskCreateCommand(rootCmd, taskCmd)
	taskCommandCmd := commands.NewTaskCommandCommand(rootCmd, taskCmd)
	taskWatchCmd := commands.NewTaskWatchCommand(rootCmd, taskCmd)

	// Settings subcommands share a parent command.
	settingsCmd := app.Command("settings", "Manage the user settings.")
	settingsGetCmd := commands.NewSettingsGetCommand(rootCmd, settingsCmd)
	settingsSetCmd := commands.NewSettingsSetCommand(rootCmd, settingsCmd)

	adminSettingsCmd := app.Command("admin", "Administration.").Command("settings", "Manage the application settings.")
	adminSettingsGetCmd := commands.NewAdminSettingsGetCommand(rootCmd, adminSettingsCmd)
	adminSettingsSetCmd := commands.NewAdminSettingsSetCommand(rootCmd, adminSettingsCmd)

	cmds := map[string]commands.Command{
		signUpCmd.Name():           signUpCmd,
		loginCmd.Name():            loginCmd,
		magicLinkCmd.Name():        magicLinkCmd,
		verifyCmd.Name():           verifyCmd,
		logoutCmd.Name():           logoutCmd,
		whoamiCmd.Name():           whoamiCmd,
		refreshCmd.Name():          refreshCmd,
		doctorCmd.Name():           doctorCmd,
		serveCmd.Name():            serveCmd,
		taskListCmd.Name():         taskListCmd,
		taskCreateCmd.Name():       taskCreateCmd,
		taskCommandCmd.Name():      taskCommandCmd,
		taskWatchCmd.Name():        taskWatchCmd,
		settingsGetCmd.Name():      settingsGetCmd,
		settingsSetCmd.Name():      settingsSetCmd,
		adminSettingsGetCmd.Name(): adminSettingsGetCmd,
		adminSettingsSetCmd.Name(): adminSettingsSetCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Read only commands print structured output, logs would mix with it.
	// Users can still enable logging with --debug.
	printerCommands := map[string]bool{
		"whoami":             true,
		"task list":          true,
		"settings get":       true,
		"admin settings get": true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(ctx, *rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return newCommandError(rootCmd.Logger, cmdName, rootCmd.Debug, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// commandError is the error users see when a command fails. The raw error is
// only logged, the message is the fixed one of its kind. Validation errors keep
// their details so users know what to fix, debug mode keeps the whole chain.
type commandError struct {
	cmd   string
	kind  apperror.Kind
	debug bool
	err   error
}

func newCommandError(logger log.Logger, cmd string, debug bool, err error) error {
	kind := apperror.Handle(logger, cmd, err)
	return &commandError{cmd: cmd, kind: kind, debug: debug, err: err}
}

func (e *commandError) Error() string {
	switch {
	case e.debug:
		return fmt.Sprintf("%q command failed: %s", e.cmd, e.err)
	case e.kind == apperror.KindValidation:
		return fmt.Sprintf("%q command failed: %s %s", e.cmd, e.kind.Message(), e.err)
	}
	return fmt.Sprintf("%q command failed: %s", e.cmd, e.kind.Message())
}

func (e *commandError) Unwrap() error { return e.err }

// getLogger returns the application logger.
func getLogger(ctx context.Context, root commands.RootCommand) log.Logger {
	if root.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = root.Stderr // Stdout is for the printers.
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if root.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch root.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !root.NoColor,
			DisableColors: root.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
