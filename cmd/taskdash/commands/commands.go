package commands

import (
	"context"
	"io"
	"path/filepath"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/conventions"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/printer"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug       bool
	NoLog       bool
	NoColor     bool
	LoggerType  string
	ConfigDir   string
	UseMockData bool
	Backend     string
	DBPath      string
	PostgresDSN string
	AdminEmails string
	Format      string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger and output color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)
	app.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.Format, formatTable, formatJSON)

	defaultDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("config-dir", "Directory for the local session and database.").Envar("TASKDASH_CONFIG_DIR").Default(defaultDir).StringVar(&c.ConfigDir)
	app.Flag("mock", "Use fixture data instead of the live backend.").Envar(config.EnvUseMockData).BoolVar(&c.UseMockData)
	app.Flag("backend", "Live backend (sqlite, postgres, memory).").Envar(config.EnvBackend).Default(string(config.BackendSQLite)).
		EnumVar(&c.Backend, string(config.BackendSQLite), string(config.BackendPostgres), string(config.BackendMemory))
	app.Flag("db-path", "Path to the SQLite database file, defaults to the config dir.").Envar(config.EnvDBPath).StringVar(&c.DBPath)
	app.Flag("postgres-dsn", "Postgres connection string.").Envar(config.EnvPostgresDSN).StringVar(&c.PostgresDSN)
	app.Flag("admin-emails", "Comma separated admin emails.").Envar(config.EnvAdminEmails).StringVar(&c.AdminEmails)

	return c
}

// Flags returns the feature flags resolved from the global flags.
func (c RootCommand) Flags() config.EnvFlags {
	dbPath := c.DBPath
	if dbPath == "" {
		dbPath = conventions.DBPath(c.ConfigDir)
	}

	return config.NewMapFlags(map[string]string{
		config.EnvUseMockData: strconv.FormatBool(c.UseMockData),
		config.EnvBackend:     c.Backend,
		config.EnvDBPath:      dbPath,
		config.EnvPostgresDSN: c.PostgresDSN,
		config.EnvAdminEmails: c.AdminEmails,
	})
}

// Printer returns the printer of the selected output format.
func (c RootCommand) Printer() printer.Printer {
	if c.Format == formatJSON {
		return printer.NewJSONPrinter(c.Stdout)
	}
	return printer.NewTablePrinter(c.Stdout, !c.NoColor)
}
