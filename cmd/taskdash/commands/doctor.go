package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/printer"
	"github.com/slok/taskdash/internal/storage"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("doctor", "Check the live backend has the tables and columns the dashboard needs.")
	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	flags := c.rootCmd.Flags()
	if !flags.BackendConfigured() {
		return fmt.Errorf("backend %q is not configured: %w", flags.Backend(), model.ErrNotValid)
	}

	b, err := openBackend(ctx, flags, c.rootCmd.Logger)
	if err != nil {
		return err
	}
	defer b.Close()

	var report printer.SchemaReport
	if b.versioner != nil {
		report.Version, report.Dirty, err = b.versioner.SchemaVersion(ctx)
		if err != nil {
			return fmt.Errorf("could not get schema version: %w", err)
		}
	}

	report.Missing, err = storage.MissingColumns(ctx, b.inspector)
	if err != nil {
		return err
	}

	if err := c.rootCmd.Printer().PrintSchemaReport(report); err != nil {
		return fmt.Errorf("could not print report: %w", err)
	}

	if !report.OK() || report.Dirty {
		return fmt.Errorf("schema validation failed: %w", model.ErrNotValid)
	}
	return nil
}
