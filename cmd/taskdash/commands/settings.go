package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/session"
	"github.com/slok/taskdash/internal/settings"
	storageio "github.com/slok/taskdash/internal/storage/io"
)

type SettingsGetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	watch bool
}

// NewSettingsGetCommand returns the settings get command.
func NewSettingsGetCommand(rootCmd *RootCommand, settingsCmd *kingpin.CmdClause) *SettingsGetCommand {
	c := &SettingsGetCommand{rootCmd: rootCmd}
	c.Cmd = settingsCmd.Command("get", "Show the current user settings.")
	c.Cmd.Flag("watch", "Keep running and print the settings every time they change.").BoolVar(&c.watch)
	return c
}

func (c SettingsGetCommand) Name() string { return c.Cmd.FullCommand() }

func (c SettingsGetCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.newSettings()
	if err != nil {
		return err
	}

	p := c.rootCmd.Printer()
	if !c.watch {
		us, err := svc.Get(ctx)
		if err != nil {
			return fmt.Errorf("could not get settings: %w", err)
		}
		return p.PrintUserSettings(us)
	}

	if _, err := a.requireIdentity(); err != nil {
		return err
	}

	// Follow identity changes, the subscription is per user.
	a.session.OnChange(func(session.State, model.Identity) {
		if err := svc.Watch(); err != nil {
			a.logger.Errorf("Could not watch settings: %s", err)
		}
	})

	return watchSettings(ctx, svc, a.backend.listen, p.PrintUserSettings, a.logger)
}

// watchSettings prints the user settings right away and after every change
// until the context is done. listen runs the backend change feed, it can be nil.
func watchSettings(ctx context.Context, svc *settings.Service, listen func(ctx context.Context) error, printSettings func(model.UserSettings) error, logger log.Logger) error {
	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	svc.OnChange(func(string) { notify() })

	if err := svc.Watch(); err != nil {
		return err
	}
	defer svc.Unwatch()

	notify()

	var g run.Group

	// Backend change feed.
	if listen != nil {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error { return listen(ctx) },
			func(_ error) { cancel() },
		)
	}

	// Printer.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-changes:
						us, err := svc.Get(ctx)
						if err != nil {
							logger.Errorf("Could not refresh settings: %s", err)
							continue
						}
						if err := printSettings(us); err != nil {
							return err
						}
					}
				}
			},
			func(_ error) { cancel() },
		)
	}

	return g.Run()
}

type SettingsSetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	theme         string
	securityLevel string
	notifications string
	defaultMode   string
}

// NewSettingsSetCommand returns the settings set command.
func NewSettingsSetCommand(rootCmd *RootCommand, settingsCmd *kingpin.CmdClause) *SettingsSetCommand {
	c := &SettingsSetCommand{rootCmd: rootCmd}

	c.Cmd = settingsCmd.Command("set", "Update the current user settings, only the given values change.")
	c.Cmd.Flag("theme", "Theme (light, dark, system).").StringVar(&c.theme)
	c.Cmd.Flag("security-level", "Default security level (class1, class2, class3).").StringVar(&c.securityLevel)
	c.Cmd.Flag("notifications", "Enable notifications (on, off).").EnumVar(&c.notifications, "on", "off")
	c.Cmd.Flag("default-mode", "Default agent mode (assistant, expert, autonomous).").StringVar(&c.defaultMode)

	return c
}

func (c SettingsSetCommand) Name() string { return c.Cmd.FullCommand() }

func (c SettingsSetCommand) patch() model.SettingsPatch {
	var p model.SettingsPatch
	if c.theme != "" {
		t := model.Theme(c.theme)
		p.Theme = &t
	}
	if c.securityLevel != "" {
		l := model.SecurityLevel(c.securityLevel)
		p.SecurityLevel = &l
	}
	if c.notifications != "" {
		on := c.notifications == "on"
		p.NotificationsEnabled = &on
	}
	if c.defaultMode != "" {
		m := model.Mode(c.defaultMode)
		p.DefaultMode = &m
	}
	return p
}

func (c SettingsSetCommand) Run(ctx context.Context) error {
	patch := c.patch()
	if patch.Empty() {
		return fmt.Errorf("nothing to update: %w", model.ErrNotValid)
	}

	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.newSettings()
	if err != nil {
		return err
	}

	us, err := svc.Update(ctx, patch)
	if err != nil {
		return fmt.Errorf("could not update settings: %w", err)
	}

	return c.rootCmd.Printer().PrintUserSettings(us)
}

type AdminSettingsGetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewAdminSettingsGetCommand returns the admin settings get command.
func NewAdminSettingsGetCommand(rootCmd *RootCommand, adminSettingsCmd *kingpin.CmdClause) *AdminSettingsGetCommand {
	c := &AdminSettingsGetCommand{rootCmd: rootCmd}
	c.Cmd = adminSettingsCmd.Command("get", "Show the application settings.")
	return c
}

func (c AdminSettingsGetCommand) Name() string { return c.Cmd.FullCommand() }

func (c AdminSettingsGetCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.newSettings()
	if err != nil {
		return err
	}

	as, err := svc.GetAppSettings(ctx)
	if err != nil {
		return fmt.Errorf("could not get application settings: %w", err)
	}

	return c.rootCmd.Printer().PrintAppSettings(as)
}

type AdminSettingsSetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file string
}

// NewAdminSettingsSetCommand returns the admin settings set command.
func NewAdminSettingsSetCommand(rootCmd *RootCommand, adminSettingsCmd *kingpin.CmdClause) *AdminSettingsSetCommand {
	c := &AdminSettingsSetCommand{rootCmd: rootCmd}

	c.Cmd = adminSettingsCmd.Command("set", "Replace the application settings from a YAML file.")
	c.Cmd.Flag("file", "YAML application settings, missing values use the defaults.").Short('f').Required().StringVar(&c.file)

	return c
}

func (c AdminSettingsSetCommand) Name() string { return c.Cmd.FullCommand() }

func (c AdminSettingsSetCommand) Run(ctx context.Context) error {
	path, err := filepath.Abs(c.file)
	if err != nil {
		return fmt.Errorf("invalid file path: %w", err)
	}
	as, err := storageio.NewYAMLRepository(os.DirFS(filepath.Dir(path))).GetAppSettings(ctx, filepath.Base(path))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.newSettings()
	if err != nil {
		return err
	}

	if err := svc.SaveAppSettings(ctx, as); err != nil {
		return fmt.Errorf("could not save application settings: %w", err)
	}

	return c.rootCmd.Printer().PrintAppSettings(as)
}
