package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskdash/internal/session"
)

// credentialsCommand is shared by the sign up and the password sign in.
type credentialsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	signUp  bool

	email    string
	password string
}

// NewSignUpCommand returns the signup command.
func NewSignUpCommand(rootCmd *RootCommand, app *kingpin.Application) Command {
	c := &credentialsCommand{rootCmd: rootCmd, signUp: true}
	c.Cmd = app.Command("signup", "Create an account and sign in.")
	c.register()
	return c
}

// NewLoginCommand returns the login command.
func NewLoginCommand(rootCmd *RootCommand, app *kingpin.Application) Command {
	c := &credentialsCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("login", "Sign in with email and password.")
	c.register()
	return c
}

func (c *credentialsCommand) register() {
	c.Cmd.Arg("email", "Account email.").Required().StringVar(&c.email)
	c.Cmd.Flag("password", "Account password, prompted if missing.").Envar("TASKDASH_PASSWORD").StringVar(&c.password)
}

func (c credentialsCommand) Name() string { return c.Cmd.FullCommand() }

func (c credentialsCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	password := c.password
	if password == "" && !a.flags.UseMockData() {
		password, err = readPassword(c.rootCmd.Stdin, c.rootCmd.Stderr)
		if err != nil {
			return err
		}
	}

	if c.signUp {
		_, err = a.session.SignUp(ctx, c.email, password)
	} else {
		_, err = a.session.SignIn(ctx, c.email, password)
	}
	if err != nil {
		return fmt.Errorf("could not sign in: %w", err)
	}

	return c.rootCmd.Printer().PrintIdentity(a.session.Identity())
}

type MagicLinkCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	email      string
	redirectTo string
}

// NewMagicLinkCommand returns the magic-link command.
func NewMagicLinkCommand(rootCmd *RootCommand, app *kingpin.Application) *MagicLinkCommand {
	c := &MagicLinkCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("magic-link", "Send a one time sign in link.")
	c.Cmd.Arg("email", "Account email.").Required().StringVar(&c.email)
	c.Cmd.Flag("redirect-to", "Dashboard path to land on after signing in.").Default(session.PathDashboard).StringVar(&c.redirectTo)

	return c
}

func (c MagicLinkCommand) Name() string { return c.Cmd.FullCommand() }

func (c MagicLinkCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.SendMagicLink(ctx, c.email); err != nil {
		return fmt.Errorf("could not send magic link: %w", err)
	}

	return c.rootCmd.Printer().PrintMessage("Check your email for the login link")
}

type VerifyCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	token string
}

// NewVerifyCommand returns the verify command.
func NewVerifyCommand(rootCmd *RootCommand, app *kingpin.Application) *VerifyCommand {
	c := &VerifyCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("verify", "Sign in with a magic link token.")
	c.Cmd.Arg("token", "Magic link token.").Required().StringVar(&c.token)

	return c
}

func (c VerifyCommand) Name() string { return c.Cmd.FullCommand() }

func (c VerifyCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.flags.UseMockData() {
		return c.rootCmd.Printer().PrintIdentity(a.session.Identity())
	}

	_, redirectTo, err := a.authClient.VerifyOTP(ctx, c.token)
	if err != nil {
		return fmt.Errorf("could not verify magic link: %w", err)
	}
	a.logger.Debugf("Magic link redirects to %s", redirectTo)

	return c.rootCmd.Printer().PrintIdentity(a.session.Identity())
}

type LogoutCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewLogoutCommand returns the logout command.
func NewLogoutCommand(rootCmd *RootCommand, app *kingpin.Application) *LogoutCommand {
	c := &LogoutCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("logout", "Sign out and forget the local session.")
	return c
}

func (c LogoutCommand) Name() string { return c.Cmd.FullCommand() }

func (c LogoutCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.SignOut(ctx); err != nil {
		return fmt.Errorf("could not sign out: %w", err)
	}

	return c.rootCmd.Printer().PrintMessage("Signed out")
}

type WhoamiCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewWhoamiCommand returns the whoami command.
func NewWhoamiCommand(rootCmd *RootCommand, app *kingpin.Application) *WhoamiCommand {
	c := &WhoamiCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("whoami", "Show the current identity.")
	return c
}

func (c WhoamiCommand) Name() string { return c.Cmd.FullCommand() }

func (c WhoamiCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return c.rootCmd.Printer().PrintIdentity(a.session.Identity())
}

type RefreshCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewRefreshCommand returns the refresh command.
func NewRefreshCommand(rootCmd *RootCommand, app *kingpin.Application) *RefreshCommand {
	c := &RefreshCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("refresh", "Rotate the session tokens.")
	return c
}

func (c RefreshCommand) Name() string { return c.Cmd.FullCommand() }

func (c RefreshCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.session.RefreshSession(ctx); err != nil {
		return fmt.Errorf("could not refresh session: %w", err)
	}

	return c.rootCmd.Printer().PrintIdentity(a.session.Identity())
}
