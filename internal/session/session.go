// Package session is the single source of truth of the current identity. It
// initializes the identity from the auth client (or a fixture identity), keeps
// it updated with the auth state changes and guards the dashboard routes.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskdash/internal/auth"
	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
)

// State is the identity state.
type State string

const (
	StateUnknown       State = "unknown"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// MockUser is the identity installed in fixture mode.
var MockUser = model.User{
	ID:        "mock-user-id",
	Email:     "user@example.com",
	CreatedAt: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
}

// AuthClient is the auth client the provider forwards to.
type AuthClient interface {
	GetSession(ctx context.Context) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string) (*model.Session, error)
	SignInWithOTP(ctx context.Context, email, redirectTo string) error
	SignOut(ctx context.Context) error
	RefreshSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(l auth.StateChangeListener) (unsubscribe func())
}

// Navigator knows the current location and how to move to another one.
type Navigator interface {
	Path() string
	Push(path string)
}

// ProviderConfig is the configuration for the session provider.
type ProviderConfig struct {
	Auth      AuthClient
	Flags     config.Flags
	Admins    model.AdminAllowList
	Navigator Navigator
	Clock     clock.Clock
	// MockDelay is the simulated network delay of fixture mode auth operations.
	MockDelay time.Duration
	// MagicLinkRedirect is where magic links land after verification.
	MagicLinkRedirect string
	Logger            log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.Flags == nil {
		return fmt.Errorf("flags are required")
	}
	if c.Auth == nil && !c.Flags.UseMockData() {
		return fmt.Errorf("auth client is required on live mode")
	}
	if c.Admins == nil {
		c.Admins = model.DefaultAdminAllowList
	}
	if c.Navigator == nil {
		c.Navigator = &MemoryNavigator{}
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.MockDelay == 0 {
		c.MockDelay = 500 * time.Millisecond
	}
	if c.MagicLinkRedirect == "" {
		c.MagicLinkRedirect = PathDashboard
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "session.Provider"})
	return nil
}

// Provider holds the current identity.
type Provider struct {
	auth              AuthClient
	flags             config.Flags
	admins            model.AdminAllowList
	nav               Navigator
	clock             clock.Clock
	mockDelay         time.Duration
	magicLinkRedirect string
	logger            log.Logger

	mu          sync.RWMutex
	state       State
	identity    model.Identity
	listeners   []func(State, model.Identity)
	unsubscribe func()
}

// NewProvider returns a new provider on the unknown state.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Provider{
		auth:              cfg.Auth,
		flags:             cfg.Flags,
		admins:            cfg.Admins,
		nav:               cfg.Navigator,
		clock:             cfg.Clock,
		mockDelay:         cfg.MockDelay,
		magicLinkRedirect: cfg.MagicLinkRedirect,
		logger:            cfg.Logger,
		state:             StateUnknown,
	}, nil
}

// Init resolves the initial identity and subscribes to auth state changes for
// the provider lifetime. Fixture mode installs the mock identity synchronously
// and doesn't subscribe.
func (p *Provider) Init(ctx context.Context) error {
	if p.flags.UseMockData() {
		p.logger.Infof("Using mock auth data")
		p.set(StateAuthenticated, MockIdentity())
		return nil
	}

	p.mu.Lock()
	if p.unsubscribe == nil {
		p.unsubscribe = p.auth.OnAuthStateChange(p.handleAuthChange)
	}
	p.mu.Unlock()

	s, err := p.auth.GetSession(ctx)
	if err != nil {
		// Loading always finishes, a failed session lookup means anonymous.
		p.logger.Errorf("Error initializing auth: %s", err)
		p.set(StateAnonymous, model.Identity{})
		return nil
	}

	p.setSession(s)
	return nil
}

// Close stops listening to auth state changes.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// State returns the identity state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Loading returns true while the identity is not determined.
func (p *Provider) Loading() bool { return p.State() == StateUnknown }

// Identity returns the current identity.
func (p *Provider) Identity() model.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity
}

// OnChange registers a listener called after every identity change.
func (p *Provider) OnChange(fn func(State, model.Identity)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// SignIn signs in with a password.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if p.flags.UseMockData() {
		return p.mockResponse(ctx)
	}
	return p.auth.SignInWithPassword(ctx, email, password)
}

// SignUp registers a new user.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	if p.flags.UseMockData() {
		return p.mockResponse(ctx)
	}
	return p.auth.SignUp(ctx, email, password)
}

// SendMagicLink sends a one time sign in link.
func (p *Provider) SendMagicLink(ctx context.Context, email string) error {
	if p.flags.UseMockData() {
		_, err := p.mockResponse(ctx)
		return err
	}
	return p.auth.SignInWithOTP(ctx, email, p.magicLinkRedirect)
}

// SignOut signs out. Live mode identity changes arrive with the auth state
// change event.
func (p *Provider) SignOut(ctx context.Context) error {
	if p.flags.UseMockData() {
		p.set(StateAnonymous, model.Identity{})
		p.nav.Push(PathLogin)
		return nil
	}

	return p.auth.SignOut(ctx)
}

// RefreshSession rotates the session tokens.
func (p *Provider) RefreshSession(ctx context.Context) error {
	if p.flags.UseMockData() {
		return nil
	}

	s, err := p.auth.RefreshSession(ctx)
	if err != nil {
		return err
	}
	p.setSession(s)
	return nil
}

func (p *Provider) handleAuthChange(event model.AuthEvent, s *model.Session) {
	p.setSession(s)

	switch {
	case event == model.AuthEventSignedIn && p.nav.Path() == PathLogin:
		p.nav.Push(PathDashboard)
	case event == model.AuthEventSignedOut:
		p.nav.Push(PathLogin)
	}
}

func (p *Provider) setSession(s *model.Session) {
	if s == nil {
		p.set(StateAnonymous, model.Identity{})
		return
	}

	u := s.User
	p.set(StateAuthenticated, model.Identity{
		User:    &u,
		Session: s,
		Admin:   p.admins.IsAdmin(u.Email),
	})
}

func (p *Provider) set(state State, id model.Identity) {
	p.mu.Lock()
	p.state = state
	p.identity = id
	listeners := append([]func(State, model.Identity){}, p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		l(state, id)
	}
}

func (p *Provider) mockResponse(ctx context.Context) (*model.Session, error) {
	if err := p.sleep(ctx, p.mockDelay); err != nil {
		return nil, err
	}
	return MockIdentity().Session, nil
}

func (p *Provider) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := p.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// MockIdentity is the fixture mode identity, always an admin so every dashboard
// feature is reachable.
func MockIdentity() model.Identity {
	u := MockUser
	return model.Identity{
		User:    &u,
		Session: &model.Session{User: MockUser},
		Admin:   true,
	}
}
