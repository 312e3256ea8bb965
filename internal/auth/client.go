package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
)

// Backend is the auth surface the client talks to.
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SendMagicLink(ctx context.Context, email, redirectTo string) error
	VerifyMagicLink(ctx context.Context, token string) (*model.Session, string, error)
	GetSession(ctx context.Context, accessToken string) (*model.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

var _ Backend = &Service{}

// StateChangeListener receives auth state changes, the session is nil on sign out.
type StateChangeListener func(event model.AuthEvent, s *model.Session)

// ClientConfig is the configuration for the auth client.
type ClientConfig struct {
	Backend Backend
	Store   SessionStore
	Clock   clock.Clock
	Logger  log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.Backend == nil {
		return fmt.Errorf("backend is required")
	}
	if c.Store == nil {
		c.Store = &MemorySessionStore{}
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "auth.Client"})
	return nil
}

// Client keeps the current session and notifies auth state changes.
type Client struct {
	backend Backend
	store   SessionStore
	clock   clock.Clock
	logger  log.Logger

	mu        sync.Mutex
	listeners map[int]StateChangeListener
	nextID    int
}

// NewClient returns a new auth client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		backend:   cfg.Backend,
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		listeners: map[int]StateChangeListener{},
	}, nil
}

// GetSession returns the current session, nil if there is none. Expired
// sessions are refreshed, revoked sessions are forgotten.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	s, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	if s.Expired(c.clock.Now()) {
		refreshed, err := c.backend.RefreshSession(ctx, s.RefreshToken)
		if err != nil {
			if errors.Is(err, model.ErrUnauthenticated) {
				c.logger.Debugf("Stored session can't be refreshed, forgetting it")
				return nil, c.store.Clear(ctx)
			}
			return nil, err
		}
		if err := c.store.Save(ctx, *refreshed); err != nil {
			return nil, err
		}
		c.emit(model.AuthEventTokenRefreshed, refreshed)
		return refreshed, nil
	}

	current, err := c.backend.GetSession(ctx, s.AccessToken)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			c.logger.Debugf("Stored session was revoked, forgetting it")
			return nil, c.store.Clear(ctx)
		}
		return nil, err
	}

	return current, nil
}

// SignInWithPassword signs in and stores the session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	s, err := c.backend.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s, c.signedIn(ctx, s)
}

// SignUp registers a user and stores the session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	s, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s, c.signedIn(ctx, s)
}

// SignInWithOTP sends a magic link.
func (c *Client) SignInWithOTP(ctx context.Context, email, redirectTo string) error {
	return c.backend.SendMagicLink(ctx, email, redirectTo)
}

// VerifyOTP exchanges a magic link token for a session, returns the redirect path of the link.
func (c *Client) VerifyOTP(ctx context.Context, token string) (*model.Session, string, error) {
	s, redirectTo, err := c.backend.VerifyMagicLink(ctx, token)
	if err != nil {
		return nil, "", err
	}
	return s, redirectTo, c.signedIn(ctx, s)
}

// RefreshSession rotates the stored session tokens.
func (c *Client) RefreshSession(ctx context.Context) (*model.Session, error) {
	s, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("no session: %w", model.ErrUnauthenticated)
	}

	refreshed, err := c.backend.RefreshSession(ctx, s.RefreshToken)
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, *refreshed); err != nil {
		return nil, err
	}

	c.emit(model.AuthEventTokenRefreshed, refreshed)
	return refreshed, nil
}

// SignOut revokes and forgets the session. The local session is forgotten even
// if the backend fails to revoke it.
func (c *Client) SignOut(ctx context.Context) error {
	s, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	var revokeErr error
	if s != nil {
		revokeErr = c.backend.SignOut(ctx, s.AccessToken)
	}
	if err := c.store.Clear(ctx); err != nil {
		return err
	}

	c.emit(model.AuthEventSignedOut, nil)
	return revokeErr
}

// OnAuthStateChange registers a listener, listeners are called synchronously in
// registration order.
func (c *Client) OnAuthStateChange(l StateChangeListener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = l

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) signedIn(ctx context.Context, s *model.Session) error {
	if err := c.store.Save(ctx, *s); err != nil {
		return err
	}
	c.emit(model.AuthEventSignedIn, s)
	return nil
}

func (c *Client) emit(event model.AuthEvent, s *model.Session) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	listeners := make([]StateChangeListener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	c.logger.Debugf("Auth state changed: %s", event)
	for _, l := range listeners {
		l(event, s)
	}
}
