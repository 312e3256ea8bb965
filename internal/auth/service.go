// Package auth is the backend authentication surface (users, sessions, magic
// links) and the client that keeps the current session and pushes auth state
// changes to its listeners.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage"
)

const minPasswordLength = 6

// Repository is the storage the auth service needs.
type Repository interface {
	storage.UserRepository
	CreateUserSettings(ctx context.Context, s model.UserSettings) (*model.UserSettings, error)
}

// ServiceConfig is the configuration for the auth service.
type ServiceConfig struct {
	Repository Repository
	Mailer     Mailer
	Clock      clock.Clock
	// SessionTTL is the access token lifetime.
	SessionTTL time.Duration
	// MagicLinkTTL is the one time token lifetime.
	MagicLinkTTL time.Duration
	// CallbackURL is the magic link landing URL, the token is added as a query param.
	CallbackURL string
	// AttemptsPerMinute is the number of auth attempts allowed per email.
	AttemptsPerMinute int
	Logger            log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = time.Hour
	}
	if c.MagicLinkTTL == 0 {
		c.MagicLinkTTL = 15 * time.Minute
	}
	if c.CallbackURL == "" {
		c.CallbackURL = "http://localhost:8080/auth/callback"
	}
	if _, err := url.Parse(c.CallbackURL); err != nil {
		return fmt.Errorf("invalid callback url: %w", err)
	}
	if c.AttemptsPerMinute == 0 {
		c.AttemptsPerMinute = 10
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "auth.Service"})
	if c.Mailer == nil {
		c.Mailer = NewLogMailer(c.Logger)
	}
	return nil
}

// Service is the backend auth surface.
type Service struct {
	repo         Repository
	mailer       Mailer
	clock        clock.Clock
	sessionTTL   time.Duration
	magicLinkTTL time.Duration
	callbackURL  string
	limit        rate.Limit
	burst        int
	logger       log.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService returns a new auth service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:         cfg.Repository,
		mailer:       cfg.Mailer,
		clock:        cfg.Clock,
		sessionTTL:   cfg.SessionTTL,
		magicLinkTTL: cfg.MagicLinkTTL,
		callbackURL:  cfg.CallbackURL,
		limit:        rate.Every(time.Minute / time.Duration(cfg.AttemptsPerMinute)),
		burst:        cfg.AttemptsPerMinute,
		logger:       cfg.Logger,
		limiters:     map[string]*rate.Limiter{},
	}, nil
}

// SignUp registers a new user with its default settings and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must have at least %d characters: %w", minPasswordLength, model.ErrNotValid)
	}
	if err := s.allow(email); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("could not hash password: %w", err)
	}

	u, err := s.createUser(ctx, email, string(hash))
	if err != nil {
		return nil, err
	}

	s.logger.Infof("User %s signed up", u.ID)
	return s.newSession(ctx, *u)
}

// SignIn signs in a user with its password.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.allow(email); err != nil {
		return nil, err
	}

	u, hash, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("invalid login credentials: %w", model.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("could not get user: %w", err)
	}

	// Users created with a magic link don't have a password.
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid login credentials: %w", model.ErrUnauthenticated)
	}

	return s.newSession(ctx, *u)
}

// SendMagicLink sends a one time sign in link to the email. Unknown emails are
// signed up when the link is verified.
func (s *Service) SendMagicLink(ctx context.Context, email, redirectTo string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.allow(email); err != nil {
		return err
	}

	t := model.OneTimeToken{
		Token:      uuid.NewString(),
		Email:      email,
		RedirectTo: redirectTo,
		ExpiresAt:  s.clock.Now().Add(s.magicLinkTTL),
	}
	if err := s.repo.CreateOneTimeToken(ctx, t); err != nil {
		return fmt.Errorf("could not store token: %w", err)
	}

	link, err := url.Parse(s.callbackURL)
	if err != nil {
		return fmt.Errorf("invalid callback url: %w", err)
	}
	q := link.Query()
	q.Set("token", t.Token)
	link.RawQuery = q.Encode()

	if err := s.mailer.SendMagicLink(ctx, email, link.String()); err != nil {
		return fmt.Errorf("could not send magic link: %w", err)
	}

	return nil
}

// VerifyMagicLink exchanges a one time token for a session.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (*model.Session, string, error) {
	t, err := s.repo.ConsumeOneTimeToken(ctx, token, s.clock.Now())
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, "", fmt.Errorf("invalid or expired link: %w", model.ErrUnauthenticated)
		}
		return nil, "", fmt.Errorf("could not consume token: %w", err)
	}

	u, _, err := s.repo.GetUserByEmail(ctx, t.Email)
	switch {
	case errors.Is(err, model.ErrNotFound):
		u, err = s.createUser(ctx, t.Email, "")
		if err != nil {
			return nil, "", err
		}
	case err != nil:
		return nil, "", fmt.Errorf("could not get user: %w", err)
	}

	sess, err := s.newSession(ctx, *u)
	if err != nil {
		return nil, "", err
	}

	return sess, t.RedirectTo, nil
}

// GetSession returns the session of a valid access token.
func (s *Service) GetSession(ctx context.Context, accessToken string) (*model.Session, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("missing access token: %w", model.ErrUnauthenticated)
	}

	sess, err := s.repo.GetSessionByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("unknown session: %w", model.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("could not get session: %w", err)
	}
	if sess.Expired(s.clock.Now()) {
		return nil, fmt.Errorf("session expired: %w", model.ErrUnauthenticated)
	}

	return sess, nil
}

// RefreshSession rotates the session tokens using the refresh token. Expired
// sessions can be refreshed, the refresh token is single use.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("missing refresh token: %w", model.ErrUnauthenticated)
	}

	old, err := s.repo.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("unknown refresh token: %w", model.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("could not get session: %w", err)
	}

	if err := s.repo.DeleteSession(ctx, old.AccessToken); err != nil {
		return nil, fmt.Errorf("could not revoke old session: %w", err)
	}

	return s.newSession(ctx, old.User)
}

// SignOut revokes the session.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if err := s.repo.DeleteSession(ctx, accessToken); err != nil {
		return fmt.Errorf("could not delete session: %w", err)
	}
	return nil
}

func (s *Service) createUser(ctx context.Context, email, hash string) (*model.User, error) {
	u := model.User{
		ID:        ulid.Make().String(),
		Email:     email,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u, hash); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			return nil, fmt.Errorf("user already registered: %w", model.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("could not create user: %w", err)
	}

	if _, err := s.repo.CreateUserSettings(ctx, model.DefaultUserSettings(u.ID)); err != nil {
		return nil, fmt.Errorf("could not create user settings: %w", err)
	}

	return &u, nil
}

func (s *Service) newSession(ctx context.Context, u model.User) (*model.Session, error) {
	sess := model.Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    s.clock.Now().Add(s.sessionTTL).UTC(),
		User:         u,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("could not create session: %w", err)
	}

	return &sess, nil
}

func (s *Service) allow(email string) error {
	s.mu.Lock()
	l, ok := s.limiters[email]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[email] = l
	}
	s.mu.Unlock()

	if !l.AllowN(s.clock.Now(), 1) {
		return fmt.Errorf("too many attempts for %s: %w", email, model.ErrRateLimited)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email %q: %w", email, model.ErrNotValid)
	}
	return strings.ToLower(email), nil
}
