// Package settings manages the user preferences and the administrator
// application settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/realtime"
	"github.com/slok/taskdash/internal/storage"
)

var (
	ErrFetchFailed      = errors.New("Failed to fetch user settings")
	ErrUpdateFailed     = errors.New("Failed to update user settings")
	ErrInvalidSettings  = errors.New("Invalid settings data")
	ErrNotAuthenticated = fmt.Errorf("User not authenticated: %w", model.ErrUnauthenticated)
	ErrNotAdmin         = fmt.Errorf("Admin access required: %w", model.ErrForbidden)
)

// MockUserSettings returns the settings used when there is no live backend.
func MockUserSettings() model.UserSettings {
	return model.UserSettings{
		ID:                   "settings-1",
		UserID:               "mock-user-id",
		Theme:                model.ThemeSystem,
		SecurityLevel:        model.SecurityLevelClass2,
		NotificationsEnabled: true,
		DefaultMode:          model.ModeAssistant,
	}
}

// IdentitySource knows who the current user is.
type IdentitySource interface {
	Loading() bool
	Identity() model.Identity
}

// ServiceConfig is the configuration for the settings service.
type ServiceConfig struct {
	Repository storage.SettingsRepository
	Flags      config.Flags
	Identity   IdentitySource
	// Subscriber is optional, used to drop cached settings on remote changes.
	Subscriber realtime.Subscriber
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Flags == nil {
		return fmt.Errorf("flags are required")
	}
	if c.Identity == nil {
		return fmt.Errorf("identity source is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "settings.Service"})
	return nil
}

// Service reads and writes the settings of the current user.
type Service struct {
	repo       storage.SettingsRepository
	flags      config.Flags
	identity   IdentitySource
	subscriber realtime.Subscriber
	logger     log.Logger

	mu         sync.Mutex
	cache      map[string]model.UserSettings
	fixtureApp model.AppSettings
	listeners  []func(userID string)

	watchMu     sync.Mutex
	unsubscribe func()
	watchedUser string
}

// NewService returns a new settings service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:       cfg.Repository,
		flags:      cfg.Flags,
		identity:   cfg.Identity,
		subscriber: cfg.Subscriber,
		logger:     cfg.Logger,
		cache:      map[string]model.UserSettings{},
		fixtureApp: model.DefaultAppSettings(),
	}, nil
}

func (s *Service) live(userID string) bool {
	return userID != "" && s.flags.BackendConfigured() && !s.flags.UseMockData()
}

// Get returns the current user settings.
func (s *Service) Get(ctx context.Context) (model.UserSettings, error) {
	userID := s.identity.Identity().UserID()
	if !s.live(userID) {
		return MockUserSettings(), nil
	}

	s.mu.Lock()
	cached, ok := s.cache[userID]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	us, err := s.repo.GetUserSettings(ctx, userID)
	if err != nil {
		s.logger.WithValues(log.Kv{"user-id": userID}).Errorf("Error fetching user settings: %s", err)
		return model.UserSettings{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	s.mu.Lock()
	s.cache[userID] = *us
	s.mu.Unlock()

	return *us, nil
}

// Update applies a partial update on the current user settings.
func (s *Service) Update(ctx context.Context, patch model.SettingsPatch) (model.UserSettings, error) {
	if err := patch.Validate(); err != nil {
		return model.UserSettings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	userID := s.identity.Identity().UserID()
	if !s.live(userID) {
		return patch.Apply(MockUserSettings()), nil
	}

	us, err := s.repo.UpdateUserSettings(ctx, userID, patch)
	if err != nil {
		s.logger.WithValues(log.Kv{"user-id": userID}).Errorf("Error updating user settings: %s", err)
		return model.UserSettings{}, ErrUpdateFailed
	}

	s.Invalidate(userID)
	return *us, nil
}

// Invalidate drops the cached settings of a user and notifies the listeners.
func (s *Service) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(userID)
	}
}

// OnChange registers a listener called every time user settings are invalidated.
func (s *Service) OnChange(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Watch subscribes to the current user settings changes, replacing any
// previous subscription. Nothing is subscribed in fixture mode.
func (s *Service) Watch() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	userID := s.identity.Identity().UserID()
	if s.identity.Loading() || !s.live(userID) || s.subscriber == nil {
		s.unwatch()
		return nil
	}
	if s.unsubscribe != nil && s.watchedUser == userID {
		return nil
	}
	s.unwatch()

	unsub, err := s.subscriber.Subscribe(realtime.Subscription{
		Table:  storage.TableUserSettings,
		Filter: realtime.EqFilter("user_id", userID),
	}, func(ctx context.Context, ev realtime.ChangeEvent) {
		s.logger.Debugf("User settings change received: %s", ev.Type)
		s.Invalidate(userID)
	})
	if err != nil {
		return fmt.Errorf("could not subscribe to user settings: %w", err)
	}
	s.unsubscribe = unsub
	s.watchedUser = userID

	return nil
}

// Unwatch removes the settings subscription if any.
func (s *Service) Unwatch() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.unwatch()
}

func (s *Service) unwatch() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = nil
	s.watchedUser = ""
}

func (s *Service) requireAdmin() error {
	id := s.identity.Identity()
	if !id.Authenticated() {
		return ErrNotAuthenticated
	}
	if !id.Admin {
		return ErrNotAdmin
	}
	return nil
}

// GetAppSettings returns the application settings, defaults if never saved.
// Only administrators can read them.
func (s *Service) GetAppSettings(ctx context.Context) (model.AppSettings, error) {
	if err := s.requireAdmin(); err != nil {
		return model.AppSettings{}, err
	}

	if !s.live(s.identity.Identity().UserID()) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.fixtureApp, nil
	}

	as, err := s.repo.GetAppSettings(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.DefaultAppSettings(), nil
		}
		return model.AppSettings{}, fmt.Errorf("could not get app settings: %w", err)
	}

	return *as, nil
}

// SaveAppSettings validates and stores the application settings. Only
// administrators can write them.
func (s *Service) SaveAppSettings(ctx context.Context, as model.AppSettings) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if err := as.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	if !s.live(s.identity.Identity().UserID()) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fixtureApp = as
		return nil
	}

	if err := s.repo.SaveAppSettings(ctx, as); err != nil {
		return fmt.Errorf("could not save app settings: %w", err)
	}

	s.logger.Infof("Application settings saved")
	return nil
}
