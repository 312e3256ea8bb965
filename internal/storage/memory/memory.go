package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

type user struct {
	user         model.User
	passwordHash string
}

type oneTimeToken struct {
	token model.OneTimeToken
	used  bool
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	users        map[string]user // By lowercased email.
	sessions     map[string]model.Session
	tokens       map[string]oneTimeToken
	tasks        map[string]model.Task // Without steps.
	steps        map[string]model.Step
	stepOrder    []string
	userSettings map[string]model.UserSettings // By user ID.
	appSettings  *model.AppSettings
	mu           sync.RWMutex
	logger       log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		users:        make(map[string]user),
		sessions:     make(map[string]model.Session),
		tokens:       make(map[string]oneTimeToken),
		tasks:        make(map[string]model.Task),
		steps:        make(map[string]model.Step),
		userSettings: make(map[string]model.UserSettings),
		logger:       cfg.Logger,
	}, nil
}

// ListTasks returns the user tasks newest first, with their steps in insertion order.
func (r *Repository) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := []model.Task{}
	for _, t := range r.tasks {
		if t.UserID != userID {
			continue
		}
		t.Steps = []model.Step{}
		tasks = append(tasks, t)
	}

	slices.SortFunc(tasks, func(a, b model.Task) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}
	for _, id := range r.stepOrder {
		s := r.steps[id]
		if i, ok := index[s.TaskID]; ok {
			tasks[i].Steps = append(tasks[i].Steps, copyStep(s))
		}
	}

	return tasks, nil
}

// CreateTask stores a task without its steps.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrNotValid)
	}
	if !r.userExists(t.UserID) {
		return nil, fmt.Errorf("user %s: %w", t.UserID, model.ErrNotFound)
	}
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if _, ok := r.tasks[t.ID]; ok {
		return nil, fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	t.Timestamp = t.Timestamp.Truncate(time.Millisecond)
	t.Steps = nil
	r.tasks[t.ID] = t

	t.Steps = []model.Step{}
	r.logger.Debugf("Created task in repository: %s", t.ID)
	return &t, nil
}

// CreateSteps stores the steps atomically. Every step must belong to a task owned by the user.
func (r *Repository) CreateSteps(ctx context.Context, userID string, steps []model.Step) ([]model.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range steps {
		t, ok := r.tasks[s.TaskID]
		if !ok || t.UserID != userID {
			return nil, fmt.Errorf("task %s is not owned by user %s: %w", s.TaskID, userID, model.ErrForbidden)
		}
		if _, ok := r.steps[s.ID]; ok && s.ID != "" {
			return nil, fmt.Errorf("step %s: %w", s.ID, model.ErrAlreadyExists)
		}
	}

	created := make([]model.Step, 0, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			s.ID = ulid.Make().String()
		}
		r.steps[s.ID] = copyStep(s)
		r.stepOrder = append(r.stepOrder, s.ID)
		created = append(created, s)
	}

	return created, nil
}

// UpdateStep updates the status and log of a step owned by the user.
func (r *Repository) UpdateStep(ctx context.Context, userID, stepID string, status model.StepStatus, stepLog *string) (*model.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.steps[stepID]
	if !ok || r.tasks[s.TaskID].UserID != userID {
		return nil, fmt.Errorf("step %s: %w", stepID, model.ErrNotFound)
	}

	s.Status = status
	s.Log = nil
	if stepLog != nil {
		l := *stepLog
		s.Log = &l
	}
	r.steps[stepID] = s

	step := copyStep(s)
	return &step, nil
}

// TaskBelongsTo returns true if the task exists and is owned by the user.
func (r *Repository) TaskBelongsTo(ctx context.Context, taskID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[taskID]
	return ok && t.UserID == userID, nil
}

// GetUserSettings returns the settings of a user.
func (r *Repository) GetUserSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.userSettings[userID]
	if !ok {
		return nil, fmt.Errorf("settings for user %s: %w", userID, model.ErrNotFound)
	}
	return &s, nil
}

// CreateUserSettings stores the settings of a user, one per user.
func (r *Repository) CreateUserSettings(ctx context.Context, s model.UserSettings) (*model.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.userExists(s.UserID) {
		return nil, fmt.Errorf("user %s: %w", s.UserID, model.ErrNotFound)
	}
	if _, ok := r.userSettings[s.UserID]; ok {
		return nil, fmt.Errorf("settings for user %s: %w", s.UserID, model.ErrAlreadyExists)
	}
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	r.userSettings[s.UserID] = s

	return &s, nil
}

// UpdateUserSettings applies a partial update on the user settings.
func (r *Repository) UpdateUserSettings(ctx context.Context, userID string, patch model.SettingsPatch) (*model.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.userSettings[userID]
	if !ok {
		return nil, fmt.Errorf("settings for user %s: %w", userID, model.ErrNotFound)
	}
	s = patch.Apply(s)
	r.userSettings[userID] = s

	return &s, nil
}

// GetAppSettings returns the application settings.
func (r *Repository) GetAppSettings(ctx context.Context) (*model.AppSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.appSettings == nil {
		return nil, fmt.Errorf("app settings: %w", model.ErrNotFound)
	}
	s := *r.appSettings
	return &s, nil
}

// SaveAppSettings replaces the application settings.
func (r *Repository) SaveAppSettings(ctx context.Context, s model.AppSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appSettings = &s
	return nil
}

// CreateUser stores a new user, emails are unique ignoring case.
func (r *Repository) CreateUser(ctx context.Context, u model.User, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, ok := r.users[key]; ok {
		return fmt.Errorf("user %s: %w", u.Email, model.ErrAlreadyExists)
	}
	u.CreatedAt = u.CreatedAt.Truncate(time.Millisecond)
	r.users[key] = user{user: u, passwordHash: passwordHash}

	return nil
}

// GetUserByEmail returns the user and its password hash.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[strings.ToLower(email)]
	if !ok {
		return nil, "", fmt.Errorf("user %s: %w", email, model.ErrNotFound)
	}
	mu := u.user
	return &mu, u.passwordHash, nil
}

// CreateSession stores an auth session.
func (r *Repository) CreateSession(ctx context.Context, s model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.userExists(s.User.ID) {
		return fmt.Errorf("user %s: %w", s.User.ID, model.ErrNotFound)
	}
	if _, ok := r.sessions[s.AccessToken]; ok {
		return fmt.Errorf("session: %w", model.ErrAlreadyExists)
	}
	r.sessions[s.AccessToken] = s

	return nil
}

// GetSessionByAccessToken returns the session of an access token.
func (r *Repository) GetSessionByAccessToken(ctx context.Context, token string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, fmt.Errorf("session: %w", model.ErrNotFound)
	}
	return &s, nil
}

// GetSessionByRefreshToken returns the session of a refresh token.
func (r *Repository) GetSessionByRefreshToken(ctx context.Context, token string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.RefreshToken == token {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("session: %w", model.ErrNotFound)
}

// DeleteSession removes a session.
func (r *Repository) DeleteSession(ctx context.Context, accessToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, accessToken)
	return nil
}

// CreateOneTimeToken stores a magic link token.
func (r *Repository) CreateOneTimeToken(ctx context.Context, t model.OneTimeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[t.Token]; ok {
		return fmt.Errorf("token: %w", model.ErrAlreadyExists)
	}
	r.tokens[t.Token] = oneTimeToken{token: t}
	return nil
}

// ConsumeOneTimeToken marks a token as used and returns it.
func (r *Repository) ConsumeOneTimeToken(ctx context.Context, token string, now time.Time) (*model.OneTimeToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[token]
	if !ok || t.used || !now.Before(t.token.ExpiresAt) {
		return nil, fmt.Errorf("token: %w", model.ErrNotFound)
	}
	t.used = true
	r.tokens[token] = t

	ott := t.token
	return &ott, nil
}

// TableColumns returns the columns of the tables the memory repository emulates.
func (r *Repository) TableColumns(ctx context.Context, table string) ([]string, error) {
	cols, ok := storage.Schema[table]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", table, model.ErrNotFound)
	}
	return slices.Clone(cols), nil
}

func (r *Repository) userExists(id string) bool {
	for _, u := range r.users {
		if u.user.ID == id {
			return true
		}
	}
	return false
}

func copyStep(s model.Step) model.Step {
	if s.Log != nil {
		l := *s.Log
		s.Log = &l
	}
	return s
}
