package storage

import (
	"context"
	"time"

	"github.com/slok/taskdash/internal/model"
)

// Table names of the persisted rows.
const (
	TableTasks        = "tasks"
	TableSteps        = "steps"
	TableUserSettings = "user_settings"
)

// TaskRepository is the interface for task and step persistence. Ownership rules
// (row level security) are enforced here: steps can only be written on tasks the
// user owns.
type TaskRepository interface {
	// ListTasks returns the user tasks newest first, with their steps in insertion order.
	ListTasks(ctx context.Context, userID string) ([]model.Task, error)
	// CreateTask stores a task without steps, ID and timestamp are set if missing.
	CreateTask(ctx context.Context, t model.Task) (*model.Task, error)
	// CreateSteps stores steps on tasks owned by the user.
	CreateSteps(ctx context.Context, userID string, steps []model.Step) ([]model.Step, error)
	// UpdateStep updates the status and log of a step on a task owned by the user.
	UpdateStep(ctx context.Context, userID, stepID string, status model.StepStatus, log *string) (*model.Step, error)
	// TaskBelongsTo returns true if the task exists and is owned by the user.
	TaskBelongsTo(ctx context.Context, taskID, userID string) (bool, error)
}

// SettingsRepository is the interface for user and application settings persistence.
type SettingsRepository interface {
	GetUserSettings(ctx context.Context, userID string) (*model.UserSettings, error)
	CreateUserSettings(ctx context.Context, s model.UserSettings) (*model.UserSettings, error)
	UpdateUserSettings(ctx context.Context, userID string, patch model.SettingsPatch) (*model.UserSettings, error)
	// GetAppSettings returns model.ErrNotFound if the settings were never saved.
	GetAppSettings(ctx context.Context) (*model.AppSettings, error)
	SaveAppSettings(ctx context.Context, s model.AppSettings) error
}

// UserRepository is the interface for auth users, sessions and one time tokens.
type UserRepository interface {
	CreateUser(ctx context.Context, u model.User, passwordHash string) error
	// GetUserByEmail returns the user and its password hash.
	GetUserByEmail(ctx context.Context, email string) (*model.User, string, error)
	CreateSession(ctx context.Context, s model.Session) error
	GetSessionByAccessToken(ctx context.Context, token string) (*model.Session, error)
	GetSessionByRefreshToken(ctx context.Context, token string) (*model.Session, error)
	DeleteSession(ctx context.Context, accessToken string) error
	CreateOneTimeToken(ctx context.Context, t model.OneTimeToken) error
	// ConsumeOneTimeToken returns model.ErrNotFound if the token is unknown, used or expired at now.
	ConsumeOneTimeToken(ctx context.Context, token string, now time.Time) (*model.OneTimeToken, error)
}

// Repository is the full backend persistence.
type Repository interface {
	TaskRepository
	SettingsRepository
	UserRepository
}

// Schema describes the tables and columns the application needs.
var Schema = map[string][]string{
	TableTasks:        {"id", "name", "status", "timestamp", "preview", "security_level", "user_id"},
	TableSteps:        {"id", "task_id", "name", "action_type", "status", "log"},
	TableUserSettings: {"id", "user_id", "theme", "security_level", "notifications_enabled", "default_mode"},
}

// SchemaInspector knows how to list the columns of a table, used to validate
// the backend schema.
type SchemaInspector interface {
	TableColumns(ctx context.Context, table string) ([]string, error)
}
