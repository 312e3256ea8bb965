// Package storagetest has the behaviour tests shared by every storage.Repository implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage"
)

// NewRepository returns a new empty repository for a test.
type NewRepository func(t *testing.T) storage.Repository

func ptr[T any](v T) *T { return &v }

// CreateUser creates a user fixture on the repository.
func CreateUser(t *testing.T, repo storage.Repository, id, email string) model.User {
	t.Helper()
	u := model.User{ID: id, Email: email, CreatedAt: time.UnixMilli(1700000000000).UTC()}
	require.NoError(t, repo.CreateUser(context.Background(), u, "hash-"+id))
	return u
}

// RunRepositoryTests runs the full repository behaviour suite.
func RunRepositoryTests(t *testing.T, newRepo NewRepository) {
	t.Run("Tasks", func(t *testing.T) { testTasks(t, newRepo) })
	t.Run("Steps", func(t *testing.T) { testSteps(t, newRepo) })
	t.Run("UserSettings", func(t *testing.T) { testUserSettings(t, newRepo) })
	t.Run("AppSettings", func(t *testing.T) { testAppSettings(t, newRepo) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepo) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newRepo) })
	t.Run("OneTimeTokens", func(t *testing.T) { testOneTimeTokens(t, newRepo) })
}

func testTasks(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t)
	CreateUser(t, repo, "u1", "u1@example.com")
	CreateUser(t, repo, "u2", "u2@example.com")

	base := time.UnixMilli(1700000000000).UTC()
	older, err := repo.CreateTask(ctx, model.Task{
		UserID: "u1", Name: "Older", Status: model.TaskStatusCompleted,
		SecurityLevel: model.SecurityLevelClass1, Timestamp: base,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, older.ID)
	assert.Empty(t, older.Steps)

	newer, err := repo.CreateTask(ctx, model.Task{
		UserID: "u1", Name: "Newer", Status: model.TaskStatusRunning, Preview: ptr("preview"),
		SecurityLevel: model.SecurityLevelClass2, Timestamp: base.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = repo.CreateTask(ctx, model.Task{
		UserID: "u2", Name: "Other user", Status: model.TaskStatusQueued,
		SecurityLevel: model.SecurityLevelClass1, Timestamp: base.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.CreateSteps(ctx, "u1", []model.Step{
		{TaskID: newer.ID, Name: "first", ActionType: "action", Status: model.StepStatusCompleted, Log: ptr("log 1")},
		{TaskID: newer.ID, Name: "second", ActionType: "action", Status: model.StepStatusRunning},
		{TaskID: newer.ID, Name: "third", ActionType: "action", Status: model.StepStatusPending},
	})
	require.NoError(t, err)

	tasks, err := repo.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "Newer", tasks[0].Name)
	assert.Equal(t, "Older", tasks[1].Name)
	assert.Equal(t, base.Add(time.Minute), tasks[0].Timestamp.UTC())
	assert.Equal(t, ptr("preview"), tasks[0].Preview)
	assert.Nil(t, tasks[1].Preview)
	assert.Equal(t, model.SecurityLevelClass2, tasks[0].SecurityLevel)
	assert.Empty(t, tasks[1].Steps)

	require.Len(t, tasks[0].Steps, 3)
	names := []string{tasks[0].Steps[0].Name, tasks[0].Steps[1].Name, tasks[0].Steps[2].Name}
	assert.Equal(t, []string{"first", "second", "third"}, names)
	assert.Equal(t, ptr("log 1"), tasks[0].Steps[0].Log)
	assert.Nil(t, tasks[0].Steps[1].Log)
	assert.Equal(t, newer.ID, tasks[0].Steps[0].TaskID)

	empty, err := repo.ListTasks(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	ok, err := repo.TaskBelongsTo(ctx, newer.ID, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.TaskBelongsTo(ctx, newer.ID, "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.TaskBelongsTo(ctx, "missing", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSteps(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t)
	CreateUser(t, repo, "u1", "u1@example.com")
	CreateUser(t, repo, "u2", "u2@example.com")

	task, err := repo.CreateTask(ctx, model.Task{
		UserID: "u1", Name: "Task", Status: model.TaskStatusRunning, SecurityLevel: model.SecurityLevelClass1,
	})
	require.NoError(t, err)
	assert.False(t, task.Timestamp.IsZero())

	// Steps on foreign tasks are rejected.
	_, err = repo.CreateSteps(ctx, "u2", []model.Step{
		{TaskID: task.ID, Name: "evil", ActionType: "action", Status: model.StepStatusRunning},
	})
	assert.ErrorIs(t, err, model.ErrForbidden)

	steps, err := repo.CreateSteps(ctx, "u1", []model.Step{
		{TaskID: task.ID, Name: "run", ActionType: "action", Status: model.StepStatusRunning, Log: ptr("started")},
	})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.NotEmpty(t, steps[0].ID)

	// Updates on foreign steps look like missing steps.
	_, err = repo.UpdateStep(ctx, "u2", steps[0].ID, model.StepStatusCompleted, ptr("hacked"))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = repo.UpdateStep(ctx, "u1", "missing", model.StepStatusCompleted, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	updated, err := repo.UpdateStep(ctx, "u1", steps[0].ID, model.StepStatusCompleted, ptr("done"))
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, updated.Status)
	assert.Equal(t, ptr("done"), updated.Log)
	assert.Equal(t, task.ID, updated.TaskID)
	assert.Equal(t, "run", updated.Name)

	tasks, err := repo.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Steps, 1)
	assert.Equal(t, model.StepStatusCompleted, tasks[0].Steps[0].Status)

	noSteps, err := repo.CreateSteps(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, noSteps)
}

func testUserSettings(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t)
	CreateUser(t, repo, "u1", "u1@example.com")

	_, err := repo.GetUserSettings(ctx, "u1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = repo.UpdateUserSettings(ctx, "u1", model.SettingsPatch{Theme: ptr(model.ThemeDark)})
	assert.ErrorIs(t, err, model.ErrNotFound)

	created, err := repo.CreateUserSettings(ctx, model.DefaultUserSettings("u1"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = repo.CreateUserSettings(ctx, model.DefaultUserSettings("u1"))
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	updated, err := repo.UpdateUserSettings(ctx, "u1", model.SettingsPatch{
		Theme:                ptr(model.ThemeDark),
		NotificationsEnabled: ptr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ThemeDark, updated.Theme)
	assert.False(t, updated.NotificationsEnabled)
	assert.Equal(t, model.ModeAssistant, updated.DefaultMode)

	got, err := repo.GetUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func testAppSettings(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.GetAppSettings(ctx)
	assert.ErrorIs(t, err, model.ErrNotFound)

	s := model.DefaultAppSettings()
	s.APIKeys.OpenAI = "sk-test"
	require.NoError(t, repo.SaveAppSettings(ctx, s))

	s.Security.SessionTimeoutMinutes = 45
	require.NoError(t, repo.SaveAppSettings(ctx, s))

	got, err := repo.GetAppSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, *got)
}

func testUsers(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t)
	u := CreateUser(t, repo, "u1", "u1@example.com")

	err := repo.CreateUser(ctx, model.User{ID: "u2", Email: "U1@example.com", CreatedAt: time.Now()}, "")
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	got, hash, err := repo.GetUserByEmail(ctx, "U1@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.CreatedAt, got.CreatedAt.UTC())
	assert.Equal(t, "hash-u1", hash)

	_, _, err = repo.GetUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testSessions(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t)
	u := CreateUser(t, repo, "u1", "u1@example.com")

	s := model.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.UnixMilli(1800000000000).UTC(),
		User:         u,
	}
	require.NoError(t, repo.CreateSession(ctx, s))

	got, err := repo.GetSessionByAccessToken(ctx, "access")
	require.NoError(t, err)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.Equal(t, s.ExpiresAt, got.ExpiresAt.UTC())
	assert.Equal(t, u.Email, got.User.Email)

	got, err = repo.GetSessionByRefreshToken(ctx, "refresh")
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)

	require.NoError(t, repo.DeleteSession(ctx, "access"))
	require.NoError(t, repo.DeleteSession(ctx, "access"))

	_, err = repo.GetSessionByAccessToken(ctx, "access")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = repo.GetSessionByRefreshToken(ctx, "refresh")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testOneTimeTokens(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.UnixMilli(1700000000000).UTC()

	require.NoError(t, repo.CreateOneTimeToken(ctx, model.OneTimeToken{
		Token: "tok-1", Email: "u1@example.com", RedirectTo: "/dashboard", ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, repo.CreateOneTimeToken(ctx, model.OneTimeToken{
		Token: "tok-2", Email: "u1@example.com", ExpiresAt: now.Add(time.Minute),
	}))

	got, err := repo.ConsumeOneTimeToken(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", got.Email)
	assert.Equal(t, "/dashboard", got.RedirectTo)

	_, err = repo.ConsumeOneTimeToken(ctx, "tok-1", now)
	assert.ErrorIs(t, err, model.ErrNotFound, "tokens are single use")

	_, err = repo.ConsumeOneTimeToken(ctx, "tok-2", now.Add(2*time.Minute))
	assert.ErrorIs(t, err, model.ErrNotFound, "expired tokens are rejected")

	_, err = repo.ConsumeOneTimeToken(ctx, "missing", now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
