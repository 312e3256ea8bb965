// Package storagemock has testify mocks of the storage interfaces.
package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage"
)

// MockRepository is a mock of storage.Repository.
type MockRepository struct {
	mock.Mock
}

var _ storage.Repository = &MockRepository{}

func (m *MockRepository) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	ret := m.Called(ctx, userID)
	tasks, _ := ret.Get(0).([]model.Task)
	return tasks, ret.Error(1)
}

func (m *MockRepository) CreateTask(ctx context.Context, t model.Task) (*model.Task, error) {
	ret := m.Called(ctx, t)
	task, _ := ret.Get(0).(*model.Task)
	return task, ret.Error(1)
}

func (m *MockRepository) CreateSteps(ctx context.Context, userID string, steps []model.Step) ([]model.Step, error) {
	ret := m.Called(ctx, userID, steps)
	created, _ := ret.Get(0).([]model.Step)
	return created, ret.Error(1)
}

func (m *MockRepository) UpdateStep(ctx context.Context, userID, stepID string, status model.StepStatus, log *string) (*model.Step, error) {
	ret := m.Called(ctx, userID, stepID, status, log)
	step, _ := ret.Get(0).(*model.Step)
	return step, ret.Error(1)
}

func (m *MockRepository) TaskBelongsTo(ctx context.Context, taskID, userID string) (bool, error) {
	ret := m.Called(ctx, taskID, userID)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockRepository) GetUserSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	ret := m.Called(ctx, userID)
	s, _ := ret.Get(0).(*model.UserSettings)
	return s, ret.Error(1)
}

func (m *MockRepository) CreateUserSettings(ctx context.Context, s model.UserSettings) (*model.UserSettings, error) {
	ret := m.Called(ctx, s)
	created, _ := ret.Get(0).(*model.UserSettings)
	return created, ret.Error(1)
}

func (m *MockRepository) UpdateUserSettings(ctx context.Context, userID string, patch model.SettingsPatch) (*model.UserSettings, error) {
	ret := m.Called(ctx, userID, patch)
	s, _ := ret.Get(0).(*model.UserSettings)
	return s, ret.Error(1)
}

func (m *MockRepository) GetAppSettings(ctx context.Context) (*model.AppSettings, error) {
	ret := m.Called(ctx)
	s, _ := ret.Get(0).(*model.AppSettings)
	return s, ret.Error(1)
}

func (m *MockRepository) SaveAppSettings(ctx context.Context, s model.AppSettings) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockRepository) CreateUser(ctx context.Context, u model.User, passwordHash string) error {
	return m.Called(ctx, u, passwordHash).Error(0)
}

func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, string, error) {
	ret := m.Called(ctx, email)
	u, _ := ret.Get(0).(*model.User)
	return u, ret.String(1), ret.Error(2)
}

func (m *MockRepository) CreateSession(ctx context.Context, s model.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockRepository) GetSessionByAccessToken(ctx context.Context, token string) (*model.Session, error) {
	ret := m.Called(ctx, token)
	s, _ := ret.Get(0).(*model.Session)
	return s, ret.Error(1)
}

func (m *MockRepository) GetSessionByRefreshToken(ctx context.Context, token string) (*model.Session, error) {
	ret := m.Called(ctx, token)
	s, _ := ret.Get(0).(*model.Session)
	return s, ret.Error(1)
}

func (m *MockRepository) DeleteSession(ctx context.Context, accessToken string) error {
	return m.Called(ctx, accessToken).Error(0)
}

func (m *MockRepository) CreateOneTimeToken(ctx context.Context, t model.OneTimeToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockRepository) ConsumeOneTimeToken(ctx context.Context, token string, now time.Time) (*model.OneTimeToken, error) {
	ret := m.Called(ctx, token, now)
	t, _ := ret.Get(0).(*model.OneTimeToken)
	return t, ret.Error(1)
}

// MockSchemaInspector is a mock of storage.SchemaInspector.
type MockSchemaInspector struct {
	mock.Mock
}

var _ storage.SchemaInspector = &MockSchemaInspector{}

func (m *MockSchemaInspector) TableColumns(ctx context.Context, table string) ([]string, error) {
	ret := m.Called(ctx, table)
	cols, _ := ret.Get(0).([]string)
	return cols, ret.Error(1)
}
