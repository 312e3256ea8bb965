package settings_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/realtime"
	"github.com/slok/taskdash/internal/settings"
	"github.com/slok/taskdash/internal/storage/memory"
	"github.com/slok/taskdash/internal/storage/notify"
	"github.com/slok/taskdash/internal/storage/storagemock"
	"github.com/slok/taskdash/internal/storage/storagetest"
)

type staticIdentity struct {
	loading bool
	id      model.Identity
}

func (s staticIdentity) Loading() bool            { return s.loading }
func (s staticIdentity) Identity() model.Identity { return s.id }

func identity(userID string, admin bool) staticIdentity {
	return staticIdentity{id: model.Identity{User: &model.User{ID: userID, Email: userID + "@example.com"}, Admin: admin}}
}

func ptr[T any](v T) *T { return &v }

func TestServiceGet(t *testing.T) {
	stored := model.UserSettings{
		ID:                   "s1",
		UserID:               "u1",
		Theme:                model.ThemeDark,
		SecurityLevel:        model.SecurityLevelClass3,
		NotificationsEnabled: false,
		DefaultMode:          model.ModeExpert,
	}

	tests := map[string]struct {
		flags    config.Flags
		identity staticIdentity
		mock     func(m *storagemock.MockRepository)
		expUS    model.UserSettings
		expErr   error
	}{
		"Fixture mode should return the mock settings.": {
			flags:    config.StaticFlags{Configured: true, Mock: true},
			identity: identity("u1", false),
			mock:     func(m *storagemock.MockRepository) {},
			expUS:    settings.MockUserSettings(),
		},

		"Without user it should return the mock settings.": {
			flags:    config.StaticFlags{Configured: true},
			identity: staticIdentity{},
			mock:     func(m *storagemock.MockRepository) {},
			expUS:    settings.MockUserSettings(),
		},

		"Live mode should return the stored settings.": {
			flags:    config.StaticFlags{Configured: true},
			identity: identity("u1", false),
			mock: func(m *storagemock.MockRepository) {
				m.On("GetUserSettings", mock.Anything, "u1").Once().Return(&stored, nil)
			},
			expUS: stored,
		},

		"A backend error should return a fetch error.": {
			flags:    config.StaticFlags{Configured: true},
			identity: identity("u1", false),
			mock: func(m *storagemock.MockRepository) {
				m.On("GetUserSettings", mock.Anything, "u1").Once().Return(nil, errors.New("boom"))
			},
			expErr: settings.ErrFetchFailed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &storagemock.MockRepository{}
			test.mock(m)

			svc, err := settings.NewService(settings.ServiceConfig{Repository: m, Flags: test.flags, Identity: test.identity})
			require.NoError(err)

			us, err := svc.Get(context.Background())
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else if assert.NoError(err) {
				assert.Equal(test.expUS, us)
			}

			// Cached on the second call.
			if test.expErr == nil {
				_, err = svc.Get(context.Background())
				assert.NoError(err)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestServiceUpdate(t *testing.T) {
	tests := map[string]struct {
		flags  config.Flags
		patch  model.SettingsPatch
		mock   func(m *storagemock.MockRepository)
		expUS  model.UserSettings
		expErr error
	}{
		"Fixture mode should merge the patch on the mock settings.": {
			flags: config.StaticFlags{Mock: true},
			patch: model.SettingsPatch{Theme: ptr(model.ThemeDark)},
			mock:  func(m *storagemock.MockRepository) {},
			expUS: func() model.UserSettings {
				us := settings.MockUserSettings()
				us.Theme = model.ThemeDark
				return us
			}(),
		},

		"An invalid patch should be rejected before any write.": {
			flags:  config.StaticFlags{Configured: true},
			patch:  model.SettingsPatch{DefaultMode: ptr(model.Mode("yolo"))},
			mock:   func(m *storagemock.MockRepository) {},
			expErr: settings.ErrInvalidSettings,
		},

		"Live mode should update the stored settings.": {
			flags: config.StaticFlags{Configured: true},
			patch: model.SettingsPatch{NotificationsEnabled: ptr(false)},
			mock: func(m *storagemock.MockRepository) {
				m.On("UpdateUserSettings", mock.Anything, "u1", model.SettingsPatch{NotificationsEnabled: ptr(false)}).Once().
					Return(&model.UserSettings{ID: "s1", UserID: "u1", Theme: model.ThemeSystem}, nil)
			},
			expUS: model.UserSettings{ID: "s1", UserID: "u1", Theme: model.ThemeSystem},
		},

		"A backend error should return an update error.": {
			flags: config.StaticFlags{Configured: true},
			patch: model.SettingsPatch{NotificationsEnabled: ptr(false)},
			mock: func(m *storagemock.MockRepository) {
				m.On("UpdateUserSettings", mock.Anything, "u1", mock.Anything).Once().Return(nil, errors.New("boom"))
			},
			expErr: settings.ErrUpdateFailed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			m := &storagemock.MockRepository{}
			test.mock(m)

			svc, err := settings.NewService(settings.ServiceConfig{Repository: m, Flags: test.flags, Identity: identity("u1", false)})
			require.NoError(t, err)

			us, err := svc.Update(context.Background(), test.patch)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else if assert.NoError(err) {
				assert.Equal(test.expUS, us)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestServiceWatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	broker, err := realtime.NewBroker(realtime.BrokerConfig{})
	require.NoError(err)
	defer broker.Close()

	mem, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	storagetest.CreateUser(t, mem, "u1", "u1@example.com")
	repo, err := notify.NewRepository(notify.RepositoryConfig{Repository: mem, Publisher: broker})
	require.NoError(err)
	_, err = repo.CreateUserSettings(ctx, model.DefaultUserSettings("u1"))
	require.NoError(err)

	svc, err := settings.NewService(settings.ServiceConfig{
		Repository: repo,
		Flags:      config.StaticFlags{Configured: true},
		Identity:   identity("u1", false),
		Subscriber: broker,
	})
	require.NoError(err)

	var mu sync.Mutex
	changes := 0
	svc.OnChange(func(userID string) {
		mu.Lock()
		defer mu.Unlock()
		changes++
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return changes
	}

	require.NoError(svc.Watch())
	defer svc.Unwatch()

	us, err := svc.Get(ctx)
	require.NoError(err)
	assert.Equal(model.ThemeSystem, us.Theme)

	// A write from somewhere else invalidates the cached settings.
	_, err = repo.UpdateUserSettings(ctx, "u1", model.SettingsPatch{Theme: ptr(model.ThemeDark)})
	require.NoError(err)

	assert.Eventually(func() bool { return count() == 1 }, 2*time.Second, 5*time.Millisecond)

	us, err = svc.Get(ctx)
	require.NoError(err)
	assert.Equal(model.ThemeDark, us.Theme)
}

func TestServiceAppSettings(t *testing.T) {
	valid := model.DefaultAppSettings()
	valid.APIKeys.OpenAI = "sk-test"

	tests := map[string]struct {
		flags    config.Flags
		identity staticIdentity
		save     model.AppSettings
		mock     func(m *storagemock.MockRepository)
		expSave  error
		expGet   model.AppSettings
		expGetEr error
	}{
		"A non admin should not access app settings.": {
			flags:    config.StaticFlags{Configured: true},
			identity: identity("u1", false),
			save:     valid,
			mock:     func(m *storagemock.MockRepository) {},
			expSave:  model.ErrForbidden,
			expGetEr: model.ErrForbidden,
		},

		"An anonymous user should not access app settings.": {
			flags:    config.StaticFlags{Configured: true},
			identity: staticIdentity{},
			save:     valid,
			mock:     func(m *storagemock.MockRepository) {},
			expSave:  model.ErrUnauthenticated,
			expGetEr: model.ErrUnauthenticated,
		},

		"Invalid settings should be rejected before any write.": {
			flags:    config.StaticFlags{Configured: true},
			identity: identity("admin", true),
			save:     model.DefaultAppSettings(),
			mock: func(m *storagemock.MockRepository) {
				m.On("GetAppSettings", mock.Anything).Once().Return(nil, model.ErrNotFound)
			},
			expSave: settings.ErrInvalidSettings,
			expGet:  model.DefaultAppSettings(),
		},

		"An admin should save and read the app settings.": {
			flags:    config.StaticFlags{Configured: true},
			identity: identity("admin", true),
			save:     valid,
			mock: func(m *storagemock.MockRepository) {
				m.On("SaveAppSettings", mock.Anything, valid).Once().Return(nil)
				m.On("GetAppSettings", mock.Anything).Once().Return(&valid, nil)
			},
			expGet: valid,
		},

		"In fixture mode the app settings are kept locally.": {
			flags:    config.StaticFlags{Mock: true},
			identity: identity("admin", true),
			save:     valid,
			mock:     func(m *storagemock.MockRepository) {},
			expGet:   valid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			m := &storagemock.MockRepository{}
			test.mock(m)

			svc, err := settings.NewService(settings.ServiceConfig{Repository: m, Flags: test.flags, Identity: test.identity})
			require.NoError(t, err)

			err = svc.SaveAppSettings(context.Background(), test.save)
			if test.expSave != nil {
				assert.ErrorIs(err, test.expSave)
			} else {
				assert.NoError(err)
			}

			got, err := svc.GetAppSettings(context.Background())
			if test.expGetEr != nil {
				assert.ErrorIs(err, test.expGetEr)
			} else if assert.NoError(err) {
				assert.Equal(test.expGet, got)
			}

			m.AssertExpectations(t)
		})
	}
}
