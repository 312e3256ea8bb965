package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/realtime"
	"github.com/slok/taskdash/internal/settings"
	"github.com/slok/taskdash/internal/storage/memory"
	"github.com/slok/taskdash/internal/storage/notify"
)

type staticIdentity struct{ id model.Identity }

func (s staticIdentity) Loading() bool            { return false }
func (s staticIdentity) Identity() model.Identity { return s.id }

func TestWatchSettingsPrintsRemoteChanges(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	broker, err := realtime.NewBroker(realtime.BrokerConfig{})
	require.NoError(err)
	defer broker.Close()
	mem, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	repo, err := notify.NewRepository(notify.RepositoryConfig{Repository: mem, Publisher: broker})
	require.NoError(err)

	u := model.User{ID: "u1", Email: "user@example.com"}
	require.NoError(repo.CreateUser(ctx, u, ""))
	_, err = repo.CreateUserSettings(ctx, model.DefaultUserSettings(u.ID))
	require.NoError(err)

	svc, err := settings.NewService(settings.ServiceConfig{
		Repository: repo,
		Flags:      config.StaticFlags{Configured: true},
		Identity:   staticIdentity{id: model.Identity{User: &u}},
		Subscriber: broker,
	})
	require.NoError(err)

	printed := make(chan model.UserSettings, 10)
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- watchSettings(watchCtx, svc, nil, func(us model.UserSettings) error {
			printed <- us
			return nil
		}, log.Noop)
	}()

	next := func() model.UserSettings {
		select {
		case us := <-printed:
			return us
		case <-time.After(5 * time.Second):
			t.Fatal("settings were not printed")
		}
		return model.UserSettings{}
	}

	assert.Equal(model.ThemeSystem, next().Theme)

	// A write from another client, only visible with the change event.
	dark := model.ThemeDark
	_, err = repo.UpdateUserSettings(ctx, u.ID, model.SettingsPatch{Theme: &dark})
	require.NoError(err)
	assert.Equal(model.ThemeDark, next().Theme)

	cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
