package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage"
	"github.com/slok/taskdash/internal/storage/sqlite"
	"github.com/slok/taskdash/internal/storage/storagetest"
)

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository(t *testing.T) {
	storagetest.RunRepositoryTests(t, func(t *testing.T) storage.Repository { return newRepo(t) })
}

func TestRepositoryReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	storagetest.CreateUser(t, repo, "u1", "u1@example.com")
	_, err = repo.CreateTask(ctx, model.Task{UserID: "u1", Name: "persisted", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	// Running the migrations again on an existing database is a no-op.
	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	defer repo.Close()

	tasks, err := repo.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "persisted", tasks[0].Name)

	version, dirty, err := repo.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestRepositoryCreateTaskUnknownUser(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.CreateTask(context.Background(), model.Task{UserID: "missing", Name: "x", Status: model.TaskStatusQueued, SecurityLevel: model.SecurityLevelClass1})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTableColumns(t *testing.T) {
	tests := map[string]struct {
		table   string
		expCols []string
		expErr  error
	}{
		"Tasks table should have all the required columns.": {
			table:   storage.TableTasks,
			expCols: storage.Schema[storage.TableTasks],
		},
		"Steps table should have all the required columns.": {
			table:   storage.TableSteps,
			expCols: storage.Schema[storage.TableSteps],
		},
		"User settings table should have all the required columns.": {
			table:   storage.TableUserSettings,
			expCols: storage.Schema[storage.TableUserSettings],
		},
		"A missing table should fail.": {
			table:  "missing",
			expErr: model.ErrNotFound,
		},
	}

	repo := newRepo(t)
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cols, err := repo.TableColumns(context.Background(), test.table)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)
			for _, c := range test.expCols {
				assert.Contains(t, cols, c)
			}
		})
	}
}
