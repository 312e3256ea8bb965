package io_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/model"
	storageio "github.com/slok/taskdash/internal/storage/io"
)

func strPtr(s string) *string { return &s }

func TestYAMLRepositoryListTasks(t *testing.T) {
	tests := map[string]struct {
		fs       fstest.MapFS
		path     string
		expTasks []model.Task
		expErr   bool
	}{
		"A valid task list should load the tasks with their steps.": {
			fs: fstest.MapFS{
				"tasks.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - id: task-1
    name: Analyze data
    status: completed
    timestamp: 2023-05-01T10:00:00Z
    securityLevel: class1
    steps:
      - id: step-1-1
        name: Extract
        actionType: data
        status: completed
        log: done
  - id: task-2
    name: Report
    status: running
    timestamp: 2023-05-02T14:30:00Z
    preview: https://example.com/preview
    securityLevel: class2
`)},
			},
			path: "tasks.yaml",
			expTasks: []model.Task{
				{
					ID:            "task-1",
					Name:          "Analyze data",
					Status:        model.TaskStatusCompleted,
					Timestamp:     time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC),
					SecurityLevel: model.SecurityLevelClass1,
					Steps: []model.Step{
						{ID: "step-1-1", TaskID: "task-1", Name: "Extract", ActionType: "data", Status: model.StepStatusCompleted, Log: strPtr("done")},
					},
				},
				{
					ID:            "task-2",
					Name:          "Report",
					Status:        model.TaskStatusRunning,
					Timestamp:     time.Date(2023, 5, 2, 14, 30, 0, 0, time.UTC),
					Preview:       strPtr("https://example.com/preview"),
					SecurityLevel: model.SecurityLevelClass2,
					Steps:         []model.Step{},
				},
			},
		},

		"A task with an unknown status should fail.": {
			fs: fstest.MapFS{
				"tasks.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - id: task-1
    name: Analyze data
    status: finished
    securityLevel: class1
`)},
			},
			path:   "tasks.yaml",
			expErr: true,
		},

		"A step without id should fail.": {
			fs: fstest.MapFS{
				"tasks.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - id: task-1
    name: Analyze data
    status: queued
    securityLevel: class1
    steps:
      - name: Extract
        status: completed
`)},
			},
			path:   "tasks.yaml",
			expErr: true,
		},

		"A missing file should fail.": {
			fs:     fstest.MapFS{},
			path:   "tasks.yaml",
			expErr: true,
		},

		"Invalid YAML should fail.": {
			fs: fstest.MapFS{
				"tasks.yaml": &fstest.MapFile{Data: []byte("tasks: [")},
			},
			path:   "tasks.yaml",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			repo := storageio.NewYAMLRepository(test.fs)
			tasks, err := repo.ListTasks(context.Background(), test.path)

			if test.expErr {
				assert.Error(err)
			} else if assert.NoError(err) {
				assert.Equal(test.expTasks, tasks)
			}
		})
	}
}

func TestYAMLRepositoryGetTaskInput(t *testing.T) {
	repo := storageio.NewYAMLRepository(fstest.MapFS{
		"task.yaml": &fstest.MapFile{Data: []byte(`
name: Deploy
status: queued
securityLevel: class3
steps:
  - name: Build
    actionType: build
    status: pending
`)},
	})

	in, err := repo.GetTaskInput(context.Background(), "task.yaml")
	require.NoError(t, err)

	exp := model.TaskInput{
		Name:          "Deploy",
		Status:        model.TaskStatusQueued,
		SecurityLevel: model.SecurityLevelClass3,
		Steps: []model.StepInput{
			{Name: "Build", ActionType: "build", Status: model.StepStatusPending},
		},
	}
	assert.Equal(t, exp, in)
	assert.NoError(t, in.Validate())
}

func TestYAMLRepositoryGetAppSettings(t *testing.T) {
	repo := storageio.NewYAMLRepository(fstest.MapFS{
		"settings.yaml": &fstest.MapFile{Data: []byte(`
apiKeys:
  openai: sk-test
security:
  sessionTimeout: 45
`)},
	})

	s, err := repo.GetAppSettings(context.Background(), "settings.yaml")
	require.NoError(t, err)

	exp := model.DefaultAppSettings()
	exp.APIKeys.OpenAI = "sk-test"
	exp.Security.SessionTimeoutMinutes = 45
	assert.Equal(t, exp, s)
}

func TestYAMLRepositoryCancelledContext(t *testing.T) {
	repo := storageio.NewYAMLRepository(fstest.MapFS{
		"task.yaml": &fstest.MapFile{Data: []byte("name: x\n")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.GetTaskInput(ctx, "task.yaml")
	assert.ErrorIs(t, err, context.Canceled)
}
