// Package notify decorates a repository so every task, step and user settings write is
// published as a realtime change event, the way a hosted backend pushes row
// changes to its realtime channels.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/realtime"
	"github.com/slok/taskdash/internal/storage"
)

// RepositoryConfig is the configuration for the notifying repository.
type RepositoryConfig struct {
	Repository storage.Repository
	Publisher  realtime.Publisher
	Logger     log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Publisher == nil {
		return fmt.Errorf("publisher is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Notify"})
	return nil
}

// Repository is a storage.Repository that publishes task and step changes.
type Repository struct {
	storage.Repository
	pub    realtime.Publisher
	logger log.Logger
}

// NewRepository returns a new notifying repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		Repository: cfg.Repository,
		pub:        cfg.Publisher,
		logger:     cfg.Logger,
	}, nil
}

func (r *Repository) CreateTask(ctx context.Context, t model.Task) (*model.Task, error) {
	task, err := r.Repository.CreateTask(ctx, t)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, storage.TableTasks, realtime.EventInsert, TaskRecord(*task))
	return task, nil
}

func (r *Repository) CreateSteps(ctx context.Context, userID string, steps []model.Step) ([]model.Step, error) {
	created, err := r.Repository.CreateSteps(ctx, userID, steps)
	if err != nil {
		return nil, err
	}

	for _, s := range created {
		r.publish(ctx, storage.TableSteps, realtime.EventInsert, StepRecord(s))
	}
	return created, nil
}

func (r *Repository) UpdateStep(ctx context.Context, userID, stepID string, status model.StepStatus, stepLog *string) (*model.Step, error) {
	step, err := r.Repository.UpdateStep(ctx, userID, stepID, status, stepLog)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, storage.TableSteps, realtime.EventUpdate, StepRecord(*step))
	return step, nil
}

func (r *Repository) CreateUserSettings(ctx context.Context, us model.UserSettings) (*model.UserSettings, error) {
	s, err := r.Repository.CreateUserSettings(ctx, us)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, storage.TableUserSettings, realtime.EventInsert, UserSettingsRecord(*s))
	return s, nil
}

func (r *Repository) UpdateUserSettings(ctx context.Context, userID string, patch model.SettingsPatch) (*model.UserSettings, error) {
	s, err := r.Repository.UpdateUserSettings(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, storage.TableUserSettings, realtime.EventUpdate, UserSettingsRecord(*s))
	return s, nil
}

func (r *Repository) publish(ctx context.Context, table string, typ realtime.EventType, rec realtime.Record) {
	r.logger.Debugf("Publishing %s %s event: %s", table, typ, rec.String("id"))
	r.pub.Publish(ctx, realtime.ChangeEvent{
		Table:     table,
		Type:      typ,
		New:       rec,
		Timestamp: time.Now().UTC(),
	})
}

// TaskRecord returns the realtime row of a task.
func TaskRecord(t model.Task) realtime.Record {
	return realtime.Record{
		"id":             t.ID,
		"user_id":        t.UserID,
		"name":           t.Name,
		"status":         string(t.Status),
		"security_level": string(t.SecurityLevel),
	}
}

// StepRecord returns the realtime row of a step. Steps don't carry the owner,
// subscribers must resolve it through the task.
func StepRecord(s model.Step) realtime.Record {
	return realtime.Record{
		"id":          s.ID,
		"task_id":     s.TaskID,
		"name":        s.Name,
		"action_type": s.ActionType,
		"status":      string(s.Status),
	}
}

// UserSettingsRecord returns the realtime row of the user settings.
func UserSettingsRecord(s model.UserSettings) realtime.Record {
	return realtime.Record{
		"id":      s.ID,
		"user_id": s.UserID,
	}
}
