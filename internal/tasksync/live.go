package tasksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage"
)

const defaultCommandCompletionDelay = 2 * time.Second

// LiveProviderConfig is the configuration for the live provider.
type LiveProviderConfig struct {
	Repository storage.TaskRepository
	Clock      clock.Clock
	// CompletionDelay is the time a submitted command takes to complete.
	CompletionDelay time.Duration
	Logger          log.Logger
}

func (c *LiveProviderConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.CompletionDelay < 0 {
		return fmt.Errorf("completion delay can't be negative")
	}
	if c.CompletionDelay == 0 {
		c.CompletionDelay = defaultCommandCompletionDelay
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "tasksync.LiveProvider"})
	return nil
}

// LiveProvider reads and writes the tasks on the backend repository.
type LiveProvider struct {
	repo            storage.TaskRepository
	clock           clock.Clock
	completionDelay time.Duration
	logger          log.Logger

	pending sync.WaitGroup
}

// NewLiveProvider returns a new live provider.
func NewLiveProvider(cfg LiveProviderConfig) (*LiveProvider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &LiveProvider{
		repo:            cfg.Repository,
		clock:           cfg.Clock,
		completionDelay: cfg.CompletionDelay,
		logger:          cfg.Logger,
	}, nil
}

func (l *LiveProvider) FetchTasks(ctx context.Context, userID string) ([]model.Task, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	tasks, err := l.repo.ListTasks(ctx, userID)
	if err != nil {
		l.logger.WithValues(log.Kv{"user-id": userID}).Errorf("Error fetching tasks: %s", err)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	return tasks, nil
}

// CreateTask stores the task and then its steps. A step write failure doesn't
// remove the already stored task.
func (l *LiveProvider) CreateTask(ctx context.Context, userID string, in model.TaskInput) (*model.Task, error) {
	if err := validateTaskInput(in); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	logger := l.logger.WithValues(log.Kv{"user-id": userID})

	task, err := l.repo.CreateTask(ctx, model.Task{
		UserID:        userID,
		Name:          in.Name,
		Status:        in.Status,
		Preview:       in.Preview,
		SecurityLevel: in.SecurityLevel,
	})
	if err != nil {
		logger.Errorf("Error creating task: %s", err)
		return nil, ErrCreateFailed
	}

	if len(in.Steps) == 0 {
		task.Steps = []model.Step{}
		return task, nil
	}

	steps := make([]model.Step, 0, len(in.Steps))
	for _, s := range in.Steps {
		steps = append(steps, model.Step{
			TaskID:     task.ID,
			Name:       s.Name,
			ActionType: s.ActionType,
			Status:     s.Status,
			Log:        s.Log,
		})
	}

	created, err := l.repo.CreateSteps(ctx, userID, steps)
	if err != nil {
		logger.WithValues(log.Kv{"task-id": task.ID}).Errorf("Error creating task steps: %s", err)
		return nil, ErrCreateFailed
	}
	task.Steps = created

	return task, nil
}

// SubmitCommand stores a running step for the command and schedules its
// completion. The result Completed channel is closed after the completion
// write, successful or not.
func (l *LiveProvider) SubmitCommand(ctx context.Context, userID string, in model.CommandInput) (*model.CommandResult, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	logger := l.logger.WithValues(log.Kv{"user-id": userID, "task-id": in.TaskID})

	startLog := commandStartedLog(in.Command, l.clock.Now())
	steps, err := l.repo.CreateSteps(ctx, userID, []model.Step{{
		TaskID:     in.TaskID,
		Name:       commandStepName(in.Command),
		ActionType: model.ActionTypeAction,
		Status:     model.StepStatusRunning,
		Log:        &startLog,
	}})
	if err != nil {
		logger.Errorf("Error submitting command: %s", err)
		return nil, ErrSubmitFailed
	}
	if len(steps) != 1 {
		logger.Errorf("Error submitting command: expected 1 created step, got %d", len(steps))
		return nil, ErrSubmitFailed
	}
	step := steps[0]

	completed := make(chan struct{})
	l.pending.Add(1)
	l.clock.AfterFunc(l.completionDelay, func() {
		defer l.pending.Done()
		defer close(completed)

		endLog := commandCompletedLog(in.Command, l.clock.Now())
		_, err := l.repo.UpdateStep(context.Background(), userID, step.ID, model.StepStatusCompleted, &endLog)
		if err != nil {
			logger.WithValues(log.Kv{"step-id": step.ID}).Errorf("Error completing command step: %s", err)
		}
	})

	return &model.CommandResult{
		StepID:    step.ID,
		Timestamp: l.clock.Now().UTC(),
		Completed: completed,
	}, nil
}

// WaitCompletions blocks until every scheduled command completion has been
// written or the context is done. The repository must stay open until then.
func (l *LiveProvider) WaitCompletions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("command completions still pending: %w", ctx.Err())
	}
}
