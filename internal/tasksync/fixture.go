package tasksync

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	storageio "github.com/slok/taskdash/internal/storage/io"
)

//go:embed fixtures
var fixturesFS embed.FS

const fixtureTasksPath = "fixtures/tasks.yaml"

var (
	fixtureCreatedAt   = time.Date(2023, 5, 4, 15, 0, 0, 0, time.UTC)
	fixtureSubmittedAt = time.Date(2023, 5, 4, 14, 30, 0, 0, time.UTC)
)

// FixtureProviderConfig is the configuration for the fixture provider.
type FixtureProviderConfig struct {
	Clock  clock.Clock
	Logger log.Logger
}

func (c *FixtureProviderConfig) defaults() error {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "tasksync.FixtureProvider"})
	return nil
}

// FixtureProvider serves a static task list and never touches the backend.
// Submitted commands are kept in its local copy so they survive refetches.
type FixtureProvider struct {
	mu     sync.Mutex
	tasks  []model.Task
	clock  clock.Clock
	logger log.Logger
}

// NewFixtureProvider returns a provider loaded with the embedded fixture tasks.
func NewFixtureProvider(cfg FixtureProviderConfig) (*FixtureProvider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tasks, err := storageio.NewYAMLRepository(fixturesFS).ListTasks(context.Background(), fixtureTasksPath)
	if err != nil {
		return nil, fmt.Errorf("could not load fixture tasks: %w", err)
	}

	return &FixtureProvider{
		tasks:  tasks,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

func (f *FixtureProvider) FetchTasks(ctx context.Context, userID string) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logger.Debugf("Using fixture task data")
	return copyTasks(f.tasks), nil
}

// CreateTask returns a synthetic task, the fixture list is left untouched.
func (f *FixtureProvider) CreateTask(ctx context.Context, userID string, in model.TaskInput) (*model.Task, error) {
	if err := validateTaskInput(in); err != nil {
		return nil, err
	}

	id := "task-mock-" + f.shortStamp()
	task := &model.Task{
		ID:            id,
		UserID:        userID,
		Name:          in.Name,
		Status:        in.Status,
		Timestamp:     fixtureCreatedAt,
		Preview:       in.Preview,
		SecurityLevel: in.SecurityLevel,
		Steps:         make([]model.Step, 0, len(in.Steps)),
	}
	for i, s := range in.Steps {
		task.Steps = append(task.Steps, model.Step{
			ID:         fmt.Sprintf("step-mock-%s-%d", id, i+1),
			TaskID:     id,
			Name:       s.Name,
			ActionType: s.ActionType,
			Status:     s.Status,
			Log:        s.Log,
		})
	}

	return task, nil
}

// SubmitCommand appends an already completed step to the task.
func (f *FixtureProvider) SubmitCommand(ctx context.Context, userID string, in model.CommandInput) (*model.CommandResult, error) {
	now := f.clock.Now()
	logText := fixtureCommandLog(in.Command, now)
	step := model.Step{
		ID:         fmt.Sprintf("step-mock-%s-%s", in.TaskID, f.shortStamp()),
		TaskID:     in.TaskID,
		Name:       commandStepName(in.Command),
		ActionType: model.ActionTypeAction,
		Status:     model.StepStatusCompleted,
		Log:        &logText,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.tasks {
		if f.tasks[i].ID == in.TaskID {
			f.tasks[i].Steps = append(f.tasks[i].Steps, step)
			break
		}
	}

	return &model.CommandResult{
		StepID:    step.ID,
		Timestamp: fixtureSubmittedAt,
		Step:      &step,
	}, nil
}

func (f *FixtureProvider) shortStamp() string {
	return fmt.Sprintf("%06d", f.clock.Now().UnixMilli()%1_000_000)
}
