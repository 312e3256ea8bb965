package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/taskdash/internal/model"
)

// YAMLRepository loads tasks, task inputs and application settings from YAML files.
type YAMLRepository struct {
	fs fs.FS
}

// NewYAMLRepository creates a new YAML repository.
func NewYAMLRepository(filesystem fs.FS) *YAMLRepository {
	return &YAMLRepository{fs: filesystem}
}

// ListTasks loads a task list file (`tasks: [...]`) and returns validated domain models.
func (r *YAMLRepository) ListTasks(ctx context.Context, path string) ([]model.Task, error) {
	var file TaskListFile
	if err := r.decode(ctx, path, &file); err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(file.Tasks))
	for i, t := range file.Tasks {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("invalid task %d: %w", i, err)
		}
		tasks = append(tasks, t.toModel())
	}

	return tasks, nil
}

// GetTaskInput loads a task creation file. Validation is left to the caller so
// the same rules apply to every input source.
func (r *YAMLRepository) GetTaskInput(ctx context.Context, path string) (model.TaskInput, error) {
	var in TaskInput
	if err := r.decode(ctx, path, &in); err != nil {
		return model.TaskInput{}, err
	}

	return in.toModel(), nil
}

// GetAppSettings loads an application settings file, unset fields keep their defaults.
func (r *YAMLRepository) GetAppSettings(ctx context.Context, path string) (model.AppSettings, error) {
	s := model.DefaultAppSettings()
	if err := r.decode(ctx, path, &s); err != nil {
		return model.AppSettings{}, err
	}

	return s, nil
}

func (r *YAMLRepository) decode(ctx context.Context, path string, v any) error {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// TaskListFile represents the YAML structure of a task list.
type TaskListFile struct {
	Tasks []Task `yaml:"tasks"`
}

// Task represents the YAML structure of a stored task.
type Task struct {
	ID            string    `yaml:"id"`
	UserID        string    `yaml:"userId"`
	Name          string    `yaml:"name"`
	Status        string    `yaml:"status"`
	Timestamp     time.Time `yaml:"timestamp"`
	Preview       *string   `yaml:"preview"`
	SecurityLevel string    `yaml:"securityLevel"`
	Steps         []Step    `yaml:"steps"`
}

// Step represents the YAML structure of a stored step.
type Step struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	ActionType string  `yaml:"actionType"`
	Status     string  `yaml:"status"`
	Log        *string `yaml:"log"`
}

func (t Task) validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !model.TaskStatus(t.Status).Valid() {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if !model.SecurityLevel(t.SecurityLevel).Valid() {
		return fmt.Errorf("unknown security level %q", t.SecurityLevel)
	}

	for i, s := range t.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d: id is required", i)
		}
		if !model.StepStatus(s.Status).Valid() {
			return fmt.Errorf("step %d: unknown status %q", i, s.Status)
		}
	}

	return nil
}

func (t Task) toModel() model.Task {
	task := model.Task{
		ID:            t.ID,
		UserID:        t.UserID,
		Name:          t.Name,
		Status:        model.TaskStatus(t.Status),
		Timestamp:     t.Timestamp.UTC(),
		Preview:       t.Preview,
		SecurityLevel: model.SecurityLevel(t.SecurityLevel),
		Steps:         make([]model.Step, 0, len(t.Steps)),
	}

	for _, s := range t.Steps {
		task.Steps = append(task.Steps, model.Step{
			ID:         s.ID,
			TaskID:     t.ID,
			Name:       s.Name,
			ActionType: s.ActionType,
			Status:     model.StepStatus(s.Status),
			Log:        s.Log,
		})
	}

	return task
}

// TaskInput represents the YAML structure of a task creation file.
type TaskInput struct {
	Name          string  `yaml:"name"`
	Status        string  `yaml:"status"`
	Preview       *string `yaml:"preview"`
	SecurityLevel string  `yaml:"securityLevel"`
	Steps         []Step  `yaml:"steps"`
}

func (t TaskInput) toModel() model.TaskInput {
	in := model.TaskInput{
		Name:          t.Name,
		Status:        model.TaskStatus(t.Status),
		Preview:       t.Preview,
		SecurityLevel: model.SecurityLevel(t.SecurityLevel),
	}

	for _, s := range t.Steps {
		in.Steps = append(in.Steps, model.StepInput{
			Name:       s.Name,
			ActionType: s.ActionType,
			Status:     model.StepStatus(s.Status),
			Log:        s.Log,
		})
	}

	return in
}
