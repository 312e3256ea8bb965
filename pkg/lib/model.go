package lib

import (
	"errors"
	"time"

	"github.com/slok/taskdash/internal/model"
)

// Sentinel errors, use [errors.Is] to check them.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotValid        = errors.New("not valid")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// BackendType identifies the live backend implementation.
type BackendType string

const (
	BackendSQLite   BackendType = "sqlite"
	BackendPostgres BackendType = "postgres"
	BackendMemory   BackendType = "memory"
)

// TaskStatus is the state of a task.
type TaskStatus string

const (
	TaskStatusQueued           TaskStatus = "queued"
	TaskStatusRunning          TaskStatus = "running"
	TaskStatusAwaitingApproval TaskStatus = "awaiting_approval"
	TaskStatusCompleted        TaskStatus = "completed"
	TaskStatusError            TaskStatus = "error"
)

// StepStatus is the state of a task step.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusRunning   StepStatus = "running"
	StepStatusError     StepStatus = "error"
	StepStatusAwaiting  StepStatus = "awaiting"
	StepStatusPending   StepStatus = "pending"
	StepStatusLocked    StepStatus = "locked"
)

// SecurityLevel is the security classification of tasks and commands, class3
// being the most restrictive.
type SecurityLevel string

const (
	SecurityLevelClass1 SecurityLevel = "class1"
	SecurityLevelClass2 SecurityLevel = "class2"
	SecurityLevelClass3 SecurityLevel = "class3"
)

// Task is an agent task of the signed in user.
//
// This is a read-only snapshot at the time of the API call, use
// [Client.ListTasks] to get the latest state.
type Task struct {
	ID            string
	Name          string
	Status        TaskStatus
	Timestamp     time.Time
	Preview       *string
	SecurityLevel SecurityLevel
	// Steps are in insertion order.
	Steps []Step
}

// Step is a unit of work of a task.
type Step struct {
	ID         string
	Name       string
	ActionType string
	Status     StepStatus
	Log        *string
}

// StepOpts are the options of a step created with its task.
type StepOpts struct {
	Name       string
	ActionType string
	// Status defaults to pending.
	Status StepStatus
	Log    *string
}

// CreateTaskOpts are the options to create a task.
type CreateTaskOpts struct {
	Name string
	// Status defaults to queued.
	Status TaskStatus
	// SecurityLevel defaults to class1.
	SecurityLevel SecurityLevel
	Preview       *string
	Steps         []StepOpts
}

// SubmitCommandOpts are the optional settings of a command.
type SubmitCommandOpts struct {
	// SecurityLevel defaults to class1.
	SecurityLevel SecurityLevel
}

// CommandResult is the result of a submitted command.
type CommandResult struct {
	StepID    string
	Timestamp time.Time
	// Completed is closed once the command step is marked as completed, nil
	// when there is no deferred completion (fixture mode).
	Completed <-chan struct{}
}

// Identity is the signed in user.
type Identity struct {
	UserID string
	Email  string
	Admin  bool
}

// Settings are the preferences of the signed in user.
type Settings struct {
	Theme                string
	SecurityLevel        SecurityLevel
	NotificationsEnabled bool
	DefaultMode          string
}

// SettingsPatch is a partial settings update, nil fields are left untouched.
type SettingsPatch struct {
	Theme                *string
	SecurityLevel        *SecurityLevel
	NotificationsEnabled *bool
	DefaultMode          *string
}

func fromInternalTask(t model.Task) Task {
	steps := make([]Step, 0, len(t.Steps))
	for _, s := range t.Steps {
		steps = append(steps, Step{
			ID:         s.ID,
			Name:       s.Name,
			ActionType: s.ActionType,
			Status:     StepStatus(s.Status),
			Log:        s.Log,
		})
	}

	return Task{
		ID:            t.ID,
		Name:          t.Name,
		Status:        TaskStatus(t.Status),
		Timestamp:     t.Timestamp,
		Preview:       t.Preview,
		SecurityLevel: SecurityLevel(t.SecurityLevel),
		Steps:         steps,
	}
}

func fromInternalTasks(ts []model.Task) []Task {
	result := make([]Task, 0, len(ts))
	for _, t := range ts {
		result = append(result, fromInternalTask(t))
	}
	return result
}

func toInternalTaskInput(opts CreateTaskOpts) model.TaskInput {
	in := model.TaskInput{
		Name:          opts.Name,
		Status:        model.TaskStatus(opts.Status),
		Preview:       opts.Preview,
		SecurityLevel: model.SecurityLevel(opts.SecurityLevel),
	}
	if in.Status == "" {
		in.Status = model.TaskStatusQueued
	}
	if in.SecurityLevel == "" {
		in.SecurityLevel = model.SecurityLevelClass1
	}

	for _, s := range opts.Steps {
		status := model.StepStatus(s.Status)
		if status == "" {
			status = model.StepStatusPending
		}
		in.Steps = append(in.Steps, model.StepInput{
			Name:       s.Name,
			ActionType: s.ActionType,
			Status:     status,
			Log:        s.Log,
		})
	}
	return in
}

func fromInternalIdentity(id model.Identity) Identity {
	if id.User == nil {
		return Identity{}
	}
	return Identity{UserID: id.User.ID, Email: id.User.Email, Admin: id.Admin}
}

func fromInternalSettings(s model.UserSettings) Settings {
	return Settings{
		Theme:                string(s.Theme),
		SecurityLevel:        SecurityLevel(s.SecurityLevel),
		NotificationsEnabled: s.NotificationsEnabled,
		DefaultMode:          string(s.DefaultMode),
	}
}

func toInternalSettingsPatch(p SettingsPatch) model.SettingsPatch {
	var ip model.SettingsPatch
	if p.Theme != nil {
		t := model.Theme(*p.Theme)
		ip.Theme = &t
	}
	if p.SecurityLevel != nil {
		l := model.SecurityLevel(*p.SecurityLevel)
		ip.SecurityLevel = &l
	}
	ip.NotificationsEnabled = p.NotificationsEnabled
	if p.DefaultMode != nil {
		m := model.Mode(*p.DefaultMode)
		ip.DefaultMode = &m
	}
	return ip
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case errors.Is(err, model.ErrUnauthenticated):
		return joinErrors(err, ErrUnauthenticated)
	case errors.Is(err, model.ErrForbidden):
		return joinErrors(err, ErrForbidden)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
