package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the state of an agent task.
type TaskStatus string

const (
	TaskStatusQueued           TaskStatus = "queued"
	TaskStatusRunning          TaskStatus = "running"
	TaskStatusAwaitingApproval TaskStatus = "awaiting_approval"
	TaskStatusCompleted        TaskStatus = "completed"
	TaskStatusError            TaskStatus = "error"
)

// Valid returns true if the status is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusAwaitingApproval, TaskStatusCompleted, TaskStatusError:
		return true
	}
	return false
}

// StepStatus represents the state of a single task step.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusRunning   StepStatus = "running"
	StepStatusError     StepStatus = "error"
	StepStatusAwaiting  StepStatus = "awaiting"
	StepStatusPending   StepStatus = "pending"
	StepStatusLocked    StepStatus = "locked"
)

// Valid returns true if the status is one of the known step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusCompleted, StepStatusRunning, StepStatusError, StepStatusAwaiting, StepStatusPending, StepStatusLocked:
		return true
	}
	return false
}

// SecurityLevel is the security classification of a task or command.
// Levels are ordinal, class3 being the most restrictive.
type SecurityLevel string

const (
	SecurityLevelClass1 SecurityLevel = "class1"
	SecurityLevelClass2 SecurityLevel = "class2"
	SecurityLevelClass3 SecurityLevel = "class3"
)

// Valid returns true if the level is one of the known security levels.
func (l SecurityLevel) Valid() bool { return l.Rank() > 0 }

// Rank returns the ordinal of the level (1..3), 0 if unknown.
func (l SecurityLevel) Rank() int {
	switch l {
	case SecurityLevelClass1:
		return 1
	case SecurityLevelClass2:
		return 2
	case SecurityLevelClass3:
		return 3
	}
	return 0
}

// ActionTypeAction is the action type used for steps created from user commands.
const ActionTypeAction = "action"

// Step is a single unit of work inside a task, with its log.
type Step struct {
	ID         string
	TaskID     string
	Name       string
	ActionType string
	Status     StepStatus
	Log        *string
}

// Task is an asynchronous agent task owned by a single user.
type Task struct {
	ID            string
	UserID        string
	Name          string
	Status        TaskStatus
	Timestamp     time.Time
	Preview       *string
	SecurityLevel SecurityLevel
	// Steps are ordered by insertion.
	Steps []Step
}

// StepInput is the data required to create a step as part of a new task.
type StepInput struct {
	Name       string     `yaml:"name" json:"name"`
	ActionType string     `yaml:"actionType" json:"actionType"`
	Status     StepStatus `yaml:"status" json:"status"`
	Log        *string    `yaml:"log" json:"log"`
}

// TaskInput is the data required to create a task.
type TaskInput struct {
	Name          string        `json:"name"`
	Status        TaskStatus    `json:"status"`
	Preview       *string       `json:"preview"`
	SecurityLevel SecurityLevel `json:"securityLevel"`
	Steps         []StepInput   `json:"steps"`
}

// Validate validates the task input, returning the first violated rule.
func (t TaskInput) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required: %w", ErrNotValid)
	}

	if t.Status == "" {
		return fmt.Errorf("task status is required: %w", ErrNotValid)
	}

	if !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q: %w", t.Status, ErrNotValid)
	}

	if !t.SecurityLevel.Valid() {
		return fmt.Errorf("security level must be one of class1, class2, class3: %w", ErrNotValid)
	}

	for i, s := range t.Steps {
		if !s.Status.Valid() {
			return fmt.Errorf("step %d has unknown status %q: %w", i, s.Status, ErrNotValid)
		}
	}

	return nil
}

// CommandInput is a free text command submitted against a task.
type CommandInput struct {
	TaskID        string
	Command       string
	SecurityLevel SecurityLevel
}

// Validate validates the command input.
func (c *CommandInput) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}

	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelClass1
	}

	if !c.SecurityLevel.Valid() {
		return fmt.Errorf("security level must be one of class1, class2, class3: %w", ErrNotValid)
	}

	return nil
}

// CommandResult is the result of submitting a command.
type CommandResult struct {
	StepID    string
	Timestamp time.Time
	// Step is the step as known right after the submission, if the provider
	// has it locally.
	Step *Step
	// Completed is closed once the deferred completion of the command step has
	// been written, nil if there is no deferred completion.
	Completed <-chan struct{}
}
