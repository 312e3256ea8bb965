// Package tasksync keeps a near real time view of the current user tasks and
// mediates the writes on them.
//
// Reads go through a per user cache that is refreshed by three independent
// triggers: explicit refreshes, a periodic poll and realtime change events.
// All of them feed the same de-duplicated invalidate-and-refetch queue.
package tasksync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/slok/taskdash/internal/model"
)

// Errors returned to the callers, they carry the user facing message. Backend
// details are logged but never wrapped on mutation errors.
var (
	ErrFetchFailed      = errors.New("Failed to fetch tasks")
	ErrCreateFailed     = errors.New("Failed to create task")
	ErrSubmitFailed     = errors.New("Failed to submit command")
	ErrInvalidTask      = errors.New("Invalid task data")
	ErrNotAuthenticated = fmt.Errorf("User not authenticated: %w", model.ErrUnauthenticated)
)

// Provider is the task data source capability. Callers never branch on the
// data mode, they get one of the implementations from the Factory.
type Provider interface {
	// FetchTasks returns the user tasks newest first.
	FetchTasks(ctx context.Context, userID string) ([]model.Task, error)
	CreateTask(ctx context.Context, userID string, in model.TaskInput) (*model.Task, error)
	SubmitCommand(ctx context.Context, userID string, in model.CommandInput) (*model.CommandResult, error)
}

const keyScopeTasks = "tasks"

// Key identifies a cache entry.
type Key struct {
	Scope  string
	UserID string
}

// TasksKey returns the cache key of the user task list.
func TasksKey(userID string) Key { return Key{Scope: keyScopeTasks, UserID: userID} }

func (k Key) String() string {
	return "[" + strconv.Quote(k.Scope) + "," + strconv.Quote(k.UserID) + "]"
}

const commandNameMaxChars = 20

// commandStepName returns the step name for a command, commands longer than
// 20 characters are truncated.
func commandStepName(command string) string {
	if utf8.RuneCountInString(command) <= commandNameMaxChars {
		return "Execute command: " + command
	}

	return "Execute command: " + string([]rune(command)[:commandNameMaxChars]) + "..."
}

const logTimeLayout = "3:04:05 PM"

func commandStartedLog(command string, t time.Time) string {
	return fmt.Sprintf("Executing command: %s\nStarted at %s", command, t.Format(logTimeLayout))
}

func commandCompletedLog(command string, t time.Time) string {
	return fmt.Sprintf("Executed command: %s\nCompleted at %s\nOutput: Command executed successfully.", command, t.Format(logTimeLayout))
}

func fixtureCommandLog(command string, t time.Time) string {
	return fmt.Sprintf("Executed command: %s\nCompleted at %s", command, t.Format(logTimeLayout))
}

func validateTaskInput(in model.TaskInput) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	return nil
}

func copyTasks(tasks []model.Task) []model.Task {
	if tasks == nil {
		return nil
	}

	res := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Steps != nil {
			steps := make([]model.Step, len(t.Steps))
			copy(steps, t.Steps)
			t.Steps = steps
		}
		res = append(res, t)
	}
	return res
}
