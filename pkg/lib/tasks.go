package lib

import (
	"context"
	"fmt"

	"github.com/slok/taskdash/internal/model"
)

// ListTasks returns the tasks of the signed in user, newest first.
//
// Returns [ErrUnauthenticated] if nobody is signed in.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}

	view, err := c.tasks.Refresh(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalTasks(view.Tasks), nil
}

// CreateTask creates a task with its steps for the signed in user.
//
// Returns [ErrNotValid] if the options are not valid, nothing is written then.
func (c *Client) CreateTask(ctx context.Context, opts CreateTaskOpts) (*Task, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}

	t, err := c.tasks.CreateTask(ctx, toInternalTaskInput(opts))
	if err != nil {
		return nil, mapError(err)
	}

	task := fromInternalTask(*t)
	return &task, nil
}

// SubmitCommand submits a free text command on a task of the signed in user. The
// command is recorded as a running step that completes in the background, wait
// on [CommandResult].Completed to know when.
//
// Returns [ErrNotValid] if the task ID or the security level are not valid.
func (c *Client) SubmitCommand(ctx context.Context, taskID, command string, opts *SubmitCommandOpts) (*CommandResult, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}

	in := model.CommandInput{TaskID: taskID, Command: command}
	if opts != nil {
		in.SecurityLevel = model.SecurityLevel(opts.SecurityLevel)
	}

	res, err := c.tasks.SubmitCommand(ctx, in)
	if err != nil {
		return nil, mapError(err)
	}

	return &CommandResult{StepID: res.StepID, Timestamp: res.Timestamp, Completed: res.Completed}, nil
}

func (c *Client) requireIdentity() error {
	if !c.Identity().Authenticated() {
		return mapError(fmt.Errorf("sign in first: %w", model.ErrUnauthenticated))
	}
	return nil
}
