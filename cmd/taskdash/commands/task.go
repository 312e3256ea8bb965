package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/taskdash/internal/model"
	storageio "github.com/slok/taskdash/internal/storage/io"
	"github.com/slok/taskdash/internal/tasksync"
)

type TaskListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
}

// NewTaskListCommand returns the task list command.
func NewTaskListCommand(rootCmd *RootCommand, taskCmd *kingpin.CmdClause) *TaskListCommand {
	c := &TaskListCommand{rootCmd: rootCmd}

	c.Cmd = taskCmd.Command("list", "List the tasks of the current user.")
	c.Cmd.Flag("id", "Show only this task with its steps.").StringVar(&c.taskID)

	return c
}

func (c TaskListCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskListCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	syncer, err := a.newSyncer(false)
	if err != nil {
		return err
	}

	view, err := syncer.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	p := c.rootCmd.Printer()
	if c.taskID == "" {
		return p.PrintTasks(view.Tasks)
	}

	for _, t := range view.Tasks {
		if t.ID == c.taskID {
			return p.PrintTask(t)
		}
	}
	return fmt.Errorf("task %s: %w", c.taskID, model.ErrNotFound)
}

type TaskCreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file          string
	name          string
	status        string
	securityLevel string
	preview       string
}

// NewTaskCreateCommand returns the task create command.
func NewTaskCreateCommand(rootCmd *RootCommand, taskCmd *kingpin.CmdClause) *TaskCreateCommand {
	c := &TaskCreateCommand{rootCmd: rootCmd}

	c.Cmd = taskCmd.Command("create", "Create a task.")
	c.Cmd.Flag("file", "YAML task definition, steps included.").Short('f').StringVar(&c.file)
	c.Cmd.Flag("name", "Task name.").StringVar(&c.name)
	c.Cmd.Flag("status", "Initial task status.").Default(string(model.TaskStatusQueued)).StringVar(&c.status)
	c.Cmd.Flag("security-level", "Security level (class1, class2, class3).").Default(string(model.SecurityLevelClass1)).StringVar(&c.securityLevel)
	c.Cmd.Flag("preview", "Task preview text.").StringVar(&c.preview)

	return c
}

func (c TaskCreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskCreateCommand) input(ctx context.Context) (model.TaskInput, error) {
	if c.file == "" {
		in := model.TaskInput{
			Name:          c.name,
			Status:        model.TaskStatus(c.status),
			SecurityLevel: model.SecurityLevel(c.securityLevel),
		}
		if c.preview != "" {
			in.Preview = &c.preview
		}
		return in, nil
	}

	path, err := filepath.Abs(c.file)
	if err != nil {
		return model.TaskInput{}, fmt.Errorf("invalid file path: %w", err)
	}
	loader := storageio.NewYAMLRepository(os.DirFS(filepath.Dir(path)))
	return loader.GetTaskInput(ctx, filepath.Base(path))
}

func (c TaskCreateCommand) Run(ctx context.Context) error {
	in, err := c.input(ctx)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireIdentity(); err != nil {
		return err
	}

	syncer, err := a.newSyncer(false)
	if err != nil {
		return err
	}

	task, err := syncer.CreateTask(ctx, in)
	if err != nil {
		return fmt.Errorf("could not create task: %w", err)
	}

	return c.rootCmd.Printer().PrintTask(*task)
}

type TaskCommandCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID        string
	command       string
	securityLevel string
	wait          bool
}

// NewTaskCommandCommand returns the task command command.
func NewTaskCommandCommand(rootCmd *RootCommand, taskCmd *kingpin.CmdClause) *TaskCommandCommand {
	c := &TaskCommandCommand{rootCmd: rootCmd}

	c.Cmd = taskCmd.Command("command", "Submit a command on a task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Arg("command", "Free text command.").Required().StringVar(&c.command)
	c.Cmd.Flag("security-level", "Command security level (class1, class2, class3).").Default(string(model.SecurityLevelClass1)).StringVar(&c.securityLevel)
	c.Cmd.Flag("wait", "Wait until the command step is completed, use --no-wait to leave it running.").Default("true").BoolVar(&c.wait)

	return c
}

func (c TaskCommandCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskCommandCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireIdentity(); err != nil {
		return err
	}

	syncer, err := a.newSyncer(false)
	if err != nil {
		return err
	}

	res, err := syncer.SubmitCommand(ctx, model.CommandInput{
		TaskID:        c.taskID,
		Command:       c.command,
		SecurityLevel: model.SecurityLevel(c.securityLevel),
	})
	if err != nil {
		return fmt.Errorf("could not submit command: %w", err)
	}

	// The deferred completion runs in this process, exiting early would lose it.
	if c.wait && res.Completed != nil {
		select {
		case <-res.Completed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.rootCmd.Printer().PrintCommandResult(*res)
}

type TaskWatchCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewTaskWatchCommand returns the task watch command.
func NewTaskWatchCommand(rootCmd *RootCommand, taskCmd *kingpin.CmdClause) *TaskWatchCommand {
	c := &TaskWatchCommand{rootCmd: rootCmd}
	c.Cmd = taskCmd.Command("watch", "Print the task list every time it changes.")
	return c
}

func (c TaskWatchCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskWatchCommand) Run(ctx context.Context) error {
	a, err := newApp(ctx, *c.rootCmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireIdentity(); err != nil {
		return err
	}

	syncer, err := a.newSyncer(true)
	if err != nil {
		return err
	}

	updates := make(chan tasksync.View, 1)
	unsubscribe := syncer.OnChange(func(ev tasksync.Event) {
		if ev.Kind != tasksync.EventUpdated || ev.Key != syncer.CurrentKey() {
			return
		}
		// Only the latest view matters.
		select {
		case <-updates:
		default:
		}
		updates <- ev.View
	})
	defer unsubscribe()

	var g run.Group

	// Syncer.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error { return syncer.Run(ctx) },
			func(_ error) { cancel() },
		)
	}

	// Backend change feed.
	if a.backend.listen != nil {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error { return a.backend.listen(ctx) },
			func(_ error) { cancel() },
		)
	}

	// Printer.
	{
		ctx, cancel := context.WithCancel(ctx)
		p := c.rootCmd.Printer()
		g.Add(
			func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case v := <-updates:
						if v.Err != nil {
							a.logger.Errorf("Could not refresh tasks: %s", v.Err)
							continue
						}
						if err := p.PrintTasks(v.Tasks); err != nil {
							return err
						}
					}
				}
			},
			func(_ error) { cancel() },
		)
	}

	return g.Run()
}
