package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/slok/taskdash/internal/model"
)

// ListTasks returns the user tasks newest first, with their steps in insertion order.
func (r *Repository) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			t.id, t.name, t.status, t.timestamp, t.preview, t.security_level, t.user_id,
			s.id, s.name, s.action_type, s.status, s.log
		FROM tasks t
		LEFT JOIN steps s ON s.task_id = t.id
		WHERE t.user_id = $1
		ORDER BY t.timestamp DESC, t.id DESC, s.seq ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	index := map[string]int{}
	for rows.Next() {
		var t model.Task
		var stepID, stepName, stepActionType, stepStatus, stepLog *string

		err := rows.Scan(
			&t.ID, &t.Name, &t.Status, &t.Timestamp, &t.Preview, &t.SecurityLevel, &t.UserID,
			&stepID, &stepName, &stepActionType, &stepStatus, &stepLog,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}

		i, ok := index[t.ID]
		if !ok {
			t.Timestamp = t.Timestamp.UTC()
			t.Steps = []model.Step{}
			tasks = append(tasks, t)
			i = len(tasks) - 1
			index[t.ID] = i
		}

		if stepID == nil {
			continue
		}

		tasks[i].Steps = append(tasks[i].Steps, model.Step{
			ID:         *stepID,
			TaskID:     t.ID,
			Name:       *stepName,
			ActionType: *stepActionType,
			Status:     model.StepStatus(*stepStatus),
			Log:        stepLog,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tasks, nil
}

// CreateTask stores a task without its steps.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) (*model.Task, error) {
	if t.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrNotValid)
	}
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (id, name, status, timestamp, preview, security_level, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Name, t.Status, t.Timestamp, t.Preview, t.SecurityLevel, t.UserID)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return nil, fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
		case codeForeignKeyViolation:
			return nil, fmt.Errorf("user %s: %w", t.UserID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not insert task: %w", err)
	}

	t.Steps = []model.Step{}
	r.logger.Debugf("Created task in repository: %s", t.ID)
	return &t, nil
}

// CreateSteps stores the steps in a single transaction. Every step must belong to a task
// owned by the user.
func (r *Repository) CreateSteps(ctx context.Context, userID string, steps []model.Step) ([]model.Step, error) {
	if len(steps) == 0 {
		return []model.Step{}, nil
	}

	created := make([]model.Step, 0, len(steps))
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		owned := map[string]bool{}
		for _, s := range steps {
			if owned[s.TaskID] {
				continue
			}
			var ok bool
			err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1 AND user_id = $2)`, s.TaskID, userID).Scan(&ok)
			if err != nil {
				return fmt.Errorf("could not check task ownership: %w", err)
			}
			if !ok {
				return fmt.Errorf("task %s is not owned by user %s: %w", s.TaskID, userID, model.ErrForbidden)
			}
			owned[s.TaskID] = true
		}

		batch := &pgx.Batch{}
		for _, s := range steps {
			if s.ID == "" {
				s.ID = ulid.Make().String()
			}
			batch.Queue(`
				INSERT INTO steps (id, task_id, name, action_type, status, log)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, s.ID, s.TaskID, s.Name, s.ActionType, s.Status, s.Log)
			created = append(created, s)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if pgCode(err) == codeUniqueViolation {
				return fmt.Errorf("step: %w", model.ErrAlreadyExists)
			}
			return fmt.Errorf("could not insert steps: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debugf("Created %d steps in repository", len(created))
	return created, nil
}

// UpdateStep updates the status and log of a step owned by the user.
func (r *Repository) UpdateStep(ctx context.Context, userID, stepID string, status model.StepStatus, stepLog *string) (*model.Step, error) {
	var s model.Step
	err := r.pool.QueryRow(ctx, `
		UPDATE steps
		SET status = $1, log = $2
		WHERE id = $3 AND task_id IN (SELECT id FROM tasks WHERE user_id = $4)
		RETURNING id, task_id, name, action_type, status, log
	`, status, stepLog, stepID, userID).Scan(&s.ID, &s.TaskID, &s.Name, &s.ActionType, &s.Status, &s.Log)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("step %s: %w", stepID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not update step: %w", err)
	}

	r.logger.Debugf("Updated step in repository: %s (%s)", stepID, status)
	return &s, nil
}

// TaskBelongsTo returns true if the task exists and is owned by the user.
func (r *Repository) TaskBelongsTo(ctx context.Context, taskID, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1 AND user_id = $2)`, taskID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("could not query task ownership: %w", err)
	}
	return ok, nil
}
