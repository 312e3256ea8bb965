package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/taskdash/internal/model"
)

// ListTasks returns the user tasks newest first, with their steps in insertion order.
// Tasks and steps are fetched with a single query.
func (r *Repository) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	query := `
		SELECT
			t.id, t.name, t.status, t.timestamp, t.preview, t.security_level, t.user_id,
			s.id, s.name, s.action_type, s.status, s.log
		FROM tasks t
		LEFT JOIN steps s ON s.task_id = t.id
		WHERE t.user_id = ?
		ORDER BY t.timestamp DESC, t.id DESC, s.rowid ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	index := map[string]int{}
	for rows.Next() {
		var t model.Task
		var timestamp int64
		var preview sql.NullString
		var stepID, stepName, stepActionType, stepStatus, stepLog sql.NullString

		err := rows.Scan(
			&t.ID, &t.Name, &t.Status, &timestamp, &preview, &t.SecurityLevel, &t.UserID,
			&stepID, &stepName, &stepActionType, &stepStatus, &stepLog,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}

		i, ok := index[t.ID]
		if !ok {
			t.Timestamp = timeFromUnixMilli(timestamp)
			t.Preview = stringPtr(preview)
			t.Steps = []model.Step{}
			tasks = append(tasks, t)
			i = len(tasks) - 1
			index[t.ID] = i
		}

		// Tasks without steps have a single row with null step columns.
		if !stepID.Valid {
			continue
		}

		tasks[i].Steps = append(tasks[i].Steps, model.Step{
			ID:         stepID.String,
			TaskID:     t.ID,
			Name:       stepName.String,
			ActionType: stepActionType.String,
			Status:     model.StepStatus(stepStatus.String),
			Log:        stringPtr(stepLog),
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

	query := `
		INSERT INTO tasks (id, name, status, timestamp, preview, security_level, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Status, t.Timestamp.UnixMilli(), nullString(t.Preview), t.SecurityLevel, t.UserID,
	)
	if err != nil {
		switch {
		case isUniqueErr(err):
			return nil, fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
		case isForeignKeyErr(err):
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	owned := map[string]bool{}
	for _, s := range steps {
		if _, ok := owned[s.TaskID]; ok {
			continue
		}
		var count int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ? AND user_id = ?`, s.TaskID, userID).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("could not check task ownership: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("task %s is not owned by user %s: %w", s.TaskID, userID, model.ErrForbidden)
		}
		owned[s.TaskID] = true
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO steps (id, task_id, name, action_type, status, log)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement: %w", err)
	}
	defer stmt.Close()

	created := make([]model.Step, 0, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			s.ID = ulid.Make().String()
		}
		_, err := stmt.ExecContext(ctx, s.ID, s.TaskID, s.Name, s.ActionType, s.Status, nullString(s.Log))
		if err != nil {
			if isUniqueErr(err) {
				return nil, fmt.Errorf("step %s: %w", s.ID, model.ErrAlreadyExists)
			}
			return nil, fmt.Errorf("could not insert step: %w", err)
		}
		created = append(created, s)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Created %d steps in repository", len(created))
	return created, nil
}

// UpdateStep updates the status and log of a step owned by the user.
func (r *Repository) UpdateStep(ctx context.Context, userID, stepID string, status model.StepStatus, stepLog *string) (*model.Step, error) {
	query := `
		UPDATE steps
		SET status = ?, log = ?
		WHERE id = ? AND task_id IN (SELECT id FROM tasks WHERE user_id = ?)
	`
	result, err := r.db.ExecContext(ctx, query, status, nullString(stepLog), stepID, userID)
	if err != nil {
		return nil, fmt.Errorf("could not update step: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("step %s: %w", stepID, model.ErrNotFound)
	}

	step, err := r.scanStep(r.db.QueryRowContext(ctx, `SELECT id, task_id, name, action_type, status, log FROM steps WHERE id = ?`, stepID))
	if err != nil {
		return nil, fmt.Errorf("could not query updated step: %w", err)
	}

	r.logger.Debugf("Updated step in repository: %s (%s)", stepID, status)
	return step, nil
}

// TaskBelongsTo returns true if the task exists and is owned by the user.
func (r *Repository) TaskBelongsTo(ctx context.Context, taskID, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("could not query task ownership: %w", err)
	}
	return count > 0, nil
}

func (r *Repository) scanStep(s scanner) (*model.Step, error) {
	var step model.Step
	var stepLog sql.NullString
	if err := s.Scan(&step.ID, &step.TaskID, &step.Name, &step.ActionType, &step.Status, &stepLog); err != nil {
		return nil, err
	}
	step.Log = stringPtr(stepLog)
	return &step, nil
}
