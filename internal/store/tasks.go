package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// AddTask inserts a task row.
func (s *Store) AddTask(ctx context.Context, task *thought.Task) error {
	ctxJSON, err := json.Marshal(task.Context)
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO tasks (task_id, description, status, priority, context, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.Description, string(task.Status), task.Priority, ctxJSON,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add task %s: %w", task.ID, mapErr(err))
	}
	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*thought.Task, error) {
	var (
		t       thought.Task
		status  string
		ctxJSON []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT task_id, description, status, priority, context, created_at, updated_at
		 FROM tasks WHERE task_id = $1`, taskID).
		Scan(&t.ID, &t.Description, &status, &t.Priority, &ctxJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, mapErr(err))
	}
	t.Status = thought.TaskStatus(status)
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &t.Context); err != nil {
			return nil, fmt.Errorf("decode task context: %w", err)
		}
	}
	return &t, nil
}

// UpdateTaskStatus sets a task's status.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status thought.TaskStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE task_id = $1`,
		taskID, string(status))
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", taskID, thought.ErrNotFound)
	}
	return nil
}
