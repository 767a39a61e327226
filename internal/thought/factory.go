package thought

import (
	"time"

	"github.com/google/uuid"
)

// NewTask builds a pending task with a fresh id.
func NewTask(description string, priority int, ctx map[string]any) *Task {
	now := time.Now().UTC()
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Status:      TaskPending,
		Priority:    priority,
		Context:     ctx,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewSeedThought builds the first thought of a task.
func NewSeedThought(task *Task, content string) *Thought {
	now := time.Now().UTC()
	return &Thought{
		ID:                uuid.New().String(),
		SourceTaskID:      task.ID,
		Status:            StatusPending,
		Priority:          task.Priority,
		Content:           content,
		ProcessingContext: map[string]any{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewFollowUp builds a pending thought continuing parent's reasoning tree.
// It inherits the task, advances round and depth, and bumps priority by offset.
func NewFollowUp(parent *Thought, content string, priorityOffset int, pctx map[string]any) *Thought {
	now := time.Now().UTC()
	if pctx == nil {
		pctx = map[string]any{}
	}
	return &Thought{
		ID:                uuid.New().String(),
		SourceTaskID:      parent.SourceTaskID,
		ParentThoughtID:   parent.ID,
		Status:            StatusPending,
		Priority:          parent.Priority + priorityOffset,
		RoundCreated:      parent.RoundCreated + 1,
		Depth:             parent.Depth + 1,
		Content:           content,
		ProcessingContext: pctx,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
