package thought

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Status represents the lifecycle state of a thought.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeferred   Status = "deferred"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeferred
}

// Task is a unit of external work.
type Task struct {
	ID          string         `json:"task_id"`
	Description string         `json:"description"`
	Status      TaskStatus     `json:"status"`
	Priority    int            `json:"priority"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ChannelID returns the originating channel recorded in the task context, if any.
func (t *Task) ChannelID() string {
	if t == nil || t.Context == nil {
		return ""
	}
	if v, ok := t.Context[ContextChannelID].(string); ok {
		return v
	}
	return ""
}

// Context keys shared between intake, handlers and the processor.
const (
	ContextChannelID = "channel_id"
	ContextAuthorID  = "author_id"
	ContextPlatform  = "platform"
)

// Thought is one reasoning step belonging to a task.
type Thought struct {
	ID                string                 `json:"thought_id"`
	SourceTaskID      string                 `json:"source_task_id"`
	ParentThoughtID   string                 `json:"parent_thought_id,omitempty"`
	Status            Status                 `json:"status"`
	Priority          int                    `json:"priority"`
	RoundCreated      int                    `json:"round_created"`
	Depth             int                    `json:"depth"`
	CycleAttempts     int                    `json:"cycle_attempts"`
	Content           string                 `json:"content"`
	ProcessingContext map[string]any         `json:"processing_context,omitempty"`
	FinalAction       *ActionSelectionResult `json:"final_action_result,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// validTransitions defines the allowed thought state transitions.
// PROCESSING -> PENDING is the transient-failure requeue path.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusPending, StatusCompleted, StatusFailed, StatusDeferred},
}

// Transition returns nil if from -> to is a legal thought transition.
func Transition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: no transitions from %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
}

// WAResponse is a Wise Authority's decision on a deferred action.
type WAResponse struct {
	WAID      string    `json:"wa_id"`
	ActionID  string    `json:"action_id"`
	Approved  bool      `json:"approved"`
	Timestamp time.Time `json:"timestamp"`
}

// DeferralPackage is the escalation payload stored for a deferred thought.
type DeferralPackage struct {
	DeferUntil *time.Time     `json:"defer_until"`
	Reason     string         `json:"reason"`
	Context    map[string]any `json:"context,omitempty"`
}

// DeferralReport is what a correlation id resolves back to.
type DeferralReport struct {
	MessageID string           `json:"message_id"`
	TaskID    string           `json:"task_id"`
	ThoughtID string           `json:"thought_id"`
	Package   *DeferralPackage `json:"package"`
	// ResolvedBy is the Wise Authority that answered; empty while open.
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
