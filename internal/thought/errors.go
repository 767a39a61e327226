package thought

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrClaimConflict      = errors.New("thought already claimed")
	ErrNoClaimableThought = errors.New("no claimable thought")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyResolved    = errors.New("deferral already resolved")
)

// DMAExecutionFailed is returned when an evaluator fails after all attempts.
type DMAExecutionFailed struct {
	DMAName  string
	Attempts int
	Err      error
}

func (e *DMAExecutionFailed) Error() string {
	return fmt.Sprintf("dma %s failed after %d attempt(s): %v", e.DMAName, e.Attempts, e.Err)
}

func (e *DMAExecutionFailed) Unwrap() error { return e.Err }

// ContextBuildingFailed is returned when the DMA input cannot be assembled.
type ContextBuildingFailed struct {
	ThoughtID string
	Err       error
}

func (e *ContextBuildingFailed) Error() string {
	return fmt.Sprintf("build context for thought %s: %v", e.ThoughtID, e.Err)
}

func (e *ContextBuildingFailed) Unwrap() error { return e.Err }

// ConscienceCheckFailed is returned when a conscience check itself errors.
type ConscienceCheckFailed struct {
	ConscienceName string
	Err            error
}

func (e *ConscienceCheckFailed) Error() string {
	return fmt.Sprintf("conscience %s errored: %v", e.ConscienceName, e.Err)
}

func (e *ConscienceCheckFailed) Unwrap() error { return e.Err }

// ActionSelectionRetryFailed is returned when the action-selection DMA exhausts its attempts.
type ActionSelectionRetryFailed struct {
	ThoughtID string
	Err       error
}

func (e *ActionSelectionRetryFailed) Error() string {
	return fmt.Sprintf("action selection for thought %s failed: %v", e.ThoughtID, e.Err)
}

func (e *ActionSelectionRetryFailed) Unwrap() error { return e.Err }

// FollowUpCreationError means the terminal status was committed but the follow-up
// thought could not be stored. The continuation chain of the task is broken.
type FollowUpCreationError struct {
	ThoughtID string
	TaskID    string
	Action    ActionType
	Err       error
}

func (e *FollowUpCreationError) Error() string {
	return fmt.Sprintf("create follow-up for thought %s (task %s, action %s): %v",
		e.ThoughtID, e.TaskID, e.Action, e.Err)
}

func (e *FollowUpCreationError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on a later cycle.
func IsTransient(err error) bool {
	var dmaErr *DMAExecutionFailed
	var ctxErr *ContextBuildingFailed
	var selErr *ActionSelectionRetryFailed
	if errors.As(err, &selErr) {
		return false
	}
	return errors.As(err, &dmaErr) || errors.As(err, &ctxErr)
}
