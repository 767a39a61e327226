package resonance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

const (
	// Window is how many recent responses form a reviewer's pattern.
	Window = 5
	// MinHistory is the history size below which drift is never reported.
	MinHistory = 3
	// MajorityApprovals is the approval count that makes the window majority-approve.
	MajorityApprovals = 3
)

// Log is the append-only per-reviewer response history.
type Log interface {
	Append(ctx context.Context, r thought.WAResponse) error
	// Recent returns up to n most recent responses for waID, oldest first.
	Recent(ctx context.Context, waID string, n int) ([]thought.WAResponse, error)
}

// Tracker owns Wise Authority response history and flags behavioral drift.
// Drift is advisory and never changes the action path.
type Tracker struct {
	log    Log
	logger *zap.Logger
}

// NewTracker creates a Tracker over log.
func NewTracker(log Log, logger *zap.Logger) *Tracker {
	return &Tracker{log: log, logger: logger}
}

// RecordResponse appends r to the reviewer's history.
func (t *Tracker) RecordResponse(ctx context.Context, r thought.WAResponse) error {
	if r.WAID == "" {
		return fmt.Errorf("record wa response: empty wa_id")
	}
	if err := t.log.Append(ctx, r); err != nil {
		return fmt.Errorf("record wa response: %w", err)
	}
	return nil
}

// DetectDrift reports whether candidate contradicts the reviewer's recent majority.
func (t *Tracker) DetectDrift(ctx context.Context, waID string, candidate thought.WAResponse) (bool, error) {
	history, err := t.log.Recent(ctx, waID, Window)
	if err != nil {
		return false, fmt.Errorf("load wa history: %w", err)
	}
	drift := Drift(history, candidate)
	if drift {
		t.logger.Warn("wise authority drift detected",
			zap.String("wa_id", waID),
			zap.String("action_id", candidate.ActionID),
			zap.Bool("approved", candidate.Approved),
			zap.Int("history", len(history)))
	}
	return drift, nil
}

// Drift applies the sliding-window majority rule to history (oldest first).
func Drift(history []thought.WAResponse, candidate thought.WAResponse) bool {
	if len(history) < MinHistory {
		return false
	}
	if len(history) > Window {
		history = history[len(history)-Window:]
	}
	approvals := 0
	for _, r := range history {
		if r.Approved {
			approvals++
		}
	}
	majorityApprove := approvals >= MajorityApprovals
	return majorityApprove != candidate.Approved
}
