package thought

import (
	"context"
	"time"
)

// Persistence is the durable task/thought store. It is the only shared mutable
// resource of the engine; every read-then-write race is settled by conditional
// updates on the expected prior status.
type Persistence interface {
	// AddTask inserts a task. Returns ErrDuplicateKey on id collision.
	AddTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error

	// AddThought inserts a thought. Returns ErrDuplicateKey on id collision.
	AddThought(ctx context.Context, th *Thought) error
	GetThought(ctx context.Context, thoughtID string) (*Thought, error)
	// ChildThoughts returns the follow-ups whose parent is thoughtID.
	ChildThoughts(ctx context.Context, thoughtID string) ([]*Thought, error)

	// ClaimThought moves one specific thought PENDING -> PROCESSING.
	// Returns ErrClaimConflict when the thought is no longer pending.
	ClaimThought(ctx context.Context, thoughtID string) (*Thought, error)
	// ClaimNextThought claims the best pending thought ordered by
	// (priority desc, round_created asc). Returns ErrNoClaimableThought when none.
	ClaimNextThought(ctx context.Context) (*Thought, error)
	// RequeueThought moves a thought PROCESSING -> PENDING and records the cycle attempt count.
	RequeueThought(ctx context.Context, thoughtID string, cycleAttempts int) error
	// UpdateThoughtStatus commits a status, idempotent on the same (thoughtID, status) pair.
	UpdateThoughtStatus(ctx context.Context, thoughtID string, status Status, result *ActionSelectionResult) error
	// RecoverStale returns thoughts stuck in PROCESSING since before cutoff to
	// PENDING and reports how many moved. Their cycle attempt count is kept.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)

	SaveDeferralReportMapping(ctx context.Context, messageID, taskID, thoughtID string, pkg *DeferralPackage) error
	// GetDeferralReportContext returns ErrNotFound for an unknown message id.
	GetDeferralReportContext(ctx context.Context, messageID string) (*DeferralReport, error)
	// ResolveDeferral records the answer to a deferral. Only the first call for
	// a message id succeeds; later ones return ErrAlreadyResolved.
	ResolveDeferral(ctx context.Context, messageID, waID, resolution string, at time.Time) error
}
