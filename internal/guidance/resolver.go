package guidance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/deferral"
	"github.com/nidhogg/nuka-mind/internal/handler"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

// DefaultPriorityBump lifts guidance above the task's ordinary follow-ups.
const DefaultPriorityBump = 5

var (
	ErrUnknownDecision = errors.New("unknown guidance decision")
	ErrAlreadyResolved = thought.ErrAlreadyResolved
	ErrMissingReviewer = errors.New("guidance reply has no wa_id")
)

// Store is the persistence guidance resolution needs.
type Store interface {
	GetDeferralReportContext(ctx context.Context, messageID string) (*thought.DeferralReport, error)
	ResolveDeferral(ctx context.Context, messageID, waID, resolution string, at time.Time) error
	GetThought(ctx context.Context, thoughtID string) (*thought.Thought, error)
	AddThought(ctx context.Context, th *thought.Thought) error
	UpdateTaskStatus(ctx context.Context, taskID string, status thought.TaskStatus) error
}

// Tracker is the Wise Authority response history.
type Tracker interface {
	DetectDrift(ctx context.Context, waID string, candidate thought.WAResponse) (bool, error)
	RecordResponse(ctx context.Context, r thought.WAResponse) error
}

// Notifier is told when the resolved task has work again.
type Notifier interface {
	Notify(ctx context.Context, taskID string) error
}

// Reply is a Wise Authority's answer to one deferral.
type Reply struct {
	MessageID string `json:"message_id"`
	WAID      string `json:"wa_id"`
	Decision  string `json:"decision"`
	Comment   string `json:"comment,omitempty"`
}

// Resolution reports what resolving a deferral produced.
type Resolution struct {
	TaskID            string `json:"task_id"`
	DeferredThoughtID string `json:"deferred_thought_id"`
	GuidanceThoughtID string `json:"guidance_thought_id"`
	Decision          string `json:"decision"`
	Approved          bool   `json:"approved"`
	Drift             bool   `json:"drift"`
}

// Resolver turns Wise Authority replies into guidance thoughts.
type Resolver struct {
	store    Store
	tracker  Tracker
	notifier Notifier
	bump     int
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Resolver)

func WithNotifier(n Notifier) Option { return func(r *Resolver) { r.notifier = n } }

func WithPriorityBump(n int) Option { return func(r *Resolver) { r.bump = n } }

func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

func NewResolver(store Store, tracker Tracker, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{store: store, tracker: tracker, bump: DefaultPriorityBump, now: time.Now, logger: logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve matches rep to its deferral, audits it against the reviewer's
// history, and queues a guidance thought on the deferred task.
func (r *Resolver) Resolve(ctx context.Context, rep Reply) (*Resolution, error) {
	decision, ok := deferral.ParseDecision(rep.Decision)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, rep.Decision)
	}
	if rep.WAID == "" {
		return nil, ErrMissingReviewer
	}

	report, err := r.store.GetDeferralReportContext(ctx, rep.MessageID)
	if err != nil {
		return nil, fmt.Errorf("resolve deferral %s: %w", rep.MessageID, err)
	}
	if report.ResolvedBy != "" {
		return nil, fmt.Errorf("%w: %s by %s", ErrAlreadyResolved, rep.MessageID, report.ResolvedBy)
	}
	deferred, err := r.store.GetThought(ctx, report.ThoughtID)
	if err != nil {
		return nil, fmt.Errorf("load deferred thought %s: %w", report.ThoughtID, err)
	}

	// Claim the deferral before any side effect; a concurrent reply loses here.
	now := r.now().UTC()
	if err := r.store.ResolveDeferral(ctx, rep.MessageID, rep.WAID, decision, now); err != nil {
		return nil, err
	}

	resp := thought.WAResponse{
		WAID:      rep.WAID,
		ActionID:  rep.MessageID,
		Approved:  decision == deferral.DecisionApprove,
		Timestamp: now,
	}
	drift, err := r.tracker.DetectDrift(ctx, rep.WAID, resp)
	if err != nil {
		// Drift is advisory; a broken history never blocks guidance.
		r.logger.Warn("drift detection failed", zap.String("wa_id", rep.WAID), zap.Error(err))
	}
	if err := r.tracker.RecordResponse(ctx, resp); err != nil {
		r.logger.Warn("record wa response failed", zap.String("wa_id", rep.WAID), zap.Error(err))
	}

	g := guidanceThought(deferred, report, rep, decision, r.bump)
	if err := r.store.AddThought(ctx, g); err != nil {
		r.logger.Error("guidance thought lost after resolution",
			zap.String("message_id", rep.MessageID),
			zap.String("task_id", report.TaskID),
			zap.Error(err))
		return nil, fmt.Errorf("add guidance thought: %w", err)
	}
	if err := r.store.UpdateTaskStatus(ctx, report.TaskID, thought.TaskActive); err != nil {
		return nil, fmt.Errorf("reactivate task %s: %w", report.TaskID, err)
	}
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, report.TaskID); err != nil {
			r.logger.Warn("wake workers failed", zap.String("task_id", report.TaskID), zap.Error(err))
		}
	}

	r.logger.Info("deferral resolved",
		zap.String("message_id", rep.MessageID),
		zap.String("task_id", report.TaskID),
		zap.String("thought_id", report.ThoughtID),
		zap.String("wa_id", rep.WAID),
		zap.String("decision", decision),
		zap.Bool("drift", drift))

	return &Resolution{
		TaskID:            report.TaskID,
		DeferredThoughtID: report.ThoughtID,
		GuidanceThoughtID: g.ID,
		Decision:          decision,
		Approved:          resp.Approved,
		Drift:             drift,
	}, nil
}

// guidanceThought restarts the reasoning chain under the deferred thought.
// Depth resets: fresh human input is not a runaway continuation.
func guidanceThought(deferred *thought.Thought, report *thought.DeferralReport, rep Reply, decision string, bump int) *thought.Thought {
	echo := decision
	if rep.Comment != "" {
		echo = decision + ": " + rep.Comment
	}
	reason := ""
	if report.Package != nil {
		reason = report.Package.Reason
	}
	content := fmt.Sprintf("Wise Authority %s answered %q to the deferral (%s).", rep.WAID, decision, reason)
	if rep.Comment != "" {
		content += " Comment: " + rep.Comment
	}

	g := thought.NewFollowUp(deferred, content, bump, map[string]any{
		handler.GuidanceKey:   echo,
		"wa_id":               rep.WAID,
		"decision":            decision,
		"deferral_message_id": rep.MessageID,
		"deferred_content":    deferred.Content,
	})
	g.Depth = 0
	return g
}
