package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/conscience"
	"github.com/nidhogg/nuka-mind/internal/dma"
	"github.com/nidhogg/nuka-mind/internal/handler"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

const (
	DefaultCycleRetryLimit = 2
	DefaultMaxThoughtDepth = 7
)

// Reasons recorded on forced deferrals.
const (
	ReasonMaxDepth = "maximum thought depth reached"
)

// ExemptCheckName labels the alignment record of an action that skipped the conscience.
const ExemptCheckName = "exempt"

// exemptActions end or hand off the task; the conscience never overrides them.
var exemptActions = map[thought.ActionType]bool{
	thought.ActionTaskComplete: true,
	thought.ActionDefer:        true,
	thought.ActionReject:       true,
}

// Store is the persistence the processor drives.
type Store interface {
	ClaimNextThought(ctx context.Context) (*thought.Thought, error)
	GetTask(ctx context.Context, taskID string) (*thought.Task, error)
	GetThought(ctx context.Context, thoughtID string) (*thought.Thought, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status thought.TaskStatus) error
	UpdateThoughtStatus(ctx context.Context, thoughtID string, status thought.Status, result *thought.ActionSelectionResult) error
	RequeueThought(ctx context.Context, thoughtID string, cycleAttempts int) error
}

// Evaluator runs the DMA set for a thought.
type Evaluator interface {
	Run(ctx context.Context, th *thought.Thought) (*dma.Results, error)
}

// Guard runs the conscience checks on a selected action.
type Guard interface {
	Evaluate(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dctx map[string]any) (*thought.AlignmentCheck, error)
}

// Config bounds the processing loop.
type Config struct {
	// CycleRetryLimit is the total number of cycles a thought gets before a
	// transient evaluation failure escalates to deferral.
	CycleRetryLimit int
	// MaxThoughtDepth stops continuation chains that never finish.
	MaxThoughtDepth int
}

func (c Config) withDefaults() Config {
	if c.CycleRetryLimit < 1 {
		c.CycleRetryLimit = DefaultCycleRetryLimit
	}
	if c.MaxThoughtDepth < 1 {
		c.MaxThoughtDepth = DefaultMaxThoughtDepth
	}
	return c
}

// Outcome reports what one ProcessNext call did.
type Outcome struct {
	Processed      bool           `json:"processed"`
	ThoughtID      string         `json:"thought_id,omitempty"`
	TerminalStatus thought.Status `json:"terminal_status,omitempty"`
}

// Processor drives claimed thoughts through evaluation, conscience and dispatch.
type Processor struct {
	store      Store
	evaluator  Evaluator
	guard      Guard
	dispatcher *handler.Dispatcher
	cfg        Config
	logger     *zap.Logger
}

func New(store Store, evaluator Evaluator, guard Guard, dispatcher *handler.Dispatcher, cfg Config, logger *zap.Logger) *Processor {
	return &Processor{
		store:      store,
		evaluator:  evaluator,
		guard:      guard,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// ProcessNext claims and fully processes at most one thought. When nothing is
// claimable it returns Outcome{Processed: false} and a nil error.
//
// A returned error is either a *thought.FollowUpCreationError or a persistence
// failure; the thought's status at that point is in TerminalStatus.
func (p *Processor) ProcessNext(ctx context.Context) (Outcome, error) {
	th, err := p.store.ClaimNextThought(ctx)
	if errors.Is(err, thought.ErrNoClaimableThought) {
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("claim next thought: %w", err)
	}

	// Once claimed, the cycle runs to a persisted state even through shutdown.
	wctx := context.WithoutCancel(ctx)
	log := p.logger.With(zap.String("thought_id", th.ID), zap.String("task_id", th.SourceTaskID))
	log.Debug("thought claimed", zap.Int("depth", th.Depth), zap.Int("priority", th.Priority))

	task, err := p.store.GetTask(wctx, th.SourceTaskID)
	if err != nil {
		log.Warn("load task failed", zap.Error(err))
	} else if task.Status == thought.TaskPending {
		if err := p.store.UpdateTaskStatus(wctx, task.ID, thought.TaskActive); err != nil {
			log.Warn("activate task failed", zap.Error(err))
		} else {
			task.Status = thought.TaskActive
		}
	}

	c := &cycle{p: p, th: th, task: task, log: log}
	err = c.run(ctx, wctx)

	out := Outcome{Processed: true, ThoughtID: th.ID, TerminalStatus: c.status}
	if c.status == "" {
		out.TerminalStatus = p.currentStatus(wctx, th.ID)
	}
	if err != nil {
		log.Error("processing cycle failed", zap.String("status", string(out.TerminalStatus)), zap.Error(err))
		return out, err
	}
	log.Info("thought processed", zap.String("status", string(out.TerminalStatus)))
	return out, nil
}

func (p *Processor) currentStatus(ctx context.Context, id string) thought.Status {
	th, err := p.store.GetThought(ctx, id)
	if err != nil {
		p.logger.Warn("read thought status failed", zap.String("thought_id", id), zap.Error(err))
		return thought.StatusProcessing
	}
	return th.Status
}

// cycle is one pass of one thought through the pipeline.
type cycle struct {
	p      *Processor
	th     *thought.Thought
	task   *thought.Task
	log    *zap.Logger
	status thought.Status
}

func (c *cycle) run(ctx, wctx context.Context) error {
	p := c.p

	if c.th.Depth >= p.cfg.MaxThoughtDepth {
		c.log.Warn("thought depth limit reached", zap.Int("depth", c.th.Depth), zap.Int("max", p.cfg.MaxThoughtDepth))
		if err := c.escalateFinal(wctx, ReasonMaxDepth); err != nil {
			return err
		}
		if err := p.store.UpdateTaskStatus(wctx, c.th.SourceTaskID, thought.TaskFailed); err != nil {
			return fmt.Errorf("fail task %s: %w", c.th.SourceTaskID, err)
		}
		return nil
	}

	results, err := p.evaluator.Run(ctx, c.th)
	if err != nil {
		return c.evaluationFailed(ctx, wctx, err)
	}
	sel := results.Selection
	c.log.Debug("action selected", zap.String("stage", "dma"), zap.String("action", string(sel.SelectedAction)))

	if exemptActions[sel.SelectedAction] {
		sel.AlignmentCheck = &thought.AlignmentCheck{Passed: true, Results: []thought.CheckRecord{{
			Name:   ExemptCheckName,
			Passed: true,
			Reason: string(sel.SelectedAction) + " is exempt from conscience checks",
		}}}
		return c.dispatch(wctx, sel)
	}

	ac, err := p.guard.Evaluate(wctx, sel, c.th, dispatchContextMap(c.task, results))
	sel.AlignmentCheck = ac
	if err != nil || ac == nil || !ac.Passed {
		reasons := conscience.FailureReasons(ac)
		if err != nil && len(reasons) == 0 {
			reasons = []string{err.Error()}
		}
		c.log.Info("conscience blocked action",
			zap.String("stage", "conscience"),
			zap.String("action", string(sel.SelectedAction)),
			zap.Strings("reasons", reasons))
		return c.escalate(wctx, "conscience checks failed: "+strings.Join(reasons, "; "), "high", sel, ac)
	}

	return c.dispatch(wctx, sel)
}

func (c *cycle) dispatch(ctx context.Context, sel *thought.ActionSelectionResult) error {
	dc := &handler.DispatchContext{Task: c.task}
	if err := c.p.dispatcher.Dispatch(ctx, sel, c.th, dc); err != nil {
		if errors.Is(err, handler.ErrNoHandler) {
			return c.escalate(ctx, err.Error(), "medium", sel, sel.AlignmentCheck)
		}
		return err
	}
	return nil
}

// evaluationFailed requeues transient failures until the cycle budget runs
// out, then escalates. Everything else escalates at once. A cancelled ctx
// always requeues without spending an attempt.
func (c *cycle) evaluationFailed(ctx, wctx context.Context, err error) error {
	p := c.p
	c.log.Warn("evaluation failed", zap.String("stage", "dma"), zap.Int("attempt", c.th.CycleAttempts+1), zap.Error(err))

	if ctx.Err() != nil {
		// Shutdown, not the evaluator's fault: hand the thought back untouched.
		return c.requeue(wctx, c.th.CycleAttempts)
	}
	if thought.IsTransient(err) {
		if c.th.CycleAttempts+1 < p.cfg.CycleRetryLimit {
			return c.requeue(wctx, c.th.CycleAttempts+1)
		}
		reason := fmt.Sprintf("evaluation failed after %d cycles: %v", c.th.CycleAttempts+1, err)
		return c.escalate(wctx, reason, "medium", nil, nil)
	}
	return c.escalate(wctx, "evaluation failed: "+err.Error(), "medium", nil, nil)
}

func (c *cycle) requeue(ctx context.Context, attempts int) error {
	if err := c.p.store.RequeueThought(ctx, c.th.ID, attempts); err != nil {
		return fmt.Errorf("requeue thought %s: %w", c.th.ID, err)
	}
	c.status = thought.StatusPending
	c.log.Info("thought requeued", zap.Int("cycle_attempts", attempts))
	return nil
}

// escalate routes the thought to the DEFER handler with a synthesized action.
// proposed is the action that was blocked, if any.
func (c *cycle) escalate(ctx context.Context, reason, risk string, proposed *thought.ActionSelectionResult, ac *thought.AlignmentCheck) error {
	return c.deferWith(ctx, reason, ac, &handler.DispatchContext{Task: c.task, Risk: risk, Proposed: proposed})
}

// escalateFinal defers a thought whose task ends with it. The follow-up is
// recorded but never becomes claimable.
func (c *cycle) escalateFinal(ctx context.Context, reason string) error {
	return c.deferWith(ctx, reason, nil, &handler.DispatchContext{Task: c.task, Risk: "medium", Final: true})
}

func (c *cycle) deferWith(ctx context.Context, reason string, ac *thought.AlignmentCheck, dc *handler.DispatchContext) error {
	res := &thought.ActionSelectionResult{
		SelectedAction: thought.ActionDefer,
		Parameters:     thought.DeferParams{Reason: reason},
		Rationale:      reason,
		AlignmentCheck: ac,
	}

	h := c.p.dispatcher.Defer()
	if h == nil {
		c.log.Warn("no defer handler registered; deferring without escalation")
		if err := c.p.store.UpdateThoughtStatus(ctx, c.th.ID, thought.StatusDeferred, res); err != nil {
			return fmt.Errorf("defer thought %s: %w", c.th.ID, err)
		}
		c.status = thought.StatusDeferred
		return nil
	}
	return h.Handle(ctx, res, c.th, dc)
}

func dispatchContextMap(task *thought.Task, r *dma.Results) map[string]any {
	m := map[string]any{}
	if task != nil {
		m["task_id"] = task.ID
		m["task_description"] = task.Description
	}
	if r.Principled != nil {
		m[dma.NamePrincipled] = r.Principled
	}
	if r.CommonSense != nil {
		m[dma.NameCommonSense] = r.CommonSense
	}
	if r.Domain != nil {
		m[dma.NameDomain] = r.Domain
	}
	return m
}
