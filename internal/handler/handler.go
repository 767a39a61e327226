package handler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

// ErrNoHandler is returned when no handler is registered for an action kind.
var ErrNoHandler = errors.New("no handler for action")

// Sink delivers text to a channel.
type Sink interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

// ToolService executes external tools.
type ToolService interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)
	AvailableTools() []string
}

// MemoryService backs MEMORIZE, RECALL and FORGET.
type MemoryService interface {
	Memorize(ctx context.Context, n *memory.Node) error
	Recall(ctx context.Context, q memory.Query) ([]*memory.Node, error)
	Forget(ctx context.Context, scope, nodeID string) error
}

// Store is the persistence a handler may write through.
type Store interface {
	UpdateThoughtStatus(ctx context.Context, thoughtID string, status thought.Status, result *thought.ActionSelectionResult) error
	AddThought(ctx context.Context, th *thought.Thought) error
	UpdateTaskStatus(ctx context.Context, taskID string, status thought.TaskStatus) error
	SaveDeferralReportMapping(ctx context.Context, messageID, taskID, thoughtID string, pkg *thought.DeferralPackage) error
}

// Deps are the collaborators shared by all handlers. Sink, Tools and Memory may be nil.
type Deps struct {
	Store          Store
	Sink           Sink
	Tools          ToolService
	Memory         MemoryService
	PriorityOffset int
	Logger         *zap.Logger
}

// DispatchContext carries what a handler needs beyond the thought itself.
type DispatchContext struct {
	Task      *thought.Task
	ChannelID string
	Risk      string
	// Proposed is the action that was vetoed when the engine forces a deferral.
	Proposed *thought.ActionSelectionResult
	// Final marks the last thought of its task. The follow-up is stored
	// FAILED so nothing continues the chain.
	Final bool
}

// Handler performs one action kind. It commits the thought's terminal status
// and creates its follow-up; a *thought.FollowUpCreationError is fatal.
type Handler interface {
	Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dc *DispatchContext) error
}

// Dispatcher maps action kinds to handlers. It is assembled once at startup.
type Dispatcher struct {
	handlers map[thought.ActionType]Handler
}

// NewDispatcher creates a Dispatcher over an explicit handler map.
func NewDispatcher(handlers map[thought.ActionType]Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Dispatch routes res to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dc *DispatchContext) error {
	h, ok := d.handlers[res.SelectedAction]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, res.SelectedAction)
	}
	return h.Handle(ctx, res, th, dc)
}

// Has reports whether a handler is registered for a.
func (d *Dispatcher) Has(a thought.ActionType) bool {
	_, ok := d.handlers[a]
	return ok
}

// Defer returns the registered DEFER handler, or nil.
func (d *Dispatcher) Defer() Handler {
	return d.handlers[thought.ActionDefer]
}

// NewDefaultDispatcher registers a handler for every action kind.
func NewDefaultDispatcher(deps *Deps, deferCfg DeferConfig) *Dispatcher {
	return NewDispatcher(map[thought.ActionType]Handler{
		thought.ActionSpeak:        &SpeakHandler{base{deps, thought.ActionSpeak}},
		thought.ActionTool:         &ToolHandler{base{deps, thought.ActionTool}},
		thought.ActionObserve:      &ObserveHandler{base{deps, thought.ActionObserve}},
		thought.ActionMemorize:     &MemorizeHandler{base{deps, thought.ActionMemorize}},
		thought.ActionRecall:       &RecallHandler{base{deps, thought.ActionRecall}},
		thought.ActionForget:       &ForgetHandler{base{deps, thought.ActionForget}},
		thought.ActionDefer:        NewDeferHandler(deps, deferCfg),
		thought.ActionReject:       &RejectHandler{base{deps, thought.ActionReject}},
		thought.ActionPonder:       &PonderHandler{base{deps, thought.ActionPonder}},
		thought.ActionTaskComplete: &TaskCompleteHandler{base{deps, thought.ActionTaskComplete}},
	})
}

// base holds the commit and follow-up steps every handler shares.
type base struct {
	deps   *Deps
	action thought.ActionType
}

func (b *base) log() *zap.Logger { return b.deps.Logger }

// mismatch logs a parameter variant that does not match the handler.
func (b *base) mismatch(res *thought.ActionSelectionResult, th *thought.Thought) string {
	msg := fmt.Sprintf("parameters for %s had type %T", b.action, res.Parameters)
	b.log().Warn("action parameter mismatch",
		zap.String("thought_id", th.ID),
		zap.String("action", string(b.action)),
		zap.String("params_type", fmt.Sprintf("%T", res.Parameters)))
	return msg
}

// send delivers text best-effort; the error is logged and returned for the follow-up record.
func (b *base) send(ctx context.Context, th *thought.Thought, channelID, text string) error {
	if b.deps.Sink == nil {
		return errors.New("no communication sink configured")
	}
	if err := b.deps.Sink.SendMessage(ctx, channelID, text); err != nil {
		b.log().Warn("send message failed",
			zap.String("thought_id", th.ID),
			zap.String("action", string(b.action)),
			zap.String("channel_id", channelID),
			zap.Error(err))
		return err
	}
	return nil
}

// finish commits the terminal status and then creates the follow-up thought.
// Both always run for a dispatched action, whatever happened to the side effect.
func (b *base) finish(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought,
	status thought.Status, content string, pctx map[string]any, sideErr error) error {
	return b.finishAs(ctx, res, th, status, content, pctx, sideErr, thought.StatusPending)
}

// finishAs is finish with an explicit status for the follow-up thought.
func (b *base) finishAs(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought,
	status thought.Status, content string, pctx map[string]any, sideErr error, followStatus thought.Status) error {
	if err := b.commit(ctx, res, th, status); err != nil {
		return err
	}
	if pctx == nil {
		pctx = map[string]any{}
	}
	pctx["action_performed"] = string(b.action)
	pctx["parent_status"] = string(status)
	if sideErr != nil {
		pctx["error"] = sideErr.Error()
	}
	return b.followUp(ctx, th, content, pctx, followStatus)
}

func (b *base) commit(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, status thought.Status) error {
	if err := b.deps.Store.UpdateThoughtStatus(ctx, th.ID, status, res); err != nil {
		b.log().Error("commit thought status failed",
			zap.String("thought_id", th.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("commit %s for thought %s: %w", status, th.ID, err)
	}
	return nil
}

func (b *base) followUp(ctx context.Context, th *thought.Thought, content string, pctx map[string]any, status thought.Status) error {
	fu := thought.NewFollowUp(th, content, b.deps.PriorityOffset, pctx)
	fu.Status = status
	if err := b.deps.Store.AddThought(ctx, fu); err != nil {
		ferr := &thought.FollowUpCreationError{
			ThoughtID: th.ID,
			TaskID:    th.SourceTaskID,
			Action:    b.action,
			Err:       err,
		}
		b.log().Error("follow-up thought creation failed",
			zap.String("severity", "critical"),
			zap.String("thought_id", th.ID),
			zap.String("task_id", th.SourceTaskID),
			zap.String("action", string(b.action)),
			zap.Error(err),
			zap.Stack("stack"))
		return ferr
	}
	b.log().Debug("follow-up created",
		zap.String("thought_id", th.ID),
		zap.String("follow_up_id", fu.ID))
	return nil
}

// channelFor picks an explicit channel over the task's origin channel.
func channelFor(explicit string, dc *DispatchContext) string {
	if explicit != "" {
		return explicit
	}
	if dc == nil {
		return ""
	}
	if dc.ChannelID != "" {
		return dc.ChannelID
	}
	return dc.Task.ChannelID()
}
