package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

var errNoMemory = errors.New("no memory service configured")

// MemorizeHandler stores a node in graph memory.
type MemorizeHandler struct{ base }

func (h *MemorizeHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, _ *DispatchContext) error {
	p, ok := res.Parameters.(thought.MemorizeParams)
	if !ok {
		msg := h.mismatch(res, th)
		return h.finish(ctx, res, th, thought.StatusFailed, "Memorize failed: "+msg+".", nil, errors.New(msg))
	}

	err := errNoMemory
	if h.deps.Memory != nil {
		err = h.deps.Memory.Memorize(ctx, &memory.Node{
			ID:         p.NodeID,
			Scope:      memory.ScopeOrDefault(p.Scope),
			Content:    p.Content,
			Attributes: p.Attributes,
			TaskID:     th.SourceTaskID,
		})
	}
	pctx := map[string]any{"node_id": p.NodeID, "scope": memory.ScopeOrDefault(p.Scope)}
	if err != nil {
		return h.finish(ctx, res, th, thought.StatusFailed,
			fmt.Sprintf("Failed to memorize %q: %v.", p.NodeID, err), pctx, err)
	}
	return h.finish(ctx, res, th, thought.StatusCompleted,
		fmt.Sprintf("Memorized %q in %s scope.", p.NodeID, memory.ScopeOrDefault(p.Scope)), pctx, nil)
}

// RecallHandler queries graph memory and hands the findings to the follow-up.
type RecallHandler struct{ base }

func (h *RecallHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, _ *DispatchContext) error {
	p, ok := res.Parameters.(thought.RecallParams)
	if !ok {
		msg := h.mismatch(res, th)
		return h.finish(ctx, res, th, thought.StatusFailed, "Recall failed: "+msg+".", nil, errors.New(msg))
	}

	var (
		nodes []*memory.Node
		err   = errNoMemory
	)
	if h.deps.Memory != nil {
		nodes, err = h.deps.Memory.Recall(ctx, memory.Query{
			Scope:  memory.ScopeOrDefault(p.Scope),
			NodeID: p.NodeID,
			Text:   p.Query,
			Limit:  p.Limit,
		})
	}
	pctx := map[string]any{"query": p.Query, "node_id": p.NodeID}
	if err != nil {
		return h.finish(ctx, res, th, thought.StatusFailed,
			fmt.Sprintf("Recall failed: %v.", err), pctx, err)
	}

	if len(nodes) == 0 {
		return h.finish(ctx, res, th, thought.StatusCompleted, "Recall found nothing relevant.", pctx, nil)
	}
	var b strings.Builder
	b.WriteString("Recalled:\n")
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(&b, "- %s: %s\n", n.ID, n.Content)
		ids = append(ids, n.ID)
	}
	pctx["recalled"] = ids
	return h.finish(ctx, res, th, thought.StatusCompleted, b.String(), pctx, nil)
}

// ForgetHandler removes a node from graph memory.
type ForgetHandler struct{ base }

func (h *ForgetHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, _ *DispatchContext) error {
	p, ok := res.Parameters.(thought.ForgetParams)
	if !ok {
		msg := h.mismatch(res, th)
		return h.finish(ctx, res, th, thought.StatusFailed, "Forget failed: "+msg+".", nil, errors.New(msg))
	}

	err := errNoMemory
	if h.deps.Memory != nil {
		err = h.deps.Memory.Forget(ctx, memory.ScopeOrDefault(p.Scope), p.NodeID)
	}
	pctx := map[string]any{"node_id": p.NodeID, "reason": p.Reason}
	if err != nil {
		return h.finish(ctx, res, th, thought.StatusFailed,
			fmt.Sprintf("Failed to forget %q: %v.", p.NodeID, err), pctx, err)
	}
	return h.finish(ctx, res, th, thought.StatusCompleted,
		fmt.Sprintf("Forgot %q: %s", p.NodeID, p.Reason), pctx, nil)
}
