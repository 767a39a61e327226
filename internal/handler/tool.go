package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// ToolHandler invokes an external tool by name.
type ToolHandler struct{ base }

func (h *ToolHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, _ *DispatchContext) error {
	p, ok := res.Parameters.(thought.ToolParams)
	if !ok {
		msg := h.mismatch(res, th)
		return h.finish(ctx, res, th, thought.StatusFailed,
			"Tool call failed: "+msg+".", nil, errors.New(msg))
	}

	pctx := map[string]any{"tool_name": p.Name}
	out, err := h.execute(ctx, p)
	if err != nil {
		h.log().Warn("tool execution failed",
			zap.String("thought_id", th.ID),
			zap.String("tool", p.Name),
			zap.Error(err))
		return h.finish(ctx, res, th, thought.StatusFailed,
			fmt.Sprintf("Tool %q failed: %v. Consider another approach.", p.Name, err), pctx, err)
	}
	pctx["tool_result"] = out
	return h.finish(ctx, res, th, thought.StatusCompleted,
		fmt.Sprintf("Tool %q returned: %s", p.Name, out), pctx, nil)
}

func (h *ToolHandler) execute(ctx context.Context, p thought.ToolParams) (string, error) {
	if h.deps.Tools == nil {
		return "", errors.New("no tool service configured")
	}
	if p.Name == "" {
		return "", errors.New("tool name is empty")
	}
	if !slices.Contains(h.deps.Tools.AvailableTools(), p.Name) {
		return "", fmt.Errorf("unknown tool: %s", p.Name)
	}
	return h.deps.Tools.ExecuteTool(ctx, p.Name, p.Arguments)
}
