package handler

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// RejectHandler declines the request, telling the origin channel when there is one.
// The thought always ends FAILED.
type RejectHandler struct{ base }

func (h *RejectHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dc *DispatchContext) error {
	reason := "no reason given"
	var paramErr error
	if p, ok := res.Parameters.(thought.RejectParams); ok {
		if p.Reason != "" {
			reason = p.Reason
		}
	} else {
		paramErr = fmt.Errorf("%s", h.mismatch(res, th))
	}

	pctx := map[string]any{"reason": reason}
	sideErr := paramErr
	if channel := channelFor("", dc); channel != "" {
		pctx["channel_id"] = channel
		if err := h.send(ctx, th, channel, "Unable to help with this request: "+reason); err != nil && sideErr == nil {
			sideErr = err
		}
	}
	return h.finish(ctx, res, th, thought.StatusFailed,
		fmt.Sprintf("Rejected the request: %s", reason), pctx, sideErr)
}
