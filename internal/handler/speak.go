package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// SpeakHandler sends a message to a channel.
type SpeakHandler struct{ base }

func (h *SpeakHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dc *DispatchContext) error {
	p, ok := res.Parameters.(thought.SpeakParams)
	if !ok {
		msg := h.mismatch(res, th)
		return h.finish(ctx, res, th, thought.StatusFailed,
			"Speaking failed: "+msg+". Decide how to respond instead.", nil, errors.New(msg))
	}

	channel := channelFor(p.ChannelID, dc)
	var err error
	if channel == "" {
		err = errors.New("no channel to speak to")
	} else {
		err = h.send(ctx, th, channel, p.Content)
	}

	pctx := map[string]any{"channel_id": channel, "content": p.Content}
	if err != nil {
		return h.finish(ctx, res, th, thought.StatusFailed,
			fmt.Sprintf("Failed to deliver message to %q: %v. Consider another approach.", channel, err), pctx, err)
	}
	return h.finish(ctx, res, th, thought.StatusCompleted,
		fmt.Sprintf("Spoke to %s: %q. Wait for a reply or mark the task complete.", channel, p.Content), pctx, nil)
}
