package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// ObserveHandler records that the engine is watching a channel.
type ObserveHandler struct{ base }

func (h *ObserveHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dc *DispatchContext) error {
	p, ok := res.Parameters.(thought.ObserveParams)
	if !ok {
		msg := h.mismatch(res, th)
		return h.finish(ctx, res, th, thought.StatusFailed, "Observe failed: "+msg+".", nil, errors.New(msg))
	}
	channel := channelFor(p.ChannelID, dc)
	mode := "passively"
	if p.Active {
		mode = "actively"
	}
	return h.finish(ctx, res, th, thought.StatusCompleted,
		fmt.Sprintf("Observing %s %s. Act when new input arrives.", channel, mode),
		map[string]any{"channel_id": channel, "active": p.Active}, nil)
}

// PonderHandler completes the thought and carries its questions into the follow-up.
type PonderHandler struct{ base }

func (h *PonderHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, _ *DispatchContext) error {
	p, ok := res.Parameters.(thought.PonderParams)
	if !ok {
		msg := h.mismatch(res, th)
		return h.finish(ctx, res, th, thought.StatusFailed, "Ponder failed: "+msg+".", nil, errors.New(msg))
	}
	count, _ := th.ProcessingContext["ponder_count"].(float64)
	if n, ok := th.ProcessingContext["ponder_count"].(int); ok {
		count = float64(n)
	}
	content := "Reconsider the task."
	if len(p.Questions) > 0 {
		content = "Reconsider the task with these questions:\n- " + strings.Join(p.Questions, "\n- ")
	}
	return h.finish(ctx, res, th, thought.StatusCompleted, content, map[string]any{
		"ponder_questions": p.Questions,
		"ponder_count":     int(count) + 1,
	}, nil)
}

// TaskCompleteHandler closes the thought and its task. It is the one leaf of
// a reasoning tree: no follow-up is created.
type TaskCompleteHandler struct{ base }

func (h *TaskCompleteHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, _ *DispatchContext) error {
	if _, ok := res.Parameters.(thought.TaskCompleteParams); !ok && res.Parameters != nil {
		h.mismatch(res, th)
	}
	if err := h.commit(ctx, res, th, thought.StatusCompleted); err != nil {
		return err
	}
	if err := h.deps.Store.UpdateTaskStatus(ctx, th.SourceTaskID, thought.TaskCompleted); err != nil {
		h.log().Error("complete task failed",
			zap.String("task_id", th.SourceTaskID),
			zap.String("thought_id", th.ID),
			zap.Error(err))
		return fmt.Errorf("complete task %s: %w", th.SourceTaskID, err)
	}
	h.log().Info("task completed",
		zap.String("task_id", th.SourceTaskID),
		zap.String("thought_id", th.ID))
	return nil
}
