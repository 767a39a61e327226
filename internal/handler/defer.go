package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/deferral"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

// GuidanceKey is the processing-context key holding prior Wise Authority guidance.
const GuidanceKey = "wa_guidance"

// DeferConfig controls where escalations go.
type DeferConfig struct {
	// Channel receives escalation messages; empty means persist only.
	Channel string
	Tone    deferral.Tone
	Now     func() time.Time
}

// DeferHandler escalates a thought to a Wise Authority. The thought ends DEFERRED.
type DeferHandler struct {
	base
	cfg DeferConfig
}

func NewDeferHandler(deps *Deps, cfg DeferConfig) *DeferHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DeferHandler{base: base{deps, thought.ActionDefer}, cfg: cfg}
}

func (h *DeferHandler) Handle(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dc *DispatchContext) error {
	p, ok := res.Parameters.(thought.DeferParams)
	if !ok {
		p = thought.DeferParams{Reason: h.mismatch(res, th)}
	}
	if p.Reason == "" {
		p.Reason = "guidance requested"
	}
	risk := "medium"
	if dc != nil && dc.Risk != "" {
		risk = dc.Risk
	}

	echo, _ := th.ProcessingContext[GuidanceKey].(string)
	text := deferral.Render(deferral.Request{
		Action:         describeAction(th, dc),
		Risk:           risk,
		ContextSummary: p.Reason,
		Echo:           echo,
		Tone:           h.cfg.Tone,
	}, h.cfg.Now())

	messageID := uuid.New().String()
	pkg := &thought.DeferralPackage{
		DeferUntil: p.DeferUntil,
		Reason:     p.Reason,
		Context: map[string]any{
			"task_id":    th.SourceTaskID,
			"thought_id": th.ID,
			"risk":       risk,
			"message":    text,
		},
	}
	if origin := channelFor("", dc); origin != "" {
		pkg.Context["origin_channel_id"] = origin
	}

	// The mapping must exist before anyone can reply to the message.
	var sideErr error
	if err := h.deps.Store.SaveDeferralReportMapping(ctx, messageID, th.SourceTaskID, th.ID, pkg); err != nil {
		h.log().Error("save deferral mapping failed",
			zap.String("thought_id", th.ID),
			zap.String("message_id", messageID),
			zap.Error(err))
		sideErr = err
	} else if h.cfg.Channel != "" {
		if err := h.send(ctx, th, h.cfg.Channel, text+"\nReference: "+messageID); err != nil {
			sideErr = err
		}
	}

	h.log().Info("thought deferred",
		zap.String("thought_id", th.ID),
		zap.String("message_id", messageID),
		zap.String("reason", p.Reason))

	pctx := map[string]any{"reason": p.Reason, "deferral_message_id": messageID}
	followStatus := thought.StatusPending
	if dc != nil && dc.Final {
		followStatus = thought.StatusFailed
		pctx["chain_closed"] = true
	}
	return h.finishAs(ctx, res, th, thought.StatusDeferred,
		fmt.Sprintf("Deferred to a Wise Authority (reference %s): %s. Await guidance before acting on this.", messageID, p.Reason),
		pctx, sideErr, followStatus)
}

// describeAction names the vetoed action when there is one, else the thought itself.
func describeAction(th *thought.Thought, dc *DispatchContext) string {
	if dc != nil && dc.Proposed != nil {
		params, _ := json.Marshal(dc.Proposed.Parameters)
		return fmt.Sprintf("%s %s", dc.Proposed.SelectedAction, params)
	}
	return th.Content
}
