package thought

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ActionType is the kind of action selected for a thought.
type ActionType string

const (
	ActionSpeak        ActionType = "speak"
	ActionTool         ActionType = "tool"
	ActionObserve      ActionType = "observe"
	ActionMemorize     ActionType = "memorize"
	ActionRecall       ActionType = "recall"
	ActionForget       ActionType = "forget"
	ActionDefer        ActionType = "defer"
	ActionReject       ActionType = "reject"
	ActionPonder       ActionType = "ponder"
	ActionTaskComplete ActionType = "task_complete"
)

// Actions lists every known action kind.
var Actions = []ActionType{
	ActionSpeak, ActionTool, ActionObserve, ActionMemorize, ActionRecall,
	ActionForget, ActionDefer, ActionReject, ActionPonder, ActionTaskComplete,
}

// Params is the closed set of action parameter variants.
type Params interface {
	Action() ActionType
	isParams()
}

type SpeakParams struct {
	ChannelID string `json:"channel_id,omitempty"`
	Content   string `json:"content"`
}

type ToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ObserveParams struct {
	ChannelID string `json:"channel_id,omitempty"`
	Active    bool   `json:"active"`
}

type MemorizeParams struct {
	NodeID     string         `json:"node_id"`
	Scope      string         `json:"scope,omitempty"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type RecallParams struct {
	Query  string `json:"query,omitempty"`
	NodeID string `json:"node_id,omitempty"`
	Scope  string `json:"scope,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ForgetParams struct {
	NodeID string `json:"node_id"`
	Scope  string `json:"scope,omitempty"`
	Reason string `json:"reason"`
}

type DeferParams struct {
	Reason     string     `json:"reason"`
	DeferUntil *time.Time `json:"defer_until,omitempty"`
}

type RejectParams struct {
	Reason string `json:"reason"`
}

type PonderParams struct {
	Questions []string `json:"questions"`
}

type TaskCompleteParams struct {
	Summary string `json:"summary,omitempty"`
}

func (SpeakParams) Action() ActionType        { return ActionSpeak }
func (ToolParams) Action() ActionType         { return ActionTool }
func (ObserveParams) Action() ActionType      { return ActionObserve }
func (MemorizeParams) Action() ActionType     { return ActionMemorize }
func (RecallParams) Action() ActionType       { return ActionRecall }
func (ForgetParams) Action() ActionType       { return ActionForget }
func (DeferParams) Action() ActionType        { return ActionDefer }
func (RejectParams) Action() ActionType       { return ActionReject }
func (PonderParams) Action() ActionType       { return ActionPonder }
func (TaskCompleteParams) Action() ActionType { return ActionTaskComplete }

func (SpeakParams) isParams()        {}
func (ToolParams) isParams()         {}
func (ObserveParams) isParams()      {}
func (MemorizeParams) isParams()     {}
func (RecallParams) isParams()       {}
func (ForgetParams) isParams()       {}
func (DeferParams) isParams()        {}
func (RejectParams) isParams()       {}
func (PonderParams) isParams()       {}
func (TaskCompleteParams) isParams() {}

// newParams returns a zero variant for the action kind.
func newParams(a ActionType) (Params, error) {
	switch a {
	case ActionSpeak:
		return &SpeakParams{}, nil
	case ActionTool:
		return &ToolParams{}, nil
	case ActionObserve:
		return &ObserveParams{}, nil
	case ActionMemorize:
		return &MemorizeParams{}, nil
	case ActionRecall:
		return &RecallParams{}, nil
	case ActionForget:
		return &ForgetParams{}, nil
	case ActionDefer:
		return &DeferParams{}, nil
	case ActionReject:
		return &RejectParams{}, nil
	case ActionPonder:
		return &PonderParams{}, nil
	case ActionTaskComplete:
		return &TaskCompleteParams{}, nil
	}
	return nil, fmt.Errorf("unknown action: %q", a)
}

// deref turns the pointer produced by newParams back into a value variant.
func deref(p Params) Params {
	switch v := p.(type) {
	case *SpeakParams:
		return *v
	case *ToolParams:
		return *v
	case *ObserveParams:
		return *v
	case *MemorizeParams:
		return *v
	case *RecallParams:
		return *v
	case *ForgetParams:
		return *v
	case *DeferParams:
		return *v
	case *RejectParams:
		return *v
	case *PonderParams:
		return *v
	case *TaskCompleteParams:
		return *v
	}
	return p
}

// ActionSelectionResult is the engine's chosen action for one thought.
type ActionSelectionResult struct {
	SelectedAction ActionType      `json:"selected_action"`
	Parameters     Params          `json:"action_parameters"`
	Rationale      string          `json:"rationale,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	AlignmentCheck *AlignmentCheck `json:"alignment_check,omitempty"`
}

// AlignmentCheck records the conscience evaluation of a selected action.
type AlignmentCheck struct {
	Passed  bool          `json:"passed"`
	Results []CheckRecord `json:"results,omitempty"`
}

// CheckRecord is the outcome of a single conscience check.
type CheckRecord struct {
	Name    string             `json:"name"`
	Passed  bool               `json:"passed"`
	Reason  string             `json:"reason,omitempty"`
	Error   string             `json:"error,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

type rawSelection struct {
	SelectedAction ActionType      `json:"selected_action"`
	Parameters     json.RawMessage `json:"action_parameters"`
	Rationale      string          `json:"rationale,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	AlignmentCheck *AlignmentCheck `json:"alignment_check,omitempty"`
}

// UnmarshalJSON decodes action_parameters into the variant named by selected_action.
func (r *ActionSelectionResult) UnmarshalJSON(data []byte) error {
	var raw rawSelection
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := newParams(raw.SelectedAction)
	if err != nil {
		return err
	}
	if len(raw.Parameters) > 0 && string(raw.Parameters) != "null" {
		if err := json.Unmarshal(raw.Parameters, p); err != nil {
			return fmt.Errorf("decode %s parameters: %w", raw.SelectedAction, err)
		}
	}
	*r = ActionSelectionResult{
		SelectedAction: raw.SelectedAction,
		Parameters:     deref(p),
		Rationale:      raw.Rationale,
		Confidence:     raw.Confidence,
		AlignmentCheck: raw.AlignmentCheck,
	}
	return nil
}

// Clone returns a copy of r that shares no maps or slices with it.
func (r *ActionSelectionResult) Clone() *ActionSelectionResult {
	if r == nil {
		return nil
	}
	cp := *r
	switch p := r.Parameters.(type) {
	case ToolParams:
		p.Arguments = maps.Clone(p.Arguments)
		cp.Parameters = p
	case MemorizeParams:
		p.Attributes = maps.Clone(p.Attributes)
		cp.Parameters = p
	case PonderParams:
		p.Questions = slices.Clone(p.Questions)
		cp.Parameters = p
	case DeferParams:
		if p.DeferUntil != nil {
			t := *p.DeferUntil
			p.DeferUntil = &t
		}
		cp.Parameters = p
	}
	if r.AlignmentCheck != nil {
		ac := *r.AlignmentCheck
		ac.Results = slices.Clone(ac.Results)
		for i := range ac.Results {
			ac.Results[i].Metrics = maps.Clone(ac.Results[i].Metrics)
		}
		cp.AlignmentCheck = &ac
	}
	return &cp
}
