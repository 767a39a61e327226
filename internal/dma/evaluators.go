package dma

import (
	"context"
	"fmt"
	"maps"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// Algorithm names used in logs and errors.
const (
	NamePrincipled      = "principled"
	NameCommonSense     = "common_sense"
	NameDomain          = "domain"
	NameActionSelection = "action_selection"
)

// Result is the output of one evaluator for one thought.
type Result struct {
	Algorithm  string         `json:"algorithm"`
	Payload    map[string]any `json:"payload,omitempty"`
	Confidence float64        `json:"confidence"`
	Rationale  string         `json:"rationale,omitempty"`
}

// Input is the assembled processing context handed to every evaluator.
type Input struct {
	Task    *thought.Task    `json:"task"`
	Thought *thought.Thought `json:"thought"`
	Parent  *thought.Thought `json:"parent,omitempty"`
	Context map[string]any   `json:"context,omitempty"`
}

// Aggregate is what the action-selection evaluator decides on.
type Aggregate struct {
	Input       *Input  `json:"input"`
	Principled  *Result `json:"principled,omitempty"`
	CommonSense *Result `json:"common_sense,omitempty"`
	Domain      *Result `json:"domain,omitempty"`
}

// Results is the per-cycle aggregate returned by the Orchestrator.
type Results struct {
	Principled  *Result
	CommonSense *Result
	Domain      *Result
	Selection   *thought.ActionSelectionResult
}

type PrincipledEvaluator interface {
	Evaluate(ctx context.Context, in *Input) (*Result, error)
}

type CommonSenseEvaluator interface {
	EvaluateThought(ctx context.Context, in *Input) (*Result, error)
}

type DomainEvaluator interface {
	EvaluateThought(ctx context.Context, in *Input) (*Result, error)
}

type ActionSelector interface {
	Evaluate(ctx context.Context, agg *Aggregate) (*thought.ActionSelectionResult, error)
}

// ContextBuilder assembles the evaluator input for a claimed thought.
type ContextBuilder interface {
	Build(ctx context.Context, th *thought.Thought) (*Input, error)
}

// ThoughtReader is the read side of persistence needed to build context.
type ThoughtReader interface {
	GetTask(ctx context.Context, taskID string) (*thought.Task, error)
	GetThought(ctx context.Context, thoughtID string) (*thought.Thought, error)
}

// StoreContextBuilder builds Input from persisted task and parent thought.
type StoreContextBuilder struct {
	store ThoughtReader
}

func NewStoreContextBuilder(store ThoughtReader) *StoreContextBuilder {
	return &StoreContextBuilder{store: store}
}

// Build merges the task context with the thought's processing context;
// thought keys win on conflict.
func (b *StoreContextBuilder) Build(ctx context.Context, th *thought.Thought) (*Input, error) {
	task, err := b.store.GetTask(ctx, th.SourceTaskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	in := &Input{Task: task, Thought: th, Context: map[string]any{}}
	if th.ParentThoughtID != "" {
		parent, err := b.store.GetThought(ctx, th.ParentThoughtID)
		if err != nil {
			return nil, fmt.Errorf("load parent thought: %w", err)
		}
		in.Parent = parent
	}
	maps.Copy(in.Context, task.Context)
	maps.Copy(in.Context, th.ProcessingContext)
	return in, nil
}
