package conscience

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

const (
	DefaultEntropyThreshold      = 0.40
	DefaultCoherenceThreshold    = 0.60
	DefaultEntropyReductionRatio = 10.0
)

// Scoring faculties, supplied by the external evaluator.
type (
	EntropyScorer interface {
		Entropy(ctx context.Context, text string) (float64, error)
	}
	CoherenceScorer interface {
		Coherence(ctx context.Context, text string) (float64, error)
	}
	VetoAssessor interface {
		AssessVeto(ctx context.Context, summary string) (*VetoAssessment, error)
	}
	HumilityAssessor interface {
		AssessHumility(ctx context.Context, summary string) (*HumilityAssessment, error)
	}
)

// VetoAssessment is the optimization-veto faculty's judgment of an action.
type VetoAssessment struct {
	Decision              string   `json:"decision"` // proceed, abort, defer
	Justification         string   `json:"justification"`
	EntropyReductionRatio float64  `json:"entropy_reduction_ratio"`
	AffectedValues        []string `json:"affected_values,omitempty"`
}

// HumilityAssessment is the epistemic-humility faculty's judgment of an action.
type HumilityAssessment struct {
	Certainty         float64  `json:"epistemic_certainty"`
	Uncertainties     []string `json:"identified_uncertainties,omitempty"`
	RecommendedAction string   `json:"recommended_action"` // proceed, ponder, defer, abort
	Justification     string   `json:"reflective_justification,omitempty"`
}

// Summarize renders an action for the faculties.
func Summarize(res *thought.ActionSelectionResult) string {
	if sp, ok := res.Parameters.(thought.SpeakParams); ok {
		return sp.Content
	}
	params, _ := json.Marshal(res.Parameters)
	return fmt.Sprintf("action=%s params=%s rationale=%s", res.SelectedAction, params, res.Rationale)
}

// EntropyCheck fails SPEAK actions whose content is too chaotic.
type EntropyCheck struct {
	Scorer    EntropyScorer
	Threshold float64
}

func (EntropyCheck) Name() string { return "entropy" }

func (c EntropyCheck) Check(ctx context.Context, res *thought.ActionSelectionResult, _ *thought.Thought, _ map[string]any) (Verdict, error) {
	if res.SelectedAction != thought.ActionSpeak {
		return Verdict{Passed: true, Reason: "not a speak action"}, nil
	}
	score, err := c.Scorer.Entropy(ctx, Summarize(res))
	if err != nil {
		return Verdict{}, err
	}
	th := c.Threshold
	if th == 0 {
		th = DefaultEntropyThreshold
	}
	v := Verdict{Passed: score <= th, Metrics: map[string]float64{"entropy": score}}
	if !v.Passed {
		v.Reason = fmt.Sprintf("entropy %.2f exceeds %.2f", score, th)
	}
	return v, nil
}

// CoherenceCheck fails SPEAK actions that are not coherent enough.
type CoherenceCheck struct {
	Scorer    CoherenceScorer
	Threshold float64
}

func (CoherenceCheck) Name() string { return "coherence" }

func (c CoherenceCheck) Check(ctx context.Context, res *thought.ActionSelectionResult, _ *thought.Thought, _ map[string]any) (Verdict, error) {
	if res.SelectedAction != thought.ActionSpeak {
		return Verdict{Passed: true, Reason: "not a speak action"}, nil
	}
	score, err := c.Scorer.Coherence(ctx, Summarize(res))
	if err != nil {
		return Verdict{}, err
	}
	th := c.Threshold
	if th == 0 {
		th = DefaultCoherenceThreshold
	}
	v := Verdict{Passed: score >= th, Metrics: map[string]float64{"coherence": score}}
	if !v.Passed {
		v.Reason = fmt.Sprintf("coherence %.2f below %.2f", score, th)
	}
	return v, nil
}

// OptimizationVetoCheck rejects actions that over-optimize at the cost of
// the values they affect.
type OptimizationVetoCheck struct {
	Assessor VetoAssessor
	MaxRatio float64
}

func (OptimizationVetoCheck) Name() string { return "optimization_veto" }

func (c OptimizationVetoCheck) Check(ctx context.Context, res *thought.ActionSelectionResult, _ *thought.Thought, _ map[string]any) (Verdict, error) {
	a, err := c.Assessor.AssessVeto(ctx, Summarize(res))
	if err != nil {
		return Verdict{}, err
	}
	if a == nil {
		return Verdict{}, fmt.Errorf("empty veto assessment")
	}
	limit := c.MaxRatio
	if limit == 0 {
		limit = DefaultEntropyReductionRatio
	}
	decision := strings.ToLower(a.Decision)
	v := Verdict{
		Passed:  decision != "abort" && decision != "defer" && a.EntropyReductionRatio < limit,
		Metrics: map[string]float64{"entropy_reduction_ratio": a.EntropyReductionRatio},
	}
	if !v.Passed {
		v.Reason = fmt.Sprintf("veto decision %q, ratio %.2f: %s", a.Decision, a.EntropyReductionRatio, a.Justification)
	}
	return v, nil
}

// EpistemicHumilityCheck rejects actions the faculty says need more reflection.
type EpistemicHumilityCheck struct {
	Assessor HumilityAssessor
}

func (EpistemicHumilityCheck) Name() string { return "epistemic_humility" }

var humbleActions = []string{"abort", "defer", "ponder"}

func (c EpistemicHumilityCheck) Check(ctx context.Context, res *thought.ActionSelectionResult, _ *thought.Thought, _ map[string]any) (Verdict, error) {
	a, err := c.Assessor.AssessHumility(ctx, Summarize(res))
	if err != nil {
		return Verdict{}, err
	}
	if a == nil {
		return Verdict{}, fmt.Errorf("empty humility assessment")
	}
	rec := strings.ToLower(a.RecommendedAction)
	v := Verdict{
		Passed:  !slices.Contains(humbleActions, rec),
		Metrics: map[string]float64{"epistemic_certainty": a.Certainty},
	}
	if !v.Passed {
		v.Reason = fmt.Sprintf("recommends %s: %s", rec, strings.Join(a.Uncertainties, "; "))
	}
	return v, nil
}
