package conscience

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// Verdict is the outcome of one check.
type Verdict struct {
	Passed  bool
	Reason  string
	Metrics map[string]float64
}

// Check is one policy check applied to a tentative action.
type Check interface {
	Name() string
	Check(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dctx map[string]any) (Verdict, error)
}

// Registry is an ordered, fail-closed list of checks, built once at startup.
type Registry struct {
	checks []Check
	logger *zap.Logger
}

// NewRegistry creates a registry running checks in the given order.
func NewRegistry(logger *zap.Logger, checks ...Check) *Registry {
	return &Registry{checks: checks, logger: logger}
}

// Names returns the check names in evaluation order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		names[i] = c.Name()
	}
	return names
}

// Evaluate runs every check. The evaluation passes only if all checks pass.
// A check that errors or panics counts as a failure and is reported in the
// returned error as a *thought.ConscienceCheckFailed.
func (r *Registry) Evaluate(ctx context.Context, res *thought.ActionSelectionResult, th *thought.Thought, dctx map[string]any) (*thought.AlignmentCheck, error) {
	out := &thought.AlignmentCheck{Passed: true}
	var errs []error

	for _, c := range r.checks {
		v, err := runCheck(ctx, c, res, th, dctx)
		rec := thought.CheckRecord{Name: c.Name(), Passed: err == nil && v.Passed, Reason: v.Reason, Metrics: v.Metrics}
		if err != nil {
			cerr := &thought.ConscienceCheckFailed{ConscienceName: c.Name(), Err: err}
			rec.Error = err.Error()
			if rec.Reason == "" {
				rec.Reason = cerr.Error()
			}
			errs = append(errs, cerr)
			r.logger.Error("conscience check errored",
				zap.String("conscience", c.Name()),
				zap.String("thought_id", th.ID),
				zap.Error(err))
		} else if !v.Passed {
			r.logger.Info("conscience check failed",
				zap.String("conscience", c.Name()),
				zap.String("thought_id", th.ID),
				zap.String("action", string(res.SelectedAction)),
				zap.String("reason", v.Reason))
		}
		if !rec.Passed {
			out.Passed = false
		}
		out.Results = append(out.Results, rec)
	}
	return out, errors.Join(errs...)
}

func runCheck(ctx context.Context, c Check, res *thought.ActionSelectionResult, th *thought.Thought, dctx map[string]any) (v Verdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return c.Check(ctx, res, th, dctx)
}

// FailureReasons joins the reasons of the failed checks.
func FailureReasons(ac *thought.AlignmentCheck) []string {
	if ac == nil {
		return nil
	}
	var out []string
	for _, r := range ac.Results {
		if !r.Passed {
			out = append(out, fmt.Sprintf("%s: %s", r.Name, r.Reason))
		}
	}
	return out
}
