package dma

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// Evaluators is the configured DMA set. Any of the first three may be nil;
// Selector is required.
type Evaluators struct {
	Principled  PrincipledEvaluator
	CommonSense CommonSenseEvaluator
	Domain      DomainEvaluator
	Selector    ActionSelector
}

// Orchestrator runs the DMA set for a thought. The initial DMAs run in
// parallel; action selection runs last on their aggregated results.
type Orchestrator struct {
	exec    *Executor
	builder ContextBuilder
	evals   Evaluators
	logger  *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(exec *Executor, builder ContextBuilder, evals Evaluators, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{exec: exec, builder: builder, evals: evals, logger: logger}
}

// Run evaluates th. Errors are *thought.ContextBuildingFailed,
// *thought.DMAExecutionFailed or *thought.ActionSelectionRetryFailed.
func (o *Orchestrator) Run(ctx context.Context, th *thought.Thought) (*Results, error) {
	start := time.Now()
	in, err := o.builder.Build(ctx, th)
	if err != nil {
		return nil, &thought.ContextBuildingFailed{ThoughtID: th.ID, Err: err}
	}

	res := &Results{}
	g, gctx := errgroup.WithContext(ctx)
	if o.evals.Principled != nil {
		g.Go(func() error {
			r, err := RunWithRetries(gctx, o.exec, NamePrincipled, func(c context.Context) (*Result, error) {
				return o.evals.Principled.Evaluate(c, in)
			})
			res.Principled = r
			return err
		})
	}
	if o.evals.CommonSense != nil {
		g.Go(func() error {
			r, err := RunWithRetries(gctx, o.exec, NameCommonSense, func(c context.Context) (*Result, error) {
				return o.evals.CommonSense.EvaluateThought(c, in)
			})
			res.CommonSense = r
			return err
		})
	}
	if o.evals.Domain != nil {
		g.Go(func() error {
			r, err := RunWithRetries(gctx, o.exec, NameDomain, func(c context.Context) (*Result, error) {
				return o.evals.Domain.EvaluateThought(c, in)
			})
			res.Domain = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("initial dmas failed",
			zap.String("thought_id", th.ID), zap.Error(err))
		return nil, err
	}

	agg := &Aggregate{
		Input:       in,
		Principled:  res.Principled,
		CommonSense: res.CommonSense,
		Domain:      res.Domain,
	}
	sel, err := RunWithRetries(ctx, o.exec, NameActionSelection, func(c context.Context) (*thought.ActionSelectionResult, error) {
		return o.evals.Selector.Evaluate(c, agg)
	})
	if err == nil && (sel == nil || sel.SelectedAction == "") {
		err = errors.New("evaluator returned no action")
	}
	if err != nil {
		return nil, &thought.ActionSelectionRetryFailed{ThoughtID: th.ID, Err: err}
	}
	res.Selection = sel

	o.logger.Debug("dmas complete",
		zap.String("thought_id", th.ID),
		zap.String("action", string(sel.SelectedAction)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}
