package dma

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

const (
	DefaultRetryLimit = 3
	DefaultTimeout    = 30 * time.Second
	defaultRetryDelay = 100 * time.Millisecond
)

// Executor runs one evaluator call with bounded retries.
// retryLimit counts total attempts and is at least 1.
type Executor struct {
	retryLimit int
	timeout    time.Duration
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout bounds each individual attempt.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithBackOff sets the delay policy between attempts.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(e *Executor) {
		if f != nil {
			e.newBackOff = f
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(retryLimit int, logger *zap.Logger, opts ...Option) *Executor {
	if retryLimit < 1 {
		retryLimit = 1
	}
	e := &Executor{
		retryLimit: retryLimit,
		timeout:    DefaultTimeout,
		newBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(defaultRetryDelay) },
		logger:     logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RetryLimit returns the total number of attempts per call.
func (e *Executor) RetryLimit() int { return e.retryLimit }

// RunWithRetries invokes fn until it succeeds or the attempt budget is spent.
// A timed-out attempt counts as a failure. Cancelling ctx stops further attempts.
// On exhaustion the error is a *thought.DMAExecutionFailed wrapping the last attempt's error.
func RunWithRetries[T any](ctx context.Context, e *Executor, name string, fn func(context.Context) (T, error)) (T, error) {
	var (
		result   T
		attempts int
		lastErr  error
	)

	op := func() error {
		attempts++
		v, err := runAttempt(ctx, e.timeout, fn)
		if err == nil {
			result = v
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("dma attempt failed",
			zap.String("dma", name),
			zap.Int("attempt", attempts),
			zap.Int("retry_limit", e.retryLimit),
			zap.Duration("next_in", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(e.newBackOff(), uint64(e.retryLimit-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		var zero T
		return zero, &thought.DMAExecutionFailed{DMAName: name, Attempts: attempts, Err: lastErr}
	}
	return result, nil
}

type attemptResult[T any] struct {
	val T
	err error
}

// runAttempt runs fn once under the per-attempt timeout. fn runs in its own goroutine
// so an evaluator that ignores its context still cannot outlive the deadline.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult[T]{err: fmt.Errorf("evaluator panic: %v", r)}
			}
		}()
		v, err := fn(actx)
		done <- attemptResult[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-actx.Done():
		return zero, fmt.Errorf("attempt aborted after %s: %w", timeout, actx.Err())
	}
}
