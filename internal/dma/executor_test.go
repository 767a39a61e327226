package dma

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

func noDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newTestExecutor(limit int, opts ...Option) *Executor {
	return NewExecutor(limit, zap.NewNop(), append([]Option{WithBackOff(noDelay)}, opts...)...)
}

func TestRunWithRetriesAlwaysFailing(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	_, err := RunWithRetries(context.Background(), newTestExecutor(2), "pdma",
		func(context.Context) (int, error) {
			calls.Add(1)
			return 0, boom
		})

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())

	var failed *thought.DMAExecutionFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "pdma", failed.DMAName)
	assert.Equal(t, 2, failed.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestRunWithRetriesLastErrorPropagates(t *testing.T) {
	var calls atomic.Int32
	_, err := RunWithRetries(context.Background(), newTestExecutor(3), "csdma",
		func(context.Context) (string, error) {
			n := calls.Add(1)
			return "", fmt.Errorf("attempt %d", n)
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 3")
}

func TestRunWithRetriesRecovers(t *testing.T) {
	var calls atomic.Int32
	v, err := RunWithRetries(context.Background(), newTestExecutor(3), "csdma",
		func(context.Context) (string, error) {
			if calls.Add(1) < 3 {
				return "", errors.New("flaky")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryLimitMinimumOne(t *testing.T) {
	e := newTestExecutor(0)
	assert.Equal(t, 1, e.RetryLimit())

	var calls atomic.Int32
	_, err := RunWithRetries(context.Background(), e, "x", func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("no")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutCountsAsAttempt(t *testing.T) {
	var calls atomic.Int32
	e := newTestExecutor(2, WithTimeout(20*time.Millisecond))
	_, err := RunWithRetries(context.Background(), e, "slow", func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutEnforcedWhenEvaluatorIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e := newTestExecutor(1, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := RunWithRetries(context.Background(), e, "stuck", func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	_, err := RunWithRetries(ctx, newTestExecutor(5), "x", func(context.Context) (int, error) {
		calls.Add(1)
		cancel()
		return 0, errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPanicIsAFailedAttempt(t *testing.T) {
	var calls atomic.Int32
	_, err := RunWithRetries(context.Background(), newTestExecutor(2), "x", func(context.Context) (int, error) {
		calls.Add(1)
		panic("evaluator bug")
	})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, err.Error(), "evaluator bug")
}
