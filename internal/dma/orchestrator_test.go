package dma

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/store"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

type stubEval struct {
	name string
	err  error
}

func (s stubEval) Evaluate(_ context.Context, in *Input) (*Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Algorithm: s.name, Confidence: 0.9, Payload: map[string]any{"thought": in.Thought.ID}}, nil
}

func (s stubEval) EvaluateThought(ctx context.Context, in *Input) (*Result, error) {
	return s.Evaluate(ctx, in)
}

type recordingSelector struct {
	got *Aggregate
	res *thought.ActionSelectionResult
	err error
}

func (r *recordingSelector) Evaluate(_ context.Context, agg *Aggregate) (*thought.ActionSelectionResult, error) {
	r.got = agg
	return r.res, r.err
}

func seed(t *testing.T) (*store.MemoryStore, *thought.Thought) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	task := thought.NewTask("help", 1, map[string]any{"channel_id": "slack:C1", "k": "task"})
	require.NoError(t, s.AddTask(ctx, task))
	th := thought.NewSeedThought(task, "hello")
	th.ProcessingContext["k"] = "thought"
	require.NoError(t, s.AddThought(ctx, th))
	return s, th
}

func TestOrchestratorAggregatesBeforeSelection(t *testing.T) {
	s, th := seed(t)
	sel := &recordingSelector{res: &thought.ActionSelectionResult{
		SelectedAction: thought.ActionSpeak,
		Parameters:     thought.SpeakParams{Content: "hi"},
	}}
	o := NewOrchestrator(newTestExecutor(2), NewStoreContextBuilder(s), Evaluators{
		Principled:  stubEval{name: NamePrincipled},
		CommonSense: stubEval{name: NameCommonSense},
		Domain:      stubEval{name: NameDomain},
		Selector:    sel,
	}, zap.NewNop())

	res, err := o.Run(context.Background(), th)
	require.NoError(t, err)
	assert.Equal(t, thought.ActionSpeak, res.Selection.SelectedAction)

	require.NotNil(t, sel.got)
	assert.Equal(t, NamePrincipled, sel.got.Principled.Algorithm)
	assert.Equal(t, NameCommonSense, sel.got.CommonSense.Algorithm)
	assert.Equal(t, NameDomain, sel.got.Domain.Algorithm)
	assert.Equal(t, "thought", sel.got.Input.Context["k"])
	assert.Equal(t, "slack:C1", sel.got.Input.Context["channel_id"])
}

func TestOrchestratorDMAFailure(t *testing.T) {
	s, th := seed(t)
	sel := &recordingSelector{}
	o := NewOrchestrator(newTestExecutor(2), NewStoreContextBuilder(s), Evaluators{
		Principled:  stubEval{name: NamePrincipled},
		CommonSense: stubEval{err: errors.New("llm down")},
		Selector:    sel,
	}, zap.NewNop())

	_, err := o.Run(context.Background(), th)
	var failed *thought.DMAExecutionFailed
	require.ErrorAs(t, err, &failed)
	assert.Nil(t, sel.got, "selection must not run after a failed DMA")
	assert.True(t, thought.IsTransient(err))
}

func TestOrchestratorSelectionFailure(t *testing.T) {
	s, th := seed(t)
	o := NewOrchestrator(newTestExecutor(2), NewStoreContextBuilder(s), Evaluators{
		Selector: &recordingSelector{err: errors.New("bad json")},
	}, zap.NewNop())

	_, err := o.Run(context.Background(), th)
	var selErr *thought.ActionSelectionRetryFailed
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, th.ID, selErr.ThoughtID)
	assert.False(t, thought.IsTransient(err))
}

func TestOrchestratorEmptySelection(t *testing.T) {
	s, th := seed(t)
	o := NewOrchestrator(newTestExecutor(1), NewStoreContextBuilder(s), Evaluators{
		Selector: &recordingSelector{},
	}, zap.NewNop())

	_, err := o.Run(context.Background(), th)
	var selErr *thought.ActionSelectionRetryFailed
	assert.ErrorAs(t, err, &selErr)
}

func TestOrchestratorContextBuildingFailed(t *testing.T) {
	s := store.NewMemoryStore()
	orphan := &thought.Thought{ID: "t1", SourceTaskID: "missing"}
	o := NewOrchestrator(newTestExecutor(1), NewStoreContextBuilder(s), Evaluators{
		Selector: &recordingSelector{},
	}, zap.NewNop())

	_, err := o.Run(context.Background(), orphan)
	var ctxErr *thought.ContextBuildingFailed
	require.ErrorAs(t, err, &ctxErr)
	assert.ErrorIs(t, err, thought.ErrNotFound)
}
