package thought

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusDeferred, true},
		{StatusProcessing, StatusPending, true},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
		{StatusDeferred, StatusProcessing, false},
	}
	for _, c := range cases {
		err := Transition(c.from, c.to)
		if c.ok {
			assert.NoError(t, err, "%s -> %s", c.from, c.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", c.from, c.to)
		}
	}
}

func TestActionSelectionResultDecodesVariant(t *testing.T) {
	var r ActionSelectionResult
	err := json.Unmarshal([]byte(`{"selected_action":"reject","action_parameters":{"reason":"unsafe"},"rationale":"r"}`), &r)
	require.NoError(t, err)
	assert.Equal(t, ActionReject, r.SelectedAction)
	assert.Equal(t, RejectParams{Reason: "unsafe"}, r.Parameters)

	err = json.Unmarshal([]byte(`{"selected_action":"tool","action_parameters":{"name":"search","arguments":{"q":"x"}}}`), &r)
	require.NoError(t, err)
	tp, ok := r.Parameters.(ToolParams)
	require.True(t, ok)
	assert.Equal(t, "search", tp.Name)
	assert.Equal(t, "x", tp.Arguments["q"])
}

func TestActionSelectionResultUnknownAction(t *testing.T) {
	var r ActionSelectionResult
	err := json.Unmarshal([]byte(`{"selected_action":"dance"}`), &r)
	assert.Error(t, err)
}

func TestActionSelectionResultRoundTrip(t *testing.T) {
	in := ActionSelectionResult{
		SelectedAction: ActionPonder,
		Parameters:     PonderParams{Questions: []string{"why?"}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out ActionSelectionResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Parameters, out.Parameters)
}

func TestNewFollowUp(t *testing.T) {
	task := NewTask("greet", 2, nil)
	seed := NewSeedThought(task, "hello")
	child := NewFollowUp(seed, "next", 3, nil)

	assert.Equal(t, seed.ID, child.ParentThoughtID)
	assert.Equal(t, task.ID, child.SourceTaskID)
	assert.Equal(t, StatusPending, child.Status)
	assert.Equal(t, 1, child.RoundCreated)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 5, child.Priority)
	assert.NotEqual(t, seed.ID, child.ID)
}

func TestIsTransient(t *testing.T) {
	dmaErr := &DMAExecutionFailed{DMAName: "csdma", Attempts: 3, Err: errors.New("boom")}
	assert.True(t, IsTransient(dmaErr))
	assert.True(t, IsTransient(fmt.Errorf("cycle: %w", &ContextBuildingFailed{ThoughtID: "t", Err: ErrNotFound})))
	assert.False(t, IsTransient(&ActionSelectionRetryFailed{ThoughtID: "t", Err: dmaErr}))
	assert.False(t, IsTransient(&ConscienceCheckFailed{ConscienceName: "x", Err: errors.New("e")}))
}
