package conscience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

type fakeFaculty struct {
	entropy   float64
	coherence float64
	veto      *VetoAssessment
	humility  *HumilityAssessment
	err       error
	seen      []string
}

func (f *fakeFaculty) Entropy(_ context.Context, text string) (float64, error) {
	f.seen = append(f.seen, text)
	return f.entropy, f.err
}

func (f *fakeFaculty) Coherence(_ context.Context, text string) (float64, error) {
	return f.coherence, f.err
}

func (f *fakeFaculty) AssessVeto(context.Context, string) (*VetoAssessment, error) {
	return f.veto, f.err
}

func (f *fakeFaculty) AssessHumility(context.Context, string) (*HumilityAssessment, error) {
	return f.humility, f.err
}

var tool = &thought.ActionSelectionResult{
	SelectedAction: thought.ActionTool,
	Parameters:     thought.ToolParams{Name: "search"},
}

func TestEntropyCheck(t *testing.T) {
	ctx := context.Background()
	f := &fakeFaculty{entropy: 0.40}
	v, err := EntropyCheck{Scorer: f}.Check(ctx, speak, th, nil)
	require.NoError(t, err)
	assert.True(t, v.Passed, "threshold itself passes")
	assert.Equal(t, []string{"hello there"}, f.seen)

	f.entropy = 0.41
	v, err = EntropyCheck{Scorer: f}.Check(ctx, speak, th, nil)
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Contains(t, v.Reason, "0.41")

	f.seen = nil
	v, err = EntropyCheck{Scorer: f}.Check(ctx, tool, th, nil)
	require.NoError(t, err)
	assert.True(t, v.Passed)
	assert.Empty(t, f.seen, "non-speak actions are not scored")
}

func TestCoherenceCheck(t *testing.T) {
	ctx := context.Background()
	v, err := CoherenceCheck{Scorer: &fakeFaculty{coherence: 0.6}}.Check(ctx, speak, th, nil)
	require.NoError(t, err)
	assert.True(t, v.Passed)

	v, err = CoherenceCheck{Scorer: &fakeFaculty{coherence: 0.59}}.Check(ctx, speak, th, nil)
	require.NoError(t, err)
	assert.False(t, v.Passed)

	v, err = CoherenceCheck{Scorer: &fakeFaculty{coherence: 0.9}, Threshold: 0.95}.Check(ctx, speak, th, nil)
	require.NoError(t, err)
	assert.False(t, v.Passed)
}

func TestOptimizationVetoCheck(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		a    VetoAssessment
		ok   bool
	}{
		{"proceed", VetoAssessment{Decision: "proceed", EntropyReductionRatio: 2}, true},
		{"abort", VetoAssessment{Decision: "abort", EntropyReductionRatio: 1}, false},
		{"defer", VetoAssessment{Decision: "DEFER"}, false},
		{"ratio at limit", VetoAssessment{Decision: "proceed", EntropyReductionRatio: 10}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := c.a
			v, err := OptimizationVetoCheck{Assessor: &fakeFaculty{veto: &a}}.Check(ctx, tool, th, nil)
			require.NoError(t, err)
			assert.Equal(t, c.ok, v.Passed)
		})
	}
}

func TestEpistemicHumilityCheck(t *testing.T) {
	ctx := context.Background()
	for rec, ok := range map[string]bool{"proceed": true, "ponder": false, "defer": false, "abort": false} {
		f := &fakeFaculty{humility: &HumilityAssessment{RecommendedAction: rec, Certainty: 0.5}}
		v, err := EpistemicHumilityCheck{Assessor: f}.Check(ctx, tool, th, nil)
		require.NoError(t, err)
		assert.Equal(t, ok, v.Passed, rec)
	}
}

func TestChecksPropagateFacultyErrors(t *testing.T) {
	ctx := context.Background()
	f := &fakeFaculty{err: errors.New("timeout")}
	checks := []Check{
		EntropyCheck{Scorer: f},
		CoherenceCheck{Scorer: f},
		OptimizationVetoCheck{Assessor: f},
		EpistemicHumilityCheck{Assessor: f},
	}
	for _, c := range checks {
		_, err := c.Check(ctx, speak, th, nil)
		assert.Error(t, err, c.Name())
	}
}
