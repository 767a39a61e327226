package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/conscience"
	"github.com/nidhogg/nuka-mind/internal/dma"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

func fakeService(t *testing.T) (*Client, *[]string) {
	t.Helper()
	var paths []string
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathPrincipled, func(w http.ResponseWriter, r *http.Request) {
		var in dma.Input
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		reply(w, map[string]any{"confidence": 0.9, "rationale": "fine for " + in.Thought.Content})
	})
	mux.HandleFunc("POST "+PathCommonSense, func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"algorithm": "cs-v2", "confidence": 0.7})
	})
	mux.HandleFunc("POST "+PathDomain, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("POST "+PathActionSelection, func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{
			"selected_action":   "speak",
			"action_parameters": map[string]any{"channel_id": "slack:C1", "content": "hello"},
			"confidence":        0.8,
		})
	})
	mux.HandleFunc("POST "+PathEntropy, func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"entropy": 0.1})
	})
	mux.HandleFunc("POST "+PathCoherence, func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"coherence": 0.3})
	})
	mux.HandleFunc("POST "+PathVeto, func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"decision": "proceed", "entropy_reduction_ratio": 1.5})
	})
	mux.HandleFunc("POST "+PathHumility, func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"epistemic_certainty": 0.4, "recommended_action": "ponder"})
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL + "/", APIKey: "k"}, zap.NewNop()), &paths
}

func input() *dma.Input {
	task := thought.NewTask("greet", 0, nil)
	return &dma.Input{Task: task, Thought: thought.NewSeedThought(task, "say hi")}
}

func TestDMAEndpoints(t *testing.T) {
	c, paths := fakeService(t)
	ctx := context.Background()
	evals := c.Evaluators()

	res, err := evals.Principled.Evaluate(ctx, input())
	require.NoError(t, err)
	assert.Equal(t, dma.NamePrincipled, res.Algorithm)
	assert.Equal(t, "fine for say hi", res.Rationale)

	res, err = evals.CommonSense.EvaluateThought(ctx, input())
	require.NoError(t, err)
	assert.Equal(t, "cs-v2", res.Algorithm)

	_, err = evals.Domain.EvaluateThought(ctx, input())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "model overloaded", se.Body)

	sel, err := evals.Selector.Evaluate(ctx, &dma.Aggregate{Input: input()})
	require.NoError(t, err)
	assert.Equal(t, thought.ActionSpeak, sel.SelectedAction)
	assert.Equal(t, thought.SpeakParams{ChannelID: "slack:C1", Content: "hello"}, sel.Parameters)

	assert.Equal(t, []string{PathPrincipled, PathCommonSense, PathDomain, PathActionSelection}, *paths)
}

func TestConscienceFaculties(t *testing.T) {
	c, _ := fakeService(t)
	reg := conscience.NewRegistry(zap.NewNop(), c.Checks(0, 0, 0)...)
	speak := &thought.ActionSelectionResult{
		SelectedAction: thought.ActionSpeak,
		Parameters:     thought.SpeakParams{Content: "hello"},
	}

	ac, err := reg.Evaluate(context.Background(), speak, input().Thought, nil)
	require.NoError(t, err)
	assert.False(t, ac.Passed)
	assert.ElementsMatch(t, []string{"epistemic_humility", "coherence"}, failed(ac))
}

func TestUnreachableService(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := c.Entropy(context.Background(), "x")
	assert.Error(t, err)
}

func failed(ac *thought.AlignmentCheck) []string {
	var names []string
	for _, r := range ac.Results {
		if !r.Passed {
			names = append(names, r.Name)
		}
	}
	return names
}
