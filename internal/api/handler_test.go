package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/gateway"
	"github.com/nidhogg/nuka-mind/internal/guidance"
	"github.com/nidhogg/nuka-mind/internal/intake"
	"github.com/nidhogg/nuka-mind/internal/resonance"
	"github.com/nidhogg/nuka-mind/internal/store"
	"github.com/nidhogg/nuka-mind/internal/thought"
	"github.com/nidhogg/nuka-mind/internal/worker"
)

type staticTools []string

func (s staticTools) AvailableTools() []string { return s }

type staticPool worker.Stats

func (s staticPool) Stats() worker.Stats { return worker.Stats(s) }

type fixture struct {
	store *store.MemoryStore
	ts    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	st := store.NewMemoryStore()
	gw := gateway.NewGateway(logger)
	rest := gateway.NewRESTAdapter(logger)
	gw.Register(rest)

	resolver := guidance.NewResolver(st, resonance.NewTracker(resonance.NewMemoryLog(), logger), logger)
	in := intake.New(st, resolver, gw, nil, logger)
	gw.SetHandler(in.Handle)
	h := NewHandler(Deps{
		Store:    st,
		Intake:   in,
		Resolver: resolver,
		Tools:    staticTools{"search", "weather"},
		Pool:     staticPool{Workers: 4, Processed: 12},
		Gateway:  gw,
		REST:     rest,
	}, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return &fixture{store: st, ts: ts}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	decodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	require.NotNil(t, body.Workers)
	assert.EqualValues(t, 12, body.Workers.Processed)
	require.Len(t, body.Adapters, 1)
	assert.Equal(t, "rest", body.Adapters[0].Platform)
}

func TestCreateAndInspectTask(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/tasks", map[string]any{"description": "draft the weekly report", "priority": 3})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var created createTaskResponse
	decodeJSON(t, resp, &created)
	require.NotNil(t, created.Task)
	assert.Equal(t, thought.TaskPending, created.Task.Status)
	assert.Equal(t, "api", created.Task.Context[thought.ContextPlatform])
	assert.Equal(t, 3, created.Thought.Priority)

	var task thought.Task
	decodeJSON(t, f.get(t, "/api/tasks/"+created.Task.ID), &task)
	assert.Equal(t, "draft the weekly report", task.Description)

	var th thought.Thought
	decodeJSON(t, f.get(t, "/api/thoughts/"+created.Thought.ID), &th)
	assert.Equal(t, created.Task.ID, th.SourceTaskID)

	var children []thought.Thought
	decodeJSON(t, f.get(t, "/api/thoughts/"+created.Thought.ID+"/children"), &children)
	assert.Empty(t, children)
}

func TestCreateTaskRejectsEmpty(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/tasks", map[string]any{"description": " "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(f.ts.URL+"/api/tasks", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"/api/tasks/nope", "/api/thoughts/nope", "/api/thoughts/nope/children"} {
		resp := f.get(t, p)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func TestResolveDeferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := thought.NewTask("pay invoice", 0, nil)
	require.NoError(t, f.store.AddTask(ctx, task))
	th := thought.NewSeedThought(task, "pay $900?")
	require.NoError(t, f.store.AddThought(ctx, th))
	_, err := f.store.ClaimThought(ctx, th.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateThoughtStatus(ctx, th.ID, thought.StatusDeferred, nil))
	require.NoError(t, f.store.SaveDeferralReportMapping(ctx, "ref-1", task.ID, th.ID,
		&thought.DeferralPackage{Reason: "spend", Context: map[string]any{}}))

	resp := f.post(t, "/api/deferrals/ref-1/resolve", map[string]string{"decision": "approve"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "wa_id is required")

	resp = f.post(t, "/api/deferrals/ref-1/resolve", map[string]string{"wa_id": "ops", "decision": "approve", "comment": "ok"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var res guidance.Resolution
	decodeJSON(t, resp, &res)
	assert.Equal(t, th.ID, res.DeferredThoughtID)

	var children []thought.Thought
	decodeJSON(t, f.get(t, "/api/thoughts/"+th.ID+"/children"), &children)
	require.Len(t, children, 1)
	assert.Equal(t, res.GuidanceThoughtID, children[0].ID)

	resp = f.post(t, "/api/deferrals/ref-1/resolve", map[string]string{"wa_id": "ops", "decision": "decline"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.post(t, "/api/deferrals/missing/resolve", map[string]string{"wa_id": "ops", "decision": "approve"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.post(t, "/api/deferrals/ref-1/resolve", map[string]string{"wa_id": "ops", "decision": "maybe"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTools(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Tools []string `json:"tools"`
	}
	decodeJSON(t, f.get(t, "/api/tools"), &body)
	assert.Equal(t, []string{"search", "weather"}, body.Tools)
}

func TestRESTGatewayMounted(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/gateway/rest/message", map[string]string{"channel_id": "room", "user_id": "u", "content": "hello there"})
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	th, err := f.store.ClaimNextThought(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello there", th.Content)
}
