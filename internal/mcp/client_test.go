package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServer is a minimal MCP SSE server.
type fakeServer struct {
	events chan string
	tools  []ToolInfo
}

func newFakeServer(t *testing.T, tools ...ToolInfo) *httptest.Server {
	t.Helper()
	fs := &fakeServer{events: make(chan string, 16), tools: tools}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", fs.stream)
	mux.HandleFunc("POST /rpc", fs.rpc)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (fs *fakeServer) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	fl := w.(http.Flusher)
	fmt.Fprint(w, "event: endpoint\ndata: /rpc\n\n")
	fl.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-fs.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", ev)
			fl.Flush()
		}
	}
}

func (fs *fakeServer) rpc(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int    `json:"id"`
		Method string `json:"method"`
		Params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	var body map[string]any
	switch {
	case req.Method == "tools/list":
		body = map[string]any{"result": map[string]any{"tools": fs.tools}}
	case req.Params.Name == "echo":
		body = map[string]any{"result": map[string]any{"content": []map[string]any{
			{"type": "text", "text": fmt.Sprint(req.Params.Arguments["text"])},
		}}}
	case req.Params.Name == "flaky":
		body = map[string]any{"result": map[string]any{"isError": true, "content": []map[string]any{
			{"type": "text", "text": "upstream down"},
		}}}
	default:
		body = map[string]any{"error": map[string]any{"code": -32601, "message": "no such tool"}}
	}
	body["jsonrpc"] = "2.0"
	body["id"] = req.ID
	raw, _ := json.Marshal(body)
	fs.events <- string(raw)
}

func connect(t *testing.T, name string, tools ...ToolInfo) *Client {
	t.Helper()
	srv := newFakeServer(t, tools...)
	c := NewClient(name, srv.URL+"/sse", zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientDiscoversAndCallsTools(t *testing.T) {
	c := connect(t, "utils", ToolInfo{Name: "echo", Description: "repeat text"})

	require.Len(t, c.ListTools(), 1)
	assert.Equal(t, "echo", c.ListTools()[0].Name)

	out, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = c.CallTool(context.Background(), "flaky", nil)
	assert.ErrorContains(t, err, "upstream down")

	_, err = c.CallTool(context.Background(), "nope", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestClientCallAfterClose(t *testing.T) {
	c := connect(t, "utils")
	require.NoError(t, c.Close())
	_, err := c.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, errClosed)
	assert.NoError(t, c.Close())
}

func TestConnectFailsWithoutServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	err := NewClient("dead", srv.URL+"/sse", zap.NewNop()).Connect(context.Background())
	assert.ErrorContains(t, err, "status 404")
}

func TestResolveURL(t *testing.T) {
	c := NewClient("x", "http://host:9000/mcp/sse", zap.NewNop())
	assert.Equal(t, "http://host:9000/messages?s=1", c.resolveURL("/messages?s=1"))
	assert.Equal(t, "https://other/rpc", c.resolveURL("https://other/rpc"))
}

func TestToolsRoutesByName(t *testing.T) {
	a := connect(t, "a", ToolInfo{Name: "echo"})
	b := connect(t, "b", ToolInfo{Name: "echo"}, ToolInfo{Name: "flaky"})

	tools := NewTools(zap.NewNop())
	tools.Add(a)
	tools.Add(b)

	assert.Equal(t, []string{"echo", "flaky"}, tools.AvailableTools())
	require.Len(t, tools.Describe(), 2)

	out, err := tools.ExecuteTool(context.Background(), "echo", map[string]any{"text": "routed"})
	require.NoError(t, err)
	assert.Equal(t, "routed", out)

	_, err = tools.ExecuteTool(context.Background(), "search", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	require.NoError(t, tools.Close())
	assert.Empty(t, tools.AvailableTools())
}
