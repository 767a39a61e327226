package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultCallTimeout bounds one JSON-RPC round trip.
const DefaultCallTimeout = 30 * time.Second

var errClosed = errors.New("mcp client closed")

// ToolInfo describes a tool exposed by an MCP server.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcReply struct {
	result json.RawMessage
	err    error
}

// Client speaks MCP over SSE: responses arrive on the event stream,
// requests are POSTed to the endpoint the stream announces.
type Client struct {
	name    string
	sseURL  string
	rpcURL  string
	http    *http.Client
	timeout time.Duration

	mu      sync.Mutex
	tools   []ToolInfo
	pending map[int]chan rpcReply
	nextID  atomic.Int64
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *zap.Logger
}

// NewClient creates a client for the given SSE endpoint.
func NewClient(name, sseURL string, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		sseURL:  sseURL,
		http:    &http.Client{},
		timeout: DefaultCallTimeout,
		pending: make(map[int]chan rpcReply),
		logger:  logger,
	}
}

func (c *Client) Name() string { return c.name }

// ListTools returns the tools discovered at connect time.
func (c *Client) ListTools() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolInfo(nil), c.tools...)
}

// Connect opens the event stream, waits for the endpoint event and
// fetches tools/list.
func (c *Client) Connect(ctx context.Context) error {
	sseCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp connect %s: %w", c.name, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp sse connect %s: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp sse %s: status %d", c.name, resp.StatusCode)
	}

	rd := bufio.NewReader(resp.Body)
	endpoint, err := readEndpoint(rd)
	if err != nil {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp endpoint event %s: %w", c.name, err)
	}
	c.rpcURL = c.resolveURL(endpoint)
	c.logger.Info("mcp endpoint discovered", zap.String("name", c.name), zap.String("rpc", c.rpcURL))

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()
	go c.readStream(rd, resp.Body)

	if err := c.fetchTools(ctx); err != nil {
		c.Close()
		return fmt.Errorf("mcp list tools %s: %w", c.name, err)
	}
	c.logger.Info("mcp tools discovered", zap.String("name", c.name), zap.Int("count", len(c.ListTools())))
	return nil
}

// sseEvent is one "event:"/"data:" block of the stream.
type sseEvent struct {
	name string
	data string
}

func nextEvent(rd *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	for {
		line, err := rd.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && ev.data != "":
			return ev, nil
		}
		if err != nil {
			if ev.data != "" {
				return ev, nil
			}
			return ev, err
		}
	}
}

func readEndpoint(rd *bufio.Reader) (string, error) {
	for {
		ev, err := nextEvent(rd)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("stream ended without endpoint event")
			}
			return "", err
		}
		if ev.name == "endpoint" {
			return ev.data, nil
		}
	}
}

// resolveURL turns a relative endpoint path into an absolute URL.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	scheme := strings.Index(c.sseURL, "://")
	base := c.sseURL
	if scheme >= 0 {
		if slash := strings.Index(c.sseURL[scheme+3:], "/"); slash >= 0 {
			base = c.sseURL[:scheme+3+slash]
		}
	}
	return base + "/" + strings.TrimPrefix(path, "/")
}

// readStream routes JSON-RPC responses to waiting callers until the stream ends.
func (c *Client) readStream(rd *bufio.Reader, body io.Closer) {
	defer close(c.done)
	defer body.Close()
	for {
		ev, err := nextEvent(rd)
		if err != nil {
			c.failPending(errClosed)
			return
		}
		if ev.name == "message" || ev.name == "" {
			c.dispatch([]byte(ev.data))
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("mcp: ignoring non-jsonrpc event", zap.String("name", c.name))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if env.Error != nil {
		ch <- rpcReply{err: env.Error}
		return
	}
	ch <- rpcReply{result: env.Result}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcReply{err: err}
		delete(c.pending, id)
	}
}

// call sends a JSON-RPC request and waits for the matching event.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := int(c.nextID.Add(1))
	ch := make(chan rpcReply, 1)
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil, errClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	body, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		forget()
		return nil, fmt.Errorf("marshal rpc: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		forget()
		return nil, fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		forget()
		return nil, fmt.Errorf("send rpc: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		forget()
		return nil, fmt.Errorf("send rpc %s: status %d", method, resp.StatusCode)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("mcp rpc timeout for %s", method)
	}
}

func (c *Client) fetchTools(ctx context.Context) error {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}
	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	return nil
}

// CallTool invokes a tool and returns its text content.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", name, err)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return string(result), nil
	}
	var parts []string
	for _, c := range resp.Content {
		if c.Type == "text" || c.Type == "" {
			parts = append(parts, c.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if resp.IsError {
		return "", fmt.Errorf("mcp call %s: tool error: %s", name, text)
	}
	if len(resp.Content) == 0 {
		return string(result), nil
	}
	return text, nil
}

// Close stops the event stream and fails any in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	c.failPending(errClosed)
	return nil
}
