package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownTool is returned for a tool no connected server exposes.
var ErrUnknownTool = errors.New("unknown tool")

// Caller is one server that can run tools.
type Caller interface {
	Name() string
	ListTools() []ToolInfo
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

type route struct {
	server Caller
	info   ToolInfo
}

// Tools routes TOOL actions to whichever MCP server exposes the tool.
type Tools struct {
	mu      sync.RWMutex
	routes  map[string]route
	servers []Caller
	logger  *zap.Logger
}

func NewTools(logger *zap.Logger) *Tools {
	return &Tools{routes: make(map[string]route), logger: logger}
}

// Add registers every tool s exposes. When two servers expose the same
// name the first registration wins.
func (t *Tools) Add(s Caller) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servers = append(t.servers, s)
	for _, info := range s.ListTools() {
		if prev, ok := t.routes[info.Name]; ok {
			t.logger.Warn("duplicate mcp tool ignored",
				zap.String("tool", info.Name),
				zap.String("server", s.Name()),
				zap.String("kept", prev.server.Name()))
			continue
		}
		t.routes[info.Name] = route{server: s, info: info}
	}
}

// AvailableTools lists tool names in sorted order.
func (t *Tools) AvailableTools() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.routes))
	for n := range t.routes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns the tool catalog in name order.
func (t *Tools) Describe() []ToolInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ToolInfo, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Tools) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	t.mu.RLock()
	r, ok := t.routes[name]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	t.logger.Debug("executing tool", zap.String("tool", name), zap.String("server", r.server.Name()))
	return r.server.CallTool(ctx, name, args)
}

// Close closes every registered server that holds a connection.
func (t *Tools) Close() error {
	t.mu.Lock()
	servers := t.servers
	t.servers = nil
	t.routes = make(map[string]route)
	t.mu.Unlock()

	var errs []error
	for _, s := range servers {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
