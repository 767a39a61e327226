package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Local is an in-process memory used when no Neo4j is configured.
type Local struct {
	mu    sync.Mutex
	nodes map[string]*Node
	now   func() time.Time
}

func NewLocal() *Local {
	return &Local{nodes: make(map[string]*Node), now: time.Now}
}

func key(scope, id string) string { return scope + "/" + id }

func (l *Local) Memorize(_ context.Context, n *Node) error {
	n.Scope = ScopeOrDefault(n.Scope)
	if err := validate(n); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	k := key(n.Scope, n.ID)
	stored := clone(n)
	if prev, ok := l.nodes[k]; ok {
		stored.CreatedAt = prev.CreatedAt
		stored.AccessCount = prev.AccessCount
	} else {
		stored.CreatedAt = now
		stored.AccessCount = 0
	}
	stored.UpdatedAt = now
	l.nodes[k] = stored
	return nil
}

func (l *Local) Recall(_ context.Context, q Query) ([]*Node, error) {
	q.Scope = ScopeOrDefault(q.Scope)
	if !validScope(q.Scope) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, q.Scope)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var candidates []*Node
	if q.NodeID != "" {
		if n, ok := l.nodes[key(q.Scope, q.NodeID)]; ok {
			candidates = append(candidates, n)
		}
	} else {
		for _, n := range l.nodes {
			if n.Scope == q.Scope {
				candidates = append(candidates, n)
			}
		}
	}

	found := rank(candidates, q.Text, q.limit())
	out := make([]*Node, len(found))
	for i, n := range found {
		n.AccessCount++
		out[i] = clone(n)
	}
	return out, nil
}

func (l *Local) Forget(_ context.Context, scope, nodeID string) error {
	scope = ScopeOrDefault(scope)
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(scope, nodeID)
	if _, ok := l.nodes[k]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	delete(l.nodes, k)
	return nil
}

func clone(n *Node) *Node {
	c := *n
	c.Attributes = maps.Clone(n.Attributes)
	return &c
}
