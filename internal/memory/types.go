package memory

import (
	"errors"
	"time"
)

// Memory scopes.
const (
	ScopeLocal       = "local"
	ScopeIdentity    = "identity"
	ScopeEnvironment = "environment"
)

// DefaultRecallLimit bounds a recall with no explicit limit.
const DefaultRecallLimit = 5

var (
	ErrNotFound     = errors.New("memory node not found")
	ErrInvalidNode  = errors.New("memory node needs an id and content")
	ErrUnknownScope = errors.New("unknown memory scope")
)

// Node is one remembered fact.
type Node struct {
	ID          string         `json:"id"`
	Scope       string         `json:"scope"`
	Content     string         `json:"content"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	AccessCount int            `json:"access_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Query selects nodes by id or by text relevance within a scope.
type Query struct {
	Scope  string
	NodeID string
	Text   string
	Limit  int
}

// ScopeOrDefault maps an empty scope to ScopeLocal.
func ScopeOrDefault(scope string) string {
	if scope == "" {
		return ScopeLocal
	}
	return scope
}

func validScope(scope string) bool {
	switch scope {
	case ScopeLocal, ScopeIdentity, ScopeEnvironment:
		return true
	}
	return false
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultRecallLimit
	}
	return q.Limit
}
