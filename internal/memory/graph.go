package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// scanLimit caps how many nodes of a scope are pulled for text ranking.
const scanLimit = 500

// Graph stores memory nodes in Neo4j.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraph connects to Neo4j. Empty user means no authentication.
func NewGraph(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the lookup index for memory nodes.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE INDEX memory_node_scope_id IF NOT EXISTS
		 FOR (n:MemoryNode) ON (n.scope, n.id)`, nil)
	if err != nil {
		return fmt.Errorf("create memory index: %w", err)
	}
	return nil
}

// Memorize upserts a node keyed by (scope, id).
func (g *Graph) Memorize(ctx context.Context, n *Node) error {
	n.Scope = ScopeOrDefault(n.Scope)
	if err := validate(n); err != nil {
		return err
	}
	attrs, err := json.Marshal(n.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err = session.Run(ctx,
		`MERGE (n:MemoryNode {id: $id, scope: $scope})
		 ON CREATE SET n.created_at = timestamp(), n.access_count = 0
		 SET n.content = $content, n.attributes = $attrs,
		     n.task_id = $taskId, n.updated_at = timestamp()`,
		map[string]any{
			"id":      n.ID,
			"scope":   n.Scope,
			"content": n.Content,
			"attrs":   string(attrs),
			"taskId":  n.TaskID,
		})
	if err != nil {
		return fmt.Errorf("memorize %s/%s: %w", n.Scope, n.ID, err)
	}
	g.logger.Debug("memorized", zap.String("scope", n.Scope), zap.String("node_id", n.ID))
	return nil
}

// Recall returns the node named by q.NodeID, or the nodes of q.Scope most
// relevant to q.Text. Returned nodes have their access count bumped.
func (g *Graph) Recall(ctx context.Context, q Query) ([]*Node, error) {
	q.Scope = ScopeOrDefault(q.Scope)
	if !validScope(q.Scope) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, q.Scope)
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	var (
		result neo4j.ResultWithContext
		err    error
	)
	if q.NodeID != "" {
		result, err = session.Run(ctx,
			`MATCH (n:MemoryNode {id: $id, scope: $scope}) RETURN n`,
			map[string]any{"id": q.NodeID, "scope": q.Scope})
	} else {
		result, err = session.Run(ctx,
			`MATCH (n:MemoryNode {scope: $scope})
			 RETURN n ORDER BY n.updated_at DESC LIMIT $limit`,
			map[string]any{"scope": q.Scope, "limit": scanLimit})
	}
	if err != nil {
		return nil, fmt.Errorf("recall from %s: %w", q.Scope, err)
	}

	var nodes []*Node
	for result.Next(ctx) {
		raw, ok := result.Record().Get("n")
		if !ok {
			continue
		}
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}
		nodes = append(nodes, fromProps(node.Props))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read recall results: %w", err)
	}

	nodes = rank(nodes, q.Text, q.limit())
	if err := g.touch(ctx, session, q.Scope, nodes); err != nil {
		g.logger.Warn("bump access count failed", zap.Error(err))
	}
	return nodes, nil
}

func (g *Graph) touch(ctx context.Context, session neo4j.SessionWithContext, scope string, nodes []*Node) error {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
		n.AccessCount++
	}
	_, err := session.Run(ctx,
		`UNWIND $ids AS id
		 MATCH (n:MemoryNode {id: id, scope: $scope})
		 SET n.access_count = n.access_count + 1`,
		map[string]any{"ids": ids, "scope": scope})
	return err
}

// Forget deletes a node and its relationships.
func (g *Graph) Forget(ctx context.Context, scope, nodeID string) error {
	scope = ScopeOrDefault(scope)

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (n:MemoryNode {id: $id, scope: $scope})
		 DETACH DELETE n
		 RETURN count(n) AS deleted`,
		map[string]any{"id": nodeID, "scope": scope})
	if err != nil {
		return fmt.Errorf("forget %s/%s: %w", scope, nodeID, err)
	}

	var deleted int64
	if result.Next(ctx) {
		if v, ok := result.Record().Get("deleted"); ok {
			deleted, _ = v.(int64)
		}
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, scope, nodeID)
	}
	g.logger.Info("forgot memory node", zap.String("scope", scope), zap.String("node_id", nodeID))
	return nil
}

func fromProps(p map[string]any) *Node {
	n := &Node{}
	n.ID, _ = p["id"].(string)
	n.Scope, _ = p["scope"].(string)
	n.Content, _ = p["content"].(string)
	n.TaskID, _ = p["task_id"].(string)
	if c, ok := p["access_count"].(int64); ok {
		n.AccessCount = int(c)
	}
	if ms, ok := p["created_at"].(int64); ok {
		n.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, ok := p["updated_at"].(int64); ok {
		n.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	if s, ok := p["attributes"].(string); ok && s != "" && s != "null" {
		_ = json.Unmarshal([]byte(s), &n.Attributes)
	}
	return n
}

func validate(n *Node) error {
	if n.ID == "" || n.Content == "" {
		return ErrInvalidNode
	}
	if !validScope(n.Scope) {
		return fmt.Errorf("%w: %s", ErrUnknownScope, n.Scope)
	}
	return nil
}
