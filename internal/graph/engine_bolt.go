package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/ivanmarin/codegraph/pkg/models"
)

// BoltEngine implements Engine over a Bolt-speaking graph server.
type BoltEngine struct {
	driver     neo4j.DriverWithContext
	newSession sessionFactory
	logger     *slog.Logger
}

// NewBoltEngine connects to the graph engine and verifies connectivity.
func NewBoltEngine(uri, username, password string, logger *slog.Logger) (*BoltEngine, error) {
	auth := neo4j.NoAuth()
	if username != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("creating graph driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("graph engine connectivity check failed: %w", err)
	}

	logger.Info("graph engine connected", "uri", uri)
	return &BoltEngine{
		driver:     driver,
		newSession: newBoltSessionFactory(driver),
		logger:     logger,
	}, nil
}

// Close closes the underlying driver connection.
func (e *BoltEngine) Close() error {
	return e.driver.Close(context.Background())
}

// Ping verifies the engine is still reachable.
func (e *BoltEngine) Ping(ctx context.Context) error {
	return e.driver.VerifyConnectivity(ctx)
}

// ExecuteRead runs a non-mutating statement and collects its rows.
func (e *BoltEngine) ExecuteRead(ctx context.Context, q GraphQuery) (*Result, error) {
	return e.run(ctx, q)
}

// ExecuteWrite runs a mutating statement and collects its rows.
func (e *BoltEngine) ExecuteWrite(ctx context.Context, q GraphQuery) (*Result, error) {
	return e.run(ctx, q)
}

// ExecuteTransaction runs all statements on one session, stopping at the
// first failure. Atomicity across statements is the engine's concern.
func (e *BoltEngine) ExecuteTransaction(ctx context.Context, qs []GraphQuery) error {
	session := e.newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	for i, q := range qs {
		result, err := session.Run(ctx, q.Statement, q.Params)
		if err != nil {
			return fmt.Errorf("transaction statement %d: %w", i, err)
		}
		for result.Next(ctx) {
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("transaction statement %d: %w", i, err)
		}
	}
	return nil
}

func (e *BoltEngine) run(ctx context.Context, q GraphQuery) (*Result, error) {
	session := e.newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	result, err := session.Run(ctx, q.Statement, q.Params)
	if err != nil {
		return nil, fmt.Errorf("executing statement: %w", err)
	}

	out := &Result{}
	for result.Next(ctx) {
		out.Rows = append(out.Rows, recordToRow(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	return out, nil
}

// recordToRow converts one driver record into the tagged union the rest of
// the layer consumes. A single-column record holding a node, relationship,
// or path becomes that shape; everything else is a raw column map with
// nested graph values converted in place.
func recordToRow(record *neo4j.Record) Row {
	values := make(map[string]any, len(record.Keys))
	for i, key := range record.Keys {
		values[key] = convertValue(record.Values[i])
	}

	if len(record.Values) == 1 {
		switch v := record.Values[0].(type) {
		case dbtype.Node:
			node := nodeFromBolt(v)
			return Row{Kind: RowVertex, Vertex: &node, Values: values}
		case dbtype.Relationship:
			rel := relationshipFromBolt(v)
			return Row{Kind: RowEdge, Edge: &rel, Values: values}
		case dbtype.Path:
			path := pathFromBolt(v)
			return Row{Kind: RowPath, Path: &path, Values: values}
		}
	}
	return Row{Kind: RowRaw, Values: values}
}

func convertValue(v any) any {
	switch t := v.(type) {
	case dbtype.Node:
		return nodeFromBolt(t)
	case dbtype.Relationship:
		return relationshipFromBolt(t)
	case dbtype.Path:
		return pathFromBolt(t)
	default:
		return v
	}
}

func nodeFromBolt(n dbtype.Node) models.GraphNode {
	node := models.GraphNode{
		ID:   propString(n.Props, "id"),
		Name: propString(n.Props, "name"),
	}
	if len(n.Labels) > 0 {
		node.Type = models.NodeType(n.Labels[0])
	}
	if raw := propString(n.Props, "properties"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &node.Properties)
	}
	return node
}

func relationshipFromBolt(r dbtype.Relationship) models.GraphRelationship {
	rel := models.GraphRelationship{
		ID:       propString(r.Props, "id"),
		Type:     models.RelationshipType(r.Type),
		SourceID: propString(r.Props, "source_id"),
		TargetID: propString(r.Props, "target_id"),
	}
	if raw := propString(r.Props, "properties"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &rel.Properties)
	}
	return rel
}

func pathFromBolt(p dbtype.Path) PathResult {
	path := PathResult{}
	for _, n := range p.Nodes {
		path.Nodes = append(path.Nodes, nodeFromBolt(n))
	}
	// Relationship endpoints arrive as internal element IDs; resolve them
	// back to our vertex IDs through the path's node list.
	byElement := make(map[int64]string, len(p.Nodes))
	for _, n := range p.Nodes {
		byElement[n.Id] = propString(n.Props, "id")
	}
	for _, r := range p.Relationships {
		rel := relationshipFromBolt(r)
		if rel.SourceID == "" {
			rel.SourceID = byElement[r.StartId]
		}
		if rel.TargetID == "" {
			rel.TargetID = byElement[r.EndId]
		}
		path.Relationships = append(path.Relationships, rel)
	}
	return path
}

func propString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
