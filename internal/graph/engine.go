package graph

import (
	"context"

	"github.com/ivanmarin/codegraph/pkg/models"
)

// Engine abstracts the network-attached graph engine: execute a statement,
// get rows back. Implementations may use a Bolt-speaking server
// (BoltEngine) or an in-process fake for tests.
type Engine interface {
	// ExecuteRead runs a non-mutating statement.
	ExecuteRead(ctx context.Context, q GraphQuery) (*Result, error)

	// ExecuteWrite runs a mutating statement.
	ExecuteWrite(ctx context.Context, q GraphQuery) (*Result, error)

	// ExecuteTransaction runs multiple statements atomically.
	ExecuteTransaction(ctx context.Context, qs []GraphQuery) error

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the engine.
	Close() error
}

// RowKind discriminates the shape of a returned row.
type RowKind int

// Row shapes returned by the engine.
const (
	RowRaw RowKind = iota
	RowVertex
	RowEdge
	RowPath
)

// Row is a tagged union over the shapes the engine returns. Exactly one of
// Vertex, Edge, Path is set for the corresponding kind; Values carries the
// full column map for RowRaw and is always populated for inspection.
type Row struct {
	Kind   RowKind
	Vertex *models.GraphNode
	Edge   *models.GraphRelationship
	Path   *PathResult
	Values map[string]any
}

// PathResult holds an ordered path: nodes visited and the relationship
// chain connecting them.
type PathResult struct {
	Nodes         []models.GraphNode         `json:"nodes"`
	Relationships []models.GraphRelationship `json:"relationships"`
}

// Length returns the number of hops in the path.
func (p *PathResult) Length() int {
	if p == nil {
		return 0
	}
	return len(p.Relationships)
}

// Result is the outcome of executing one statement.
type Result struct {
	Rows []Row
}

// Vertices returns all vertex-shaped rows.
func (r *Result) Vertices() []models.GraphNode {
	var nodes []models.GraphNode
	for _, row := range r.Rows {
		if row.Kind == RowVertex && row.Vertex != nil {
			nodes = append(nodes, *row.Vertex)
		}
	}
	return nodes
}

// Paths returns all path-shaped rows.
func (r *Result) Paths() []PathResult {
	var paths []PathResult
	for _, row := range r.Rows {
		if row.Kind == RowPath && row.Path != nil {
			paths = append(paths, *row.Path)
		}
	}
	return paths
}
