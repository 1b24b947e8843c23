package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ivanmarin/codegraph/pkg/models"
)

func newTestSnapshot(t *testing.T) *SnapshotStore {
	t.Helper()
	snap, err := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshot.db"))
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	t.Cleanup(func() { snap.Close() })
	if err := snap.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return snap
}

func TestSnapshotUpsertNode(t *testing.T) {
	snap := newTestSnapshot(t)
	ctx := context.Background()

	node := models.GraphNode{
		ID:         "f1",
		Type:       models.NodeFunction,
		Name:       "HandleRequest",
		Properties: map[string]any{"file_path": "src/app.go"},
	}
	if err := snap.UpsertNode(ctx, node); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	// Upserting the same ID updates in place.
	node.Name = "handleRequest"
	if err := snap.UpsertNode(ctx, node); err != nil {
		t.Fatalf("UpsertNode (update): %v", err)
	}

	nodes, err := snap.Nodes(ctx)
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(nodes))
	}
	if nodes[0].Name != "handleRequest" {
		t.Errorf("Name = %q, want updated value", nodes[0].Name)
	}
	if nodes[0].Properties["file_path"] != "src/app.go" {
		t.Errorf("Properties = %v", nodes[0].Properties)
	}
}

func TestSnapshotUpsertRelationshipUniqueTriple(t *testing.T) {
	snap := newTestSnapshot(t)
	ctx := context.Background()

	rel := models.GraphRelationship{
		ID: "r1", Type: models.EdgeContains, SourceID: "a", TargetID: "b",
	}
	if err := snap.UpsertRelationship(ctx, rel); err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}
	// A second edge with the same (source, target, type) collapses into one.
	rel.ID = "r2"
	rel.Properties = map[string]any{"weight": 2}
	if err := snap.UpsertRelationship(ctx, rel); err != nil {
		t.Fatalf("UpsertRelationship (duplicate triple): %v", err)
	}

	rels, err := snap.Relationships(ctx)
	if err != nil {
		t.Fatalf("Relationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("rels = %d, want 1", len(rels))
	}

	nodes, relCount, err := snap.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if nodes != 0 || relCount != 1 {
		t.Errorf("Counts = %d, %d; want 0, 1", nodes, relCount)
	}
}

func TestSnapshotInitIdempotent(t *testing.T) {
	snap := newTestSnapshot(t)
	if err := snap.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestSnapshotFromStorePages(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("ORDER BY n.id", vertexResult(
		models.GraphNode{ID: "f1", Type: models.NodeFile, Name: "app.go"},
		models.GraphNode{ID: "f2", Type: models.NodeFunction, Name: "main"},
	), nil)
	eng.stub("MATCH (a)-[e]->(b)", &Result{Rows: []Row{{
		Kind: RowEdge,
		Edge: &models.GraphRelationship{ID: "r1", Type: models.EdgeContains, SourceID: "f1", TargetID: "f2"},
	}}}, nil)
	store := newTestStore(eng)
	snap := newTestSnapshot(t)

	if err := SnapshotFromStore(context.Background(), store, snap, discardLogger()); err != nil {
		t.Fatalf("SnapshotFromStore: %v", err)
	}

	nodes, rels, err := snap.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if nodes != 2 || rels != 1 {
		t.Errorf("Counts = %d, %d; want 2, 1", nodes, rels)
	}
}

func TestRestoreToStore(t *testing.T) {
	snap := newTestSnapshot(t)
	ctx := context.Background()

	if err := snap.UpsertNode(ctx, models.GraphNode{ID: "f1", Type: models.NodeFile, Name: "app.go"}); err != nil {
		t.Fatal(err)
	}
	if err := snap.UpsertNode(ctx, models.GraphNode{ID: "fn1", Type: models.NodeFunction, Name: "main"}); err != nil {
		t.Fatal(err)
	}
	if err := snap.UpsertRelationship(ctx, models.GraphRelationship{
		ID: "r1", Type: models.EdgeContains, SourceID: "f1", TargetID: "fn1",
	}); err != nil {
		t.Fatal(err)
	}

	eng := &mockEngine{}
	store := newTestStore(eng)

	if err := RestoreToStore(ctx, snap, store, discardLogger()); err != nil {
		t.Fatalf("RestoreToStore: %v", err)
	}
	if n := eng.callCount("MERGE (v:`File`"); n != 1 {
		t.Errorf("File vertex writes = %d, want 1", n)
	}
	if n := eng.callCount("MERGE (a)-[e:`CONTAINS`"); n != 1 {
		t.Errorf("CONTAINS edge writes = %d, want 1", n)
	}
}
