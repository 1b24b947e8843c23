package graph

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ivanmarin/codegraph/pkg/models"
)

func sampleGraphData() *GraphData {
	return &GraphData{
		Nodes: []models.GraphNode{
			{ID: "src/app.go", Type: models.NodeFile, Name: "app.go",
				Properties: map[string]any{"language": "go"}},
			{ID: "fn1", Type: models.NodeFunction, Name: "main"},
		},
		Relationships: []models.GraphRelationship{
			{ID: "r1", Type: models.EdgeContains, SourceID: "src/app.go", TargetID: "fn1"},
		},
	}
}

func TestExportJSON(t *testing.T) {
	out, err := ExportJSON(sampleGraphData())
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var decoded GraphData
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded.Nodes) != 2 || len(decoded.Relationships) != 1 {
		t.Errorf("decoded = %d nodes, %d relationships", len(decoded.Nodes), len(decoded.Relationships))
	}
	if decoded.Nodes[0].Type != models.NodeFile {
		t.Errorf("Type = %s", decoded.Nodes[0].Type)
	}
}

func TestExportYAML(t *testing.T) {
	out, err := ExportYAML(sampleGraphData())
	if err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}

	var decoded GraphData
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if len(decoded.Nodes) != 2 || len(decoded.Relationships) != 1 {
		t.Errorf("decoded = %d nodes, %d relationships", len(decoded.Nodes), len(decoded.Relationships))
	}
}

func TestExportDOT(t *testing.T) {
	out := ExportDOT(sampleGraphData())

	if !strings.HasPrefix(out, "digraph codegraph {") {
		t.Errorf("missing digraph header: %q", out[:40])
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Error("missing closing brace")
	}
	if !strings.Contains(out, `"src/app.go" -> "fn1"`) {
		t.Errorf("missing edge line:\n%s", out)
	}
	if !strings.Contains(out, "lightblue") || !strings.Contains(out, "lightgreen") {
		t.Error("missing type colors for File and Function nodes")
	}
}

func TestCollectGraphDataEmptySnapshot(t *testing.T) {
	snap := newTestSnapshot(t)

	data, err := CollectGraphData(context.Background(), snap)
	if err != nil {
		t.Fatalf("CollectGraphData: %v", err)
	}
	if data.Nodes == nil || data.Relationships == nil {
		t.Error("empty graph must export empty slices, not null")
	}
}

func TestCollectGraphData(t *testing.T) {
	snap := newTestSnapshot(t)
	ctx := context.Background()
	if err := snap.UpsertNode(ctx, models.GraphNode{ID: "n1", Type: models.NodeClass, Name: "Parser"}); err != nil {
		t.Fatal(err)
	}

	data, err := CollectGraphData(ctx, snap)
	if err != nil {
		t.Fatalf("CollectGraphData: %v", err)
	}
	if len(data.Nodes) != 1 || data.Nodes[0].Name != "Parser" {
		t.Errorf("Nodes = %+v", data.Nodes)
	}
}
