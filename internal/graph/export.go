package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivanmarin/codegraph/pkg/models"
)

// GraphData holds a full graph snapshot for export.
type GraphData struct {
	Nodes         []models.GraphNode         `json:"nodes" yaml:"nodes"`
	Relationships []models.GraphRelationship `json:"relationships" yaml:"relationships"`
}

// CollectGraphData reads the full snapshot contents for export.
func CollectGraphData(ctx context.Context, snap *SnapshotStore) (*GraphData, error) {
	nodes, err := snap.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	rels, err := snap.Relationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}

	data := &GraphData{Nodes: nodes, Relationships: rels}
	if data.Nodes == nil {
		data.Nodes = []models.GraphNode{}
	}
	if data.Relationships == nil {
		data.Relationships = []models.GraphRelationship{}
	}
	return data, nil
}

// ExportJSON renders the graph as indented JSON.
func ExportJSON(data *GraphData) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExportYAML renders the graph as YAML.
func ExportYAML(data *GraphData) (string, error) {
	b, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExportDOT renders the graph in Graphviz DOT format.
func ExportDOT(data *GraphData) string {
	var b strings.Builder
	b.WriteString("digraph codegraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled];\n\n")

	for _, n := range data.Nodes {
		label := fmt.Sprintf("%s\\n(%s)", n.Name, n.Type)
		b.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q];\n", n.ID, label, nodeColor(n.Type)))
	}

	b.WriteString("\n")

	for _, r := range data.Relationships {
		b.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", r.SourceID, r.TargetID, r.Type))
	}

	b.WriteString("}\n")
	return b.String()
}

func nodeColor(t models.NodeType) string {
	switch t {
	case models.NodeProject:
		return "lightgoldenrod"
	case models.NodeFile:
		return "lightblue"
	case models.NodeFunction:
		return "lightgreen"
	case models.NodeClass:
		return "lightsalmon"
	case models.NodeImport:
		return "lightgray"
	default:
		return "white"
	}
}
