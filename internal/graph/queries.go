package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ivanmarin/codegraph/pkg/models"
)

// GraphQuery is a parameterized statement. Once built it is never mutated;
// retries re-execute the identical query. Values always travel through
// Params — only curated type and label identifiers are templated into the
// statement text.
type GraphQuery struct {
	Statement string
	Params    map[string]any
}

// DefaultScanLimit caps unfiltered scans when the caller gives no limit.
const DefaultScanLimit = 1000

const maxTraversalDepth = 10

// Catalog builds the parameterized statements used by the store and the
// search facade. It is stateless and safe for concurrent use.
type Catalog struct{}

// NewCatalog returns a statement catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// nodeParams flattens a node for an UNWIND batch. Properties are carried
// as a JSON string so free-form maps survive engines with scalar-only
// property values.
func nodeParams(n models.GraphNode) map[string]any {
	props, _ := json.Marshal(n.Properties)
	return map[string]any{
		"id":         n.ID,
		"name":       n.Name,
		"properties": string(props),
	}
}

func relationshipParams(r models.GraphRelationship) map[string]any {
	props, _ := json.Marshal(r.Properties)
	return map[string]any{
		"id":         r.ID,
		"source_id":  r.SourceID,
		"target_id":  r.TargetID,
		"properties": string(props),
	}
}

// InsertVertex builds an upsert for a single node.
func (c *Catalog) InsertVertex(n models.GraphNode) GraphQuery {
	return c.InsertVertices(n.Type, []models.GraphNode{n})
}

// InsertEdge builds an upsert for a single relationship.
func (c *Catalog) InsertEdge(r models.GraphRelationship) GraphQuery {
	return c.InsertEdges(r.Type, []models.GraphRelationship{r})
}

// InsertVertices builds a batched upsert for nodes sharing one vertex tag.
func (c *Catalog) InsertVertices(tag models.NodeType, nodes []models.GraphNode) GraphQuery {
	batch := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		batch[i] = nodeParams(n)
	}
	stmt := fmt.Sprintf(`
		UNWIND $batch AS n
		MERGE (v:%s {id: n.id})
		SET v.name = n.name,
		    v.properties = n.properties
	`, "`"+string(tag)+"`")
	return GraphQuery{Statement: stmt, Params: map[string]any{"batch": batch}}
}

// InsertEdges builds a batched upsert for relationships sharing one edge type.
// Source and target vertices must already exist; edges to missing vertices
// match nothing and are silently skipped by the engine.
func (c *Catalog) InsertEdges(edgeType models.RelationshipType, rels []models.GraphRelationship) GraphQuery {
	batch := make([]map[string]any, len(rels))
	for i, r := range rels {
		batch[i] = relationshipParams(r)
	}
	stmt := fmt.Sprintf(`
		UNWIND $batch AS r
		MATCH (a {id: r.source_id})
		MATCH (b {id: r.target_id})
		MERGE (a)-[e:%s {id: r.id}]->(b)
		SET e.properties = r.properties
	`, "`"+string(edgeType)+"`")
	return GraphQuery{Statement: stmt, Params: map[string]any{"batch": batch}}
}

// allowedPropertyKeys is the curated set of vertex properties that
// UpdateVertexProperty may target. Property names cannot be parameterized,
// so anything outside this set is rejected before it reaches the statement.
var allowedPropertyKeys = map[string]bool{
	"name":         true,
	"properties":   true,
	"content_hash": true,
	"language":     true,
	"file_path":    true,
	"start_line":   true,
	"end_line":     true,
}

// UpdateVertexProperty builds a single-property update. The key must be in
// the curated property set; the value always goes through the parameter map.
func (c *Catalog) UpdateVertexProperty(nodeID, key string, value any) (GraphQuery, error) {
	if !allowedPropertyKeys[key] {
		return GraphQuery{}, fmt.Errorf("property %q is not an updatable vertex property", key)
	}
	stmt := fmt.Sprintf(`
		MATCH (v {id: $id})
		SET v.%s = $value
	`, key)
	return GraphQuery{Statement: stmt, Params: map[string]any{"id": nodeID, "value": value}}, nil
}

// Traverse builds a bounded-depth traversal from a start node, optionally
// restricted to a set of relationship types. Unknown relationship types are
// dropped; depth is clamped to [1, 10] with a default of 2.
func (c *Catalog) Traverse(nodeID string, relTypes []models.RelationshipType, maxDepth int) GraphQuery {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}

	typeFilter := ""
	if names := curatedEdgeNames(relTypes); len(names) > 0 {
		typeFilter = ":" + strings.Join(names, "|")
	}

	stmt := fmt.Sprintf(`
		MATCH (start {id: $id})-[%s*1..%d]-(related)
		WHERE related.id <> $id
		RETURN DISTINCT related
	`, typeFilter, maxDepth)
	return GraphQuery{Statement: stmt, Params: map[string]any{"id": nodeID}}
}

// curatedEdgeNames filters relationship types down to the fixed schema set.
func curatedEdgeNames(relTypes []models.RelationshipType) []string {
	known := make(map[models.RelationshipType]bool)
	for _, t := range models.AllRelationshipTypes() {
		known[t] = true
	}
	var names []string
	for _, t := range relTypes {
		if known[t] {
			names = append(names, "`"+string(t)+"`")
		}
	}
	return names
}

// NodeScanFilter narrows a paginated node scan. Zero-value fields are
// ignored; an empty filter scans everything up to the limit.
type NodeScanFilter struct {
	Type         models.NodeType
	NameContains string
	FilePath     string
}

// normalized returns the filter as a sorted key=value list, used for
// cache-key derivation so identical effective scans share a key.
func (f NodeScanFilter) normalized() string {
	parts := make([]string, 0, 3)
	if f.Type != "" {
		parts = append(parts, "type="+string(f.Type))
	}
	if f.NameContains != "" {
		parts = append(parts, "name="+f.NameContains)
	}
	if f.FilePath != "" {
		parts = append(parts, "path="+f.FilePath)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// ScanNodes builds a paginated scan with optional filters. A zero or
// negative limit falls back to DefaultScanLimit.
func (c *Catalog) ScanNodes(filter NodeScanFilter, limit, offset int) GraphQuery {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	if offset < 0 {
		offset = 0
	}

	label := ""
	if filter.Type != "" {
		label = ":`" + string(filter.Type) + "`"
	}

	var where []string
	params := map[string]any{"limit": limit, "offset": offset}
	if filter.NameContains != "" {
		where = append(where, "toLower(n.name) CONTAINS toLower($name)")
		params["name"] = filter.NameContains
	}
	if filter.FilePath != "" {
		where = append(where, "n.file_path = $file_path")
		params["file_path"] = filter.FilePath
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ") + "\n\t\t"
	}

	stmt := fmt.Sprintf(`
		MATCH (n%s)
		%sRETURN n
		ORDER BY n.id
		SKIP $offset LIMIT $limit
	`, label, whereClause)
	return GraphQuery{Statement: stmt, Params: params}
}

// ScanRelationships builds a paginated scan over all edges.
func (c *Catalog) ScanRelationships(limit, offset int) GraphQuery {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	if offset < 0 {
		offset = 0
	}
	return GraphQuery{
		Statement: `
		MATCH (a)-[e]->(b)
		RETURN e
		ORDER BY e.id
		SKIP $offset LIMIT $limit
	`,
		Params: map[string]any{"limit": limit, "offset": offset},
	}
}

// CountByType builds a vertex count for one tag.
func (c *Catalog) CountByType(tag models.NodeType) GraphQuery {
	stmt := fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS total", "`"+string(tag)+"`")
	return GraphQuery{Statement: stmt, Params: map[string]any{}}
}

// CountEdgesByType builds an edge count for one relationship type.
func (c *Catalog) CountEdgesByType(edgeType models.RelationshipType) GraphQuery {
	stmt := fmt.Sprintf("MATCH ()-[e:%s]->() RETURN count(e) AS total", "`"+string(edgeType)+"`")
	return GraphQuery{Statement: stmt, Params: map[string]any{}}
}

// NodeExists builds an existence check for one vertex ID.
func (c *Catalog) NodeExists(nodeID string) GraphQuery {
	return GraphQuery{
		Statement: "MATCH (n {id: $id}) RETURN count(n) AS total",
		Params:    map[string]any{"id": nodeID},
	}
}

// ShortestPath builds a shortest-path lookup between two vertices, bounded
// by maxDepth hops.
func (c *Catalog) ShortestPath(sourceID, targetID string, maxDepth int) GraphQuery {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}
	stmt := fmt.Sprintf(`
		MATCH p = shortestPath((a {id: $source})-[*..%d]-(b {id: $target}))
		RETURN p
	`, maxDepth)
	return GraphQuery{Statement: stmt, Params: map[string]any{"source": sourceID, "target": targetID}}
}

// DeleteVertices builds a detach-delete for a set of vertex IDs.
func (c *Catalog) DeleteVertices(ids []string) GraphQuery {
	return GraphQuery{
		Statement: "MATCH (n) WHERE n.id IN $ids DETACH DELETE n",
		Params:    map[string]any{"ids": ids},
	}
}

// SearchByName builds a fuzzy name lookup across all tags.
func (c *Catalog) SearchByName(term string, limit int) GraphQuery {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	return GraphQuery{
		Statement: `
		MATCH (n)
		WHERE toLower(n.name) CONTAINS toLower($term)
		   OR toLower(n.properties) CONTAINS toLower($term)
		RETURN n
		LIMIT $limit
	`,
		Params: map[string]any{"term": term, "limit": limit},
	}
}

// CommunityDetection builds the delegated community-detection call.
func (c *Catalog) CommunityDetection() GraphQuery {
	return GraphQuery{
		Statement: "CALL community_detection.get() YIELD node, community_id RETURN node, community_id",
		Params:    map[string]any{},
	}
}

// PageRank builds the delegated PageRank call.
func (c *Catalog) PageRank() GraphQuery {
	return GraphQuery{
		Statement: "CALL pagerank.get() YIELD node, rank RETURN node, rank ORDER BY rank DESC",
		Params:    map[string]any{},
	}
}

// CreateSpace builds the space-creation statement. Identifiers and sizing
// knobs come from curated configuration, never from user input.
func (c *Catalog) CreateSpace(name string, partitionNum, replicaFactor int, vidType string) GraphQuery {
	if partitionNum <= 0 {
		partitionNum = 10
	}
	if replicaFactor <= 0 {
		replicaFactor = 1
	}
	if vidType == "" {
		vidType = "FIXED_STRING(256)"
	}
	stmt := fmt.Sprintf(
		"CREATE SPACE IF NOT EXISTS `%s` (partition_num = %d, replica_factor = %d, vid_type = %s)",
		name, partitionNum, replicaFactor, vidType,
	)
	return GraphQuery{Statement: stmt, Params: map[string]any{}}
}

// DropSpace builds the space-drop statement.
func (c *Catalog) DropSpace(name string) GraphQuery {
	return GraphQuery{Statement: fmt.Sprintf("DROP SPACE IF EXISTS `%s`", name), Params: map[string]any{}}
}

// ShowSpaces lists all spaces.
func (c *Catalog) ShowSpaces() GraphQuery {
	return GraphQuery{Statement: "SHOW SPACES", Params: map[string]any{}}
}

// DescribeSpace describes one space; the statement fails while the space
// is still being created or torn down, which the lifecycle polling relies on.
func (c *Catalog) DescribeSpace(name string) GraphQuery {
	return GraphQuery{Statement: fmt.Sprintf("DESCRIBE SPACE `%s`", name), Params: map[string]any{}}
}

// ShowTags lists the vertex tags of the current space.
func (c *Catalog) ShowTags() GraphQuery {
	return GraphQuery{Statement: "SHOW TAGS", Params: map[string]any{}}
}

// ShowEdges lists the edge types of the current space.
func (c *Catalog) ShowEdges() GraphQuery {
	return GraphQuery{Statement: "SHOW EDGES", Params: map[string]any{}}
}

// CreateTag builds the idempotent DDL for one vertex tag.
func (c *Catalog) CreateTag(tag models.NodeType) GraphQuery {
	stmt := fmt.Sprintf(
		"CREATE TAG IF NOT EXISTS `%s` (id string, name string, properties string)",
		string(tag),
	)
	return GraphQuery{Statement: stmt, Params: map[string]any{}}
}

// CreateEdge builds the idempotent DDL for one edge type.
func (c *Catalog) CreateEdge(edgeType models.RelationshipType) GraphQuery {
	stmt := fmt.Sprintf(
		"CREATE EDGE IF NOT EXISTS `%s` (id string, properties string)",
		string(edgeType),
	)
	return GraphQuery{Statement: stmt, Params: map[string]any{}}
}
