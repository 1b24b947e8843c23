package graph

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ivanmarin/codegraph/pkg/models"
)

// SpaceConfig describes the logical graph namespace holding one project.
type SpaceConfig struct {
	Name          string
	PartitionNum  int
	ReplicaFactor int
	VidType       string
}

// StoreResult is the outcome of a bulk persistence operation.
type StoreResult struct {
	Success              bool     `json:"success"`
	NodesCreated         int      `json:"nodes_created"`
	RelationshipsCreated int      `json:"relationships_created"`
	Errors               []string `json:"errors,omitempty"`
}

// GraphStats aggregates the shape of the stored graph.
type GraphStats struct {
	Tags               []string         `json:"tags"`
	EdgeTypes          []string         `json:"edge_types"`
	NodeCounts         map[string]int64 `json:"node_counts"`
	EdgeCounts         map[string]int64 `json:"edge_counts"`
	TotalNodes         int64            `json:"total_nodes"`
	TotalRelationships int64            `json:"total_relationships"`
}

// Store orchestrates the catalog, batch executor, cache, tracker, and
// recovery coordinator into graph read/write operations. All collaborators
// are constructor-injected; the store owns no ambient state.
type Store struct {
	engine   Engine
	catalog  *Catalog
	executor *BatchExecutor
	cache    *Cache
	tracker  *PerformanceTracker
	recovery *Coordinator
	space    SpaceConfig
	logger   *slog.Logger
}

// NewStore wires a graph store from its collaborators.
func NewStore(engine Engine, catalog *Catalog, executor *BatchExecutor, cache *Cache,
	tracker *PerformanceTracker, recovery *Coordinator, space SpaceConfig, logger *slog.Logger) *Store {
	return &Store{
		engine:   engine,
		catalog:  catalog,
		executor: executor,
		cache:    cache,
		tracker:  tracker,
		recovery: recovery,
		space:    space,
		logger:   logger,
	}
}

// Close stops the cache sweep and releases the engine connection.
func (s *Store) Close() error {
	s.cache.Stop()
	return s.engine.Close()
}

// StoreParsedFiles persists parsed files as File vertices, chunk vertices,
// and the connecting relationships.
func (s *Store) StoreParsedFiles(ctx context.Context, files []models.ParsedFile) StoreResult {
	var nodes []models.GraphNode
	var rels []models.GraphRelationship
	for _, f := range files {
		fn, fr := entitiesForFile(f)
		nodes = append(nodes, fn...)
		rels = append(rels, fr...)
	}
	return s.persist(ctx, "store_parsed_files", nodes, rels)
}

// StoreChunks persists chunks for files already present in the graph.
func (s *Store) StoreChunks(ctx context.Context, chunks []models.CodeChunk) StoreResult {
	var nodes []models.GraphNode
	var rels []models.GraphRelationship
	for _, c := range chunks {
		n, r := entitiesForChunk(c, c.FilePath)
		nodes = append(nodes, n)
		rels = append(rels, r...)
	}
	return s.persist(ctx, "store_chunks", nodes, rels)
}

// entitiesForFile converts one parsed file into graph entities: the File
// vertex, one vertex per chunk, CONTAINS/IMPORTS edges to the chunks, and
// a BELONGS_TO edge to the project when one is set.
func entitiesForFile(f models.ParsedFile) ([]models.GraphNode, []models.GraphRelationship) {
	fileNode := models.GraphNode{
		ID:   f.FilePath,
		Type: models.NodeFile,
		Name: filepath.Base(f.FilePath),
		Properties: map[string]any{
			"file_path":    f.FilePath,
			"language":     f.Language,
			"content_hash": f.ContentHash,
		},
	}

	nodes := []models.GraphNode{fileNode}
	var rels []models.GraphRelationship

	if f.ProjectID != "" {
		rels = append(rels, models.GraphRelationship{
			ID:       uuid.NewString(),
			Type:     models.EdgeBelongsTo,
			SourceID: fileNode.ID,
			TargetID: f.ProjectID,
		})
	}

	for _, c := range f.Chunks {
		n, r := entitiesForChunk(c, fileNode.ID)
		nodes = append(nodes, n)
		rels = append(rels, r...)
	}
	return nodes, rels
}

// entitiesForChunk converts one chunk into its vertex plus the edges the
// chunk's kind and metadata imply.
func entitiesForChunk(c models.CodeChunk, fileID string) (models.GraphNode, []models.GraphRelationship) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	node := models.GraphNode{
		ID:   id,
		Type: models.NodeTypeForChunk(c.Type),
		Name: c.Name,
		Properties: map[string]any{
			"file_path":  c.FilePath,
			"start_line": c.StartLine,
			"end_line":   c.EndLine,
			"kind":       string(c.Type),
		},
	}

	edgeType := models.EdgeContains
	if c.Type == models.ChunkImport {
		edgeType = models.EdgeImports
	}
	rels := []models.GraphRelationship{{
		ID:       uuid.NewString(),
		Type:     edgeType,
		SourceID: fileID,
		TargetID: id,
	}}

	// Call/inheritance targets arrive as resolved entity IDs in the chunk
	// metadata, comma-separated.
	for key, rel := range map[string]models.RelationshipType{
		"calls":      models.EdgeCalls,
		"extends":    models.EdgeExtends,
		"implements": models.EdgeImplements,
	} {
		for _, target := range splitTargets(c.Metadata[key]) {
			rels = append(rels, models.GraphRelationship{
				ID:       uuid.NewString(),
				Type:     rel,
				SourceID: id,
				TargetID: target,
			})
		}
	}
	return node, rels
}

func splitTargets(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// persist writes nodes then relationships in adaptive batches. Failures are
// classified; a retryable class that the coordinator recovers from earns the
// group one more attempt before being reported.
func (s *Store) persist(ctx context.Context, operation string, nodes []models.GraphNode, rels []models.GraphRelationship) StoreResult {
	result := StoreResult{}

	byTag := make(map[models.NodeType][]models.GraphNode)
	for _, n := range nodes {
		byTag[n.Type] = append(byTag[n.Type], n)
	}
	for _, tag := range models.AllNodeTypes() {
		group := byTag[tag]
		if len(group) == 0 {
			continue
		}
		if err := s.writeNodeGroup(ctx, operation, tag, group); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("nodes %s: %v", tag, err))
			continue
		}
		result.NodesCreated += len(group)
	}

	byType := make(map[models.RelationshipType][]models.GraphRelationship)
	for _, r := range rels {
		byType[r.Type] = append(byType[r.Type], r)
	}
	for _, edgeType := range models.AllRelationshipTypes() {
		group := byType[edgeType]
		if len(group) == 0 {
			continue
		}
		if err := s.writeEdgeGroup(ctx, operation, edgeType, group); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("relationships %s: %v", edgeType, err))
			continue
		}
		result.RelationshipsCreated += len(group)
	}

	result.Success = len(result.Errors) == 0
	s.logger.Info("graph write complete",
		"operation", operation,
		"nodes", result.NodesCreated,
		"relationships", result.RelationshipsCreated,
		"errors", len(result.Errors),
	)
	return result
}

func (s *Store) writeNodeGroup(ctx context.Context, operation string, tag models.NodeType, group []models.GraphNode) error {
	write := func() error {
		return s.executor.Execute(ctx, len(group), func(ctx context.Context, start, end int) error {
			_, err := s.engine.ExecuteWrite(ctx, s.catalog.InsertVertices(tag, group[start:end]))
			return err
		})
	}
	return s.writeWithRecovery(ctx, operation, write)
}

func (s *Store) writeEdgeGroup(ctx context.Context, operation string, edgeType models.RelationshipType, group []models.GraphRelationship) error {
	write := func() error {
		return s.executor.Execute(ctx, len(group), func(ctx context.Context, start, end int) error {
			_, err := s.engine.ExecuteWrite(ctx, s.catalog.InsertEdges(edgeType, group[start:end]))
			return err
		})
	}
	return s.writeWithRecovery(ctx, operation, write)
}

// writeWithRecovery runs a write, routing failures through the recovery
// coordinator. A recovered retryable failure earns exactly one re-attempt.
func (s *Store) writeWithRecovery(ctx context.Context, operation string, write func() error) error {
	err := write()
	if err == nil {
		return nil
	}
	outcome := s.recovery.Handle(ctx, err, "graph_store", operation)
	if outcome.Recovered {
		if retryErr := write(); retryErr == nil {
			return nil
		}
	}
	return err
}

// CreateNode upserts a single vertex. An empty ID gets a generated one;
// the assigned ID is returned.
func (s *Store) CreateNode(ctx context.Context, node models.GraphNode) (string, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if _, err := s.engine.ExecuteWrite(ctx, s.catalog.InsertVertex(node)); err != nil {
		s.recovery.Handle(ctx, err, "graph_store", "create_node")
		return "", fmt.Errorf("creating node %s: %w", node.ID, err)
	}
	return node.ID, nil
}

// CreateRelationship upserts a single edge between existing vertices.
func (s *Store) CreateRelationship(ctx context.Context, rel models.GraphRelationship) (string, error) {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if _, err := s.engine.ExecuteWrite(ctx, s.catalog.InsertEdge(rel)); err != nil {
		s.recovery.Handle(ctx, err, "graph_store", "create_relationship")
		return "", fmt.Errorf("creating relationship %s: %w", rel.ID, err)
	}
	return rel.ID, nil
}

// FindRelatedNodes returns nodes reachable from nodeID within maxDepth
// hops, optionally restricted to relationship types. Results are cached.
func (s *Store) FindRelatedNodes(ctx context.Context, nodeID string, relTypes []models.RelationshipType, maxDepth int) ([]models.GraphNode, error) {
	typeNames := make([]string, len(relTypes))
	for i, t := range relTypes {
		typeNames[i] = string(t)
	}
	key := cacheKey("related", nodeID, strings.Join(typeNames, "|"), strconv.Itoa(maxDepth))

	if cached, ok := s.cache.Get(NamespaceQuery, key); ok {
		s.tracker.CacheHit()
		return cached.([]models.GraphNode), nil
	}
	s.tracker.CacheMiss()

	result, err := s.timedRead(ctx, s.catalog.Traverse(nodeID, relTypes, maxDepth))
	if err != nil {
		s.recovery.Handle(ctx, err, "graph_store", "find_related_nodes")
		return nil, fmt.Errorf("traversing from %s: %w", nodeID, err)
	}

	nodes := result.Vertices()
	s.cache.Set(NamespaceQuery, key, nodes, 0)
	return nodes, nil
}

// FindPath returns the relationship chain between two nodes, or an empty
// chain when no path exists within maxDepth. Unreachable is not an error.
func (s *Store) FindPath(ctx context.Context, sourceID, targetID string, maxDepth int) ([]models.GraphRelationship, error) {
	result, err := s.timedRead(ctx, s.catalog.ShortestPath(sourceID, targetID, maxDepth))
	if err != nil {
		s.recovery.Handle(ctx, err, "graph_store", "find_path")
		return nil, fmt.Errorf("finding path %s -> %s: %w", sourceID, targetID, err)
	}

	paths := result.Paths()
	if len(paths) == 0 {
		return []models.GraphRelationship{}, nil
	}
	return paths[0].Relationships, nil
}

// NodeExists reports whether a vertex with the given ID is present,
// answering from the existence cache when possible.
func (s *Store) NodeExists(ctx context.Context, nodeID string) (bool, error) {
	key := cacheKey("exists", nodeID)
	if cached, ok := s.cache.Get(NamespaceExistence, key); ok {
		s.tracker.CacheHit()
		return cached.(bool), nil
	}
	s.tracker.CacheMiss()

	result, err := s.timedRead(ctx, s.catalog.NodeExists(nodeID))
	if err != nil {
		return false, fmt.Errorf("checking node %s: %w", nodeID, err)
	}

	exists := firstCount(result) > 0
	s.cache.Set(NamespaceExistence, key, exists, 0)
	return exists, nil
}

// GetGraphStats enumerates tags and edge types plus per-type counts,
// cached in the stats namespace.
func (s *Store) GetGraphStats(ctx context.Context) (*GraphStats, error) {
	key := cacheKey("stats", "graph")
	if cached, ok := s.cache.Get(NamespaceStats, key); ok {
		s.tracker.CacheHit()
		return cached.(*GraphStats), nil
	}
	s.tracker.CacheMiss()

	stats := &GraphStats{
		NodeCounts: make(map[string]int64),
		EdgeCounts: make(map[string]int64),
	}

	tagsResult, err := s.timedRead(ctx, s.catalog.ShowTags())
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	stats.Tags = firstStrings(tagsResult)

	edgesResult, err := s.timedRead(ctx, s.catalog.ShowEdges())
	if err != nil {
		return nil, fmt.Errorf("listing edge types: %w", err)
	}
	stats.EdgeTypes = firstStrings(edgesResult)

	for _, tag := range models.AllNodeTypes() {
		result, err := s.timedRead(ctx, s.catalog.CountByType(tag))
		if err != nil {
			return nil, fmt.Errorf("counting %s vertices: %w", tag, err)
		}
		n := firstCount(result)
		stats.NodeCounts[string(tag)] = n
		stats.TotalNodes += n
	}
	for _, edgeType := range models.AllRelationshipTypes() {
		result, err := s.timedRead(ctx, s.catalog.CountEdgesByType(edgeType))
		if err != nil {
			return nil, fmt.Errorf("counting %s edges: %w", edgeType, err)
		}
		n := firstCount(result)
		stats.EdgeCounts[string(edgeType)] = n
		stats.TotalRelationships += n
	}

	s.cache.Set(NamespaceStats, key, stats, 0)
	return stats, nil
}

// ScanNodes returns a page of nodes matching the filter.
func (s *Store) ScanNodes(ctx context.Context, filter NodeScanFilter, limit, offset int) ([]models.GraphNode, error) {
	key := cacheKey("scan", filter.normalized(), strconv.Itoa(limit), strconv.Itoa(offset))
	if cached, ok := s.cache.Get(NamespaceQuery, key); ok {
		s.tracker.CacheHit()
		return cached.([]models.GraphNode), nil
	}
	s.tracker.CacheMiss()

	result, err := s.timedRead(ctx, s.catalog.ScanNodes(filter, limit, offset))
	if err != nil {
		return nil, fmt.Errorf("scanning nodes: %w", err)
	}
	nodes := result.Vertices()
	s.cache.Set(NamespaceQuery, key, nodes, 0)
	return nodes, nil
}

// ScanRelationships returns a page of relationships.
func (s *Store) ScanRelationships(ctx context.Context, limit, offset int) ([]models.GraphRelationship, error) {
	result, err := s.timedRead(ctx, s.catalog.ScanRelationships(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("scanning relationships: %w", err)
	}
	var rels []models.GraphRelationship
	for _, row := range result.Rows {
		if row.Kind == RowEdge && row.Edge != nil {
			rels = append(rels, *row.Edge)
		}
	}
	return rels, nil
}

// UpdateNodeProperty updates one curated property on a vertex. The cache
// is deliberately not invalidated: entries expire by TTL, trading a
// bounded staleness window for write throughput.
func (s *Store) UpdateNodeProperty(ctx context.Context, nodeID, key string, value any) error {
	q, err := s.catalog.UpdateVertexProperty(nodeID, key, value)
	if err != nil {
		return err
	}
	if _, err := s.engine.ExecuteWrite(ctx, q); err != nil {
		s.recovery.Handle(ctx, err, "graph_store", "update_node_property")
		return fmt.Errorf("updating %s on %s: %w", key, nodeID, err)
	}
	return nil
}

// DeleteNodes removes vertices and their edges in batches. The cache is
// cleared whether or not the deletes succeed.
func (s *Store) DeleteNodes(ctx context.Context, ids []string) error {
	defer s.cache.ClearAll()

	err := s.executor.Execute(ctx, len(ids), func(ctx context.Context, start, end int) error {
		_, werr := s.engine.ExecuteWrite(ctx, s.catalog.DeleteVertices(ids[start:end]))
		return werr
	})
	if err != nil {
		s.recovery.Handle(ctx, err, "graph_store", "delete_nodes")
		return fmt.Errorf("deleting %d nodes: %w", len(ids), err)
	}
	return nil
}

// EnsureSpace creates the configured space if needed, waits for it to be
// ready, and applies the fixed schema idempotently.
func (s *Store) EnsureSpace(ctx context.Context) error {
	if _, err := s.engine.ExecuteWrite(ctx, s.catalog.CreateSpace(
		s.space.Name, s.space.PartitionNum, s.space.ReplicaFactor, s.space.VidType)); err != nil {
		return fmt.Errorf("creating space %s: %w", s.space.Name, err)
	}
	if err := s.waitSpaceReady(ctx); err != nil {
		return err
	}
	return s.applySchema(ctx)
}

// DropSpace drops the space and waits for it to be gone, leaving nothing
// behind. Like ClearGraph, failures propagate raw and the cache is cleared
// regardless of outcome.
func (s *Store) DropSpace(ctx context.Context) error {
	defer s.cache.ClearAll()

	s.logger.Info("dropping space", "space", s.space.Name)
	return s.dropAndWait(ctx)
}

func (s *Store) dropAndWait(ctx context.Context) error {
	if _, err := s.engine.ExecuteWrite(ctx, s.catalog.DropSpace(s.space.Name)); err != nil {
		return fmt.Errorf("dropping space %s: %w", s.space.Name, err)
	}
	return s.executor.PollUntil(ctx, "space deletion", func(ctx context.Context) (bool, error) {
		exists, err := s.spaceExists(ctx)
		return err == nil && !exists, err
	})
}

// ClearGraph drops the space, waits for it to be gone, recreates it, and
// reapplies the schema. Slower than an in-place bulk delete, but certain.
// Space administration failures propagate raw: automatic retry of
// irreversible operations is unsafe without confirmation. The cache is
// cleared exactly once no matter how far the sequence got.
func (s *Store) ClearGraph(ctx context.Context) error {
	defer s.cache.ClearAll()

	s.logger.Info("clearing graph", "space", s.space.Name)
	if err := s.dropAndWait(ctx); err != nil {
		return err
	}
	return s.EnsureSpace(ctx)
}

func (s *Store) waitSpaceReady(ctx context.Context) error {
	return s.executor.PollUntil(ctx, "space readiness", func(ctx context.Context) (bool, error) {
		if _, err := s.engine.ExecuteRead(ctx, s.catalog.DescribeSpace(s.space.Name)); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *Store) spaceExists(ctx context.Context) (bool, error) {
	result, err := s.engine.ExecuteRead(ctx, s.catalog.ShowSpaces())
	if err != nil {
		return false, err
	}
	for _, name := range firstStrings(result) {
		if name == s.space.Name {
			return true, nil
		}
	}
	return false, nil
}

// applySchema creates every tag and edge type. The DDL is idempotent.
func (s *Store) applySchema(ctx context.Context) error {
	for _, tag := range models.AllNodeTypes() {
		if _, err := s.engine.ExecuteWrite(ctx, s.catalog.CreateTag(tag)); err != nil {
			return fmt.Errorf("creating tag %s: %w", tag, err)
		}
	}
	for _, edgeType := range models.AllRelationshipTypes() {
		if _, err := s.engine.ExecuteWrite(ctx, s.catalog.CreateEdge(edgeType)); err != nil {
			return fmt.Errorf("creating edge type %s: %w", edgeType, err)
		}
	}
	s.logger.Info("graph schema applied", "space", s.space.Name)
	return nil
}

// timedRead executes a read and records its latency.
func (s *Store) timedRead(ctx context.Context, q GraphQuery) (*Result, error) {
	started := time.Now()
	result, err := s.engine.ExecuteRead(ctx, q)
	s.tracker.ObserveQuery(time.Since(started))
	return result, err
}

// firstCount extracts an integer total from the first row.
func firstCount(r *Result) int64 {
	if r == nil || len(r.Rows) == 0 {
		return 0
	}
	for _, v := range r.Rows[0].Values {
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			return int64(n)
		}
	}
	return 0
}

// firstStrings extracts the first string column of every row, used for
// SHOW-style listings.
func firstStrings(r *Result) []string {
	var out []string
	for _, row := range r.Rows {
		for _, v := range row.Values {
			if s, ok := v.(string); ok {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
