package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ivanmarin/codegraph/pkg/models"
)

// SearchType selects the search dispatch.
type SearchType string

// Search types. Semantic is the default.
const (
	SearchSemantic     SearchType = "semantic"
	SearchRelationship SearchType = "relationship"
	SearchPath         SearchType = "path"
	SearchFuzzy        SearchType = "fuzzy"
)

// SearchOptions narrow a search. Zero values take documented defaults.
type SearchOptions struct {
	Type     SearchType
	Limit    int
	MaxDepth int
	Filters  map[string]string
	// TargetID is the path destination for SearchPath; the query string is
	// the source.
	TargetID string
}

// SearchResult is one scored hit.
type SearchResult struct {
	Node      *models.GraphNode `json:"node,omitempty"`
	Path      *PathResult       `json:"path,omitempty"`
	Score     float64           `json:"score"`
	MatchType SearchType        `json:"match_type"`
}

// AnalyzeOptions select which delegated graph algorithms to run.
type AnalyzeOptions struct {
	Communities bool
	PageRank    bool
	// PathPairs requests all-pairs shortest paths among the given node IDs.
	PathPairs [][2]string
	MaxDepth  int
}

// Community is one detected community membership.
type Community struct {
	Node        models.GraphNode `json:"node"`
	CommunityID int64            `json:"community_id"`
}

// RankedNode is one PageRank score.
type RankedNode struct {
	Node models.GraphNode `json:"node"`
	Rank float64          `json:"rank"`
}

// GraphAnalysis joins the results of the requested algorithms.
type GraphAnalysis struct {
	Communities []Community  `json:"communities,omitempty"`
	Ranks       []RankedNode `json:"ranks,omitempty"`
	Paths       []PathResult `json:"paths,omitempty"`
}

// SearchFacade is the single entry point for semantic, relationship, path,
// and fuzzy search plus pass-through graph algorithms. Scoring is a simple,
// explainable heuristic, not a learned ranker.
type SearchFacade struct {
	store  *Store
	logger *slog.Logger
}

// NewSearchFacade creates a facade over a graph store.
func NewSearchFacade(store *Store, logger *slog.Logger) *SearchFacade {
	return &SearchFacade{store: store, logger: logger}
}

// Search dispatches on the option type, consults the query cache, and on a
// miss executes, scores, caches, and records metrics.
func (f *SearchFacade) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	searchType := opts.Type
	if searchType == "" {
		searchType = SearchSemantic
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	key := cacheKey("search",
		query, string(searchType), normalizeFilters(opts.Filters),
		strconv.Itoa(limit), opts.TargetID, strconv.Itoa(opts.MaxDepth))
	if cached, ok := f.store.cache.Get(NamespaceQuery, key); ok {
		f.store.tracker.CacheHit()
		return cached.([]SearchResult), nil
	}
	f.store.tracker.CacheMiss()

	started := time.Now()
	var results []SearchResult
	var err error
	switch searchType {
	case SearchSemantic, SearchFuzzy:
		results, err = f.searchByName(ctx, query, searchType, limit, opts.Filters)
	case SearchRelationship:
		results, err = f.searchRelated(ctx, query, searchType, opts.MaxDepth, limit)
	case SearchPath:
		results, err = f.searchPath(ctx, query, opts.TargetID, opts.MaxDepth)
	default:
		return nil, fmt.Errorf("unknown search type %q", searchType)
	}
	f.store.tracker.ObserveQuery(time.Since(started))
	if err != nil {
		return nil, err
	}

	f.store.cache.Set(NamespaceQuery, key, results, 0)
	return results, nil
}

func (f *SearchFacade) searchByName(ctx context.Context, term string, searchType SearchType, limit int, filters map[string]string) ([]SearchResult, error) {
	result, err := f.store.engine.ExecuteRead(ctx, f.store.catalog.SearchByName(term, limit))
	if err != nil {
		f.store.recovery.Handle(ctx, err, "search_facade", string(searchType))
		return nil, fmt.Errorf("searching %q: %w", term, err)
	}

	results := make([]SearchResult, 0, len(result.Rows))
	for _, node := range result.Vertices() {
		if !matchesFilters(node, filters) {
			continue
		}
		n := node
		results = append(results, SearchResult{
			Node:      &n,
			Score:     relevanceScore(n, searchType),
			MatchType: searchType,
		})
	}
	return results, nil
}

func (f *SearchFacade) searchRelated(ctx context.Context, nodeID string, searchType SearchType, maxDepth, limit int) ([]SearchResult, error) {
	nodes, err := f.store.FindRelatedNodes(ctx, nodeID, nil, maxDepth)
	if err != nil {
		return nil, err
	}
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		n := node
		results = append(results, SearchResult{
			Node:      &n,
			Score:     relevanceScore(n, searchType),
			MatchType: searchType,
		})
	}
	return results, nil
}

func (f *SearchFacade) searchPath(ctx context.Context, sourceID, targetID string, maxDepth int) ([]SearchResult, error) {
	if targetID == "" {
		return nil, errors.New("path search requires a target node ID")
	}
	rels, err := f.store.FindPath(ctx, sourceID, targetID, maxDepth)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return []SearchResult{}, nil
	}
	path := &PathResult{Relationships: rels}
	return []SearchResult{{
		Path:      path,
		Score:     pathScore(path.Length()),
		MatchType: SearchPath,
	}}, nil
}

func matchesFilters(node models.GraphNode, filters map[string]string) bool {
	for key, want := range filters {
		if key == "type" {
			if string(node.Type) != want {
				return false
			}
			continue
		}
		got, ok := node.Properties[key]
		if !ok || fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

// relevanceScore grades a matched node: base 0.5, +0.2 when the node has a
// file path, +0.15 for class/interface kinds, +0.1 for function/method
// kinds, +0.1 extra under semantic search, clamped to [0, 1].
func relevanceScore(node models.GraphNode, searchType SearchType) float64 {
	score := 0.5

	if p, ok := node.Properties["file_path"].(string); ok && p != "" {
		score += 0.2
	}

	switch node.Type {
	case models.NodeClass:
		score += 0.15
	case models.NodeFunction:
		score += 0.1
	}

	if searchType == SearchSemantic {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// pathScore grades a found path: base 0.6 plus up to 0.2 inversely
// proportional to its length; paths of 20 or more hops get no bonus.
func pathScore(hops int) float64 {
	score := 0.6
	if hops < 20 {
		score += 0.2 * (1 - float64(hops)/20)
	}
	return score
}

// AnalyzeGraph runs the requested delegated algorithms concurrently and
// joins their results. There is no ordering guarantee among the
// sub-operations beyond the join.
func (f *SearchFacade) AnalyzeGraph(ctx context.Context, opts AnalyzeOptions) (*GraphAnalysis, error) {
	analysis := &GraphAnalysis{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs []error

	record := func(fn func() error) {
		defer wg.Done()
		err := fn()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}

	if opts.Communities {
		wg.Add(1)
		go record(func() error {
			communities, err := f.detectCommunities(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			analysis.Communities = communities
			mu.Unlock()
			return nil
		})
	}

	if opts.PageRank {
		wg.Add(1)
		go record(func() error {
			ranks, err := f.pageRank(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			analysis.Ranks = ranks
			mu.Unlock()
			return nil
		})
	}

	for _, pair := range opts.PathPairs {
		wg.Add(1)
		source, target := pair[0], pair[1]
		go record(func() error {
			rels, err := f.store.FindPath(ctx, source, target, opts.MaxDepth)
			if err != nil {
				return err
			}
			mu.Lock()
			analysis.Paths = append(analysis.Paths, PathResult{Relationships: rels})
			mu.Unlock()
			return nil
		})
	}

	wg.Wait()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return analysis, nil
}

func (f *SearchFacade) detectCommunities(ctx context.Context) ([]Community, error) {
	result, err := f.store.timedRead(ctx, f.store.catalog.CommunityDetection())
	if err != nil {
		f.store.recovery.Handle(ctx, err, "search_facade", "community_detection")
		return nil, fmt.Errorf("community detection: %w", err)
	}

	var communities []Community
	for _, row := range result.Rows {
		node, ok := row.Values["node"].(models.GraphNode)
		if !ok {
			continue
		}
		communities = append(communities, Community{
			Node:        node,
			CommunityID: asInt64(row.Values["community_id"]),
		})
	}
	return communities, nil
}

func (f *SearchFacade) pageRank(ctx context.Context) ([]RankedNode, error) {
	result, err := f.store.timedRead(ctx, f.store.catalog.PageRank())
	if err != nil {
		f.store.recovery.Handle(ctx, err, "search_facade", "pagerank")
		return nil, fmt.Errorf("pagerank: %w", err)
	}

	var ranks []RankedNode
	for _, row := range result.Rows {
		node, ok := row.Values["node"].(models.GraphNode)
		if !ok {
			continue
		}
		ranks = append(ranks, RankedNode{
			Node: node,
			Rank: asFloat64(row.Values["rank"]),
		})
	}
	return ranks, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
