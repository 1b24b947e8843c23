package graph

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ivanmarin/codegraph/pkg/models"
)

func newTestFacade(eng *mockEngine) *SearchFacade {
	return NewSearchFacade(newTestStore(eng), discardLogger())
}

func functionNode(id, name, filePath string) models.GraphNode {
	return models.GraphNode{
		ID:   id,
		Type: models.NodeFunction,
		Name: name,
		Properties: map[string]any{
			"file_path": filePath,
		},
	}
}

func TestSearchSemanticScoresAndCaches(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("CONTAINS toLower($term)", vertexResult(
		functionNode("f1", "ParseConfig", "src/config.go"),
	), nil)
	f := newTestFacade(eng)

	results, err := f.Search(context.Background(), "parse", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}

	// Function with a file path under semantic search: 0.5 + 0.2 + 0.1 + 0.1.
	if got := results[0].Score; math.Abs(got-0.9) > 1e-9 {
		t.Errorf("Score = %v, want 0.9", got)
	}
	if results[0].MatchType != SearchSemantic {
		t.Errorf("MatchType = %s, want semantic", results[0].MatchType)
	}

	// Identical search answers from the cache.
	if _, err := f.Search(context.Background(), "parse", SearchOptions{}); err != nil {
		t.Fatal(err)
	}
	if n := eng.callCount("CONTAINS toLower($term)"); n != 1 {
		t.Errorf("engine searches = %d, want 1", n)
	}
}

func TestSearchFuzzyOmitsSemanticBonus(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("CONTAINS toLower($term)", vertexResult(
		functionNode("f1", "ParseConfig", "src/config.go"),
	), nil)
	f := newTestFacade(eng)

	results, err := f.Search(context.Background(), "parse", SearchOptions{Type: SearchFuzzy})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := results[0].Score; math.Abs(got-0.8) > 1e-9 {
		t.Errorf("Score = %v, want 0.8", got)
	}
}

func TestSearchFiltersApplied(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("CONTAINS toLower($term)", vertexResult(
		functionNode("f1", "ParseConfig", "src/config.go"),
		models.GraphNode{ID: "c1", Type: models.NodeClass, Name: "ParseTree",
			Properties: map[string]any{"file_path": "src/tree.go"}},
	), nil)
	f := newTestFacade(eng)

	results, err := f.Search(context.Background(), "parse", SearchOptions{
		Filters: map[string]string{"type": "Class"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Node.ID != "c1" {
		t.Errorf("results = %+v", results)
	}

	// Property filters match against node properties.
	results, err = f.Search(context.Background(), "parse", SearchOptions{
		Filters: map[string]string{"file_path": "src/config.go"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Node.ID != "f1" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchUnknownType(t *testing.T) {
	f := newTestFacade(&mockEngine{})

	if _, err := f.Search(context.Background(), "q", SearchOptions{Type: "regex"}); err == nil {
		t.Error("unknown search type must fail")
	}
}

func TestSearchPathRequiresTarget(t *testing.T) {
	f := newTestFacade(&mockEngine{})

	if _, err := f.Search(context.Background(), "a", SearchOptions{Type: SearchPath}); err == nil {
		t.Error("path search without a target must fail")
	}
}

func TestSearchPathScoresByLength(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("shortestPath", &Result{Rows: []Row{{Kind: RowPath, Path: &PathResult{
		Relationships: []models.GraphRelationship{
			{ID: "r1"}, {ID: "r2"}, {ID: "r3"}, {ID: "r4"},
		},
	}}}}, nil)
	f := newTestFacade(eng)

	results, err := f.Search(context.Background(), "a", SearchOptions{Type: SearchPath, TargetID: "b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	// 0.6 + 0.2 * (1 - 4/20) = 0.76.
	if got := results[0].Score; math.Abs(got-0.76) > 1e-9 {
		t.Errorf("Score = %v, want 0.76", got)
	}
}

func TestSearchPathUnreachableReturnsNoResults(t *testing.T) {
	f := newTestFacade(&mockEngine{})

	results, err := f.Search(context.Background(), "a", SearchOptions{Type: SearchPath, TargetID: "b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestSearchRelationshipLimits(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("RETURN DISTINCT related", vertexResult(
		functionNode("f1", "a", "x.go"),
		functionNode("f2", "b", "x.go"),
		functionNode("f3", "c", "x.go"),
	), nil)
	f := newTestFacade(eng)

	results, err := f.Search(context.Background(), "n1", SearchOptions{
		Type:  SearchRelationship,
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}

func TestPathScoreLongPathNoBonus(t *testing.T) {
	if got := pathScore(20); got != 0.6 {
		t.Errorf("pathScore(20) = %v, want 0.6", got)
	}
	if got := pathScore(0); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("pathScore(0) = %v, want 0.8", got)
	}
}

func TestRelevanceScoreClamped(t *testing.T) {
	node := models.GraphNode{
		Type:       models.NodeClass,
		Properties: map[string]any{"file_path": "a.go"},
	}
	// 0.5 + 0.2 + 0.15 + 0.1 = 0.95, within bounds.
	if got := relevanceScore(node, SearchSemantic); got > 1 {
		t.Errorf("score %v exceeds 1", got)
	}
	bare := models.GraphNode{Type: models.NodeImport}
	if got := relevanceScore(bare, SearchFuzzy); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("bare node score = %v, want 0.5", got)
	}
}

func TestAnalyzeGraphJoinsResults(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("CALL community_detection.get()", &Result{Rows: []Row{
		{Kind: RowRaw, Values: map[string]any{
			"node":         functionNode("f1", "a", "x.go"),
			"community_id": int64(7),
		}},
	}}, nil)
	eng.stub("CALL pagerank.get()", &Result{Rows: []Row{
		{Kind: RowRaw, Values: map[string]any{
			"node": functionNode("f1", "a", "x.go"),
			"rank": 0.42,
		}},
	}}, nil)
	f := newTestFacade(eng)

	analysis, err := f.AnalyzeGraph(context.Background(), AnalyzeOptions{
		Communities: true,
		PageRank:    true,
		PathPairs:   [][2]string{{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("AnalyzeGraph: %v", err)
	}
	if len(analysis.Communities) != 1 || analysis.Communities[0].CommunityID != 7 {
		t.Errorf("Communities = %+v", analysis.Communities)
	}
	if len(analysis.Ranks) != 1 || analysis.Ranks[0].Rank != 0.42 {
		t.Errorf("Ranks = %+v", analysis.Ranks)
	}
	if len(analysis.Paths) != 1 {
		t.Errorf("Paths = %d, want 1", len(analysis.Paths))
	}
}

func TestAnalyzeGraphJoinsErrors(t *testing.T) {
	eng := &mockEngine{}
	eng.stub("CALL community_detection.get()", nil, errors.New("connection refused"))
	f := newTestFacade(eng)

	_, err := f.AnalyzeGraph(context.Background(), AnalyzeOptions{Communities: true, PageRank: true})
	if err == nil {
		t.Fatal("expected joined error")
	}
}

func TestAnalyzeGraphNothingRequested(t *testing.T) {
	f := newTestFacade(&mockEngine{})

	analysis, err := f.AnalyzeGraph(context.Background(), AnalyzeOptions{})
	if err != nil {
		t.Fatalf("AnalyzeGraph: %v", err)
	}
	if analysis.Communities != nil || analysis.Ranks != nil || analysis.Paths != nil {
		t.Errorf("analysis = %+v, want empty", analysis)
	}
}
