package retrieval

import (
	"context"
	"testing"

	"github.com/relaymem/core/pkg/memcore"
	"github.com/relaymem/core/pkg/memcore/mock"
)

func TestPreferenceResolver_GraphWinsOnOverlap(t *testing.T) {
	graph := &mock.GraphStore{PreferenceStatementsResult: []memcore.Chunk{{ChunkID: "c1", Text: "graph statement"}}}
	vectors := &mock.VectorStore{SearchResult: []memcore.ScoredChunk{
		{Chunk: memcore.Chunk{ChunkID: "c1", Text: "vector duplicate"}, Score: 0.95},
		{Chunk: memcore.Chunk{ChunkID: "c2", Text: "vector only"}, Score: 0.9},
	}}
	r := NewPreferenceResolver(fakeEmbedder{dims: 4}, vectors, graph)

	env, err := r.Resolve(context.Background(), PreferenceQuery{UserID: "user-1", DecisionTopic: "pizza", ScoreThreshold: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !env.HasPreferences {
		t.Fatal("expected has_preferences=true")
	}
	if len(env.Statements) != 2 {
		t.Fatalf("expected 2 deduplicated statements, got %d", len(env.Statements))
	}
	if env.Statements[0].Source != "graph" || env.Statements[0].Chunk.Text != "graph statement" {
		t.Fatalf("expected the graph tier to win on the overlapping chunk_id, got %+v", env.Statements[0])
	}
	if env.Statements[1].Source != "vector" {
		t.Fatalf("expected the second, non-overlapping statement to come from the vector tier, got %+v", env.Statements[1])
	}
}

func TestPreferenceResolver_ScoreThresholdFiltersVectorHits(t *testing.T) {
	graph := &mock.GraphStore{}
	vectors := &mock.VectorStore{SearchResult: []memcore.ScoredChunk{
		{Chunk: memcore.Chunk{ChunkID: "c1"}, Score: 0.4},
		{Chunk: memcore.Chunk{ChunkID: "c2"}, Score: 0.8},
	}}
	r := NewPreferenceResolver(fakeEmbedder{dims: 4}, vectors, graph)

	env, err := r.Resolve(context.Background(), PreferenceQuery{UserID: "user-1", DecisionTopic: "pizza", ScoreThreshold: 0.6, Limit: 10})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if env.VectorResultCount != 1 {
		t.Fatalf("expected 1 vector hit above threshold, got %d", env.VectorResultCount)
	}
	if len(env.Statements) != 1 || env.Statements[0].Chunk.ChunkID != "c2" {
		t.Fatalf("expected only c2 to survive the score threshold, got %+v", env.Statements)
	}
}

func TestPreferenceResolver_NoPreferencesFound(t *testing.T) {
	graph := &mock.GraphStore{}
	vectors := &mock.VectorStore{}
	r := NewPreferenceResolver(fakeEmbedder{dims: 4}, vectors, graph)

	env, err := r.Resolve(context.Background(), PreferenceQuery{UserID: "user-1", DecisionTopic: "pizza", ScoreThreshold: 0.6, Limit: 10})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if env.HasPreferences {
		t.Fatal("expected has_preferences=false when both tiers return nothing")
	}
}

func TestPreferenceResolver_GraphErrorPropagates(t *testing.T) {
	graph := &mock.GraphStore{PreferenceStatementsErr: errBoom}
	vectors := &mock.VectorStore{}
	r := NewPreferenceResolver(fakeEmbedder{dims: 4}, vectors, graph)

	_, err := r.Resolve(context.Background(), PreferenceQuery{UserID: "user-1", DecisionTopic: "pizza"})
	if err == nil {
		t.Fatal("expected the graph tier error to propagate")
	}
}

var errBoom = &memcore.Error{Kind: memcore.StoreTransient, Op: "test", Err: context.DeadlineExceeded}

func TestPreferenceResolver_ScopeSearchesProjectAndSessionColumns(t *testing.T) {
	graph := &mock.GraphStore{}
	vectors := &scopedVectorStore{
		byProjectID: map[string][]memcore.ScoredChunk{
			"proj-1": {{Chunk: memcore.Chunk{ChunkID: "c-project"}, Score: 0.9}},
		},
		bySessionID: map[string][]memcore.ScoredChunk{
			"proj-1": {{Chunk: memcore.Chunk{ChunkID: "c-session"}, Score: 0.8}},
		},
	}
	r := NewPreferenceResolver(fakeEmbedder{dims: 4}, vectors, graph)

	env, err := r.Resolve(context.Background(), PreferenceQuery{
		UserID: "user-1", DecisionTopic: "pizza", Scope: "proj-1", Limit: 10,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if env.VectorResultCount != 2 {
		t.Fatalf("expected hits from both the project_id and session_id legs, got %d: %+v", env.VectorResultCount, env.Statements)
	}
	if !vectors.sawProjectFilter || !vectors.sawSessionFilter {
		t.Fatalf("expected scope to be searched against both project_id and session_id, got project=%v session=%v",
			vectors.sawProjectFilter, vectors.sawSessionFilter)
	}
}

// scopedVectorStore is a hand-rolled VectorStore double that routes results
// by the project_id/session_id filter value, for exercising
// PreferenceResolver's scope-column mapping — mock.VectorStore returns one
// fixed response for every call regardless of filters.
type scopedVectorStore struct {
	byProjectID      map[string][]memcore.ScoredChunk
	bySessionID      map[string][]memcore.ScoredChunk
	sawProjectFilter bool
	sawSessionFilter bool
}

func (s *scopedVectorStore) Upsert(context.Context, memcore.Chunk) error { return nil }

func (s *scopedVectorStore) Search(_ context.Context, _ []float32, _ int, filters []memcore.Filter) ([]memcore.ScoredChunk, error) {
	for _, f := range filters {
		if f.Field == "project_id" {
			s.sawProjectFilter = true
			return s.byProjectID[f.Value.(string)], nil
		}
		if f.Field == "session_id" {
			s.sawSessionFilter = true
			return s.bySessionID[f.Value.(string)], nil
		}
	}
	return nil, nil
}

func (s *scopedVectorStore) Delete(context.Context, memcore.Selector) (int, error) { return 0, nil }
func (s *scopedVectorStore) Count(context.Context, []memcore.Filter) (int, error)  { return 0, nil }
