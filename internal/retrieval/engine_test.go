package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/relaymem/core/pkg/memcore"
	"github.com/relaymem/core/pkg/memcore/mock"
)

type fakeEmbedder struct {
	dims int
	err  error
}

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, f.err
}

func (f fakeEmbedder) Dimensions() int { return f.dims }
func (f fakeEmbedder) ModelID() string { return "fake" }

func TestRetrieveContext_AppliesDefaultVisibilityFilters(t *testing.T) {
	vectors := &mock.VectorStore{SearchResult: []memcore.ScoredChunk{{Chunk: memcore.Chunk{ChunkID: "c1"}, Score: 0.9}}}
	graph := &mock.GraphStore{}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	res, err := e.RetrieveContext(context.Background(), "what happened", Options{Limit: 10}, false)
	if err != nil {
		t.Fatalf("RetrieveContext: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}

	calls := vectors.Calls()
	filters := calls[len(calls)-1].Args[2].([]memcore.Filter)
	if len(filters) != 2 {
		t.Fatalf("expected 2 default visibility filters, got %d: %+v", len(filters), filters)
	}
}

func TestRetrieveContext_GraphEnrichmentFailureIsNonFatal(t *testing.T) {
	vectors := &mock.VectorStore{SearchResult: []memcore.ScoredChunk{
		{Chunk: memcore.Chunk{ChunkID: "c1", ProjectID: "proj-1", SessionID: "sess-1"}, Score: 0.9},
	}}
	graph := &mock.GraphStore{
		ProjectContextErr:      errors.New("graph down"),
		SessionParticipantsErr: errors.New("graph down"),
	}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	res, err := e.RetrieveContext(context.Background(), "q", Options{Limit: 10}, true)
	if err != nil {
		t.Fatalf("RetrieveContext returned an error despite enrichment being best-effort: %v", err)
	}
	if res.ProjectContext != nil || res.Participants != nil {
		t.Fatal("expected enrichment fields to stay empty on graph failure")
	}
}

func TestRetrieveContext_EmbeddingFailure(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	e := New(fakeEmbedder{dims: 4, err: errors.New("provider down")}, vectors, graph, nil, nil)

	_, err := e.RetrieveContext(context.Background(), "q", Options{}, false)
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.EmbeddingFailure {
		t.Fatalf("expected EmbeddingFailure, got %v", err)
	}
}

func TestRetrieveUserContext_ForcesUserIDFilter(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	if _, err := e.RetrieveUserContext(context.Background(), "user-1", "q", Options{}, false); err != nil {
		t.Fatalf("RetrieveUserContext: %v", err)
	}
	filters := vectors.Calls()[0].Args[2].([]memcore.Filter)
	if filters[0] != memcore.Eq("user_id", "user-1") {
		t.Fatalf("expected user_id to be the first required filter, got %+v", filters)
	}
}

func TestRetrievePrivateMemory_ForcesIncludeMessagesToTwin(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	// Caller explicitly asks for include_messages_to_twin=false; the flavor
	// must override it to true so the twin-dialogue query it just ingested
	// isn't excluded from its own results.
	if _, err := e.RetrievePrivateMemory(context.Background(), "user-1", "q", Options{IncludeMessagesToTwin: false}); err != nil {
		t.Fatalf("RetrievePrivateMemory: %v", err)
	}
	filters := vectors.Calls()[0].Args[2].([]memcore.Filter)
	for _, f := range filters {
		if f.Field == "is_twin_interaction" {
			t.Fatalf("expected no is_twin_interaction exclusion filter, got %+v", filters)
		}
		if f.Field == "is_private" {
			t.Fatalf("expected no is_private exclusion filter, got %+v", filters)
		}
	}
}

func TestRetrieveGroupContext_SessionScope_IsolatesPerParticipantFailures(t *testing.T) {
	graph := &mock.GraphStore{SessionParticipantsResult: []string{"user-1", "user-2"}}
	vectors := &countingFilterVectorStore{
		byUser: map[string]([]memcore.ScoredChunk){
			"user-1": {{Chunk: memcore.Chunk{ChunkID: "c1"}}},
		},
		errByUser: map[string]error{
			"user-2": errors.New("search failed"),
		},
	}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	results, err := e.RetrieveGroupContext(context.Background(), "q", ScopeSession, "session-1", Options{}, 5)
	if err != nil {
		t.Fatalf("RetrieveGroupContext: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 group results, got %d", len(results))
	}
	byUser := map[string]GroupResult{}
	for _, r := range results {
		byUser[r.UserID] = r
	}
	if byUser["user-1"].Err != nil || len(byUser["user-1"].Results) != 1 {
		t.Fatalf("user-1 should have succeeded: %+v", byUser["user-1"])
	}
	if byUser["user-2"].Err == nil {
		t.Fatal("user-2 should have an isolated error")
	}
}

func TestRetrieveGroupContext_RejectsTeamScope(t *testing.T) {
	graph := &mock.GraphStore{}
	vectors := &mock.VectorStore{}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	_, err := e.RetrieveGroupContext(context.Background(), "q", ScopeTeam, "team-1", Options{}, 5)
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.InvalidInput {
		t.Fatalf("expected InvalidInput for team scope, got %v", err)
	}
}

func TestRetrieveByTopic_PrefersGraphResult(t *testing.T) {
	graph := &mock.GraphStore{ContentByTopicResult: []memcore.TopicContent{{Chunk: memcore.Chunk{ChunkID: "c1"}, Topic: "dragons"}}}
	vectors := &mock.VectorStore{}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	out, err := e.RetrieveByTopic(context.Background(), "dragons", nil)
	if err != nil {
		t.Fatalf("RetrieveByTopic: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the graph result, got %d entries", len(out))
	}
	if vectors.CallCount("Search") != 0 {
		t.Fatal("expected no vector fallback when the graph already returned a result")
	}
}

func TestRetrieveByTopic_AppliesDefaultVisibilityFilters(t *testing.T) {
	graph := &mock.GraphStore{}
	vectors := &mock.VectorStore{SearchResult: []memcore.ScoredChunk{{Chunk: memcore.Chunk{ChunkID: "c1"}}}}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	if _, err := e.RetrieveByTopic(context.Background(), "dragons", nil); err != nil {
		t.Fatalf("RetrieveByTopic: %v", err)
	}

	graphFilters := graph.Calls()[0].Args[1].([]memcore.Filter)
	if !containsFilter(graphFilters, memcore.Eq("is_private", false)) || !containsFilter(graphFilters, memcore.Eq("is_twin_interaction", false)) {
		t.Fatalf("expected the graph leg to carry both visibility defaults, got %+v", graphFilters)
	}

	vectorFilters := vectors.Calls()[0].Args[2].([]memcore.Filter)
	if !containsFilter(vectorFilters, memcore.Eq("is_private", false)) || !containsFilter(vectorFilters, memcore.Eq("is_twin_interaction", false)) {
		t.Fatalf("expected the vector leg to carry both visibility defaults, got %+v", vectorFilters)
	}
}

func containsFilter(filters []memcore.Filter, want memcore.Filter) bool {
	for _, f := range filters {
		if f == want {
			return true
		}
	}
	return false
}

func TestRetrieveByTopic_FallsBackToVectorOnEmptyGraphResult(t *testing.T) {
	graph := &mock.GraphStore{}
	vectors := &mock.VectorStore{SearchResult: []memcore.ScoredChunk{{Chunk: memcore.Chunk{ChunkID: "c1"}}}}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	out, err := e.RetrieveByTopic(context.Background(), "dragons", nil)
	if err != nil {
		t.Fatalf("RetrieveByTopic: %v", err)
	}
	if len(out) != 1 || out[0].Topic != "dragons" {
		t.Fatalf("expected the vector fallback result tagged with the topic, got %+v", out)
	}
}

func TestRetrieveByTopic_GraphErrorFallsBackToVector(t *testing.T) {
	graph := &mock.GraphStore{ContentByTopicErr: errors.New("graph down")}
	vectors := &mock.VectorStore{SearchResult: []memcore.ScoredChunk{{Chunk: memcore.Chunk{ChunkID: "c1"}}}}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	out, err := e.RetrieveByTopic(context.Background(), "dragons", nil)
	if err != nil {
		t.Fatalf("RetrieveByTopic: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the vector fallback to succeed despite the graph error, got %+v", out)
	}
}

func TestRetrieveByTopic_VectorFallbackErrorYieldsEmptyNotError(t *testing.T) {
	graph := &mock.GraphStore{ContentByTopicErr: errors.New("graph down")}
	vectors := &mock.VectorStore{SearchErr: errors.New("vector down too")}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	out, err := e.RetrieveByTopic(context.Background(), "dragons", nil)
	if err != nil {
		t.Fatalf("expected no propagated error, got %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected an empty result, got %+v", out)
	}
}

func TestRetrieveRelated_DelegatesToGraph(t *testing.T) {
	graph := &mock.GraphStore{RelatedContentResult: []memcore.RelatedChunk{{Chunk: memcore.Chunk{ChunkID: "c2"}}}}
	vectors := &mock.VectorStore{}
	e := New(fakeEmbedder{dims: 4}, vectors, graph, nil, nil)

	out, err := e.RetrieveRelated(context.Background(), "c1", memcore.RelatedContentOpts{MaxDepth: 2})
	if err != nil {
		t.Fatalf("RetrieveRelated: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 related chunk, got %d", len(out))
	}
}

// countingFilterVectorStore is a hand-rolled VectorStore double that routes
// Search results by the user_id filter, for exercising
// RetrieveGroupContext's per-participant isolation — mock.VectorStore
// cannot vary its response per call.
type countingFilterVectorStore struct {
	byUser    map[string][]memcore.ScoredChunk
	errByUser map[string]error
}

func (c *countingFilterVectorStore) Upsert(context.Context, memcore.Chunk) error { return nil }

func (c *countingFilterVectorStore) Search(_ context.Context, _ []float32, _ int, filters []memcore.Filter) ([]memcore.ScoredChunk, error) {
	var userID string
	for _, f := range filters {
		if f.Field == "user_id" {
			userID, _ = f.Value.(string)
		}
	}
	if err, ok := c.errByUser[userID]; ok {
		return nil, err
	}
	return c.byUser[userID], nil
}

func (c *countingFilterVectorStore) Delete(context.Context, memcore.Selector) (int, error) { return 0, nil }
func (c *countingFilterVectorStore) Count(context.Context, []memcore.Filter) (int, error)  { return 0, nil }
