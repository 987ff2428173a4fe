package retrieval

import (
	"context"

	"github.com/relaymem/core/pkg/embeddings"
	"github.com/relaymem/core/pkg/memcore"
)

// PreferenceQuery is the input to [PreferenceResolver.Resolve].
type PreferenceQuery struct {
	UserID                string
	DecisionTopic         string
	Scope                 string
	ScoreThreshold        float64
	Limit                 int
	IncludeMessagesToTwin bool
}

// PreferenceStatement is one entry in a [PreferenceEnvelope], tagged with
// which tier produced it.
type PreferenceStatement struct {
	Chunk  memcore.Chunk
	Source string // "graph" or "vector"
	Score  float64
}

// PreferenceEnvelope is the merged result of [PreferenceResolver.Resolve].
type PreferenceEnvelope struct {
	UserID            string
	DecisionTopic     string
	HasPreferences    bool
	Statements        []PreferenceStatement
	GraphResultCount  int
	VectorResultCount int
}

// PreferenceResolver implements C8: topic-specific retrieval merging the
// graph's preference-statement paths with a semantic search, deduplicated
// by chunk_id.
type PreferenceResolver struct {
	embedder embeddings.Provider
	vectors  memcore.VectorStore
	graph    memcore.GraphStore
}

// NewPreferenceResolver builds a PreferenceResolver.
func NewPreferenceResolver(embedder embeddings.Provider, vectors memcore.VectorStore, graph memcore.GraphStore) *PreferenceResolver {
	return &PreferenceResolver{embedder: embedder, vectors: vectors, graph: graph}
}

// Resolve runs the graph tier (GraphStore.PreferenceStatements, which
// itself issues the three-tier STATES_PREFERENCE / MENTIONS / CREATED-
// fallback query), then the vector tier (embed decision_topic, search with
// user_id required, scope filters applied, include_twin_interactions per
// q.IncludeMessagesToTwin, score_threshold enforced post-hoc), then merges
// both into a single envelope, deduplicating by chunk_id and preferring the
// "graph" source when both tiers return the same chunk.
func (r *PreferenceResolver) Resolve(ctx context.Context, q PreferenceQuery) (PreferenceEnvelope, error) {
	graphChunks, err := r.graph.PreferenceStatements(ctx, q.UserID, q.DecisionTopic, memcore.PreferenceOpts{
		Scope: q.Scope,
		Limit: q.Limit,
	})
	if err != nil {
		return PreferenceEnvelope{}, err
	}

	vec, err := r.embedder.Embed(ctx, q.DecisionTopic)
	if err != nil {
		return PreferenceEnvelope{}, memcore.NewError(memcore.EmbeddingFailure, "preference.embed", err)
	}

	baseFilters := []memcore.Filter{memcore.Eq("user_id", q.UserID)}
	if !q.IncludeMessagesToTwin {
		baseFilters = append(baseFilters, memcore.Eq("is_twin_interaction", false))
	}

	var vectorHits []memcore.ScoredChunk
	if q.Scope == "" {
		vectorHits, err = r.vectors.Search(ctx, vec, q.Limit, baseFilters)
		if err != nil {
			return PreferenceEnvelope{}, err
		}
	} else {
		// Scope names a project or session id without saying which; there is
		// no single "scope" column on a chunk, only project_id and
		// session_id, so search each column independently and merge — the
		// same dedup-by-chunk_id approach used below for the graph/vector
		// tiers.
		projectHits, err := r.vectors.Search(ctx, vec, q.Limit,
			append(append([]memcore.Filter{}, baseFilters...), memcore.Eq("project_id", q.Scope)))
		if err != nil {
			return PreferenceEnvelope{}, err
		}
		sessionHits, err := r.vectors.Search(ctx, vec, q.Limit,
			append(append([]memcore.Filter{}, baseFilters...), memcore.Eq("session_id", q.Scope)))
		if err != nil {
			return PreferenceEnvelope{}, err
		}
		vectorHits = mergeScoredChunks(projectHits, sessionHits)
	}

	var filteredVector []memcore.ScoredChunk
	for _, hit := range vectorHits {
		if hit.Score >= q.ScoreThreshold {
			filteredVector = append(filteredVector, hit)
		}
	}

	byChunkID := make(map[string]PreferenceStatement, len(graphChunks)+len(filteredVector))
	var order []string

	for _, c := range graphChunks {
		if _, ok := byChunkID[c.ChunkID]; !ok {
			order = append(order, c.ChunkID)
		}
		byChunkID[c.ChunkID] = PreferenceStatement{Chunk: c, Source: "graph"}
	}
	for _, hit := range filteredVector {
		existing, ok := byChunkID[hit.Chunk.ChunkID]
		if ok && existing.Source == "graph" {
			continue // graph tier wins on overlap
		}
		if !ok {
			order = append(order, hit.Chunk.ChunkID)
		}
		byChunkID[hit.Chunk.ChunkID] = PreferenceStatement{Chunk: hit.Chunk, Source: "vector", Score: hit.Score}
	}

	statements := make([]PreferenceStatement, 0, len(order))
	for _, id := range order {
		statements = append(statements, byChunkID[id])
	}

	return PreferenceEnvelope{
		UserID:            q.UserID,
		DecisionTopic:     q.DecisionTopic,
		HasPreferences:    len(statements) > 0,
		Statements:        statements,
		GraphResultCount:  len(graphChunks),
		VectorResultCount: len(filteredVector),
	}, nil
}

// mergeScoredChunks dedupes two result sets by chunk_id, keeping the higher
// score on overlap.
func mergeScoredChunks(a, b []memcore.ScoredChunk) []memcore.ScoredChunk {
	byChunkID := make(map[string]memcore.ScoredChunk, len(a)+len(b))
	var order []string
	add := func(hits []memcore.ScoredChunk) {
		for _, hit := range hits {
			existing, ok := byChunkID[hit.Chunk.ChunkID]
			if !ok {
				order = append(order, hit.Chunk.ChunkID)
				byChunkID[hit.Chunk.ChunkID] = hit
				continue
			}
			if hit.Score > existing.Score {
				byChunkID[hit.Chunk.ChunkID] = hit
			}
		}
	}
	add(a)
	add(b)

	merged := make([]memcore.ScoredChunk, len(order))
	for i, id := range order {
		merged[i] = byChunkID[id]
	}
	return merged
}
