// Package retrieval implements RetrievalEngine (C7): every retrieval flavor
// is a different composition of the same two primitives — vector search
// with payload filters, and graph traversal for participants/context/
// relationships.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymem/core/internal/ingest"
	"github.com/relaymem/core/pkg/embeddings"
	"github.com/relaymem/core/pkg/memcore"
)

// Options carries the two orthogonal visibility flags every flavor accepts,
// plus the usual query/limit/filter inputs.
type Options struct {
	IncludePrivate        bool
	IncludeMessagesToTwin bool
	ExtraFilters          []memcore.Filter
	Limit                 int
}

// ContextResult is the envelope returned by RetrieveContext and
// RetrieveUserContext: the vector hits, optionally enriched with graph
// context. Enrichment failures never fail the primary result set — they
// are logged and the corresponding field is left empty.
type ContextResult struct {
	Results        []memcore.ScoredChunk
	ProjectContext *memcore.ProjectContext
	Participants   []string
}

// Engine composes vector search and graph traversal into the retrieval
// flavors described in §4.6.
type Engine struct {
	embedder    embeddings.Provider
	vectors     memcore.VectorStore
	graph       memcore.GraphStore
	coordinator *ingest.Coordinator
	log         *slog.Logger
}

// New builds an Engine. coordinator is used only by RetrievePrivateMemory,
// which ingests the query itself as a side effect. log defaults to
// slog.Default() if nil.
func New(embedder embeddings.Provider, vectors memcore.VectorStore, graph memcore.GraphStore, coordinator *ingest.Coordinator, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{embedder: embedder, vectors: vectors, graph: graph, coordinator: coordinator, log: log}
}

func visibilityFilters(includePrivate, includeMessagesToTwin bool) []memcore.Filter {
	var filters []memcore.Filter
	if !includePrivate {
		filters = append(filters, memcore.Eq("is_private", false))
	}
	if !includeMessagesToTwin {
		filters = append(filters, memcore.Eq("is_twin_interaction", false))
	}
	return filters
}

// RetrieveContext embeds q, searches the vector store under filters plus
// the visibility defaults for the "shared context" flavor
// (include_private=false, include_messages_to_twin=false), and — if
// includeGraph is true — enriches with project_context (when any result
// carries a project_id) and session_participants (when any result carries
// a session_id). Enrichment errors are logged and omitted, never fatal.
func (e *Engine) RetrieveContext(ctx context.Context, q string, opts Options, includeGraph bool) (ContextResult, error) {
	return e.retrieveScoped(ctx, q, opts, includeGraph, nil)
}

// RetrieveUserContext is RetrieveContext with user_id forced as a required
// filter. No query ingestion happens.
func (e *Engine) RetrieveUserContext(ctx context.Context, userID, q string, opts Options, includeGraph bool) (ContextResult, error) {
	return e.retrieveScoped(ctx, q, opts, includeGraph, []memcore.Filter{memcore.Eq("user_id", userID)})
}

func (e *Engine) retrieveScoped(ctx context.Context, q string, opts Options, includeGraph bool, requiredFilters []memcore.Filter) (ContextResult, error) {
	vec, err := e.embedder.Embed(ctx, q)
	if err != nil {
		return ContextResult{}, memcore.NewError(memcore.EmbeddingFailure, "retrieval.embed", err)
	}

	filters := append(append([]memcore.Filter{}, requiredFilters...), visibilityFilters(opts.IncludePrivate, opts.IncludeMessagesToTwin)...)
	filters = append(filters, opts.ExtraFilters...)

	hits, err := e.vectors.Search(ctx, vec, opts.Limit, filters)
	if err != nil {
		return ContextResult{}, err
	}

	result := ContextResult{Results: hits}
	if !includeGraph {
		return result, nil
	}

	for _, hit := range hits {
		if hit.Chunk.ProjectID != "" && result.ProjectContext == nil {
			pc, err := e.graph.ProjectContext(ctx, hit.Chunk.ProjectID)
			if err != nil {
				e.log.Warn("project_context enrichment failed", "project_id", hit.Chunk.ProjectID, "error", err)
			} else {
				result.ProjectContext = &pc
			}
		}
		if hit.Chunk.SessionID != "" && result.Participants == nil {
			participants, err := e.graph.SessionParticipants(ctx, hit.Chunk.SessionID)
			if err != nil {
				e.log.Warn("session_participants enrichment failed", "session_id", hit.Chunk.SessionID, "error", err)
			} else {
				result.Participants = participants
			}
		}
	}
	return result, nil
}

// RetrievePrivateMemory ingests q as a new chunk (source_type=query,
// is_twin_interaction=true, is_private=true, owned by userID) before
// searching, forcing include_private=true and include_messages_to_twin=true
// and user_id as a required filter — otherwise the query chunk it just
// ingested (is_twin_interaction=true) would be excluded from its own
// results. Ingestion failure is logged and does not block the search —
// the query-ingestion side effect is best-effort.
func (e *Engine) RetrievePrivateMemory(ctx context.Context, userID, q string, opts Options) (ContextResult, error) {
	opts.IncludePrivate = true
	opts.IncludeMessagesToTwin = true

	queryChunk := memcore.Chunk{
		ChunkID:           uuid.NewString(),
		Text:              q,
		SourceType:        memcore.SourceQuery,
		UserID:            userID,
		Timestamp:         time.Now().UTC(),
		IsPrivate:         true,
		IsTwinInteraction: true,
	}
	if e.coordinator != nil {
		if err := e.coordinator.IngestOne(ctx, queryChunk); err != nil {
			e.log.Warn("private-memory query ingestion failed", "chunk_id", queryChunk.ChunkID, "error", err)
		}
	}

	return e.retrieveScoped(ctx, q, opts, false, []memcore.Filter{memcore.Eq("user_id", userID)})
}

// GroupResult is one participant's independent search result within a
// RetrieveGroupContext envelope.
type GroupResult struct {
	UserID  string
	Results []memcore.ScoredChunk
	Err     error
}

// ScopeKind names which id RetrieveGroupContext's scope parameter carries.
type ScopeKind int

const (
	ScopeSession ScopeKind = iota
	ScopeProject
	ScopeTeam
)

// RetrieveGroupContext resolves participants of scope (session or project;
// team is reserved and always fails with InvalidInput) and runs one
// independent, concurrently-dispatched vector search per participant,
// scoped to that user and the scope id, each bounded by limitPerUser.
// A failure for one participant is isolated and logged; the envelope still
// returns every other participant's results.
func (e *Engine) RetrieveGroupContext(ctx context.Context, q string, kind ScopeKind, scopeID string, opts Options, limitPerUser int) ([]GroupResult, error) {
	var participants []string
	var scopeFilter memcore.Filter

	switch kind {
	case ScopeSession:
		ps, err := e.graph.SessionParticipants(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		participants = ps
		scopeFilter = memcore.Eq("session_id", scopeID)
	case ScopeProject:
		pc, err := e.graph.ProjectContext(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		participants = pc.UserIDs
		scopeFilter = memcore.Eq("project_id", scopeID)
	default:
		return nil, memcore.NewError(memcore.InvalidInput, "retrieval.group_context",
			fmt.Errorf("scope must be session_id or project_id (team scope is reserved)"))
	}

	vec, err := e.embedder.Embed(ctx, q)
	if err != nil {
		return nil, memcore.NewError(memcore.EmbeddingFailure, "retrieval.embed", err)
	}

	visFilters := visibilityFilters(opts.IncludePrivate, opts.IncludeMessagesToTwin)

	results := make([]GroupResult, len(participants))
	var wg sync.WaitGroup
	for i, userID := range participants {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			filters := append([]memcore.Filter{memcore.Eq("user_id", userID), scopeFilter}, visFilters...)
			hits, err := e.vectors.Search(ctx, vec, limitPerUser, filters)
			if err != nil {
				e.log.Warn("group context search failed for participant", "user_id", userID, "error", err)
				results[i] = GroupResult{UserID: userID, Err: err}
				return
			}
			results[i] = GroupResult{UserID: userID, Results: hits}
		}(i, userID)
	}
	wg.Wait()

	return results, nil
}

// RetrieveRelated is a pure graph traversal — no embedding involved.
func (e *Engine) RetrieveRelated(ctx context.Context, chunkID string, opts memcore.RelatedContentOpts) ([]memcore.RelatedChunk, error) {
	return e.graph.RelatedContent(ctx, chunkID, opts)
}

// RetrieveByTopic first tries GraphStore.ContentByTopic; if it returns at
// least one result, that is the answer. Otherwise it falls back to a
// vector search using topic as the query text. Any graph error also falls
// back to the vector path; a vector-fallback error yields an empty result,
// not a propagated error. Both legs apply this flavor's visibility
// defaults (include_private=false, include_messages_to_twin=false) on top
// of the caller-supplied filters.
func (e *Engine) RetrieveByTopic(ctx context.Context, topic string, filters []memcore.Filter) ([]memcore.TopicContent, error) {
	filters = append(append([]memcore.Filter{}, filters...), visibilityFilters(false, false)...)

	graphHits, err := e.graph.ContentByTopic(ctx, topic, filters)
	if err == nil && len(graphHits) > 0 {
		return graphHits, nil
	}
	if err != nil {
		e.log.Warn("content_by_topic graph query failed, falling back to vector search", "topic", topic, "error", err)
	}

	vec, err := e.embedder.Embed(ctx, topic)
	if err != nil {
		return nil, nil
	}
	hits, err := e.vectors.Search(ctx, vec, defaultTopicFallbackLimit, filters)
	if err != nil {
		return nil, nil
	}

	out := make([]memcore.TopicContent, len(hits))
	for i, hit := range hits {
		out[i] = memcore.TopicContent{Chunk: hit.Chunk, Topic: topic}
	}
	return out, nil
}

const defaultTopicFallbackLimit = 20
