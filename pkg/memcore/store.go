package memcore

import "context"

// ─────────────────────────────────────────────────────────────────────────────
// VectorStore DAL (C2)
// ─────────────────────────────────────────────────────────────────────────────

// VectorStore upserts/searches/deletes [Chunk] payloads keyed by ChunkID,
// scoped by [Filter] conjunctions. The DAL never applies visibility defaults
// on its own — callers (RetrievalEngine) always pass explicit is_private /
// is_twin_interaction filters when a default-exclusion is desired.
//
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Upsert stores chunk (with its Embedding populated) under ChunkID. A
	// second Upsert with the same ChunkID replaces the prior record.
	//
	// Returns an [*Error] of kind InvalidInput if
	// Embedding is empty, contains a NaN/Inf component, or its length does
	// not match the store's configured dimension.
	Upsert(ctx context.Context, chunk Chunk) error

	// Search finds the limit chunks whose Embedding is closest (cosine
	// similarity) to queryVector, narrowed by filters (AND semantics).
	// Results are ordered by descending Score. Returns an empty, non-nil
	// slice when nothing matches.
	Search(ctx context.Context, queryVector []float32, limit int, filters []Filter) ([]ScoredChunk, error)

	// Delete removes chunks matching sel. Returns [*Error] of kind
	// InvalidInput if sel is empty (a filter-only delete with zero
	// conditions is refused as a guard against an accidental wipe — use
	// AdminOps.ClearAll for an explicit full wipe).
	Delete(ctx context.Context, sel Selector) (int, error)

	// Count returns the number of chunks matching filters. An empty filter
	// slice counts every chunk.
	Count(ctx context.Context, filters []Filter) (int, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// GraphStore DAL (C3)
// ─────────────────────────────────────────────────────────────────────────────

// RelatedContentOpts configures [GraphStore.RelatedContent].
type RelatedContentOpts struct {
	// RelTypes restricts traversal to edges of these types. Empty follows
	// every type.
	RelTypes []RelType

	// MaxDepth bounds the traversal, 1..5.
	MaxDepth int

	// IncludePrivate controls whether private destination chunks are
	// returned. Applied only to the destination chunk, never intermediates.
	IncludePrivate bool

	Limit int
}

// PreferenceOpts configures [GraphStore.PreferenceStatements].
type PreferenceOpts struct {
	// Scope, if non-empty, additionally restricts matched chunks to this
	// project/session/team id (interpretation is up to the implementation's
	// schema — relaymem scopes on ProjectID and SessionID).
	Scope string
	Limit int
}

// GraphStore upserts nodes/edges and answers the traversal/projection queries
// that back every retrieval flavor's graph leg.
//
// MergeNode/MergeEdge are idempotent creates keyed on a primary key: re-
// ingesting the same chunk never produces duplicate nodes or edges, and
// never overwrites properties set at creation time.
//
// Implementations must be safe for concurrent use.
type GraphStore interface {
	// MergeNode idempotently creates-or-fetches a node identified by
	// (label, key). otherProps is applied only when the node is newly
	// created; an existing node's properties are left untouched.
	MergeNode(ctx context.Context, label NodeLabel, key string, otherProps map[string]any) (Node, error)

	// MergeEdge idempotently creates a directed edge (fromLabel,fromKey) ->
	// (toLabel,toKey) of the given type. props is applied only on create.
	// Returns true if the edge already existed.
	MergeEdge(ctx context.Context, fromLabel NodeLabel, fromKey string, toLabel NodeLabel, toKey string, relType RelType, props map[string]any) (bool, error)

	// SessionParticipants returns the user ids that PARTICIPATED_IN sessionID.
	SessionParticipants(ctx context.Context, sessionID string) ([]string, error)

	// ProjectContext returns every session, document, and (transitively via
	// sessions) user associated with projectID, deduplicated.
	ProjectContext(ctx context.Context, projectID string) (ProjectContext, error)

	// RelatedContent performs the related-content traversal described in
	// §4.2: direct chains up to opts.MaxDepth hops, plus shared-entity paths
	// at depth 1 and (if MaxDepth >= 2) depth 2. Self-matches are excluded;
	// the privacy filter applies only to the destination chunk. Returns an
	// empty slice, not an error, when chunkID does not exist.
	RelatedContent(ctx context.Context, chunkID string, opts RelatedContentOpts) ([]RelatedChunk, error)

	// ContentByTopic returns chunks that MENTIONS a Topic matching topicName
	// exactly, subject to filters (is_private / is_twin_interaction /
	// project_id / session_id / user_id — but never
	// include_twin_interactions as a dedicated graph-tier flag; see §9).
	ContentByTopic(ctx context.Context, topicName string, filters []Filter) ([]TopicContent, error)

	// PreferenceStatements issues the three-tier query described in §4.7:
	// STATES_PREFERENCE match, then MENTIONS match, then a plain CREATED
	// fallback — each bounded by the limit remaining after the prior tier.
	// Twin interactions are always excluded from this graph tier.
	PreferenceStatements(ctx context.Context, userID, topic string, opts PreferenceOpts) ([]Chunk, error)

	// UpdateDocumentMetadata patches only the Document node identified by
	// docID — source_uri and/or free-form metadata fields. Never touches
	// vectors. Returns false if the document does not exist.
	UpdateDocumentMetadata(ctx context.Context, docID string, sourceURI string, metadata map[string]any) (bool, error)

	// WipeAll deletes every node and edge. Used exclusively by AdminOps.
	WipeAll(ctx context.Context) (WipeStats, error)
}
