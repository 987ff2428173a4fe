// Package memcore defines the dual-store memory architecture shared by every
// retrieval and ingestion component: a [VectorStore] for embedding-based
// similarity search and a [GraphStore] for relational/graph scoping.
//
// Both interfaces are public so alternative storage backends (Postgres/pgvector,
// Qdrant, Neo4j, in-memory, …) can be supplied without depending on relaymem
// internals.
//
// Every implementation must be safe for concurrent use.
package memcore

import "time"

// SourceType classifies the origin of a [Chunk].
type SourceType string

const (
	SourceMessage           SourceType = "message"
	SourceDocumentChunk     SourceType = "document_chunk"
	SourceTranscriptSnippet SourceType = "transcript_snippet"
	SourceQuery             SourceType = "query"
)

// IsValid reports whether s is a recognised source type.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceMessage, SourceDocumentChunk, SourceTranscriptSnippet, SourceQuery:
		return true
	default:
		return false
	}
}

// Chunk is the atomic unit of memory: one embedding, one graph node.
type Chunk struct {
	ChunkID string
	Text    string

	// Embedding is present only on the vector-store leg; the graph leg never
	// carries it.
	Embedding []float32

	SourceType SourceType

	// UserID is the authoring user. Optional for system-generated document chunks.
	UserID string

	// Context keys — all optional.
	ProjectID string
	SessionID string
	DocID     string
	MessageID string

	Timestamp time.Time

	// IsPrivate restricts visibility to UserID when true.
	IsPrivate bool

	// IsTwinInteraction marks dialogue directed at or generated by the user's
	// agent, separable from public discourse.
	IsTwinInteraction bool

	Metadata map[string]any
}

// ScoredChunk pairs a retrieved chunk with its similarity score (cosine
// similarity, higher is better) from a vector search.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// ─────────────────────────────────────────────────────────────────────────────
// Filters — tagged-variant, never a map of special keys
// ─────────────────────────────────────────────────────────────────────────────

// FilterKind identifies the concrete shape of a [Filter] value.
type FilterKind int

const (
	FilterEq FilterKind = iota
	FilterAnyOf
	FilterRange
)

// Filter is one predicate in a filter conjunction. Construct values with [Eq],
// [AnyOf], or [Range]; a zero Filter is invalid. Filters compose with AND
// semantics — pass a slice to any search/delete/count call.
type Filter struct {
	Kind  FilterKind
	Field string

	// Value is set for FilterEq.
	Value any

	// Values is set for FilterAnyOf.
	Values []any

	// Min and Max are set for FilterRange; either may be nil for an open bound.
	Min any
	Max any
}

// Eq builds an equality filter: field == value.
func Eq(field string, value any) Filter {
	return Filter{Kind: FilterEq, Field: field, Value: value}
}

// AnyOf builds a membership filter: field ∈ values.
func AnyOf(field string, values ...any) Filter {
	return Filter{Kind: FilterAnyOf, Field: field, Values: values}
}

// Range builds a bounded-range filter: min <= field <= max. Either bound may
// be nil to leave that side open.
func Range(field string, min, max any) Filter {
	return Filter{Kind: FilterRange, Field: field, Min: min, Max: max}
}

// Selector identifies the rows a [VectorStore.Delete] call targets: either an
// explicit ID list or a filter conjunction. At least one must be non-empty —
// an entirely empty Selector is refused by implementations as a guard against
// an accidental full wipe (use AdminOps for that).
type Selector struct {
	ChunkIDs []string
	Filters  []Filter
}

// Empty reports whether the selector carries neither IDs nor filters.
func (s Selector) Empty() bool {
	return len(s.ChunkIDs) == 0 && len(s.Filters) == 0
}

// ─────────────────────────────────────────────────────────────────────────────
// Graph node / edge vocabulary
// ─────────────────────────────────────────────────────────────────────────────

// NodeLabel identifies the kind of a graph node.
type NodeLabel string

const (
	LabelUser         NodeLabel = "User"
	LabelProject      NodeLabel = "Project"
	LabelSession      NodeLabel = "Session"
	LabelDocument     NodeLabel = "Document"
	LabelMessage      NodeLabel = "Message"
	LabelChunk        NodeLabel = "Chunk"
	LabelTopic        NodeLabel = "Topic"
	LabelOrganization NodeLabel = "Organization"
	LabelTeam         NodeLabel = "Team"
	LabelPreference   NodeLabel = "Preference"
)

// RelType identifies the kind of a directed graph edge.
type RelType string

const (
	RelAuthored        RelType = "AUTHORED"
	RelCreated         RelType = "CREATED"
	RelOwns            RelType = "OWNS"
	RelUploaded        RelType = "UPLOADED"
	RelParticipatedIn  RelType = "PARTICIPATED_IN"
	RelMemberOf        RelType = "MEMBER_OF"
	RelManages         RelType = "MANAGES"
	RelPartOf          RelType = "PART_OF"
	RelPostedIn        RelType = "POSTED_IN"
	RelAttachedTo      RelType = "ATTACHED_TO"
	RelMentions        RelType = "MENTIONS"
	RelStatesPreference RelType = "STATES_PREFERENCE"
	RelStated          RelType = "STATED"
	RelRelatedTo       RelType = "RELATED_TO"
	RelDerivedFrom     RelType = "DERIVED_FROM"
	RelLedTo           RelType = "LED_TO"
	RelContextChunk    RelType = "CONTEXT_CHUNK"
)

// Node is a graph node keyed by (Label, Key) with free-form properties.
type Node struct {
	Label NodeLabel
	Key   string
	Props map[string]any
}

// NeighborRef describes one edge incident to a chunk returned from
// [GraphStore.RelatedContent]: the edge type, the neighbor's id, and its label.
type NeighborRef struct {
	RelType    RelType
	NeighborID string
	Label      NodeLabel
}

// RelatedChunk is one result of [GraphStore.RelatedContent]: a reachable
// chunk together with every direct edge incident to it.
type RelatedChunk struct {
	Chunk        Chunk
	OutgoingRels []NeighborRef
	IncomingRels []NeighborRef
}

// TopicContent is one result of [GraphStore.ContentByTopic].
type TopicContent struct {
	Chunk Chunk
	Topic string
}

// ProjectContext is the result of [GraphStore.ProjectContext]: every session,
// document, and (transitively, via sessions) user associated with a project.
type ProjectContext struct {
	SessionIDs  []string
	DocumentIDs []string
	UserIDs     []string
}

// WipeStats reports how many nodes/edges [GraphStore.WipeAll] removed.
type WipeStats struct {
	NodesDeleted int
	EdgesDeleted int
}
