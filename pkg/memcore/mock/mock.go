// Package mock provides in-memory test doubles for [memcore.VectorStore] and
// [memcore.GraphStore].
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.GraphStore{}
//	store.RelatedContentResult = []memcore.RelatedChunk{{Chunk: memcore.Chunk{ChunkID: "c1"}}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("RelatedContent"); got != 1 {
//	    t.Errorf("expected 1 RelatedContent call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/relaymem/core/pkg/memcore"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// ─────────────────────────────────────────────────────────────────────────────
// VectorStore mock
// ─────────────────────────────────────────────────────────────────────────────

// VectorStore is a configurable test double for [memcore.VectorStore].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice / zero value returned).
type VectorStore struct {
	mu sync.Mutex

	calls []Call

	UpsertErr error

	// SearchResult is returned by [VectorStore.Search]. When nil, Search
	// returns an empty non-nil slice.
	SearchResult []memcore.ScoredChunk
	SearchErr    error

	DeleteResult int
	DeleteErr    error

	CountResult int
	CountErr    error
}

var _ memcore.VectorStore = (*VectorStore)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *VectorStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *VectorStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *VectorStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Upsert implements [memcore.VectorStore].
func (m *VectorStore) Upsert(_ context.Context, chunk memcore.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Upsert", Args: []any{chunk}})
	return m.UpsertErr
}

// Search implements [memcore.VectorStore].
func (m *VectorStore) Search(_ context.Context, queryVector []float32, limit int, filters []memcore.Filter) ([]memcore.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{queryVector, limit, filters}})
	if m.SearchResult == nil {
		return []memcore.ScoredChunk{}, m.SearchErr
	}
	out := make([]memcore.ScoredChunk, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}

// Delete implements [memcore.VectorStore].
func (m *VectorStore) Delete(_ context.Context, sel memcore.Selector) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{sel}})
	return m.DeleteResult, m.DeleteErr
}

// Count implements [memcore.VectorStore].
func (m *VectorStore) Count(_ context.Context, filters []memcore.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Count", Args: []any{filters}})
	return m.CountResult, m.CountErr
}

// ─────────────────────────────────────────────────────────────────────────────
// GraphStore mock
// ─────────────────────────────────────────────────────────────────────────────

// GraphStore is a configurable test double for [memcore.GraphStore].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice / zero value returned).
type GraphStore struct {
	mu sync.Mutex

	calls []Call

	MergeNodeResult memcore.Node
	MergeNodeErr    error

	MergeEdgeResult bool
	MergeEdgeErr    error

	SessionParticipantsResult []string
	SessionParticipantsErr    error

	ProjectContextResult memcore.ProjectContext
	ProjectContextErr    error

	RelatedContentResult []memcore.RelatedChunk
	RelatedContentErr    error

	ContentByTopicResult []memcore.TopicContent
	ContentByTopicErr    error

	PreferenceStatementsResult []memcore.Chunk
	PreferenceStatementsErr    error

	UpdateDocumentMetadataResult bool
	UpdateDocumentMetadataErr    error

	WipeAllResult memcore.WipeStats
	WipeAllErr    error
}

var _ memcore.GraphStore = (*GraphStore)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *GraphStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *GraphStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *GraphStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MergeNode implements [memcore.GraphStore].
func (m *GraphStore) MergeNode(_ context.Context, label memcore.NodeLabel, key string, otherProps map[string]any) (memcore.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "MergeNode", Args: []any{label, key, otherProps}})
	return m.MergeNodeResult, m.MergeNodeErr
}

// MergeEdge implements [memcore.GraphStore].
func (m *GraphStore) MergeEdge(_ context.Context, fromLabel memcore.NodeLabel, fromKey string, toLabel memcore.NodeLabel, toKey string, relType memcore.RelType, props map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "MergeEdge", Args: []any{fromLabel, fromKey, toLabel, toKey, relType, props}})
	return m.MergeEdgeResult, m.MergeEdgeErr
}

// SessionParticipants implements [memcore.GraphStore].
func (m *GraphStore) SessionParticipants(_ context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SessionParticipants", Args: []any{sessionID}})
	if m.SessionParticipantsResult == nil {
		return []string{}, m.SessionParticipantsErr
	}
	out := make([]string, len(m.SessionParticipantsResult))
	copy(out, m.SessionParticipantsResult)
	return out, m.SessionParticipantsErr
}

// ProjectContext implements [memcore.GraphStore].
func (m *GraphStore) ProjectContext(_ context.Context, projectID string) (memcore.ProjectContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ProjectContext", Args: []any{projectID}})
	return m.ProjectContextResult, m.ProjectContextErr
}

// RelatedContent implements [memcore.GraphStore].
func (m *GraphStore) RelatedContent(_ context.Context, chunkID string, opts memcore.RelatedContentOpts) ([]memcore.RelatedChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "RelatedContent", Args: []any{chunkID, opts}})
	if m.RelatedContentResult == nil {
		return []memcore.RelatedChunk{}, m.RelatedContentErr
	}
	out := make([]memcore.RelatedChunk, len(m.RelatedContentResult))
	copy(out, m.RelatedContentResult)
	return out, m.RelatedContentErr
}

// ContentByTopic implements [memcore.GraphStore].
func (m *GraphStore) ContentByTopic(_ context.Context, topicName string, filters []memcore.Filter) ([]memcore.TopicContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ContentByTopic", Args: []any{topicName, filters}})
	if m.ContentByTopicResult == nil {
		return []memcore.TopicContent{}, m.ContentByTopicErr
	}
	out := make([]memcore.TopicContent, len(m.ContentByTopicResult))
	copy(out, m.ContentByTopicResult)
	return out, m.ContentByTopicErr
}

// PreferenceStatements implements [memcore.GraphStore].
func (m *GraphStore) PreferenceStatements(_ context.Context, userID, topic string, opts memcore.PreferenceOpts) ([]memcore.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "PreferenceStatements", Args: []any{userID, topic, opts}})
	if m.PreferenceStatementsResult == nil {
		return []memcore.Chunk{}, m.PreferenceStatementsErr
	}
	out := make([]memcore.Chunk, len(m.PreferenceStatementsResult))
	copy(out, m.PreferenceStatementsResult)
	return out, m.PreferenceStatementsErr
}

// UpdateDocumentMetadata implements [memcore.GraphStore].
func (m *GraphStore) UpdateDocumentMetadata(_ context.Context, docID string, sourceURI string, metadata map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpdateDocumentMetadata", Args: []any{docID, sourceURI, metadata}})
	return m.UpdateDocumentMetadataResult, m.UpdateDocumentMetadataErr
}

// WipeAll implements [memcore.GraphStore].
func (m *GraphStore) WipeAll(_ context.Context) (memcore.WipeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WipeAll", Args: nil})
	return m.WipeAllResult, m.WipeAllErr
}
