package pggraph

import (
	"time"

	"github.com/relaymem/core/pkg/memcore"
)

// ChunkToProps flattens a chunk into the property map stored on its Chunk
// graph node. Callers merging a Chunk node (typically the ingestion
// coordinator) should pass this as MergeNode's otherProps so every traversal
// query in this package can reconstruct a full [memcore.Chunk] from node
// properties alone, without a round-trip to the vector store.
func ChunkToProps(c memcore.Chunk) map[string]any {
	props := map[string]any{
		"text":                c.Text,
		"source_type":         string(c.SourceType),
		"user_id":             c.UserID,
		"project_id":          c.ProjectID,
		"session_id":          c.SessionID,
		"doc_id":              c.DocID,
		"message_id":          c.MessageID,
		"timestamp":           c.Timestamp.Format(time.RFC3339Nano),
		"is_private":          c.IsPrivate,
		"is_twin_interaction": c.IsTwinInteraction,
	}
	if c.Metadata != nil {
		props["metadata"] = c.Metadata
	}
	return props
}

// chunkFromProps reconstructs a [memcore.Chunk] from a Chunk node's stored
// properties. Fields missing from props are left at their zero value.
func chunkFromProps(chunkID string, props map[string]any) memcore.Chunk {
	c := memcore.Chunk{ChunkID: chunkID}
	if v, ok := props["text"].(string); ok {
		c.Text = v
	}
	if v, ok := props["source_type"].(string); ok {
		c.SourceType = memcore.SourceType(v)
	}
	if v, ok := props["user_id"].(string); ok {
		c.UserID = v
	}
	if v, ok := props["project_id"].(string); ok {
		c.ProjectID = v
	}
	if v, ok := props["session_id"].(string); ok {
		c.SessionID = v
	}
	if v, ok := props["doc_id"].(string); ok {
		c.DocID = v
	}
	if v, ok := props["message_id"].(string); ok {
		c.MessageID = v
	}
	if v, ok := props["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			c.Timestamp = t
		}
	}
	if v, ok := props["is_private"].(bool); ok {
		c.IsPrivate = v
	}
	if v, ok := props["is_twin_interaction"].(bool); ok {
		c.IsTwinInteraction = v
	}
	if v, ok := props["metadata"].(map[string]any); ok {
		c.Metadata = v
	}
	return c
}
