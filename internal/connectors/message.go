// Package connectors adapts caller-facing payloads — chat messages,
// documents, transcript utterances — into [memcore.Chunk] values and hands
// them to the [ingest.Coordinator].
package connectors

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relaymem/core/internal/ingest"
	"github.com/relaymem/core/pkg/memcore"
)

// MessageInput is the caller-facing payload accepted by [MessageConnector.Ingest].
type MessageInput struct {
	Text       string
	UserID     string
	Timestamp  time.Time
	MessageID  string
	ProjectID  string
	SessionID  string
	IsTwinChat bool
	IsPrivate  *bool // nil means "use the is_twin_chat default"
	Metadata   map[string]any
}

// MessageConnector turns chat messages into ingested chunks.
type MessageConnector struct {
	coordinator *ingest.Coordinator
}

// NewMessageConnector builds a MessageConnector over coordinator.
func NewMessageConnector(coordinator *ingest.Coordinator) *MessageConnector {
	return &MessageConnector{coordinator: coordinator}
}

// Ingest generates a message_id if missing, defaults is_private to
// is_twin_chat unless the caller overrode it, and dispatches one chunk with
// a freshly generated chunk_id.
func (c *MessageConnector) Ingest(ctx context.Context, in MessageInput) (memcore.Chunk, error) {
	if in.MessageID == "" {
		in.MessageID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	isPrivate := in.IsTwinChat // is_private defaults to is_twin_chat unless set explicitly.
	if in.IsPrivate != nil {
		isPrivate = *in.IsPrivate
	}

	chunk := memcore.Chunk{
		ChunkID:           uuid.NewString(),
		Text:              in.Text,
		SourceType:        memcore.SourceMessage,
		UserID:            in.UserID,
		ProjectID:         in.ProjectID,
		SessionID:         in.SessionID,
		MessageID:         in.MessageID,
		Timestamp:         in.Timestamp,
		IsPrivate:         isPrivate,
		IsTwinInteraction: in.IsTwinChat,
		Metadata:          in.Metadata,
	}

	if err := c.coordinator.IngestOne(ctx, chunk); err != nil {
		return memcore.Chunk{}, err
	}
	return chunk, nil
}
