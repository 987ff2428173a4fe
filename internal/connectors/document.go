package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaymem/core/internal/chunker"
	"github.com/relaymem/core/internal/ingest"
	"github.com/relaymem/core/pkg/memcore"
)

// DocumentInput is the caller-facing payload accepted by
// [DocumentConnector.IngestDocument].
type DocumentInput struct {
	Text      string
	DocID     string
	UserID    string
	ProjectID string
	SessionID string
	Timestamp time.Time
	IsPrivate bool
	Metadata  map[string]any

	ChunkerOptions chunker.Options
}

// TranscriptChunkInput is the single-utterance payload accepted by
// [DocumentConnector.IngestChunk].
type TranscriptChunkInput struct {
	UserID    string
	SessionID string
	DocID     string
	Text      string
	Timestamp time.Time
	IsPrivate bool
	Metadata  map[string]any
}

// BlobStore uploads raw document bytes and returns a retrievable URI. It is
// an optional collaborator — when absent, source_uri is left for the
// caller to set later via UpdateDocumentMetadata.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// DocumentConnector turns whole documents and individual transcript
// utterances into ingested chunks.
type DocumentConnector struct {
	coordinator *ingest.Coordinator
	graph       memcore.GraphStore
	blobs       BlobStore
}

// NewDocumentConnector builds a DocumentConnector over coordinator and
// graph. blobs may be nil, in which case IngestDocument never uploads
// the raw document.
func NewDocumentConnector(coordinator *ingest.Coordinator, graph memcore.GraphStore, blobs BlobStore) *DocumentConnector {
	return &DocumentConnector{coordinator: coordinator, graph: graph, blobs: blobs}
}

// IngestDocument runs the chunker over in.Text and dispatches one chunk per
// resulting substring, all sharing a stable doc_id (generated if missing)
// and carrying per-chunk metadata identifying its position in the document.
// When the chunker yields nothing (whitespace-only text), the full text is
// dispatched as a single chunk, so N is always >= 1.
func (c *DocumentConnector) IngestDocument(ctx context.Context, in DocumentInput) ([]memcore.Chunk, error) {
	if in.DocID == "" {
		in.DocID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	var sourceURI string
	if c.blobs != nil {
		uri, err := c.blobs.Put(ctx, in.DocID, []byte(in.Text), "text/plain; charset=utf-8")
		if err != nil {
			return nil, memcore.NewError(memcore.StoreTransient, "connectors.ingest_document.blob_put", err)
		}
		sourceURI = uri
	}

	pieces := chunker.Split(in.Text, in.ChunkerOptions)
	if len(pieces) == 0 {
		pieces = []string{in.Text}
	}

	chunks := make([]memcore.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		metadata := map[string]any{
			"original_document": in.DocID,
			"chunk_index":       i,
			"total_chunks":      len(pieces),
		}
		for k, v := range in.Metadata {
			metadata[k] = v
		}

		chunk := memcore.Chunk{
			ChunkID:    uuid.NewString(),
			Text:       piece,
			SourceType: memcore.SourceDocumentChunk,
			UserID:     in.UserID,
			ProjectID:  in.ProjectID,
			SessionID:  in.SessionID,
			DocID:      in.DocID,
			Timestamp:  in.Timestamp,
			IsPrivate:  in.IsPrivate,
			Metadata:   metadata,
		}
		if err := c.coordinator.IngestOne(ctx, chunk); err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}

	if sourceURI != "" {
		if _, err := c.graph.UpdateDocumentMetadata(ctx, in.DocID, sourceURI, nil); err != nil {
			return chunks, err
		}
	}
	return chunks, nil
}

// IngestChunk is the single-utterance transcript path. Before dispatch it
// merges the parent Document node — defaulting its name to "Transcript
// Document <doc_id>" — and a Document-ATTACHED_TO->Session edge, so a
// late-arriving chunk under a new doc_id still lands in a valid graph even
// if no prior IngestDocument call has seen that doc_id.
func (c *DocumentConnector) IngestChunk(ctx context.Context, in TranscriptChunkInput) (memcore.Chunk, error) {
	if in.UserID == "" || in.SessionID == "" || in.DocID == "" || in.Text == "" {
		return memcore.Chunk{}, memcore.NewError(memcore.InvalidInput, "connectors.ingest_chunk",
			fmt.Errorf("user_id, session_id, doc_id, and text are all required"))
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	if _, err := c.graph.MergeNode(ctx, memcore.LabelDocument, in.DocID, map[string]any{
		"name":        fmt.Sprintf("Transcript Document %s", in.DocID),
		"source_type": "transcript",
	}); err != nil {
		return memcore.Chunk{}, err
	}
	if _, err := c.graph.MergeEdge(ctx, memcore.LabelDocument, in.DocID, memcore.LabelSession, in.SessionID, memcore.RelAttachedTo, nil); err != nil {
		return memcore.Chunk{}, err
	}

	chunk := memcore.Chunk{
		ChunkID:    uuid.NewString(),
		Text:       in.Text,
		SourceType: memcore.SourceTranscriptSnippet,
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		DocID:      in.DocID,
		Timestamp:  in.Timestamp,
		IsPrivate:  in.IsPrivate,
		Metadata:   in.Metadata,
	}
	if err := c.coordinator.IngestOne(ctx, chunk); err != nil {
		return memcore.Chunk{}, err
	}
	return chunk, nil
}

// UpdateDocumentMetadata delegates to the GraphStore. It never touches
// vectors — document metadata lives only on the graph's Document node.
func (c *DocumentConnector) UpdateDocumentMetadata(ctx context.Context, docID, sourceURI string, metadata map[string]any) (bool, error) {
	return c.graph.UpdateDocumentMetadata(ctx, docID, sourceURI, metadata)
}
