package connectors

import (
	"context"
	"errors"
	"testing"

	"github.com/relaymem/core/internal/chunker"
	"github.com/relaymem/core/pkg/memcore"
	"github.com/relaymem/core/pkg/memcore/mock"
)

type fakeBlobStore struct {
	putErr error
	puts   int
}

func (f *fakeBlobStore) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.puts++
	if f.putErr != nil {
		return "", f.putErr
	}
	return "s3://bucket/" + key, nil
}

func TestDocumentConnector_IngestDocument_SplitsAndSharesDocID(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{UpdateDocumentMetadataResult: true}
	blobs := &fakeBlobStore{}
	c := NewDocumentConnector(newCoordinator(vectors, graph), graph, blobs)

	text := "This is a reasonably long document body that the chunker will split into more than one piece once it exceeds the configured chunk size for this test."
	chunks, err := c.IngestDocument(context.Background(), DocumentInput{
		Text:           text,
		UserID:         "user-1",
		ChunkerOptions: chunker.Options{ChunkSize: 40, Overlap: 5},
	})
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the 40-char chunk size to split this text into multiple chunks, got %d", len(chunks))
	}
	docID := chunks[0].DocID
	if docID == "" {
		t.Fatal("expected a generated doc_id")
	}
	for _, c := range chunks {
		if c.DocID != docID {
			t.Fatalf("chunk %q has doc_id %q, want shared %q", c.ChunkID, c.DocID, docID)
		}
		if c.SourceType != memcore.SourceDocumentChunk {
			t.Fatalf("source_type = %q, want %q", c.SourceType, memcore.SourceDocumentChunk)
		}
	}
	if blobs.puts != 1 {
		t.Fatalf("expected exactly 1 blob Put call, got %d", blobs.puts)
	}
	if graph.CallCount("UpdateDocumentMetadata") != 1 {
		t.Fatal("expected source_uri to be recorded via UpdateDocumentMetadata")
	}
}

func TestDocumentConnector_IngestDocument_NilBlobStoreSkipsUpload(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := NewDocumentConnector(newCoordinator(vectors, graph), graph, nil)

	chunks, err := c.IngestDocument(context.Background(), DocumentInput{Text: "short doc", UserID: "user-1"})
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for short text, got %d", len(chunks))
	}
	if graph.CallCount("UpdateDocumentMetadata") != 0 {
		t.Fatal("expected no metadata update when there is no blob store to produce a source_uri")
	}
}

func TestDocumentConnector_IngestDocument_BlobFailureIsStoreTransient(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	blobs := &fakeBlobStore{putErr: errors.New("s3 down")}
	c := NewDocumentConnector(newCoordinator(vectors, graph), graph, blobs)

	_, err := c.IngestDocument(context.Background(), DocumentInput{Text: "doc text", UserID: "user-1"})
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.StoreTransient {
		t.Fatalf("expected StoreTransient error, got %v", err)
	}
}

func TestDocumentConnector_IngestChunk_MergesDocumentAndSessionEdge(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := NewDocumentConnector(newCoordinator(vectors, graph), graph, nil)

	chunk, err := c.IngestChunk(context.Background(), TranscriptChunkInput{
		UserID:    "user-1",
		SessionID: "session-1",
		DocID:     "doc-1",
		Text:      "utterance text",
	})
	if err != nil {
		t.Fatalf("IngestChunk: %v", err)
	}
	if chunk.SourceType != memcore.SourceTranscriptSnippet {
		t.Fatalf("source_type = %q, want %q", chunk.SourceType, memcore.SourceTranscriptSnippet)
	}
	if graph.CallCount("MergeNode") == 0 {
		t.Fatal("expected the parent Document node to be merged")
	}
	if graph.CallCount("MergeEdge") == 0 {
		t.Fatal("expected a Document-ATTACHED_TO->Session edge to be merged")
	}
}

func TestDocumentConnector_IngestChunk_RequiresAllFields(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := NewDocumentConnector(newCoordinator(vectors, graph), graph, nil)

	_, err := c.IngestChunk(context.Background(), TranscriptChunkInput{UserID: "user-1"})
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.InvalidInput {
		t.Fatalf("expected InvalidInput for missing fields, got %v", err)
	}
}

func TestDocumentConnector_UpdateDocumentMetadata_DelegatesToGraph(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{UpdateDocumentMetadataResult: true}
	c := NewDocumentConnector(newCoordinator(vectors, graph), graph, nil)

	updated, err := c.UpdateDocumentMetadata(context.Background(), "doc-1", "s3://bucket/doc-1", map[string]any{"doc_name": "Notes"})
	if err != nil {
		t.Fatalf("UpdateDocumentMetadata: %v", err)
	}
	if !updated {
		t.Fatal("expected updated=true")
	}
	if graph.CallCount("UpdateDocumentMetadata") != 1 {
		t.Fatalf("expected 1 UpdateDocumentMetadata call, got %d", graph.CallCount("UpdateDocumentMetadata"))
	}
}
