package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaymem/core/pkg/memcore"
	"github.com/relaymem/core/pkg/memcore/mock"
)

type fakeEmbedder struct {
	dims     int
	embedErr error
	batchErr error
}

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return make([]float32, f.dims), nil
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f fakeEmbedder) Dimensions() int { return f.dims }
func (f fakeEmbedder) ModelID() string { return "fake" }

func validChunk(id string) memcore.Chunk {
	return memcore.Chunk{
		ChunkID:    id,
		Text:       "hello world",
		SourceType: memcore.SourceMessage,
		UserID:     "user-1",
		SessionID:  "session-1",
		ProjectID:  "project-1",
		MessageID:  "msg-1",
		Timestamp:  time.Now(),
	}
}

func TestIngestOne_Success(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := New(fakeEmbedder{dims: 4}, vectors, graph, nil)

	if err := c.IngestOne(context.Background(), validChunk("c1")); err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	if vectors.CallCount("Upsert") != 1 {
		t.Fatalf("expected 1 Upsert call, got %d", vectors.CallCount("Upsert"))
	}
	if graph.CallCount("MergeNode") == 0 {
		t.Fatal("expected at least one MergeNode call for the chunk's graph projection")
	}
}

func TestIngestOne_InvalidInput(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := New(fakeEmbedder{dims: 4}, vectors, graph, nil)

	err := c.IngestOne(context.Background(), memcore.Chunk{ChunkID: "c1"})
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.InvalidInput {
		t.Fatalf("expected InvalidInput error, got %v", err)
	}
	if vectors.CallCount("Upsert") != 0 {
		t.Fatal("validation failure must not reach the vector store")
	}
}

func TestIngestOne_EmbeddingFailure(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := New(fakeEmbedder{dims: 4, embedErr: errors.New("provider down")}, vectors, graph, nil)

	err := c.IngestOne(context.Background(), validChunk("c1"))
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.EmbeddingFailure {
		t.Fatalf("expected EmbeddingFailure error, got %v", err)
	}
}

func TestIngestOne_PartialIngestOnGraphFailure(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{MergeNodeErr: errors.New("graph unavailable")}
	c := New(fakeEmbedder{dims: 4}, vectors, graph, nil)

	err := c.IngestOne(context.Background(), validChunk("c1"))
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.PartialIngest {
		t.Fatalf("expected PartialIngest error, got %v", err)
	}
	if vectors.CallCount("Upsert") != 1 {
		t.Fatal("the vector leg must still have been written before the graph leg failed")
	}
}

func TestIngestChunks_BatchEmbedFailureReportsEveryChunk(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := New(fakeEmbedder{dims: 4, batchErr: errors.New("rate limited")}, vectors, graph, nil)

	chunks := []memcore.Chunk{validChunk("c1"), validChunk("c2")}
	errs := c.IngestChunks(context.Background(), chunks)
	if len(errs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(errs))
	}
	for i, err := range errs {
		if kind, ok := memcore.KindOf(err); !ok || kind != memcore.EmbeddingFailure {
			t.Fatalf("chunk %d: expected EmbeddingFailure, got %v", i, err)
		}
	}
}

func TestIngestChunks_PartialValidationFailureKeepsOthersFlowing(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := New(fakeEmbedder{dims: 4}, vectors, graph, nil)

	chunks := []memcore.Chunk{{ChunkID: ""}, validChunk("c2")}
	errs := c.IngestChunks(context.Background(), chunks)
	if errs[0] == nil {
		t.Fatal("expected the empty-id chunk to fail validation")
	}
	if errs[1] != nil {
		t.Fatalf("expected the valid chunk to succeed, got %v", errs[1])
	}
	if vectors.CallCount("Upsert") != 1 {
		t.Fatalf("expected exactly 1 Upsert (for the valid chunk), got %d", vectors.CallCount("Upsert"))
	}
}
