package connectors

import (
	"context"
	"testing"

	"github.com/relaymem/core/internal/ingest"
	"github.com/relaymem/core/pkg/memcore"
	"github.com/relaymem/core/pkg/memcore/mock"
)

type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.dims), nil
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f fakeEmbedder) Dimensions() int { return f.dims }
func (f fakeEmbedder) ModelID() string { return "fake" }

func newCoordinator(vectors memcore.VectorStore, graph memcore.GraphStore) *ingest.Coordinator {
	return ingest.New(fakeEmbedder{dims: 4}, vectors, graph, nil)
}

func TestMessageConnector_Ingest_GeneratesIDsAndDefaultsPrivacy(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := NewMessageConnector(newCoordinator(vectors, graph))

	chunk, err := c.Ingest(context.Background(), MessageInput{
		Text:       "hello twin",
		UserID:     "user-1",
		IsTwinChat: true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if chunk.ChunkID == "" || chunk.MessageID == "" {
		t.Fatal("expected generated chunk_id and message_id")
	}
	if !chunk.IsPrivate {
		t.Fatal("expected is_private to default to is_twin_chat (true)")
	}
	if chunk.SourceType != memcore.SourceMessage {
		t.Fatalf("source_type = %q, want %q", chunk.SourceType, memcore.SourceMessage)
	}
}

func TestMessageConnector_Ingest_ExplicitPrivacyOverridesDefault(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := NewMessageConnector(newCoordinator(vectors, graph))

	isPrivate := false
	chunk, err := c.Ingest(context.Background(), MessageInput{
		Text:       "hello",
		UserID:     "user-1",
		IsTwinChat: true,
		IsPrivate:  &isPrivate,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if chunk.IsPrivate {
		t.Fatal("expected explicit is_private=false to override the is_twin_chat default")
	}
}

func TestMessageConnector_Ingest_PropagatesCoordinatorError(t *testing.T) {
	vectors := &mock.VectorStore{}
	graph := &mock.GraphStore{}
	c := NewMessageConnector(newCoordinator(vectors, graph))

	_, err := c.Ingest(context.Background(), MessageInput{Text: "", UserID: "user-1"})
	if kind, ok := memcore.KindOf(err); !ok || kind != memcore.InvalidInput {
		t.Fatalf("expected InvalidInput for empty text, got %v", err)
	}
}
