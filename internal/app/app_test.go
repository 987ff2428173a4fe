package app

import (
	"context"
	"testing"
	"time"

	"github.com/relaymem/core/internal/config"
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
func (f fakeEmbedder) ModelID() string { return "fake-embedder" }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Retrieval.DefaultScoreThreshold = 0.6
	return cfg
}

func TestNew_WiresSubsystemsFromInjectedDoubles(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(),
		WithEmbedder(fakeEmbedder{dims: 8}),
		WithVectorStore(&mock.VectorStore{}),
		WithGraphStore(&mock.GraphStore{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.VectorStore() == nil || a.GraphStore() == nil {
		t.Fatal("expected vector and graph stores to be set")
	}
	if a.Admin() == nil {
		t.Fatal("expected admin ops to be wired")
	}
	if a.Handler() == nil {
		t.Fatal("expected an HTTP handler to be built")
	}
}

func TestNew_RejectsUnrecognizedEmbeddingsBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Embeddings.Backend = "not-a-backend"
	_, err := New(context.Background(), cfg,
		WithVectorStore(&mock.VectorStore{}),
		WithGraphStore(&mock.GraphStore{}),
	)
	if err == nil {
		t.Fatal("expected an error for an unrecognized embeddings backend")
	}
}

func TestRunAndShutdown(t *testing.T) {
	a, err := New(context.Background(), testConfig(),
		WithEmbedder(fakeEmbedder{dims: 8}),
		WithVectorStore(&mock.VectorStore{}),
		WithGraphStore(&mock.GraphStore{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener goroutine a moment to start before cancelling.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after cancellation: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// A second Shutdown call must be a no-op (guarded by stopOnce).
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
