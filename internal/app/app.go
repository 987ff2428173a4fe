// Package app wires all relaymem subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem from a [config.Config] (vector/graph stores, embedding
// provider, ingestion coordinator, retrieval engine, HTTP server), Run
// serves HTTP traffic until its context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithVectorStore,
// WithGraphStore, WithEmbedder, etc.). When an option is not provided, New
// creates the real implementation named by cfg.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymem/core/internal/admin"
	"github.com/relaymem/core/internal/connectors"
	"github.com/relaymem/core/internal/connectors/blobstore"
	"github.com/relaymem/core/internal/config"
	"github.com/relaymem/core/internal/health"
	"github.com/relaymem/core/internal/httpapi"
	"github.com/relaymem/core/internal/ingest"
	"github.com/relaymem/core/internal/observe"
	"github.com/relaymem/core/internal/resilience"
	"github.com/relaymem/core/internal/retrieval"
	"github.com/relaymem/core/pkg/embeddings"
	"github.com/relaymem/core/pkg/embeddings/breaker"
	"github.com/relaymem/core/pkg/embeddings/cached"
	"github.com/relaymem/core/pkg/embeddings/ollama"
	"github.com/relaymem/core/pkg/embeddings/openai"
	"github.com/relaymem/core/pkg/memcore"
	"github.com/relaymem/core/pkg/memcore/pggraph"
	"github.com/relaymem/core/pkg/memcore/pgvector"
	"github.com/relaymem/core/pkg/memcore/qdrant"
)

// App owns every subsystem's lifetime and serves the relaymem HTTP API.
type App struct {
	cfg *config.Config

	embedder        embeddings.Provider
	embedderBreaker *breaker.Provider
	vectors         memcore.VectorStore
	graph           memcore.GraphStore
	blobs           connectors.BlobStore

	coordinator *ingest.Coordinator
	messages    *connectors.MessageConnector
	documents   *connectors.DocumentConnector
	engine      *retrieval.Engine
	prefs       *retrieval.PreferenceResolver
	admin       *admin.Ops

	httpServer *http.Server

	log *slog.Logger

	// closers are called in reverse-init order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEmbedder injects an embeddings provider instead of creating one from config.
func WithEmbedder(e embeddings.Provider) Option {
	return func(a *App) { a.embedder = e }
}

// WithVectorStore injects a vector store instead of creating one from config.
func WithVectorStore(v memcore.VectorStore) Option {
	return func(a *App) { a.vectors = v }
}

// WithGraphStore injects a graph store instead of creating one from config.
func WithGraphStore(g memcore.GraphStore) Option {
	return func(a *App) { a.graph = g }
}

// WithBlobStore injects a blob store instead of creating one from config.
func WithBlobStore(b connectors.BlobStore) Option {
	return func(a *App) { a.blobs = b }
}

// WithLogger sets the logger used for application-level messages.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New creates an App by wiring all subsystems together from cfg. Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: embedding provider
// construction, vector/graph store connection and schema setup, and
// assembly of the ingestion/retrieval/admin layers and HTTP router.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	if err := a.initEmbedder(); err != nil {
		return nil, fmt.Errorf("app: init embedder: %w", err)
	}
	if err := a.initVectorStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init vector store: %w", err)
	}
	if err := a.initGraphStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init graph store: %w", err)
	}
	if err := a.initBlobStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init blob store: %w", err)
	}

	a.coordinator = ingest.New(a.embedder, a.vectors, a.graph, a.log)
	a.messages = connectors.NewMessageConnector(a.coordinator)
	a.documents = connectors.NewDocumentConnector(a.coordinator, a.graph, a.blobs)
	a.engine = retrieval.New(a.embedder, a.vectors, a.graph, a.coordinator, a.log)
	a.prefs = retrieval.NewPreferenceResolver(a.embedder, a.vectors, a.graph)
	a.admin = admin.New(a.coordinator, a.vectors, a.graph, schemaInitializer(a.vectors), schemaInitializer(a.graph))

	server := httpapi.New(httpapi.Config{
		Messages:              a.messages,
		Documents:             a.documents,
		Engine:                a.engine,
		Prefs:                 a.prefs,
		Admin:                 a.admin,
		Metrics:               observe.DefaultMetrics(),
		SigningKey:            cfg.AuthN.SigningKey,
		DefaultScoreThreshold: cfg.Retrieval.DefaultScoreThreshold,
		Checkers:              a.healthCheckers(),
		Log:                   a.log,
	})
	a.httpServer = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server,
	}

	return a, nil
}

// schemaInitializer narrows store into an admin.SchemaInitializer if it
// implements EnsureSchema (pgvector.Store, pggraph.Store do; qdrant.Store
// does not — New already ensures its collection), nil otherwise.
func schemaInitializer(store any) admin.SchemaInitializer {
	if si, ok := store.(admin.SchemaInitializer); ok {
		return si
	}
	return nil
}

func (a *App) initEmbedder() error {
	if a.embedder != nil {
		return nil
	}

	var inner embeddings.Provider
	switch a.cfg.Embeddings.Backend {
	case "openai":
		var opts []openai.Option
		if a.cfg.Embeddings.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(a.cfg.Embeddings.BaseURL))
		}
		p, err := openai.New(a.cfg.Embeddings.APIKey, a.cfg.Embeddings.Model, opts...)
		if err != nil {
			return err
		}
		inner = p
	case "ollama":
		var opts []ollama.Option
		if a.cfg.Embeddings.Dimension > 0 {
			opts = append(opts, ollama.WithDimensions(a.cfg.Embeddings.Dimension))
		}
		p, err := ollama.New(a.cfg.Embeddings.BaseURL, a.cfg.Embeddings.Model, opts...)
		if err != nil {
			return err
		}
		inner = p
	default:
		return fmt.Errorf("unrecognized embeddings.backend %q", a.cfg.Embeddings.Backend)
	}

	if a.cfg.Embeddings.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.Embeddings.Cache.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		ttl := time.Duration(a.cfg.Embeddings.Cache.TTLHours) * time.Hour
		inner = cached.New(inner, rdb, ttl)
	}

	wrapped := breaker.New(inner, resilience.CircuitBreakerConfig{Name: "embeddings." + a.cfg.Embeddings.Backend})
	a.embedder = wrapped
	a.embedderBreaker = wrapped
	return nil
}

func (a *App) initVectorStore(ctx context.Context) error {
	if a.vectors != nil {
		return nil
	}

	dims := a.cfg.Embeddings.Dimension

	switch a.cfg.Vector.Backend {
	case "postgres":
		store, err := pgvector.New(ctx, a.cfg.Vector.PostgresDSN, dims)
		if err != nil {
			return err
		}
		a.vectors = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
	case "qdrant":
		collection := a.cfg.Vector.CollectionName
		if collection == "" {
			collection = "relaymem_chunks"
		}
		store, err := qdrant.New(ctx, a.cfg.Vector.QdrantAddr, collection, dims)
		if err != nil {
			return err
		}
		a.vectors = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unrecognized vector.backend %q", a.cfg.Vector.Backend)
	}
	return nil
}

func (a *App) initGraphStore(ctx context.Context) error {
	if a.graph != nil {
		return nil
	}

	store, err := pggraph.New(ctx, a.cfg.Graph.PostgresDSN)
	if err != nil {
		return err
	}
	a.graph = store
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}
	if a.cfg.Blobstore.Bucket == "" {
		return nil
	}

	store, err := blobstore.NewS3Store(ctx, blobstore.Config{
		Bucket:       a.cfg.Blobstore.Bucket,
		Region:       a.cfg.Blobstore.Region,
		Endpoint:     a.cfg.Blobstore.Endpoint,
		AccessKey:    a.cfg.Blobstore.AccessKey,
		SecretKey:    a.cfg.Blobstore.SecretKey,
		UsePathStyle: a.cfg.Blobstore.UsePathStyle,
		Prefix:       a.cfg.Blobstore.Prefix,
	})
	if err != nil {
		return err
	}
	a.blobs = store
	return nil
}

// healthCheckers builds the /readyz probe set: a vector-store count, a
// graph-store topic lookup, and (when the embedder is circuit-breaker
// wrapped) the breaker's current state.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{
		{Name: "vector_store", Check: func(ctx context.Context) error {
			_, err := a.vectors.Count(ctx, nil)
			return err
		}},
		{Name: "graph_store", Check: func(ctx context.Context) error {
			_, err := a.graph.ContentByTopic(ctx, "__readyz__", nil)
			return err
		}},
	}
	if a.embedderBreaker != nil {
		checkers = append(checkers, health.Checker{Name: "embeddings", Check: func(_ context.Context) error {
			if a.embedderBreaker.State() == resilience.StateOpen {
				return fmt.Errorf("circuit open")
			}
			return nil
		}})
	}
	return checkers
}

// Accessors — mainly useful to tests and to AdminOps.InitializeSchema
// callers that want direct access without reaching into unexported fields.

func (a *App) VectorStore() memcore.VectorStore { return a.vectors }
func (a *App) GraphStore() memcore.GraphStore   { return a.graph }
func (a *App) Admin() *admin.Ops                { return a.admin }
func (a *App) Handler() http.Handler            { return a.httpServer.Handler }

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails to serve. A context cancellation is reported as nil, not
// context.Canceled, since it is the expected shutdown trigger.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and tears down every subsystem
// created by New, in reverse-init order. Respects ctx's deadline: if it
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Warn("http server shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
