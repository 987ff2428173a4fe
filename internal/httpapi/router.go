// Package httpapi exposes the relaymem core operations over the HTTP
// surface fixed by spec.md §6: a thin chi router translating JSON
// requests/responses to the corresponding connector/engine/admin call.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relaymem/core/internal/admin"
	"github.com/relaymem/core/internal/connectors"
	"github.com/relaymem/core/internal/health"
	"github.com/relaymem/core/internal/httpapi/authn"
	"github.com/relaymem/core/internal/observe"
	"github.com/relaymem/core/internal/retrieval"
)

// Server wires the HTTP router to the core components.
type Server struct {
	router http.Handler

	messages  *connectors.MessageConnector
	documents *connectors.DocumentConnector
	engine    *retrieval.Engine
	prefs     *retrieval.PreferenceResolver
	admin     *admin.Ops

	defaultScoreThreshold float64
	log                   *slog.Logger
}

// Config carries the dependencies and settings New needs to build a Server.
type Config struct {
	Messages  *connectors.MessageConnector
	Documents *connectors.DocumentConnector
	Engine    *retrieval.Engine
	Prefs     *retrieval.PreferenceResolver
	Admin     *admin.Ops
	Metrics   *observe.Metrics

	// SigningKey configures the bearer-token authn middleware. Empty
	// disables authentication (development mode).
	SigningKey string

	// DefaultScoreThreshold backs PreferenceResolver queries that omit an
	// explicit score_threshold.
	DefaultScoreThreshold float64

	// CORSOrigins lists allowed origins for the cors middleware. Defaults
	// to "*" if empty.
	CORSOrigins []string

	// Checkers back the /readyz probe. Each is evaluated on every request;
	// see [health.Checker].
	Checkers []health.Checker

	Log *slog.Logger
}

// New builds a Server and mounts every route named in spec.md §6.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.DefaultScoreThreshold <= 0 {
		cfg.DefaultScoreThreshold = 0.6
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		messages:              cfg.Messages,
		documents:             cfg.Documents,
		engine:                cfg.Engine,
		prefs:                 cfg.Prefs,
		admin:                 cfg.Admin,
		defaultScoreThreshold: cfg.DefaultScoreThreshold,
		log:                   cfg.Log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.Metrics != nil {
		r.Use(observe.Middleware(cfg.Metrics))
	}
	r.Use(authn.Middleware(cfg.SigningKey))

	healthHandler := health.New(cfg.Checkers...)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)

	r.Post("/v1/ingest/message", s.handleIngestMessage)
	r.Post("/v1/ingest/document", s.handleIngestDocument)
	r.Post("/v1/ingest/chunk", s.handleIngestChunk)
	r.Post("/v1/documents/{doc_id}/metadata", s.handleUpdateDocumentMetadata)

	r.Get("/v1/retrieve/context", s.handleRetrieveContext)
	r.Post("/v1/retrieve/private_memory", s.handleRetrievePrivateMemoryLegacy)
	r.Post("/v1/users/{user_id}/private_memory", s.handleRetrievePrivateMemory)
	r.Get("/v1/users/{user_id}/context", s.handleRetrieveUserContext)
	r.Get("/v1/users/{user_id}/preferences", s.handlePreferences)
	r.Get("/v1/retrieve/related_content", s.handleRetrieveRelated)
	r.Get("/v1/retrieve/topic", s.handleRetrieveByTopic)
	r.Get("/v1/retrieve/group", s.handleRetrieveGroupContext)

	r.Post("/v1/admin/api/seed_data", s.handleSeedData)
	r.Delete("/v1/admin/api/clear_data", s.handleClearData)

	s.router = r
	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

