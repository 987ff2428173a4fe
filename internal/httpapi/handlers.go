package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaymem/core/internal/connectors"
	"github.com/relaymem/core/internal/retrieval"
	"github.com/relaymem/core/pkg/memcore"
)

// chunkDTO is the wire shape of a chunk in every response: chunk_id, text,
// source_type, timestamp (ISO-8601), user_id, project_id?, session_id?,
// doc_id?, doc_name?, message_id?, score?, metadata{}.
type chunkDTO struct {
	ChunkID    string         `json:"chunk_id"`
	Text       string         `json:"text"`
	SourceType string         `json:"source_type"`
	Timestamp  string         `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	ProjectID  string         `json:"project_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	DocID      string         `json:"doc_id,omitempty"`
	DocName    string         `json:"doc_name,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	Score      *float64       `json:"score,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func toChunkDTO(c memcore.Chunk, score *float64) chunkDTO {
	dto := chunkDTO{
		ChunkID:    c.ChunkID,
		Text:       c.Text,
		SourceType: string(c.SourceType),
		Timestamp:  c.Timestamp.UTC().Format(time.RFC3339),
		UserID:     c.UserID,
		ProjectID:  c.ProjectID,
		SessionID:  c.SessionID,
		DocID:      c.DocID,
		MessageID:  c.MessageID,
		Score:      score,
		Metadata:   c.Metadata,
	}
	if name, ok := c.Metadata["doc_name"].(string); ok {
		dto.DocName = name
	}
	return dto
}

func toChunkDTOs(chunks []memcore.Chunk) []chunkDTO {
	out := make([]chunkDTO, len(chunks))
	for i, c := range chunks {
		out[i] = toChunkDTO(c, nil)
	}
	return out
}

func toScoredDTOs(hits []memcore.ScoredChunk) []chunkDTO {
	out := make([]chunkDTO, len(hits))
	for i, hit := range hits {
		score := hit.Score
		out[i] = toChunkDTO(hit.Chunk, &score)
	}
	return out
}

type chunksResponse struct {
	Chunks []chunkDTO `json:"chunks"`
	Total  int        `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeMemcoreError maps a memcore error's Kind to the HTTP status named
// by spec.md §6: validation failures -> 422, everything else -> 500.
func writeMemcoreError(w http.ResponseWriter, err error) {
	if kind, ok := memcore.KindOf(err); ok && kind == memcore.InvalidInput {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// --- Ingestion handlers ---

type ingestMessageRequest struct {
	Text       string         `json:"text"`
	UserID     string         `json:"user_id"`
	ProjectID  string         `json:"project_id"`
	SessionID  string         `json:"session_id"`
	MessageID  string         `json:"message_id"`
	Timestamp  *time.Time     `json:"timestamp"`
	IsTwinChat bool           `json:"is_twin_chat"`
	IsPrivate  *bool          `json:"is_private"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) handleIngestMessage(w http.ResponseWriter, r *http.Request) {
	var req ingestMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	in := connectors.MessageInput{
		Text:       req.Text,
		UserID:     req.UserID,
		ProjectID:  req.ProjectID,
		SessionID:  req.SessionID,
		MessageID:  req.MessageID,
		IsTwinChat: req.IsTwinChat,
		IsPrivate:  req.IsPrivate,
		Metadata:   req.Metadata,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}

	chunk, err := s.messages.Ingest(r.Context(), in)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toChunkDTO(chunk, nil))
}

type ingestDocumentRequest struct {
	Text           string         `json:"text"`
	DocID          string         `json:"doc_id"`
	UserID         string         `json:"user_id"`
	ProjectID      string         `json:"project_id"`
	SessionID      string         `json:"session_id"`
	Timestamp      *time.Time     `json:"timestamp"`
	IsPrivate      bool           `json:"is_private"`
	Metadata       map[string]any `json:"metadata"`
	ChunkSize      int            `json:"chunk_size"`
	ChunkOverlap   int            `json:"chunk_overlap"`
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	in := connectors.DocumentInput{
		Text:      req.Text,
		DocID:     req.DocID,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		SessionID: req.SessionID,
		IsPrivate: req.IsPrivate,
		Metadata:  req.Metadata,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}
	in.ChunkerOptions.ChunkSize = req.ChunkSize
	in.ChunkerOptions.Overlap = req.ChunkOverlap

	chunks, err := s.documents.IngestDocument(r.Context(), in)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, chunksResponse{Chunks: toChunkDTOs(chunks), Total: len(chunks)})
}

type ingestChunkRequest struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	DocID     string         `json:"doc_id"`
	Text      string         `json:"text"`
	Timestamp *time.Time     `json:"timestamp"`
	IsPrivate bool           `json:"is_private"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) handleIngestChunk(w http.ResponseWriter, r *http.Request) {
	var req ingestChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	in := connectors.TranscriptChunkInput{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		DocID:     req.DocID,
		Text:      req.Text,
		IsPrivate: req.IsPrivate,
		Metadata:  req.Metadata,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}

	chunk, err := s.documents.IngestChunk(r.Context(), in)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toChunkDTO(chunk, nil))
}

type updateDocumentMetadataRequest struct {
	SourceURI string         `json:"source_uri"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) handleUpdateDocumentMetadata(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	var req updateDocumentMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	updated, err := s.documents.UpdateDocumentMetadata(r.Context(), docID, req.SourceURI, req.Metadata)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

// --- Retrieval handlers ---

func parseBoolQuery(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func retrievalOptionsFromQuery(r *http.Request) retrieval.Options {
	return retrieval.Options{
		IncludePrivate:        parseBoolQuery(r, "include_private", false),
		IncludeMessagesToTwin: parseBoolQuery(r, "include_messages_to_twin", false),
		Limit:                 parseIntQuery(r, "limit", 10),
	}
}

func contextResultResponse(res retrieval.ContextResult) map[string]any {
	out := map[string]any{
		"chunks": toScoredDTOs(res.Results),
		"total":  len(res.Results),
	}
	if res.ProjectContext != nil {
		out["project_context"] = res.ProjectContext
	}
	if res.Participants != nil {
		out["participants"] = res.Participants
	}
	return out
}

func (s *Server) handleRetrieveContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	includeGraph := parseBoolQuery(r, "include_graph", true)

	res, err := s.engine.RetrieveContext(r.Context(), q, retrievalOptionsFromQuery(r), includeGraph)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResultResponse(res))
}

func (s *Server) handleRetrieveUserContext(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	q := r.URL.Query().Get("q")
	includeGraph := parseBoolQuery(r, "include_graph", true)

	res, err := s.engine.RetrieveUserContext(r.Context(), userID, q, retrievalOptionsFromQuery(r), includeGraph)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResultResponse(res))
}

type privateMemoryRequest struct {
	UserID                string `json:"user_id"`
	Q                     string `json:"q"`
	IncludeMessagesToTwin bool   `json:"include_messages_to_twin"`
	Limit                 int    `json:"limit"`
}

// handleRetrievePrivateMemoryLegacy serves the legacy
// POST /v1/retrieve/private_memory route (spec.md §9 Open Questions #1 —
// kept alongside the canonical per-user route, not collapsed).
func (s *Server) handleRetrievePrivateMemoryLegacy(w http.ResponseWriter, r *http.Request) {
	var req privateMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.retrievePrivateMemory(w, r, req.UserID, req.Q, req.IncludeMessagesToTwin, req.Limit)
}

func (s *Server) handleRetrievePrivateMemory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	var req privateMemoryRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.UserID != "" && req.UserID != userID {
		writeMemcoreError(w, memcore.NewError(memcore.InvalidInput, "httpapi.private_memory",
			errors.New("body user_id does not match path user_id")))
		return
	}
	s.retrievePrivateMemory(w, r, userID, req.Q, req.IncludeMessagesToTwin, req.Limit)
}

var errEmptyBody = errors.New("empty request body")

func (s *Server) retrievePrivateMemory(w http.ResponseWriter, r *http.Request, userID, q string, includeMessagesToTwin bool, limit int) {
	if limit <= 0 {
		limit = 10
	}
	opts := retrieval.Options{IncludeMessagesToTwin: includeMessagesToTwin, Limit: limit}

	res, err := s.engine.RetrievePrivateMemory(r.Context(), userID, q, opts)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResultResponse(res))
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	q := r.URL.Query()

	threshold := s.defaultScoreThreshold
	if v := q.Get("score_threshold"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			threshold = f
		}
	}

	envelope, err := s.prefs.Resolve(r.Context(), retrieval.PreferenceQuery{
		UserID:                userID,
		DecisionTopic:         q.Get("decision_topic"),
		Scope:                 q.Get("scope"),
		ScoreThreshold:        threshold,
		Limit:                 parseIntQuery(r, "limit", 10),
		IncludeMessagesToTwin: parseBoolQuery(r, "include_messages_to_twin", true),
	})
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreferenceEnvelopeDTO(envelope))
}

type preferenceStatementDTO struct {
	Chunk  chunkDTO `json:"chunk"`
	Source string   `json:"source"`
	Score  float64  `json:"score,omitempty"`
}

type preferenceEnvelopeDTO struct {
	UserID            string                   `json:"user_id"`
	DecisionTopic     string                   `json:"decision_topic"`
	HasPreferences    bool                     `json:"has_preferences"`
	Statements        []preferenceStatementDTO `json:"statements"`
	GraphResultCount  int                      `json:"graph_result_count"`
	VectorResultCount int                      `json:"vector_result_count"`
}

func toPreferenceEnvelopeDTO(e retrieval.PreferenceEnvelope) preferenceEnvelopeDTO {
	statements := make([]preferenceStatementDTO, len(e.Statements))
	for i, st := range e.Statements {
		var score *float64
		if st.Source == "vector" {
			score = &st.Score
		}
		statements[i] = preferenceStatementDTO{
			Chunk:  toChunkDTO(st.Chunk, score),
			Source: st.Source,
			Score:  st.Score,
		}
	}
	return preferenceEnvelopeDTO{
		UserID:            e.UserID,
		DecisionTopic:     e.DecisionTopic,
		HasPreferences:    e.HasPreferences,
		Statements:        statements,
		GraphResultCount:  e.GraphResultCount,
		VectorResultCount: e.VectorResultCount,
	}
}

func (s *Server) handleRetrieveRelated(w http.ResponseWriter, r *http.Request) {
	chunkID := r.URL.Query().Get("chunk_id")
	opts := memcore.RelatedContentOpts{
		MaxDepth:       parseIntQuery(r, "max_depth", 1),
		IncludePrivate: parseBoolQuery(r, "include_private", false),
		Limit:          parseIntQuery(r, "limit", 20),
	}

	related, err := s.engine.RetrieveRelated(r.Context(), chunkID, opts)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}

	chunks := make([]chunkDTO, len(related))
	for i, rc := range related {
		chunks[i] = toChunkDTO(rc.Chunk, nil)
	}
	writeJSON(w, http.StatusOK, chunksResponse{Chunks: chunks, Total: len(chunks)})
}

func (s *Server) handleRetrieveByTopic(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	results, err := s.engine.RetrieveByTopic(r.Context(), topic, nil)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}

	chunks := make([]chunkDTO, len(results))
	for i, tc := range results {
		chunks[i] = toChunkDTO(tc.Chunk, nil)
	}
	writeJSON(w, http.StatusOK, chunksResponse{Chunks: chunks, Total: len(chunks)})
}

func (s *Server) handleRetrieveGroupContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	limitPerUser := parseIntQuery(r, "limit_per_user", 5)

	var kind retrieval.ScopeKind
	var scopeID string
	switch {
	case q.Get("session_id") != "" && q.Get("project_id") != "":
		writeError(w, http.StatusUnprocessableEntity,
			errors.New("only one of session_id or project_id may be supplied"))
		return
	case q.Get("session_id") != "":
		kind, scopeID = retrieval.ScopeSession, q.Get("session_id")
	case q.Get("project_id") != "":
		kind, scopeID = retrieval.ScopeProject, q.Get("project_id")
	default:
		writeError(w, http.StatusUnprocessableEntity, errors.New("session_id or project_id is required"))
		return
	}

	opts := retrieval.Options{
		IncludePrivate:        parseBoolQuery(r, "include_private", false),
		IncludeMessagesToTwin: parseBoolQuery(r, "include_messages_to_twin", false),
	}

	groups, err := s.engine.RetrieveGroupContext(r.Context(), query, kind, scopeID, opts, limitPerUser)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}

	type groupDTO struct {
		UserID  string     `json:"user_id"`
		Results []chunkDTO `json:"results"`
		Error   string     `json:"error,omitempty"`
	}
	out := make([]groupDTO, len(groups))
	for i, g := range groups {
		dto := groupDTO{UserID: g.UserID, Results: toScoredDTOs(g.Results)}
		if g.Err != nil {
			dto.Error = g.Err.Error()
		}
		out[i] = dto
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

// --- Admin handlers ---

type seedDataRequest struct {
	Chunks []seedChunk `json:"chunks"`
}

type seedChunk struct {
	ChunkID           string         `json:"chunk_id"`
	Text              string         `json:"text"`
	SourceType        string         `json:"source_type"`
	UserID            string         `json:"user_id"`
	ProjectID         string         `json:"project_id"`
	SessionID         string         `json:"session_id"`
	DocID             string         `json:"doc_id"`
	MessageID         string         `json:"message_id"`
	Timestamp         *time.Time     `json:"timestamp"`
	IsPrivate         bool           `json:"is_private"`
	IsTwinInteraction bool           `json:"is_twin_interaction"`
	Metadata          map[string]any `json:"metadata"`
}

func (s *Server) handleSeedData(w http.ResponseWriter, r *http.Request) {
	var req seedDataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	chunks := make([]memcore.Chunk, len(req.Chunks))
	for i, c := range req.Chunks {
		chunk := memcore.Chunk{
			ChunkID:           c.ChunkID,
			Text:              c.Text,
			SourceType:        memcore.SourceType(c.SourceType),
			UserID:            c.UserID,
			ProjectID:         c.ProjectID,
			SessionID:         c.SessionID,
			DocID:             c.DocID,
			MessageID:         c.MessageID,
			IsPrivate:         c.IsPrivate,
			IsTwinInteraction: c.IsTwinInteraction,
			Metadata:          c.Metadata,
		}
		if c.Timestamp != nil {
			chunk.Timestamp = *c.Timestamp
		} else {
			chunk.Timestamp = time.Now().UTC()
		}
		chunks[i] = chunk
	}

	counts, err := s.admin.Seed(r.Context(), chunks)
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"counts": counts})
}

func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	counts, err := s.admin.ClearAll(r.Context())
	if err != nil {
		writeMemcoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
