package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/relaymem/core/pkg/memcore"
)

// Store is a PostgreSQL-backed [memcore.VectorStore] using a pgvector HNSW
// index for approximate nearest-neighbour search.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

var _ memcore.VectorStore = (*Store)(nil)

// New connects to dsn, registers pgvector types on every connection, and
// runs [Migrate]. embeddingDimensions must match the configured embedding
// provider's output size.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, dims: embeddingDimensions}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema re-runs Migrate. It is idempotent — New already calls it
// once at construction — and exists so AdminOps.InitializeSchema has an
// explicit operation to call without needing a second connection.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return Migrate(ctx, s.pool, s.dims)
}

// column maps a filter field name to a chunks column, or "" if the field is
// only reachable via the metadata JSONB blob.
func column(field string) string {
	switch field {
	case "chunk_id", "text", "source_type", "user_id", "project_id",
		"session_id", "doc_id", "message_id", "is_private",
		"is_twin_interaction":
		return field
	case "timestamp":
		return "extract(epoch from timestamp)"
	default:
		return ""
	}
}

// buildWhere translates filters into a SQL WHERE fragment (without the
// leading WHERE keyword) plus the accumulated positional args, using the
// next()-closure placeholder-numbering idiom.
func buildWhere(filters []memcore.Filter, args *[]any) string {
	next := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	var conditions []string
	for _, f := range filters {
		col := column(f.Field)
		var expr string
		if col == "" {
			// Fall back to the metadata JSONB column for non-indexed fields.
			col = "metadata->>'" + strings.ReplaceAll(f.Field, "'", "") + "'"
		}
		switch f.Kind {
		case memcore.FilterEq:
			expr = fmt.Sprintf("%s = %s", col, next(f.Value))
		case memcore.FilterAnyOf:
			expr = fmt.Sprintf("%s = ANY(%s)", col, next(f.Values))
		case memcore.FilterRange:
			if f.Min != nil {
				conditions = append(conditions, fmt.Sprintf("%s >= %s", col, next(f.Min)))
			}
			if f.Max != nil {
				conditions = append(conditions, fmt.Sprintf("%s <= %s", col, next(f.Max)))
			}
			continue
		}
		conditions = append(conditions, expr)
	}
	return strings.Join(conditions, "\n  AND ")
}

// validEmbedding reports whether vec is non-empty, finite-valued, and
// dimension-conformant.
func (s *Store) validEmbedding(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	if s.dims > 0 && len(vec) != s.dims {
		return fmt.Errorf("embedding has dimension %d, want %d", len(vec), s.dims)
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("embedding contains a non-finite component")
		}
	}
	return nil
}

// Upsert implements [memcore.VectorStore].
func (s *Store) Upsert(ctx context.Context, chunk memcore.Chunk) error {
	if chunk.ChunkID == "" {
		return memcore.NewError(memcore.InvalidInput, "vectorstore.upsert", fmt.Errorf("chunk_id is required"))
	}
	if err := s.validEmbedding(chunk.Embedding); err != nil {
		return memcore.NewChunkError(memcore.InvalidInput, "vectorstore.upsert", chunk.ChunkID, err)
	}

	metaJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return memcore.NewChunkError(memcore.InvalidInput, "vectorstore.upsert", chunk.ChunkID, err)
	}

	const q = `
		INSERT INTO chunks
		    (chunk_id, text, embedding, source_type, user_id, project_id,
		     session_id, doc_id, message_id, timestamp, is_private,
		     is_twin_interaction, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (chunk_id) DO UPDATE SET
		    text                = EXCLUDED.text,
		    embedding           = EXCLUDED.embedding,
		    source_type         = EXCLUDED.source_type,
		    user_id             = EXCLUDED.user_id,
		    project_id          = EXCLUDED.project_id,
		    session_id          = EXCLUDED.session_id,
		    doc_id              = EXCLUDED.doc_id,
		    message_id          = EXCLUDED.message_id,
		    timestamp           = EXCLUDED.timestamp,
		    is_private          = EXCLUDED.is_private,
		    is_twin_interaction = EXCLUDED.is_twin_interaction,
		    metadata            = EXCLUDED.metadata`

	_, err = s.pool.Exec(ctx, q,
		chunk.ChunkID, chunk.Text, pgv.NewVector(chunk.Embedding), string(chunk.SourceType),
		chunk.UserID, chunk.ProjectID, chunk.SessionID, chunk.DocID, chunk.MessageID,
		chunk.Timestamp, chunk.IsPrivate, chunk.IsTwinInteraction, metaJSON,
	)
	if err != nil {
		return memcore.NewChunkError(memcore.StoreTransient, "vectorstore.upsert", chunk.ChunkID, err)
	}
	return nil
}

// Search implements [memcore.VectorStore].
func (s *Store) Search(ctx context.Context, queryVector []float32, limit int, filters []memcore.Filter) ([]memcore.ScoredChunk, error) {
	args := []any{pgv.NewVector(queryVector)} // $1 = query vector
	where := buildWhere(filters, &args)

	whereClause := ""
	if where != "" {
		whereClause = "WHERE " + where
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT chunk_id, text, embedding, source_type, user_id, project_id,
		       session_id, doc_id, message_id, timestamp, is_private,
		       is_twin_interaction, metadata,
		       1.0 - (embedding <=> $1) AS score
		FROM   chunks
		%s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "vectorstore.search", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memcore.ScoredChunk, error) {
		var (
			sc        memcore.ScoredChunk
			vec       pgv.Vector
			sourceStr string
			metaJSON  []byte
		)
		if err := row.Scan(
			&sc.Chunk.ChunkID, &sc.Chunk.Text, &vec, &sourceStr,
			&sc.Chunk.UserID, &sc.Chunk.ProjectID, &sc.Chunk.SessionID,
			&sc.Chunk.DocID, &sc.Chunk.MessageID, &sc.Chunk.Timestamp,
			&sc.Chunk.IsPrivate, &sc.Chunk.IsTwinInteraction, &metaJSON,
			&sc.Score,
		); err != nil {
			return memcore.ScoredChunk{}, err
		}
		sc.Chunk.SourceType = memcore.SourceType(sourceStr)
		sc.Chunk.Embedding = vec.Slice()
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &sc.Chunk.Metadata); err != nil {
				return memcore.ScoredChunk{}, err
			}
		}
		return sc, nil
	})
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "vectorstore.search", err)
	}
	if results == nil {
		results = []memcore.ScoredChunk{}
	}
	return results, nil
}

// Delete implements [memcore.VectorStore].
func (s *Store) Delete(ctx context.Context, sel memcore.Selector) (int, error) {
	if sel.Empty() {
		return 0, memcore.NewError(memcore.InvalidInput, "vectorstore.delete", fmt.Errorf("selector must carry chunk ids or at least one filter"))
	}

	var args []any
	var conditions []string
	if len(sel.ChunkIDs) > 0 {
		args = append(args, sel.ChunkIDs)
		conditions = append(conditions, fmt.Sprintf("chunk_id = ANY($%d)", len(args)))
	}
	if len(sel.Filters) > 0 {
		where := buildWhere(sel.Filters, &args)
		conditions = append(conditions, where)
	}

	q := "DELETE FROM chunks WHERE " + strings.Join(conditions, "\n  OR ")
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, memcore.NewError(memcore.StoreTransient, "vectorstore.delete", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count implements [memcore.VectorStore].
func (s *Store) Count(ctx context.Context, filters []memcore.Filter) (int, error) {
	var args []any
	where := buildWhere(filters, &args)
	whereClause := ""
	if where != "" {
		whereClause = "WHERE " + where
	}
	q := "SELECT count(*) FROM chunks " + whereClause

	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, memcore.NewError(memcore.StoreTransient, "vectorstore.count", err)
	}
	return n, nil
}
