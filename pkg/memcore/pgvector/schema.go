// Package pgvector implements [memcore.VectorStore] on PostgreSQL with the
// pgvector extension.
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the chunk-table DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
    chunk_id            TEXT         PRIMARY KEY,
    text                TEXT         NOT NULL,
    embedding           vector(%d),
    source_type         TEXT         NOT NULL,
    user_id             TEXT         NOT NULL DEFAULT '',
    project_id          TEXT         NOT NULL DEFAULT '',
    session_id          TEXT         NOT NULL DEFAULT '',
    doc_id              TEXT         NOT NULL DEFAULT '',
    message_id          TEXT         NOT NULL DEFAULT '',
    timestamp           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    is_private          BOOLEAN      NOT NULL DEFAULT false,
    is_twin_interaction BOOLEAN      NOT NULL DEFAULT false,
    metadata            JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunks_user_id      ON chunks (user_id);
CREATE INDEX IF NOT EXISTS idx_chunks_project_id   ON chunks (project_id);
CREATE INDEX IF NOT EXISTS idx_chunks_session_id   ON chunks (session_id);
CREATE INDEX IF NOT EXISTS idx_chunks_source_type  ON chunks (source_type);
CREATE INDEX IF NOT EXISTS idx_chunks_is_private    ON chunks (is_private);
CREATE INDEX IF NOT EXISTS idx_chunks_is_twin       ON chunks (is_twin_interaction);
CREATE INDEX IF NOT EXISTS idx_chunks_timestamp     ON chunks (timestamp);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_id        ON chunks (doc_id);

CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the chunks table and the pgvector extension
// exist. Idempotent; safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for the
// deployment. Changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return nil
}
