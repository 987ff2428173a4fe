// Package pggraph implements [memcore.GraphStore] on PostgreSQL: a generic
// labelled-node / typed-edge schema plus the recursive-CTE traversals that
// back session/project projection, related-content discovery, topic lookup,
// and preference resolution.
package pggraph

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    label       TEXT         NOT NULL,
    key         TEXT         NOT NULL,
    props       JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (label, key)
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_label ON graph_nodes (label);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_props_gin ON graph_nodes USING GIN (props);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_fts
    ON graph_nodes USING GIN (to_tsvector('english', props->>'text'));

CREATE TABLE IF NOT EXISTS graph_edges (
    from_label  TEXT         NOT NULL,
    from_key    TEXT         NOT NULL,
    to_label    TEXT         NOT NULL,
    to_key      TEXT         NOT NULL,
    rel_type    TEXT         NOT NULL,
    props       JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (from_label, from_key, to_label, to_key, rel_type),
    FOREIGN KEY (from_label, from_key) REFERENCES graph_nodes (label, key) ON DELETE CASCADE,
    FOREIGN KEY (to_label, to_key)     REFERENCES graph_nodes (label, key) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges (from_label, from_key);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to   ON graph_edges (to_label, to_key);
CREATE INDEX IF NOT EXISTS idx_graph_edges_type  ON graph_edges (rel_type);
`

// Migrate creates or ensures the graph_nodes and graph_edges tables exist.
// Idempotent; safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pggraph migrate: %w", err)
	}
	return nil
}
