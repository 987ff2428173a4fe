package pggraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymem/core/pkg/memcore"
)

// Store is a PostgreSQL-backed [memcore.GraphStore].
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ memcore.GraphStore = (*Store)(nil)

// New connects to dsn and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pggraph store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pggraph store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema re-runs Migrate. It is idempotent — New already calls it
// once at construction — and exists so AdminOps.InitializeSchema has an
// explicit operation to call without needing a second connection.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

// MergeNode implements [memcore.GraphStore]. It is idempotent and
// create-only: otherProps is applied only the first time a (label,key) pair
// is seen. Re-merging an existing node returns its original properties
// unchanged.
func (s *Store) MergeNode(ctx context.Context, label memcore.NodeLabel, key string, otherProps map[string]any) (memcore.Node, error) {
	if key == "" {
		return memcore.Node{}, memcore.NewError(memcore.InvalidInput, "graphstore.merge_node", fmt.Errorf("key is required"))
	}
	propsJSON, err := json.Marshal(otherProps)
	if err != nil {
		return memcore.Node{}, memcore.NewError(memcore.InvalidInput, "graphstore.merge_node", err)
	}

	const qInsert = `
		INSERT INTO graph_nodes (label, key, props)
		VALUES ($1, $2, $3)
		ON CONFLICT (label, key) DO NOTHING
		RETURNING props`

	var storedJSON []byte
	err = s.pool.QueryRow(ctx, qInsert, string(label), key, propsJSON).Scan(&storedJSON)
	if err != nil {
		if !isNoRows(err) {
			return memcore.Node{}, memcore.NewError(memcore.StoreTransient, "graphstore.merge_node", err)
		}
		// Conflict: the node already exists — fetch its original properties.
		const qFetch = `SELECT props FROM graph_nodes WHERE label = $1 AND key = $2`
		if err := s.pool.QueryRow(ctx, qFetch, string(label), key).Scan(&storedJSON); err != nil {
			return memcore.Node{}, memcore.NewError(memcore.StoreTransient, "graphstore.merge_node", err)
		}
	}

	node := memcore.Node{Label: label, Key: key}
	if len(storedJSON) > 0 {
		if err := json.Unmarshal(storedJSON, &node.Props); err != nil {
			return memcore.Node{}, memcore.NewError(memcore.StorePermanent, "graphstore.merge_node", err)
		}
	}
	if node.Props == nil {
		node.Props = map[string]any{}
	}
	return node, nil
}

// MergeEdge implements [memcore.GraphStore]. props is applied only on
// create; re-merging an existing edge is a no-op and reports existed=true.
func (s *Store) MergeEdge(ctx context.Context, fromLabel memcore.NodeLabel, fromKey string, toLabel memcore.NodeLabel, toKey string, relType memcore.RelType, props map[string]any) (bool, error) {
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return false, memcore.NewError(memcore.InvalidInput, "graphstore.merge_edge", err)
	}

	const q = `
		INSERT INTO graph_edges (from_label, from_key, to_label, to_key, rel_type, props)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (from_label, from_key, to_label, to_key, rel_type) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, string(fromLabel), fromKey, string(toLabel), toKey, string(relType), propsJSON)
	if err != nil {
		return false, memcore.NewError(memcore.StoreTransient, "graphstore.merge_edge", err)
	}
	return tag.RowsAffected() == 0, nil
}

// SessionParticipants implements [memcore.GraphStore].
func (s *Store) SessionParticipants(ctx context.Context, sessionID string) ([]string, error) {
	const q = `
		SELECT DISTINCT from_key
		FROM   graph_edges
		WHERE  from_label = 'User' AND rel_type = 'PARTICIPATED_IN'
		  AND  to_label = 'Session' AND to_key = $1
		ORDER  BY from_key`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "graphstore.session_participants", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "graphstore.session_participants", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ProjectContext implements [memcore.GraphStore]. Participants are derived
// transitively: every user who PARTICIPATED_IN a session that is PART_OF the
// project, plus every user who MANAGES the project directly.
func (s *Store) ProjectContext(ctx context.Context, projectID string) (memcore.ProjectContext, error) {
	const qSessions = `
		SELECT DISTINCT from_key
		FROM   graph_edges
		WHERE  from_label = 'Session' AND rel_type = 'PART_OF'
		  AND  to_label = 'Project' AND to_key = $1`

	const qDocuments = `
		SELECT DISTINCT d.from_key
		FROM   graph_edges d
		WHERE  d.from_label = 'Document' AND d.rel_type = 'PART_OF'
		  AND  d.to_label = 'Project' AND d.to_key = $1
		UNION
		SELECT DISTINCT d.from_key
		FROM   graph_edges d
		JOIN   graph_edges s ON s.from_label = 'Session' AND s.from_key = d.to_key
		                    AND s.rel_type = 'PART_OF' AND s.to_label = 'Project'
		WHERE  d.from_label = 'Document' AND d.rel_type = 'ATTACHED_TO'
		  AND  d.to_label = 'Session' AND s.to_key = $1`

	const qUsers = `
		SELECT DISTINCT u.from_key
		FROM   graph_edges u
		JOIN   graph_edges s ON s.from_label = 'Session' AND s.from_key = u.to_key
		                    AND s.rel_type = 'PART_OF' AND s.to_label = 'Project'
		WHERE  u.from_label = 'User' AND u.rel_type = 'PARTICIPATED_IN'
		  AND  u.to_label = 'Session' AND s.to_key = $1
		UNION
		SELECT from_key
		FROM   graph_edges
		WHERE  from_label = 'User' AND rel_type = 'MANAGES'
		  AND  to_label = 'Project' AND to_key = $1`

	var pc memcore.ProjectContext
	var err error

	rows, err := s.pool.Query(ctx, qSessions, projectID)
	if err != nil {
		return pc, memcore.NewError(memcore.StoreTransient, "graphstore.project_context", err)
	}
	if pc.SessionIDs, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return pc, memcore.NewError(memcore.StoreTransient, "graphstore.project_context", err)
	}

	rows, err = s.pool.Query(ctx, qDocuments, projectID)
	if err != nil {
		return pc, memcore.NewError(memcore.StoreTransient, "graphstore.project_context", err)
	}
	if pc.DocumentIDs, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return pc, memcore.NewError(memcore.StoreTransient, "graphstore.project_context", err)
	}

	rows, err = s.pool.Query(ctx, qUsers, projectID)
	if err != nil {
		return pc, memcore.NewError(memcore.StoreTransient, "graphstore.project_context", err)
	}
	if pc.UserIDs, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return pc, memcore.NewError(memcore.StoreTransient, "graphstore.project_context", err)
	}

	if pc.SessionIDs == nil {
		pc.SessionIDs = []string{}
	}
	if pc.DocumentIDs == nil {
		pc.DocumentIDs = []string{}
	}
	if pc.UserIDs == nil {
		pc.UserIDs = []string{}
	}
	return pc, nil
}

// UpdateDocumentMetadata implements [memcore.GraphStore]. It patches only the
// Document node's props, merging sourceURI and metadata in — never touching
// vectors.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, docID string, sourceURI string, metadata map[string]any) (bool, error) {
	patch := map[string]any{}
	for k, v := range metadata {
		patch[k] = v
	}
	if sourceURI != "" {
		patch["source_uri"] = sourceURI
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return false, memcore.NewError(memcore.InvalidInput, "graphstore.update_document_metadata", err)
	}

	const q = `
		UPDATE graph_nodes
		SET    props = props || $2::jsonb
		WHERE  label = 'Document' AND key = $1`

	tag, err := s.pool.Exec(ctx, q, docID, patchJSON)
	if err != nil {
		return false, memcore.NewError(memcore.StoreTransient, "graphstore.update_document_metadata", err)
	}
	return tag.RowsAffected() > 0, nil
}

// WipeAll implements [memcore.GraphStore].
func (s *Store) WipeAll(ctx context.Context) (memcore.WipeStats, error) {
	var stats memcore.WipeStats

	edgeTag, err := s.pool.Exec(ctx, `DELETE FROM graph_edges`)
	if err != nil {
		return stats, memcore.NewError(memcore.StoreTransient, "graphstore.wipe_all", err)
	}
	nodeTag, err := s.pool.Exec(ctx, `DELETE FROM graph_nodes`)
	if err != nil {
		return stats, memcore.NewError(memcore.StoreTransient, "graphstore.wipe_all", err)
	}

	stats.EdgesDeleted = int(edgeTag.RowsAffected())
	stats.NodesDeleted = int(nodeTag.RowsAffected())
	return stats, nil
}

func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
