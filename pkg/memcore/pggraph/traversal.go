package pggraph

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/relaymem/core/pkg/memcore"
)

// RelatedContent implements [memcore.GraphStore]. It combines three
// independent queries rather than one SQL mega-UNION, since each has a
// different shape and cost profile:
//
//  1. a direct Chunk-to-Chunk chain, up to opts.MaxDepth hops, found via a
//     recursive CTE over an undirected view of chunk-to-chunk edges;
//  2. a shared-entity match at depth 1: c1 and the candidate both carry an
//     edge (either direction) to the same non-Chunk node;
//  3. a shared-entity match at depth 2 (only when MaxDepth >= 2): the same
//     shape as (2) but with one additional non-Chunk hop between the two
//     entities.
//
// The privacy filter (opts.IncludePrivate) is applied only to the
// destination chunk; intermediate nodes are never filtered. Self-matches are
// excluded from every query.
func (s *Store) RelatedContent(ctx context.Context, chunkID string, opts memcore.RelatedContentOpts) ([]memcore.RelatedChunk, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}

	var relTypes []string
	for _, rt := range opts.RelTypes {
		relTypes = append(relTypes, string(rt))
	}

	ids := map[string]bool{}

	direct, err := s.relatedDirectChain(ctx, chunkID, relTypes, opts.MaxDepth)
	if err != nil {
		return nil, err
	}
	for _, id := range direct {
		ids[id] = true
	}

	sharedDepth1, err := s.relatedSharedEntity(ctx, chunkID, 1)
	if err != nil {
		return nil, err
	}
	for _, id := range sharedDepth1 {
		ids[id] = true
	}

	if opts.MaxDepth >= 2 {
		sharedDepth2, err := s.relatedSharedEntity(ctx, chunkID, 2)
		if err != nil {
			return nil, err
		}
		for _, id := range sharedDepth2 {
			ids[id] = true
		}
	}
	delete(ids, chunkID)

	if len(ids) == 0 {
		return []memcore.RelatedChunk{}, nil
	}

	candidateIDs := make([]string, 0, len(ids))
	for id := range ids {
		candidateIDs = append(candidateIDs, id)
	}

	chunks, err := s.fetchChunkNodes(ctx, candidateIDs, opts.IncludePrivate)
	if err != nil {
		return nil, err
	}

	edgesByChunk, err := s.fetchIncidentEdges(ctx, keysOf(chunks))
	if err != nil {
		return nil, err
	}

	results := make([]memcore.RelatedChunk, 0, len(chunks))
	for key, c := range chunks {
		rc := memcore.RelatedChunk{Chunk: c}
		rc.OutgoingRels = edgesByChunk[key].out
		rc.IncomingRels = edgesByChunk[key].in
		results = append(results, rc)
	}

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// relatedDirectChain walks Chunk-to-Chunk edges (treated as undirected) up
// to maxDepth hops via a recursive CTE, modeled on the KnowledgeGraph
// neighbor-traversal pattern generalized to the label/key schema.
func (s *Store) relatedDirectChain(ctx context.Context, chunkID string, relTypes []string, maxDepth int) ([]string, error) {
	const q = `
		WITH RECURSIVE ce AS (
			SELECT from_key AS a, to_key AS b, rel_type
			FROM   graph_edges
			WHERE  from_label = 'Chunk' AND to_label = 'Chunk'
			UNION ALL
			SELECT to_key AS a, from_key AS b, rel_type
			FROM   graph_edges
			WHERE  from_label = 'Chunk' AND to_label = 'Chunk'
		),
		chain(key, depth, path) AS (
			SELECT b, 1, ARRAY[a, b]
			FROM   ce
			WHERE  a = $1 AND ($2::text[] IS NULL OR rel_type = ANY($2))
			UNION ALL
			SELECT ce.b, chain.depth + 1, chain.path || ce.b
			FROM   chain
			JOIN   ce ON ce.a = chain.key
			WHERE  chain.depth < $3
			  AND  NOT ce.b = ANY(chain.path)
			  AND  ($2::text[] IS NULL OR ce.rel_type = ANY($2))
		)
		SELECT DISTINCT key FROM chain WHERE key <> $1`

	var relArg any
	if len(relTypes) > 0 {
		relArg = relTypes
	}

	rows, err := s.pool.Query(ctx, q, chunkID, relArg, maxDepth)
	if err != nil {
		return nil, memcore.NewChunkError(memcore.StoreTransient, "graphstore.related_content", chunkID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, memcore.NewChunkError(memcore.StoreTransient, "graphstore.related_content", chunkID, err)
	}
	return ids, nil
}

// relatedSharedEntity finds chunks that share a non-Chunk neighbor with
// chunkID, either directly (hops=1) or via one further non-Chunk hop
// (hops=2).
func (s *Store) relatedSharedEntity(ctx context.Context, chunkID string, hops int) ([]string, error) {
	const neighborsOf = `
		SELECT
			CASE WHEN from_label = 'Chunk' THEN to_key   ELSE from_key   END AS other_key,
			CASE WHEN from_label = 'Chunk' THEN to_label  ELSE from_label END AS other_label
		FROM graph_edges
		WHERE (from_label = 'Chunk' AND from_key = $1 AND to_label <> 'Chunk')
		   OR (to_label = 'Chunk' AND to_key = $1 AND from_label <> 'Chunk')`

	const chunksOfEntity = `
		SELECT
			CASE WHEN from_label = 'Chunk' THEN from_key ELSE to_key   END AS chunk_key,
			CASE WHEN from_label = 'Chunk' THEN to_key   ELSE from_key END AS other_key,
			CASE WHEN from_label = 'Chunk' THEN to_label ELSE from_label END AS other_label
		FROM graph_edges
		WHERE (from_label = 'Chunk' AND to_label <> 'Chunk')
		   OR (to_label = 'Chunk' AND from_label <> 'Chunk')`

	var q string
	switch hops {
	case 1:
		q = `
			SELECT DISTINCT e2.chunk_key
			FROM (` + neighborsOf + `) e1
			JOIN (` + chunksOfEntity + `) e2
			  ON e2.other_key = e1.other_key AND e2.other_label = e1.other_label
			WHERE e2.chunk_key <> $1`
	case 2:
		// One additional non-Chunk hop between e1's entity and e2's entity.
		q = `
			SELECT DISTINCT e2.chunk_key
			FROM (` + neighborsOf + `) e1
			JOIN graph_edges bridge
			  ON (bridge.from_label = e1.other_label AND bridge.from_key = e1.other_key AND bridge.to_label <> 'Chunk')
			  OR (bridge.to_label = e1.other_label AND bridge.to_key = e1.other_key AND bridge.from_label <> 'Chunk')
			JOIN (` + chunksOfEntity + `) e2
			  ON (e2.other_key = bridge.to_key AND e2.other_label = bridge.to_label)
			  OR (e2.other_key = bridge.from_key AND e2.other_label = bridge.from_label)
			WHERE e2.chunk_key <> $1`
	default:
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, q, chunkID)
	if err != nil {
		return nil, memcore.NewChunkError(memcore.StoreTransient, "graphstore.related_content", chunkID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, memcore.NewChunkError(memcore.StoreTransient, "graphstore.related_content", chunkID, err)
	}
	return ids, nil
}

// fetchChunkNodes loads the Chunk nodes named by keys, excluding private
// chunks unless includePrivate is set.
func (s *Store) fetchChunkNodes(ctx context.Context, keys []string, includePrivate bool) (map[string]memcore.Chunk, error) {
	const q = `SELECT key, props FROM graph_nodes WHERE label = 'Chunk' AND key = ANY($1)`

	rows, err := s.pool.Query(ctx, q, keys)
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "graphstore.related_content", err)
	}
	defer rows.Close()

	out := map[string]memcore.Chunk{}
	for rows.Next() {
		var key string
		var propsJSON []byte
		if err := rows.Scan(&key, &propsJSON); err != nil {
			return nil, memcore.NewError(memcore.StoreTransient, "graphstore.related_content", err)
		}
		var props map[string]any
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &props); err != nil {
				return nil, memcore.NewError(memcore.StorePermanent, "graphstore.related_content", err)
			}
		}
		c := chunkFromProps(key, props)
		if c.IsPrivate && !includePrivate {
			continue
		}
		out[key] = c
	}
	return out, rows.Err()
}

type incidentEdges struct {
	out []memcore.NeighborRef
	in  []memcore.NeighborRef
}

// fetchIncidentEdges loads every direct edge touching any of keys in a
// single query, grouped by chunk key, to avoid an N+1 query per result chunk.
func (s *Store) fetchIncidentEdges(ctx context.Context, keys []string) (map[string]incidentEdges, error) {
	result := map[string]incidentEdges{}
	if len(keys) == 0 {
		return result, nil
	}

	const q = `
		SELECT from_label, from_key, to_label, to_key, rel_type
		FROM   graph_edges
		WHERE  (from_label = 'Chunk' AND from_key = ANY($1))
		    OR (to_label = 'Chunk' AND to_key = ANY($1))`

	rows, err := s.pool.Query(ctx, q, keys)
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "graphstore.related_content", err)
	}
	defer rows.Close()

	wanted := map[string]bool{}
	for _, k := range keys {
		wanted[k] = true
	}

	for rows.Next() {
		var fromLabel, fromKey, toLabel, toKey, relType string
		if err := rows.Scan(&fromLabel, &fromKey, &toLabel, &toKey, &relType); err != nil {
			return nil, memcore.NewError(memcore.StoreTransient, "graphstore.related_content", err)
		}
		if fromLabel == "Chunk" && wanted[fromKey] {
			e := result[fromKey]
			e.out = append(e.out, memcore.NeighborRef{RelType: memcore.RelType(relType), NeighborID: toKey, Label: memcore.NodeLabel(toLabel)})
			result[fromKey] = e
		}
		if toLabel == "Chunk" && wanted[toKey] {
			e := result[toKey]
			e.in = append(e.in, memcore.NeighborRef{RelType: memcore.RelType(relType), NeighborID: fromKey, Label: memcore.NodeLabel(fromLabel)})
			result[toKey] = e
		}
	}
	return result, rows.Err()
}

func keysOf(m map[string]memcore.Chunk) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// ContentByTopic implements [memcore.GraphStore]. It matches a Topic node by
// exact key and follows the MENTIONS edge back to every chunk, applying
// filters but never a dedicated include_twin_interactions flag (the vector
// fallback tier is responsible for that nuance — see the related design
// note on RetrievalEngine.RetrieveByTopic).
func (s *Store) ContentByTopic(ctx context.Context, topicName string, filters []memcore.Filter) ([]memcore.TopicContent, error) {
	const q = `
		SELECT n.key, n.props
		FROM   graph_edges e
		JOIN   graph_nodes n ON n.label = 'Chunk' AND n.key = e.from_key
		WHERE  e.from_label = 'Chunk' AND e.rel_type = 'MENTIONS'
		  AND  e.to_label = 'Topic' AND e.to_key = $1`

	rows, err := s.pool.Query(ctx, q, topicName)
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "graphstore.content_by_topic", err)
	}
	defer rows.Close()

	var results []memcore.TopicContent
	for rows.Next() {
		var key string
		var propsJSON []byte
		if err := rows.Scan(&key, &propsJSON); err != nil {
			return nil, memcore.NewError(memcore.StoreTransient, "graphstore.content_by_topic", err)
		}
		var props map[string]any
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &props); err != nil {
				return nil, memcore.NewError(memcore.StorePermanent, "graphstore.content_by_topic", err)
			}
		}
		c := chunkFromProps(key, props)
		if !chunkMatchesFilters(c, filters) {
			continue
		}
		results = append(results, memcore.TopicContent{Chunk: c, Topic: topicName})
	}
	if results == nil {
		results = []memcore.TopicContent{}
	}
	return results, rows.Err()
}

// PreferenceStatements implements [memcore.GraphStore]: the three-tier query
// from §4.7 — STATES_PREFERENCE match, then MENTIONS match, then a plain
// CREATED fallback — each bounded by the limit remaining after the prior
// tier. Matches the original DAL's behavior of a naive sequential append
// with no cross-tier dedup; that dedup happens one layer up, in the
// preference resolver, which prefers graph-sourced hits over the fallback.
func (s *Store) PreferenceStatements(ctx context.Context, userID, topic string, opts memcore.PreferenceOpts) ([]memcore.Chunk, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var collected []memcore.Chunk

	tier1, err := s.preferenceTier(ctx, userID, topic, memcore.RelStatesPreference, limit-len(collected))
	if err != nil {
		return nil, err
	}
	collected = append(collected, tier1...)

	if remaining := limit - len(collected); remaining > 0 {
		tier2, err := s.preferenceTier(ctx, userID, topic, memcore.RelMentions, remaining)
		if err != nil {
			return nil, err
		}
		collected = append(collected, tier2...)
	}

	if remaining := limit - len(collected); remaining > 0 {
		tier3, err := s.preferenceFallback(ctx, userID, remaining)
		if err != nil {
			return nil, err
		}
		collected = append(collected, tier3...)
	}

	if opts.Scope != "" {
		scoped := collected[:0]
		for _, c := range collected {
			if c.ProjectID == opts.Scope || c.SessionID == opts.Scope {
				scoped = append(scoped, c)
			}
		}
		collected = scoped
	}

	if collected == nil {
		collected = []memcore.Chunk{}
	}
	return collected, nil
}

func (s *Store) preferenceTier(ctx context.Context, userID, topic string, relType memcore.RelType, limit int) ([]memcore.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := `
		SELECT c.key, c.props
		FROM   graph_edges created
		JOIN   graph_edges rel
		  ON   rel.from_label = 'Chunk' AND rel.from_key = created.to_key AND rel.rel_type = $3
		JOIN   graph_nodes topicNode
		  ON   topicNode.label = 'Topic' AND topicNode.key = rel.to_key
		JOIN   graph_nodes c
		  ON   c.label = 'Chunk' AND c.key = created.to_key
		WHERE  created.from_label = 'User' AND created.from_key = $1
		  AND  created.rel_type = 'CREATED' AND created.to_label = 'Chunk'
		  AND  rel.to_label = 'Topic'
		  AND  (topicNode.key ILIKE '%' || $2 || '%' OR $2 ILIKE '%' || topicNode.key || '%')
		LIMIT  $4`

	rows, err := s.pool.Query(ctx, q, userID, topic, string(relType), limit)
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "graphstore.preference_statements", err)
	}
	defer rows.Close()

	var out []memcore.Chunk
	for rows.Next() {
		var key string
		var propsJSON []byte
		if err := rows.Scan(&key, &propsJSON); err != nil {
			return nil, memcore.NewError(memcore.StoreTransient, "graphstore.preference_statements", err)
		}
		var props map[string]any
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &props); err != nil {
				return nil, memcore.NewError(memcore.StorePermanent, "graphstore.preference_statements", err)
			}
		}
		c := chunkFromProps(key, props)
		if c.IsTwinInteraction {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) preferenceFallback(ctx context.Context, userID string, limit int) ([]memcore.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	const q = `
		SELECT c.key, c.props
		FROM   graph_edges created
		JOIN   graph_nodes c ON c.label = 'Chunk' AND c.key = created.to_key
		WHERE  created.from_label = 'User' AND created.from_key = $1
		  AND  created.rel_type = 'CREATED' AND created.to_label = 'Chunk'
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "graphstore.preference_statements", err)
	}
	defer rows.Close()

	var out []memcore.Chunk
	for rows.Next() {
		var key string
		var propsJSON []byte
		if err := rows.Scan(&key, &propsJSON); err != nil {
			return nil, memcore.NewError(memcore.StoreTransient, "graphstore.preference_statements", err)
		}
		var props map[string]any
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &props); err != nil {
				return nil, memcore.NewError(memcore.StorePermanent, "graphstore.preference_statements", err)
			}
		}
		c := chunkFromProps(key, props)
		if c.IsTwinInteraction {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// chunkMatchesFilters applies a small filter set in Go, used where the
// candidate set is already materialized from a graph join rather than built
// into the SQL WHERE clause.
func chunkMatchesFilters(c memcore.Chunk, filters []memcore.Filter) bool {
	for _, f := range filters {
		var actual any
		switch f.Field {
		case "user_id":
			actual = c.UserID
		case "project_id":
			actual = c.ProjectID
		case "session_id":
			actual = c.SessionID
		case "is_private":
			actual = c.IsPrivate
		case "is_twin_interaction":
			actual = c.IsTwinInteraction
		default:
			if c.Metadata != nil {
				actual = c.Metadata[f.Field]
			}
		}

		switch f.Kind {
		case memcore.FilterEq:
			if actual != f.Value {
				return false
			}
		case memcore.FilterAnyOf:
			match := false
			for _, v := range f.Values {
				if actual == v {
					match = true
					break
				}
			}
			if !match {
				return false
			}
		case memcore.FilterRange:
			// Only meaningful for ordered fields (e.g. timestamp); left
			// unimplemented here since no current caller ranges by a
			// ContentByTopic filter field.
			_ = strings.TrimSpace
		}
	}
	return true
}
