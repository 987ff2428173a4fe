// Package qdrant implements [memcore.VectorStore] on Qdrant, an alternate
// vector engine for deployments that prefer a dedicated vector database over
// pgvector. It talks to Qdrant's gRPC surface directly via the generated
// points/collections service clients, mirroring the raw-gRPC usage found
// across the retrieved example fleet rather than any higher-level wrapper.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/relaymem/core/pkg/memcore"
)

// Store is a Qdrant-backed [memcore.VectorStore].
type Store struct {
	conn           *grpc.ClientConn
	collectionsSvc qdrant.CollectionsClient
	pointsSvc      qdrant.PointsClient
	collection     string
	dims           int
}

var _ memcore.VectorStore = (*Store)(nil)

// New dials addr (host:port, no scheme) and ensures collection exists with
// the given embedding dimension and cosine distance.
func New(ctx context.Context, addr, collection string, embeddingDimensions int) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant store: dial: %w", err)
	}

	s := &Store{
		conn:           conn,
		collectionsSvc: qdrant.NewCollectionsClient(conn),
		pointsSvc:      qdrant.NewPointsClient(conn),
		collection:     collection,
		dims:           embeddingDimensions,
	}
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) ensureCollection(ctx context.Context) error {
	list, err := s.collectionsSvc.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant store: list collections: %w", err)
	}
	for _, c := range list.Collections {
		if c.Name == s.collection {
			return nil
		}
	}

	_, err = s.collectionsSvc.Create(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(s.dims),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant store: create collection: %w", err)
	}
	return nil
}

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

// chunkPointID maps a chunk_id into the UUID Qdrant point ids require,
// deterministically so re-upserting the same chunk id lands on the same
// point.
func chunkPointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func chunkToPayload(c memcore.Chunk) (map[string]*qdrant.Value, error) {
	payload := map[string]*qdrant.Value{
		"chunk_id":            strVal(c.ChunkID),
		"text":                strVal(c.Text),
		"source_type":         strVal(string(c.SourceType)),
		"user_id":             strVal(c.UserID),
		"project_id":          strVal(c.ProjectID),
		"session_id":          strVal(c.SessionID),
		"doc_id":              strVal(c.DocID),
		"message_id":          strVal(c.MessageID),
		"timestamp":           {Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(c.Timestamp.Unix())}},
		"is_private":          {Kind: &qdrant.Value_BoolValue{BoolValue: c.IsPrivate}},
		"is_twin_interaction": {Kind: &qdrant.Value_BoolValue{BoolValue: c.IsTwinInteraction}},
	}
	if len(c.Metadata) > 0 {
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, err
		}
		payload["metadata_json"] = strVal(string(metaJSON))
	}
	return payload, nil
}

func strVal(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func payloadToChunk(payload map[string]*qdrant.Value) memcore.Chunk {
	var c memcore.Chunk
	if v, ok := payload["chunk_id"]; ok {
		c.ChunkID = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["source_type"]; ok {
		c.SourceType = memcore.SourceType(v.GetStringValue())
	}
	if v, ok := payload["user_id"]; ok {
		c.UserID = v.GetStringValue()
	}
	if v, ok := payload["project_id"]; ok {
		c.ProjectID = v.GetStringValue()
	}
	if v, ok := payload["session_id"]; ok {
		c.SessionID = v.GetStringValue()
	}
	if v, ok := payload["doc_id"]; ok {
		c.DocID = v.GetStringValue()
	}
	if v, ok := payload["message_id"]; ok {
		c.MessageID = v.GetStringValue()
	}
	if v, ok := payload["is_private"]; ok {
		c.IsPrivate = v.GetBoolValue()
	}
	if v, ok := payload["is_twin_interaction"]; ok {
		c.IsTwinInteraction = v.GetBoolValue()
	}
	if v, ok := payload["metadata_json"]; ok {
		_ = json.Unmarshal([]byte(v.GetStringValue()), &c.Metadata)
	}
	return c
}

// Upsert implements [memcore.VectorStore].
func (s *Store) Upsert(ctx context.Context, chunk memcore.Chunk) error {
	if chunk.ChunkID == "" {
		return memcore.NewError(memcore.InvalidInput, "vectorstore.upsert", fmt.Errorf("chunk_id is required"))
	}
	if err := s.validEmbedding(chunk.Embedding); err != nil {
		return memcore.NewChunkError(memcore.InvalidInput, "vectorstore.upsert", chunk.ChunkID, err)
	}

	payload, err := chunkToPayload(chunk)
	if err != nil {
		return memcore.NewChunkError(memcore.InvalidInput, "vectorstore.upsert", chunk.ChunkID, err)
	}

	point := &qdrant.PointStruct{
		Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: chunkPointID(chunk.ChunkID)}},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: chunk.Embedding}},
		},
		Payload: payload,
	}

	_, err = s.pointsSvc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return memcore.NewChunkError(memcore.StoreTransient, "vectorstore.upsert", chunk.ChunkID, err)
	}
	return nil
}

func filterCondition(f memcore.Filter) (*qdrant.Condition, bool) {
	switch f.Kind {
	case memcore.FilterEq:
		s, ok := f.Value.(string)
		if ok {
			return &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{Key: f.Field, Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: s}}},
				},
			}, true
		}
		if b, ok := f.Value.(bool); ok {
			return &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{Key: f.Field, Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: b}}},
				},
			}, true
		}
		return nil, false
	case memcore.FilterRange:
		r := &qdrant.Range{}
		if f.Min != nil {
			if v, ok := toFloat(f.Min); ok {
				r.Gte = &v
			}
		}
		if f.Max != nil {
			if v, ok := toFloat(f.Max); ok {
				r.Lte = &v
			}
		}
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: f.Field, Range: r},
			},
		}, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func buildQdrantFilter(filters []memcore.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	for _, f := range filters {
		if f.Kind == memcore.FilterAnyOf {
			var should []*qdrant.Condition
			for _, v := range f.Values {
				if s, ok := v.(string); ok {
					should = append(should, &qdrant.Condition{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{Key: f.Field, Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: s}}},
						},
					})
				}
			}
			if len(should) > 0 {
				must = append(must, &qdrant.Condition{
					ConditionOneOf: &qdrant.Condition_Filter{Filter: &qdrant.Filter{Should: should}},
				})
			}
			continue
		}
		if c, ok := filterCondition(f); ok {
			must = append(must, c)
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Search implements [memcore.VectorStore].
func (s *Store) Search(ctx context.Context, queryVector []float32, limit int, filters []memcore.Filter) ([]memcore.ScoredChunk, error) {
	resp, err := s.pointsSvc.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         queryVector,
		Filter:         buildQdrantFilter(filters),
		Limit:          uint64(limit),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, memcore.NewError(memcore.StoreTransient, "vectorstore.search", err)
	}

	results := make([]memcore.ScoredChunk, 0, len(resp.Result))
	for _, p := range resp.Result {
		c := payloadToChunk(p.Payload)
		results = append(results, memcore.ScoredChunk{Chunk: c, Score: float64(p.Score)})
	}
	return results, nil
}

// Delete implements [memcore.VectorStore].
func (s *Store) Delete(ctx context.Context, sel memcore.Selector) (int, error) {
	if sel.Empty() {
		return 0, memcore.NewError(memcore.InvalidInput, "vectorstore.delete", fmt.Errorf("selector must carry chunk ids or at least one filter"))
	}

	if len(sel.ChunkIDs) > 0 {
		ids := make([]*qdrant.PointId, 0, len(sel.ChunkIDs))
		for _, id := range sel.ChunkIDs {
			ids = append(ids, &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: chunkPointID(id)}})
		}
		_, err := s.pointsSvc.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: &qdrant.PointsIdsList{Ids: ids}},
			},
		})
		if err != nil {
			return 0, memcore.NewError(memcore.StoreTransient, "vectorstore.delete", err)
		}
		return len(sel.ChunkIDs), nil
	}

	filter := buildQdrantFilter(sel.Filters)
	countResp, err := s.pointsSvc.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection, Filter: filter})
	if err != nil {
		return 0, memcore.NewError(memcore.StoreTransient, "vectorstore.delete", err)
	}

	_, err = s.pointsSvc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, memcore.NewError(memcore.StoreTransient, "vectorstore.delete", err)
	}
	return int(countResp.Result), nil
}

// Count implements [memcore.VectorStore].
func (s *Store) Count(ctx context.Context, filters []memcore.Filter) (int, error) {
	resp, err := s.pointsSvc.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         buildQdrantFilter(filters),
	})
	if err != nil {
		return 0, memcore.NewError(memcore.StoreTransient, "vectorstore.count", err)
	}
	return int(resp.Result), nil
}
