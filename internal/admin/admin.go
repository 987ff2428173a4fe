// Package admin implements AdminOps (C9): seeding the demo corpus, wiping
// both stores, and schema/index initialization.
package admin

import (
	"context"

	"github.com/relaymem/core/internal/ingest"
	"github.com/relaymem/core/pkg/memcore"
)

// SchemaInitializer is implemented by store backends that can (re-)run
// their own migrations on demand, e.g. [pgvector.Store] and
// [pggraph.Store]. Backends without one (Qdrant, an in-memory store) can
// be left nil.
type SchemaInitializer interface {
	EnsureSchema(ctx context.Context) error
}

// SeedCounts reports how many chunks of each source_type were seeded.
type SeedCounts map[memcore.SourceType]int

// Ops implements C9 over a coordinator and the two stores it writes to.
type Ops struct {
	coordinator   *ingest.Coordinator
	vectors       memcore.VectorStore
	graph         memcore.GraphStore
	vectorsSchema SchemaInitializer
	graphSchema   SchemaInitializer
}

// New builds Ops. vectorsSchema/graphSchema may be nil if the configured
// backend has no explicit schema step.
func New(coordinator *ingest.Coordinator, vectors memcore.VectorStore, graph memcore.GraphStore, vectorsSchema, graphSchema SchemaInitializer) *Ops {
	return &Ops{
		coordinator:   coordinator,
		vectors:       vectors,
		graph:         graph,
		vectorsSchema: vectorsSchema,
		graphSchema:   graphSchema,
	}
}

// Seed dispatches each of initialChunks to the IngestionCoordinator,
// aggregating a count per source_type. It does not stop at the first
// failure — every chunk is attempted, and the first error encountered (if
// any) is returned alongside the counts accumulated so far.
func (o *Ops) Seed(ctx context.Context, initialChunks []memcore.Chunk) (SeedCounts, error) {
	counts := make(SeedCounts)
	var firstErr error
	for _, chunk := range initialChunks {
		if err := o.coordinator.IngestOne(ctx, chunk); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		counts[chunk.SourceType]++
	}
	return counts, firstErr
}

// ClearCounts reports how many vector rows and graph nodes/edges ClearAll removed.
type ClearCounts struct {
	ChunksDeleted int
	memcore.WipeStats
}

// ClearAll wipes both stores: the GraphStore entirely, and every chunk in
// the VectorStore (an explicit non-empty-by-construction filter set, since
// VectorStore.Delete refuses a genuinely empty selector as a guard against
// an accidental full wipe).
func (o *Ops) ClearAll(ctx context.Context) (ClearCounts, error) {
	wipeStats, err := o.graph.WipeAll(ctx)
	if err != nil {
		return ClearCounts{}, err
	}

	n, err := o.vectors.Delete(ctx, memcore.Selector{Filters: []memcore.Filter{
		memcore.AnyOf("source_type",
			string(memcore.SourceMessage), string(memcore.SourceDocumentChunk),
			string(memcore.SourceTranscriptSnippet), string(memcore.SourceQuery)),
	}})
	if err != nil {
		return ClearCounts{WipeStats: wipeStats}, err
	}

	return ClearCounts{ChunksDeleted: n, WipeStats: wipeStats}, nil
}

// InitializeSchema ensures the vector collection and its payload indexes
// exist, and that the graph's node/edge uniqueness constraints are
// installed. Idempotent — safe to call on an already-initialized store.
func (o *Ops) InitializeSchema(ctx context.Context) error {
	if o.vectorsSchema != nil {
		if err := o.vectorsSchema.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	if o.graphSchema != nil {
		if err := o.graphSchema.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}
