// Package ingest implements the IngestionCoordinator (spec component C5):
// the single choke point through which every chunk — whatever its source —
// is validated, embedded, written to the vector store, and projected into
// the graph.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaymem/core/internal/resilience"
	"github.com/relaymem/core/pkg/embeddings"
	"github.com/relaymem/core/pkg/memcore"
	"github.com/relaymem/core/pkg/memcore/pggraph"
)

// Coordinator performs the five-step ingestion sequence for a single chunk:
// validate, embed, vector-upsert, graph-merge, report.
//
// Safe for concurrent use — Coordinator itself holds no mutable state beyond
// its collaborators, which must each be safe for concurrent use.
type Coordinator struct {
	embedder embeddings.Provider
	vectors  memcore.VectorStore
	graph    memcore.GraphStore
	log      *slog.Logger
}

// New builds a Coordinator. log defaults to slog.Default() if nil.
func New(embedder embeddings.Provider, vectors memcore.VectorStore, graph memcore.GraphStore, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{embedder: embedder, vectors: vectors, graph: graph, log: log}
}

// IngestOne validates, embeds, and writes one chunk. On success both stores
// carry the chunk. On a graph-leg failure after the vector leg succeeded,
// the vector record is deliberately left in place (no compensating delete —
// see the PartialIngest error kind) and a [*memcore.Error] of kind
// PartialIngest is returned naming both chunk_id and the underlying cause.
func (c *Coordinator) IngestOne(ctx context.Context, chunk memcore.Chunk) error {
	if err := validate(chunk); err != nil {
		return err
	}

	embedding, err := c.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return memcore.NewChunkError(memcore.EmbeddingFailure, "ingest.embed", chunk.ChunkID, err)
	}
	chunk.Embedding = embedding

	if err := resilience.RetryOnce(ctx, 0, func() error {
		return c.vectors.Upsert(ctx, chunk)
	}); err != nil {
		return err
	}

	if err := c.mergeGraph(ctx, chunk); err != nil {
		c.log.Error("graph merge failed after vector upsert succeeded",
			"chunk_id", chunk.ChunkID, "error", err)
		return memcore.NewChunkError(memcore.PartialIngest, "ingest.graph_merge", chunk.ChunkID, err)
	}

	return nil
}

// IngestChunks ingests a batch of chunks — typically the output of a single
// document split — embedding them in one EmbedBatch call for efficiency
// while still performing the vector upserts sequentially and in order, per
// §5's per-document ordering guarantee. It returns every per-chunk error
// (nil entries mark success) rather than stopping at the first failure, so
// callers can report partial progress.
//
// A chunk that fails validation is reported with its own error and skipped;
// the rest of the batch still flows. If the batch embed call itself fails,
// every chunk not already failed is reported with that failure — EmbedBatch
// gives no partial results to recover from.
func (c *Coordinator) IngestChunks(ctx context.Context, chunks []memcore.Chunk) []error {
	errs := make([]error, len(chunks))

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		if err := validate(chunk); err != nil {
			errs[i] = err
		}
		texts[i] = chunk.Text
	}

	embeddings, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		batchErr := memcore.NewError(memcore.EmbeddingFailure, "ingest.embed_batch", err)
		for i := range errs {
			if errs[i] == nil {
				errs[i] = batchErr
			}
		}
		return errs
	}

	for i, chunk := range chunks {
		if errs[i] != nil {
			continue
		}
		chunk.Embedding = embeddings[i]

		if err := resilience.RetryOnce(ctx, 0, func() error {
			return c.vectors.Upsert(ctx, chunk)
		}); err != nil {
			errs[i] = err
			continue
		}

		if err := c.mergeGraph(ctx, chunk); err != nil {
			c.log.Error("graph merge failed after vector upsert succeeded",
				"chunk_id", chunk.ChunkID, "error", err)
			errs[i] = memcore.NewChunkError(memcore.PartialIngest, "ingest.graph_merge", chunk.ChunkID, err)
		}
	}
	return errs
}

func validate(chunk memcore.Chunk) error {
	if chunk.ChunkID == "" {
		return memcore.NewError(memcore.InvalidInput, "ingest.validate", fmt.Errorf("chunk_id is required"))
	}
	if chunk.Text == "" {
		return memcore.NewChunkError(memcore.InvalidInput, "ingest.validate", chunk.ChunkID, fmt.Errorf("text is required"))
	}
	if !chunk.SourceType.IsValid() {
		return memcore.NewChunkError(memcore.InvalidInput, "ingest.validate", chunk.ChunkID, fmt.Errorf("unrecognized source_type %q", chunk.SourceType))
	}
	return nil
}

// mergeGraph builds the subgraph prescribed by spec §3/§4.3: always a Chunk
// node, conditionally User/Project/Session/Document/Message nodes depending
// on which ids are present, plus the edges their combination implies.
func (c *Coordinator) mergeGraph(ctx context.Context, chunk memcore.Chunk) error {
	retry := func(fn func() error) error {
		return resilience.RetryOnce(ctx, 0, fn)
	}

	if err := retry(func() error {
		_, err := c.graph.MergeNode(ctx, memcore.LabelChunk, chunk.ChunkID, pggraph.ChunkToProps(chunk))
		return err
	}); err != nil {
		return err
	}

	if chunk.UserID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeNode(ctx, memcore.LabelUser, chunk.UserID, nil)
			return err
		}); err != nil {
			return err
		}

		rel := memcore.RelCreated
		if chunk.IsPrivate {
			rel = memcore.RelOwns
		}
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelUser, chunk.UserID, memcore.LabelChunk, chunk.ChunkID, rel, nil)
			return err
		}); err != nil {
			return err
		}
	}

	switch chunk.SourceType {
	case memcore.SourceMessage:
		if chunk.MessageID != "" {
			if err := c.mergeMessage(ctx, chunk, retry); err != nil {
				return err
			}
		}
	case memcore.SourceDocumentChunk, memcore.SourceTranscriptSnippet:
		if chunk.DocID != "" {
			if err := c.mergeDocument(ctx, chunk, retry); err != nil {
				return err
			}
		}
	}

	if chunk.SessionID != "" && chunk.ProjectID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeNode(ctx, memcore.LabelSession, chunk.SessionID, nil)
			return err
		}); err != nil {
			return err
		}
		if err := retry(func() error {
			_, err := c.graph.MergeNode(ctx, memcore.LabelProject, chunk.ProjectID, nil)
			return err
		}); err != nil {
			return err
		}
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelSession, chunk.SessionID, memcore.LabelProject, chunk.ProjectID, memcore.RelPartOf, nil)
			return err
		}); err != nil {
			return err
		}
	}
	if chunk.UserID != "" && chunk.SessionID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeNode(ctx, memcore.LabelSession, chunk.SessionID, nil)
			return err
		}); err != nil {
			return err
		}
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelUser, chunk.UserID, memcore.LabelSession, chunk.SessionID, memcore.RelParticipatedIn, nil)
			return err
		}); err != nil {
			return err
		}
	}

	return nil
}

func (c *Coordinator) mergeMessage(ctx context.Context, chunk memcore.Chunk, retry func(func() error) error) error {
	props := map[string]any{
		"message_id":          chunk.MessageID,
		"timestamp":           chunk.Timestamp,
		"is_twin_interaction": chunk.IsTwinInteraction,
	}
	if err := retry(func() error {
		_, err := c.graph.MergeNode(ctx, memcore.LabelMessage, chunk.MessageID, props)
		return err
	}); err != nil {
		return err
	}
	if err := retry(func() error {
		_, err := c.graph.MergeEdge(ctx, memcore.LabelChunk, chunk.ChunkID, memcore.LabelMessage, chunk.MessageID, memcore.RelPartOf, nil)
		return err
	}); err != nil {
		return err
	}
	if chunk.UserID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelUser, chunk.UserID, memcore.LabelMessage, chunk.MessageID, memcore.RelAuthored, nil)
			return err
		}); err != nil {
			return err
		}
	}
	if chunk.SessionID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeNode(ctx, memcore.LabelSession, chunk.SessionID, nil)
			return err
		}); err != nil {
			return err
		}
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelMessage, chunk.MessageID, memcore.LabelSession, chunk.SessionID, memcore.RelPostedIn, nil)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) mergeDocument(ctx context.Context, chunk memcore.Chunk, retry func(func() error) error) error {
	if err := retry(func() error {
		_, err := c.graph.MergeNode(ctx, memcore.LabelDocument, chunk.DocID, nil)
		return err
	}); err != nil {
		return err
	}
	if err := retry(func() error {
		_, err := c.graph.MergeEdge(ctx, memcore.LabelChunk, chunk.ChunkID, memcore.LabelDocument, chunk.DocID, memcore.RelPartOf, nil)
		return err
	}); err != nil {
		return err
	}
	if chunk.UserID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelUser, chunk.UserID, memcore.LabelDocument, chunk.DocID, memcore.RelUploaded, nil)
			return err
		}); err != nil {
			return err
		}
	}
	if chunk.SessionID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeNode(ctx, memcore.LabelSession, chunk.SessionID, nil)
			return err
		}); err != nil {
			return err
		}
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelDocument, chunk.DocID, memcore.LabelSession, chunk.SessionID, memcore.RelAttachedTo, nil)
			return err
		}); err != nil {
			return err
		}
	} else if chunk.ProjectID != "" {
		if err := retry(func() error {
			_, err := c.graph.MergeNode(ctx, memcore.LabelProject, chunk.ProjectID, nil)
			return err
		}); err != nil {
			return err
		}
		if err := retry(func() error {
			_, err := c.graph.MergeEdge(ctx, memcore.LabelDocument, chunk.DocID, memcore.LabelProject, chunk.ProjectID, memcore.RelPartOf, nil)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}
