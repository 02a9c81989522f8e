package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/memfed/internal/llm"
	"github.com/raphaelgruber/memfed/internal/models"
)

// Extractor is the slice of the model client the indexer needs.
type Extractor interface {
	ExtractEntities(ctx context.Context, text string) ([]models.Entity, error)
	ExtractRelations(ctx context.Context, text string) ([]models.Relation, error)
}

// Indexer runs the graph extraction stage: pull entities and relations
// out of each chunk and merge them into the graph with provenance.
type Indexer struct {
	extractor Extractor
	store     Store
}

// NewIndexer wires an extraction indexer.
func NewIndexer(extractor Extractor, store Store) *Indexer {
	return &Indexer{extractor: extractor, store: store}
}

// Extract processes chunks sequentially. Schema-violating model output
// is rejected per chunk: the chunk contributes nothing to the graph and
// processing continues, because re-prompting cannot be forced to comply
// and the chunk's text is still searchable through the vector store.
// Transient model failures and store failures abort the stage so the
// job can retry.
func (ix *Indexer) Extract(ctx context.Context, chunks []models.Chunk) error {
	var stageErr error
	for _, chunk := range chunks {
		if err := ix.extractChunk(ctx, chunk); err != nil {
			if llm.IsFatal(err) {
				slog.Warn("rejecting malformed extraction output",
					"chunk", chunk.ID, "ordinal", chunk.Ordinal, "error", err)
				continue
			}
			stageErr = errors.Join(stageErr, fmt.Errorf("chunk %d: %w", chunk.Ordinal, err))
		}
	}
	if stageErr != nil {
		return fmt.Errorf("graph extraction stage: %w", stageErr)
	}
	return nil
}

func (ix *Indexer) extractChunk(ctx context.Context, chunk models.Chunk) error {
	entities, err := ix.extractor.ExtractEntities(ctx, chunk.RawText)
	if err != nil {
		return err
	}

	relations, err := ix.extractor.ExtractRelations(ctx, chunk.RawText)
	if err != nil {
		return err
	}

	if err := ix.store.UpsertEntities(ctx, chunk.ID, entities); err != nil {
		return err
	}
	if err := ix.store.UpsertRelations(ctx, chunk.ID, relations); err != nil {
		return err
	}

	slog.Debug("chunk extracted into graph",
		"chunk", chunk.ID, "entities", len(entities), "relations", len(relations))
	return nil
}
