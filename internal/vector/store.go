// Package vector provides the embedding store and the vector indexing
// stage of the ingestion pipeline.
package vector

import (
	"context"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Hit is one search result with its similarity score.
type Hit struct {
	Chunk models.Chunk
	// Score is cosine similarity in [0, 1], higher is closer.
	Score float64
	// Source is the path of the document the chunk came from.
	Source string
}

// Store persists embedded chunks and serves similarity search.
type Store interface {
	// Upsert writes chunks keyed by chunk id. Re-upserting an id
	// overwrites the previous row.
	Upsert(ctx context.Context, source string, chunks []models.Chunk) error

	// Search returns the limit nearest chunks to the query vector.
	Search(ctx context.Context, query []float32, limit int) ([]Hit, error)

	// Fetch returns the chunks with the given ids, skipping unknown ids.
	Fetch(ctx context.Context, ids []string) ([]Hit, error)

	// DeleteDocument removes all chunks of one document.
	DeleteDocument(ctx context.Context, documentID string) error
}
