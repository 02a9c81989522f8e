// Package graph provides the knowledge-graph store and the graph
// extraction stage of the ingestion pipeline.
package graph

import (
	"context"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Store persists extracted entities and relations with chunk provenance.
//
// All writes are idempotent: nodes and edges merge on their normalized
// keys, and provenance appends are set-valued, so redelivered jobs
// converge to the same graph.
type Store interface {
	// UpsertEntities merges entities into the graph, recording chunkID
	// as their provenance.
	UpsertEntities(ctx context.Context, chunkID string, entities []models.Entity) error

	// UpsertRelations merges relation edges, creating endpoint nodes
	// as needed and recording chunkID as provenance.
	UpsertRelations(ctx context.Context, chunkID string, relations []models.Relation) error

	// Neighbors returns the 1-hop neighborhood around the entity with
	// the given name. An unknown entity yields an empty neighborhood,
	// not an error.
	Neighbors(ctx context.Context, entityName string) (models.Neighborhood, error)

	// ChunksForEntity returns the ids of chunks the entity was
	// extracted from.
	ChunksForEntity(ctx context.Context, entityName string) ([]string, error)
}
