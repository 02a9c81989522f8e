package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Neo4jStore implements Store on a Neo4j database.
//
// Nodes carry the label Entity and merge on the normalized name. The
// type reported by extraction is stored as a property; relation
// endpoints that were never seen as standalone entities default to
// concept. Chunk provenance lives in the sources list property on both
// nodes and edges.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jStore connects a driver and ensures the uniqueness constraint.
func NewNeo4jStore(ctx context.Context, uri, username, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	s := &Neo4jStore{driver: driver}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Neo4jStore) initSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create entity constraint: %w", err)
	}
	return nil
}

// Close shuts down the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// UpsertEntities merges entity nodes keyed by normalized name.
func (s *Neo4jStore) UpsertEntities(ctx context.Context, chunkID string, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, e := range entities {
		params := map[string]any{
			"name":    models.NormalizeName(e.Name),
			"display": e.Name,
			"type":    string(e.Type),
			"chunk":   chunkID,
		}
		_, err := session.Run(ctx, `
			MERGE (e:Entity {name: $name})
			ON CREATE SET e.display_name = $display, e.sources = []
			SET e.type = $type,
			    e.sources = [x IN e.sources WHERE x <> $chunk] + $chunk`,
			params)
		if err != nil {
			return fmt.Errorf("upsert entity %q: %w", e.Name, err)
		}
	}
	return nil
}

// UpsertRelations merges relation edges between (possibly new) nodes.
// The predicate becomes the relationship type; NormalizePredicate
// restricts it to [A-Z0-9_], which keeps the interpolation safe.
func (s *Neo4jStore) UpsertRelations(ctx context.Context, chunkID string, relations []models.Relation) error {
	if len(relations) == 0 {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, r := range relations {
		predicate := models.NormalizePredicate(r.Predicate)
		if predicate == "" {
			return fmt.Errorf("relation %s->%s: empty predicate", r.Subject, r.Object)
		}

		query := fmt.Sprintf(`
			MERGE (s:Entity {name: $subject})
			ON CREATE SET s.display_name = $subjectDisplay, s.type = 'concept', s.sources = []
			MERGE (o:Entity {name: $object})
			ON CREATE SET o.display_name = $objectDisplay, o.type = 'concept', o.sources = []
			MERGE (s)-[r:%s]->(o)
			ON CREATE SET r.sources = []
			SET r.sources = [x IN r.sources WHERE x <> $chunk] + $chunk`,
			predicate)

		params := map[string]any{
			"subject":        models.NormalizeName(r.Subject),
			"subjectDisplay": r.Subject,
			"object":         models.NormalizeName(r.Object),
			"objectDisplay":  r.Object,
			"chunk":          chunkID,
		}
		if _, err := session.Run(ctx, query, params); err != nil {
			return fmt.Errorf("upsert relation %s-%s->%s: %w", r.Subject, predicate, r.Object, err)
		}
	}
	return nil
}

// Neighbors returns the 1-hop neighborhood around an entity.
func (s *Neo4jStore) Neighbors(ctx context.Context, entityName string) (models.Neighborhood, error) {
	nb := models.Neighborhood{Focus: entityName}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {name: $name})-[r]-(n:Entity)
		RETURN type(r) AS predicate,
		       coalesce(startNode(r).display_name, startNode(r).name) AS subject,
		       coalesce(endNode(r).display_name, endNode(r).name) AS object,
		       coalesce(n.display_name, n.name) AS neighbor,
		       n.type AS neighborType`,
		map[string]any{"name": models.NormalizeName(entityName)})
	if err != nil {
		return nb, fmt.Errorf("query neighbors of %q: %w", entityName, err)
	}

	seen := make(map[string]bool)
	for result.Next(ctx) {
		rec := result.Record()
		predicate, _ := rec.Get("predicate")
		subject, _ := rec.Get("subject")
		object, _ := rec.Get("object")
		neighbor, _ := rec.Get("neighbor")
		neighborType, _ := rec.Get("neighborType")

		nb.Relations = append(nb.Relations, models.Relation{
			Subject:   asString(subject),
			Predicate: asString(predicate),
			Object:    asString(object),
		})

		name := asString(neighbor)
		if !seen[name] {
			seen[name] = true
			nb.Nodes = append(nb.Nodes, models.Entity{
				Name: name,
				Type: models.EntityType(asString(neighborType)),
			})
		}
	}
	if err := result.Err(); err != nil {
		return nb, fmt.Errorf("read neighbors of %q: %w", entityName, err)
	}
	return nb, nil
}

// ChunksForEntity returns the provenance chunk ids of an entity node.
func (s *Neo4jStore) ChunksForEntity(ctx context.Context, entityName string) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {name: $name})
		RETURN e.sources AS sources`,
		map[string]any{"name": models.NormalizeName(entityName)})
	if err != nil {
		return nil, fmt.Errorf("query chunks for %q: %w", entityName, err)
	}

	var chunks []string
	for result.Next(ctx) {
		raw, _ := result.Record().Get("sources")
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, v := range list {
			if s := asString(v); s != "" {
				chunks = append(chunks, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read chunks for %q: %w", entityName, err)
	}
	return chunks, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
