package llm

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Extraction output is a line protocol, one record per line:
//
//	ENTITY|name|type
//	RELATION|subject|predicate|object
//
// Lines without a recognized prefix are model chatter and get skipped.
// A line that carries the prefix but violates the schema is malformed
// output and fails the whole extraction.

func parseEntities(raw string) ([]models.Entity, error) {
	var entities []models.Entity
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "ENTITY|") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed entity line: %q", line)
		}

		entity := models.Entity{
			Name: strings.TrimSpace(parts[1]),
			Type: models.EntityType(strings.ToLower(strings.TrimSpace(parts[2]))),
		}
		if err := entity.Validate(); err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func parseRelations(raw string) ([]models.Relation, error) {
	var relations []models.Relation
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "RELATION|") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			return nil, fmt.Errorf("malformed relation line: %q", line)
		}

		relation := models.Relation{
			Subject:   strings.TrimSpace(parts[1]),
			Predicate: strings.TrimSpace(parts[2]),
			Object:    strings.TrimSpace(parts[3]),
		}
		if err := relation.Validate(); err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
		relations = append(relations, relation)
	}
	return relations, nil
}
