package models

import (
	"fmt"
	"strings"
)

// EntityType classifies extracted entities.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityProject      EntityType = "project"
	EntityConcept      EntityType = "concept"
)

// validEntityTypes is the closed set accepted at the graph-indexer boundary.
var validEntityTypes = map[EntityType]bool{
	EntityPerson:       true,
	EntityOrganization: true,
	EntityLocation:     true,
	EntityProject:      true,
	EntityConcept:      true,
}

// Entity is a node extracted from chunk text, keyed by normalized
// (name, type). SourceChunkIDs are non-owning back-references.
type Entity struct {
	Name           string     `json:"name"`
	Type           EntityType `json:"type"`
	SourceChunkIDs []string   `json:"source_chunk_ids,omitempty"`
}

// Validate rejects extraction output that does not fit the fixed schema.
func (e Entity) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity: empty name")
	}
	if !validEntityTypes[e.Type] {
		return fmt.Errorf("entity %q: unknown type %q", e.Name, e.Type)
	}
	return nil
}

// Key returns the identity key under which entities merge in the graph store.
func (e Entity) Key() string {
	return NormalizeName(e.Name) + "|" + string(e.Type)
}

// Relation is an edge between two entities, keyed by normalized
// (subject, predicate, object).
type Relation struct {
	Subject        string   `json:"subject"`
	Predicate      string   `json:"predicate"`
	Object         string   `json:"object"`
	SourceChunkIDs []string `json:"source_chunk_ids,omitempty"`
}

// Validate rejects malformed relation triples.
func (r Relation) Validate() error {
	if strings.TrimSpace(r.Subject) == "" || strings.TrimSpace(r.Object) == "" {
		return fmt.Errorf("relation: empty subject or object")
	}
	if NormalizePredicate(r.Predicate) == "" {
		return fmt.Errorf("relation %s->%s: empty predicate", r.Subject, r.Object)
	}
	return nil
}

// Key returns the identity key under which relations merge in the graph store.
func (r Relation) Key() string {
	return NormalizeName(r.Subject) + "|" + NormalizePredicate(r.Predicate) + "|" + NormalizeName(r.Object)
}

// NormalizeName lowercases and collapses whitespace so the same entity
// extracted from different chunks lands on the same node.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizePredicate uppercases and strips anything that is not a valid
// relationship-type character.
func NormalizePredicate(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Neighborhood is the 1-hop view around a focus entity: the adjacent
// nodes and the relations connecting them.
type Neighborhood struct {
	Focus     string     `json:"focus"`
	Nodes     []Entity   `json:"nodes"`
	Relations []Relation `json:"relations"`
}

// Empty reports whether the traversal found nothing.
func (n Neighborhood) Empty() bool {
	return len(n.Relations) == 0 && len(n.Nodes) == 0
}

// Describe serializes the neighborhood for LLM consumption, one triple
// per line.
func (n Neighborhood) Describe() string {
	if n.Empty() {
		return ""
	}
	lines := make([]string, 0, len(n.Relations))
	for _, r := range n.Relations {
		lines = append(lines, fmt.Sprintf("- %s %s %s", r.Subject, r.Predicate, r.Object))
	}
	return strings.Join(lines, "\n")
}
