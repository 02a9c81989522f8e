// Package query implements federated retrieval: vector search and graph
// traversal pooled into one context for answer synthesis.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/raphaelgruber/memfed/internal/graph"
	"github.com/raphaelgruber/memfed/internal/metrics"
	"github.com/raphaelgruber/memfed/internal/vector"
)

// Generator is the slice of the model client the engine needs.
type Generator interface {
	ExpandQuery(ctx context.Context, query string) (string, error)
	FocusEntity(ctx context.Context, query string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	SynthesizeAnswer(ctx context.Context, query, refinedQuery, graphContext, chunkContext string) (string, error)
}

// Source is one retrieved chunk cited in the answer.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Path    string  `json:"path"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Ordinal int     `json:"ordinal"`
}

// Result is a synthesized answer with its retrieval trail.
type Result struct {
	Answer       string   `json:"answer"`
	RefinedQuery string   `json:"refined_query"`
	FocusEntity  string   `json:"focus_entity,omitempty"`
	Sources      []Source `json:"sources"`

	// Degraded lists retrieval paths that failed and were skipped.
	// The answer was synthesized from whatever survived.
	Degraded []string `json:"degraded,omitempty"`
}

// Config tunes retrieval.
type Config struct {
	// TopK is the number of chunks handed to synthesis.
	TopK int
	// ExpandBelowWords triggers query expansion for terse queries.
	ExpandBelowWords int
	// GraphChunkLimit caps how many graph-linked chunks are fetched.
	GraphChunkLimit int
}

// DefaultConfig returns the retrieval defaults.
func DefaultConfig() Config {
	return Config{TopK: 5, ExpandBelowWords: 5, GraphChunkLimit: 25}
}

// Engine federates the vector store and the graph store behind one Ask.
type Engine struct {
	gen     Generator
	vectors vector.Store
	graphs  graph.Store
	cfg     Config
	metrics *metrics.Collector
}

// New wires a query engine.
func New(gen Generator, vectors vector.Store, graphs graph.Store, cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ExpandBelowWords <= 0 {
		cfg.ExpandBelowWords = 5
	}
	if cfg.GraphChunkLimit <= 0 {
		cfg.GraphChunkLimit = 25
	}
	return &Engine{gen: gen, vectors: vectors, graphs: graphs, cfg: cfg}
}

// WithMetrics attaches a collector. A nil collector disables recording.
func (e *Engine) WithMetrics(m *metrics.Collector) *Engine {
	e.metrics = m
	return e
}

// Ask answers a question from the indexed corpus. Retrieval degrades
// gracefully: a failing path is logged, recorded in Result.Degraded and
// skipped. Only synthesis failure, or every path failing at once, is an
// error.
func (e *Engine) Ask(ctx context.Context, query string) (*Result, error) {
	var result *Result
	err := e.observe(metrics.OpQuery, func() error {
		var aerr error
		result, aerr = e.ask(ctx, query)
		return aerr
	})
	return result, err
}

func (e *Engine) ask(ctx context.Context, query string) (*Result, error) {
	result := &Result{RefinedQuery: query}

	// Terse queries are expanded into a broad question first.
	if len(strings.Fields(query)) < e.cfg.ExpandBelowWords {
		refined, err := e.gen.ExpandQuery(ctx, query)
		if err != nil {
			e.degrade(result, "query_expansion", err)
		} else if refined != "" {
			result.RefinedQuery = refined
		}
	}

	pool := newCandidatePool()

	// Path A: graph traversal around the focus entity.
	graphContext := e.graphPath(ctx, result, pool)

	// Path B: vector similarity on the refined query.
	e.vectorPath(ctx, result, pool)

	hits := pool.top(e.cfg.TopK)
	if len(hits) == 0 && len(result.Degraded) > 0 {
		return nil, fmt.Errorf("all retrieval paths failed: %s", strings.Join(result.Degraded, ", "))
	}

	chunkContext := formatChunks(hits)
	answer, err := e.gen.SynthesizeAnswer(ctx, query, result.RefinedQuery, graphContext, chunkContext)
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}

	result.Answer = answer
	result.Sources = toSources(hits)
	return result, nil
}

// graphPath resolves the focus entity, gathers its 1-hop neighborhood
// and pulls the chunks linked to it and its neighbors into the pool.
// Returns the serialized neighborhood for the synthesis prompt.
func (e *Engine) graphPath(ctx context.Context, result *Result, pool *candidatePool) string {
	focus, err := e.gen.FocusEntity(ctx, result.RefinedQuery)
	if err != nil {
		e.degrade(result, "focus_entity", err)
		return ""
	}
	if focus == "" {
		return ""
	}
	result.FocusEntity = focus

	nb, err := e.graphs.Neighbors(ctx, focus)
	if err != nil {
		e.degrade(result, "graph_neighbors", err)
		return ""
	}

	// Chunks for the focus entity and each neighbor, deduplicated.
	names := []string{focus}
	for _, n := range nb.Nodes {
		names = append(names, n.Name)
	}

	seen := make(map[string]bool)
	var chunkIDs []string
	for _, name := range names {
		ids, err := e.graphs.ChunksForEntity(ctx, name)
		if err != nil {
			slog.Warn("graph chunk lookup failed", "entity", name, "error", err)
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				chunkIDs = append(chunkIDs, id)
			}
		}
	}
	if len(chunkIDs) > e.cfg.GraphChunkLimit {
		chunkIDs = chunkIDs[:e.cfg.GraphChunkLimit]
	}

	if len(chunkIDs) > 0 {
		hits, err := e.vectors.Fetch(ctx, chunkIDs)
		if err != nil {
			e.degrade(result, "graph_chunks", err)
		} else {
			pool.add(hits...)
		}
	}

	return nb.Describe()
}

// vectorPath embeds the refined query and pools the nearest chunks.
func (e *Engine) vectorPath(ctx context.Context, result *Result, pool *candidatePool) {
	vec, err := e.gen.Embed(ctx, result.RefinedQuery)
	if err != nil {
		e.degrade(result, "query_embedding", err)
		return
	}

	var hits []vector.Hit
	err = e.observe(metrics.OpVectorSearch, func() error {
		var serr error
		hits, serr = e.vectors.Search(ctx, vec, e.cfg.TopK*4)
		return serr
	})
	if err != nil {
		e.degrade(result, "vector_search", err)
		return
	}
	pool.add(hits...)
}

func (e *Engine) observe(op string, fn func() error) error {
	if e.metrics == nil {
		return fn()
	}
	return e.metrics.Observe(op, fn)
}

func (e *Engine) degrade(result *Result, path string, err error) {
	slog.Warn("retrieval path degraded", "path", path, "error", err)
	result.Degraded = append(result.Degraded, path)
}

// candidatePool deduplicates hits from both retrieval paths by chunk id,
// keeping the best score per chunk.
type candidatePool struct {
	byID map[string]vector.Hit
}

func newCandidatePool() *candidatePool {
	return &candidatePool{byID: make(map[string]vector.Hit)}
}

func (p *candidatePool) add(hits ...vector.Hit) {
	for _, h := range hits {
		if existing, ok := p.byID[h.Chunk.ID]; !ok || h.Score > existing.Score {
			p.byID[h.Chunk.ID] = h
		}
	}
}

func (p *candidatePool) top(k int) []vector.Hit {
	hits := make([]vector.Hit, 0, len(p.byID))
	for _, h := range p.byID {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func formatChunks(hits []vector.Hit) string {
	if len(hits) == 0 {
		return "No documents found."
	}
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = fmt.Sprintf("- %s (Src: %s)", h.Chunk.RawText, h.Source)
	}
	return strings.Join(lines, "\n")
}

func toSources(hits []vector.Hit) []Source {
	sources := make([]Source, len(hits))
	for i, h := range hits {
		sources[i] = Source{
			ChunkID: h.Chunk.ID,
			Path:    h.Source,
			Text:    h.Chunk.RawText,
			Score:   h.Score,
			Ordinal: h.Chunk.Ordinal,
		}
	}
	return sources
}
