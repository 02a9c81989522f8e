package chunker

import (
	"context"
	"log/slog"
)

// Generator is the slice of the model client the contextualizer needs.
type Generator interface {
	Summarize(ctx context.Context, text string) (string, error)
	MergeSummaries(ctx context.Context, first, second string) (string, error)
	ContextualHeader(ctx context.Context, docSummary, chunkText string) (string, error)
}

// Contextualizer produces document summaries and per-chunk headers.
type Contextualizer struct {
	gen Generator

	// threshold is the document length above which summarization
	// recurses on halves before merging.
	threshold int
}

// NewContextualizer wires a contextualizer over a model client.
func NewContextualizer(gen Generator, threshold int) *Contextualizer {
	if threshold <= 0 {
		threshold = 12000
	}
	return &Contextualizer{gen: gen, threshold: threshold}
}

// SummarizeDocument produces a dense summary of the whole document.
// Documents over the threshold are summarized hierarchically: split in
// half, summarize each half, merge the partial summaries.
func (c *Contextualizer) SummarizeDocument(ctx context.Context, text string) (string, error) {
	if len(text) < c.threshold {
		return c.gen.Summarize(ctx, text)
	}

	mid := len(text) / 2
	first, err := c.SummarizeDocument(ctx, text[:mid])
	if err != nil {
		return "", err
	}
	second, err := c.SummarizeDocument(ctx, text[mid:])
	if err != nil {
		return "", err
	}
	return c.gen.MergeSummaries(ctx, first, second)
}

// Header generates the contextual header for one chunk. Header
// generation is best-effort: on failure the chunk is indexed without
// context rather than failing the document.
func (c *Contextualizer) Header(ctx context.Context, docSummary, chunkText string) string {
	header, err := c.gen.ContextualHeader(ctx, docSummary, chunkText)
	if err != nil {
		slog.Warn("contextual header generation failed, indexing raw chunk", "error", err)
		return ""
	}
	return header
}
