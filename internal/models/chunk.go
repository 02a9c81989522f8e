package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Chunk is one slice of a document, carried through the vector and graph
// indexers. Chunks are immutable once embedded.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`

	// RawText is the chunk's slice of the source document.
	RawText string `json:"raw_text"`

	// ContextualHeader describes the chunk's role within the whole
	// document. Empty when header generation failed or was skipped.
	ContextualHeader string `json:"contextual_header,omitempty"`

	// Embedding is assigned by the vector indexer.
	Embedding []float32 `json:"embedding,omitempty"`
}

// ChunkID derives a stable chunk id from the document id and ordinal.
// Re-ingesting the same document yields identical ids, which makes
// vector and graph upserts idempotent under queue redelivery.
func ChunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s_%d", documentID, ordinal)).String()
}

// IndexedText returns the text that gets embedded: the contextual header
// prepended to the raw chunk content.
func (c Chunk) IndexedText() string {
	if c.ContextualHeader == "" {
		return c.RawText
	}
	return "CONTEXT: " + c.ContextualHeader + "\n\nCONTENT: " + c.RawText
}
