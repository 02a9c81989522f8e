// Package chunker splits documents into character-budgeted chunks and
// annotates them with document-level context.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Config defines chunking parameters.
type Config struct {
	// Size is the character budget per chunk.
	Size int
	// Overlap is the number of characters carried over from the
	// previous chunk.
	Overlap int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{Size: 4000, Overlap: 200}
}

// SplitDocument splits text and wraps the pieces as chunks with stable
// ids derived from the document id and ordinal.
func SplitDocument(documentID, text string, config Config) []models.Chunk {
	pieces := Split(text, config)
	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:         models.ChunkID(documentID, i),
			DocumentID: documentID,
			Ordinal:    i,
			RawText:    piece,
		}
	}
	return chunks
}

// Split cuts text into pieces of at most config.Size characters,
// preferring paragraph boundaries, then sentence boundaries. Adjacent
// pieces share config.Overlap characters.
func Split(text string, config Config) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= config.Size {
		return []string{text}
	}
	return applyOverlap(splitByParagraphs(text, config), config.Overlap)
}

// splitByParagraphs packs paragraphs into chunks up to the size budget.
func splitByParagraphs(content string, config Config) []string {
	paragraphs := strings.Split(content, "\n\n")

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > config.Size && current.Len() > 0 {
			flush()
		}

		// A single oversized paragraph splits at sentence boundaries.
		if len(para) > config.Size {
			flush()
			chunks = append(chunks, splitBySentences(para, config)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	flush()
	return chunks
}

// splitBySentences packs sentences into chunks up to the size budget.
// A single sentence longer than the budget is hard-cut.
func splitBySentences(text string, config Config) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len()+len(sentence) > config.Size && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}

		for len(sentence) > config.Size {
			cut := runeBoundary(sentence, config.Size)
			chunks = append(chunks, sentence[:cut])
			sentence = sentence[cut:]
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// runeBoundary returns a cut position at most max bytes into s that does
// not split a UTF-8 rune. Always makes progress when s is non-empty.
func runeBoundary(s string, max int) int {
	if max >= len(s) {
		return len(s)
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, n := utf8.DecodeRuneInString(s)
		return n
	}
	return cut
}

// splitSentences splits text into sentences.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				// Likely abbreviation like "Dr."
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}

// applyOverlap prepends the tail of each chunk to its successor,
// trimmed to a word boundary.
func applyOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}

	result := make([]string, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := chunks[i-1]
		if len(prev) <= overlap {
			continue
		}
		start := len(prev) - overlap
		for start < len(prev) && !utf8.RuneStart(prev[start]) {
			start++
		}
		tail := prev[start:]
		if spaceIdx := strings.LastIndex(tail, " "); spaceIdx > 0 {
			tail = tail[spaceIdx+1:]
		}
		result[i] = tail + " " + result[i]
	}

	return result
}
