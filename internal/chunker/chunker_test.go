package chunker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	chunks := Split("short text", DefaultConfig())
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Errorf("got %v, want single unchanged chunk", chunks)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	if chunks := Split("  \n\n ", DefaultConfig()); chunks != nil {
		t.Errorf("got %v, want nil", chunks)
	}
}

func TestSplit_RespectsParagraphBoundaries(t *testing.T) {
	config := Config{Size: 100, Overlap: 0}
	para1 := strings.Repeat("alpha ", 12) // ~72 chars
	para2 := strings.Repeat("beta ", 12)  // ~60 chars
	text := strings.TrimSpace(para1) + "\n\n" + strings.TrimSpace(para2)

	chunks := Split(text, config)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if strings.Contains(chunks[0], "beta") {
		t.Error("paragraphs were not split at the boundary")
	}
}

func TestSplit_ChunksRespectBudget(t *testing.T) {
	config := Config{Size: 200, Overlap: 0}
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("This is sentence number ")
		sb.WriteString(strings.Repeat("x", 10))
		sb.WriteString(". ")
	}

	chunks := Split(sb.String(), config)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > config.Size+1 {
			t.Errorf("chunk %d exceeds budget: %d > %d", i, len(c), config.Size)
		}
	}
}

func TestSplit_OverlapCarriesTail(t *testing.T) {
	config := Config{Size: 100, Overlap: 30}
	para1 := "First paragraph ends with distinctive marker omega."
	para2 := strings.Repeat("filler ", 12)
	text := para1 + "\n\n" + strings.TrimSpace(para2)

	chunks := Split(text, config)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.Contains(chunks[1], "omega.") {
		t.Errorf("second chunk missing overlap from first: %q", chunks[1])
	}
}

func TestSplit_HardCutsGiantSentence(t *testing.T) {
	config := Config{Size: 50, Overlap: 0}
	text := strings.Repeat("a", 180) // no sentence boundaries at all

	chunks := Split(text, config)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > config.Size {
			t.Errorf("chunk %d exceeds budget: %d", i, len(c))
		}
	}
}

func TestSplit_HardCutKeepsValidUTF8(t *testing.T) {
	config := Config{Size: 50, Overlap: 0}
	// Three-byte runes guarantee the budget lands mid-rune somewhere.
	text := strings.Repeat("語", 60)

	chunks := Split(text, config)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d contains a split rune: %q", i, c)
		}
		if len(c) > config.Size {
			t.Errorf("chunk %d exceeds budget: %d", i, len(c))
		}
		total += utf8.RuneCountInString(c)
	}
	if total != 60 {
		t.Errorf("runes across chunks = %d, want 60", total)
	}
}

func TestSplitDocument_AssignsStableIDs(t *testing.T) {
	text := strings.Repeat("Sentence one here. ", 50)
	config := Config{Size: 200, Overlap: 0}

	first := SplitDocument("doc-1", text, config)
	second := SplitDocument("doc-1", text, config)

	if len(first) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d id not stable across runs", i)
		}
		if first[i].Ordinal != i {
			t.Errorf("chunk %d ordinal = %d", i, first[i].Ordinal)
		}
		if first[i].DocumentID != "doc-1" {
			t.Errorf("chunk %d document id = %q", i, first[i].DocumentID)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First one. Second one! Third one? The U.S. report stays.")
	// "U.S." must not end a sentence.
	if len(sentences) != 4 {
		t.Fatalf("got %d sentences: %q", len(sentences), sentences)
	}
	if !strings.Contains(sentences[3], "U.S. report") {
		t.Errorf("abbreviation split a sentence: %q", sentences[3])
	}
}

// fakeGenerator scripts the model side of the contextualizer.
type fakeGenerator struct {
	summarizeCalls int
	mergeCalls     int
	headerErr      error
}

func (f *fakeGenerator) Summarize(ctx context.Context, text string) (string, error) {
	f.summarizeCalls++
	return fmt.Sprintf("summary(%d chars)", len(text)), nil
}

func (f *fakeGenerator) MergeSummaries(ctx context.Context, first, second string) (string, error) {
	f.mergeCalls++
	return "merged: " + first + " + " + second, nil
}

func (f *fakeGenerator) ContextualHeader(ctx context.Context, docSummary, chunkText string) (string, error) {
	if f.headerErr != nil {
		return "", f.headerErr
	}
	return "header for chunk", nil
}

func TestSummarizeDocument_SmallDocSinglePass(t *testing.T) {
	gen := &fakeGenerator{}
	c := NewContextualizer(gen, 1000)

	_, err := c.SummarizeDocument(context.Background(), strings.Repeat("x", 500))
	if err != nil {
		t.Fatal(err)
	}
	if gen.summarizeCalls != 1 || gen.mergeCalls != 0 {
		t.Errorf("calls = %d summarize, %d merge; want 1, 0", gen.summarizeCalls, gen.mergeCalls)
	}
}

func TestSummarizeDocument_LargeDocRecurses(t *testing.T) {
	gen := &fakeGenerator{}
	c := NewContextualizer(gen, 1000)

	// 1500 chars splits once into two halves under the threshold.
	summary, err := c.SummarizeDocument(context.Background(), strings.Repeat("x", 1500))
	if err != nil {
		t.Fatal(err)
	}
	if gen.summarizeCalls != 2 || gen.mergeCalls != 1 {
		t.Errorf("calls = %d summarize, %d merge; want 2, 1", gen.summarizeCalls, gen.mergeCalls)
	}
	if !strings.HasPrefix(summary, "merged:") {
		t.Errorf("summary = %q, want merged result", summary)
	}
}

func TestHeader_FailureFallsBackToEmpty(t *testing.T) {
	gen := &fakeGenerator{headerErr: errors.New("model down")}
	c := NewContextualizer(gen, 1000)

	if header := c.Header(context.Background(), "summary", "chunk"); header != "" {
		t.Errorf("header = %q, want empty fallback", header)
	}
}
