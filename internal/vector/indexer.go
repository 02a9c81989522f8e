package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Embedder is the slice of the model client the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HeaderWriter produces a best-effort contextual header for a chunk.
type HeaderWriter interface {
	Header(ctx context.Context, docSummary, chunkText string) string
}

// Indexer runs the embedding stage: annotate each chunk with a
// contextual header, embed it, and upsert the batch into the store.
type Indexer struct {
	embedder Embedder
	headers  HeaderWriter
	store    Store
	pool     *ants.Pool
}

// NewIndexer creates an indexer with a fan-out pool for per-chunk calls.
func NewIndexer(embedder Embedder, headers HeaderWriter, store Store, fanout int) (*Indexer, error) {
	if fanout < 1 {
		fanout = 1
	}
	pool, err := ants.NewPool(fanout)
	if err != nil {
		return nil, fmt.Errorf("create embed pool: %w", err)
	}
	return &Indexer{embedder: embedder, headers: headers, store: store, pool: pool}, nil
}

// Release frees the worker pool. The indexer is unusable afterwards.
func (ix *Indexer) Release() {
	if ix.pool != nil {
		ix.pool.Release()
	}
}

// Index annotates, embeds and stores chunks. Chunks that embedded
// successfully are upserted even when others failed, so a retried job
// only redoes the remainder of the work. The returned error carries the
// first per-chunk failure.
func (ix *Indexer) Index(ctx context.Context, source, docSummary string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	embedded := make([]models.Chunk, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i := range chunks {
		i := i
		wg.Add(1)
		submitErr := ix.pool.Submit(func() {
			defer wg.Done()
			embedded[i], errs[i] = ix.processChunk(ctx, docSummary, chunks[i])
		})
		if submitErr != nil {
			errs[i] = fmt.Errorf("submit chunk %d: %w", i, submitErr)
			wg.Done()
		}
	}
	wg.Wait()

	var good []models.Chunk
	var failed error
	for i, err := range errs {
		if err != nil {
			slog.Warn("chunk embedding failed", "source", source, "ordinal", chunks[i].Ordinal, "error", err)
			failed = errors.Join(failed, err)
			continue
		}
		good = append(good, embedded[i])
	}

	// A fully embedded pass replaces the document wholesale, so a
	// re-ingested document that shrank sheds its stale trailing chunks.
	// After a partial failure the survivors are kept and the job retries
	// from the top.
	if failed == nil {
		if err := ix.store.DeleteDocument(ctx, chunks[0].DocumentID); err != nil {
			return fmt.Errorf("clear stale chunks: %w", err)
		}
	}

	if len(good) > 0 {
		if err := ix.store.Upsert(ctx, source, good); err != nil {
			return fmt.Errorf("upsert %d chunks: %w", len(good), err)
		}
	}

	if failed != nil {
		return fmt.Errorf("embedding stage: %d of %d chunks failed: %w", len(chunks)-len(good), len(chunks), failed)
	}
	return nil
}

func (ix *Indexer) processChunk(ctx context.Context, docSummary string, chunk models.Chunk) (models.Chunk, error) {
	if ctx.Err() != nil {
		return chunk, ctx.Err()
	}

	chunk.ContextualHeader = ix.headers.Header(ctx, docSummary, chunk.RawText)

	vec, err := ix.embedder.Embed(ctx, chunk.IndexedText())
	if err != nil {
		return chunk, err
	}
	chunk.Embedding = vec
	return chunk, nil
}
