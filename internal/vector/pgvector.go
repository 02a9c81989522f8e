package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/raphaelgruber/memfed/internal/models"
)

// PGStore is the Postgres+pgvector implementation of Store.
type PGStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPGStore connects a pool and ensures the chunks table exists.
func NewPGStore(ctx context.Context, url string, dimension int) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PGStore{pool: pool, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id          uuid PRIMARY KEY,
			document_id text NOT NULL,
			ordinal     int  NOT NULL,
			source      text NOT NULL,
			raw_text    text NOT NULL,
			header      text NOT NULL DEFAULT '',
			embedding   vector(%d) NOT NULL
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks
			USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id            bigserial PRIMARY KEY,
			job_id        text NOT NULL,
			batch_id      text NOT NULL,
			file_id       text NOT NULL,
			failure_stage text NOT NULL,
			error_message text NOT NULL,
			payload       bytea,
			created_at    timestamptz NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Pool exposes the underlying pool so the dead-letter store can share it.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close releases the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// Upsert writes chunks in one batch. Conflicting ids are overwritten,
// which makes redelivered jobs converge instead of duplicating rows.
func (s *PGStore) Upsert(ctx context.Context, source string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s: embedding dimension %d, want %d", c.ID, len(c.Embedding), s.dimension)
		}
		batch.Queue(`INSERT INTO chunks (id, document_id, ordinal, source, raw_text, header, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				ordinal     = EXCLUDED.ordinal,
				source      = EXCLUDED.source,
				raw_text    = EXCLUDED.raw_text,
				header      = EXCLUDED.header,
				embedding   = EXCLUDED.embedding`,
			c.ID, c.DocumentID, c.Ordinal, source, c.RawText, c.ContextualHeader, pgvector.NewVector(c.Embedding))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert chunk: %w", err)
		}
	}
	return nil
}

// Search returns the limit nearest chunks by cosine distance.
func (s *PGStore) Search(ctx context.Context, query []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, ordinal, source, raw_text, header,
		       1 - (embedding <=> $1) AS score
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

// Fetch returns the chunks with the given ids.
func (s *PGStore) Fetch(ctx context.Context, ids []string) ([]Hit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, ordinal, source, raw_text, header, 1.0 AS score
		FROM chunks
		WHERE id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

// DeleteDocument removes all chunks of one document.
func (s *PGStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}
	return nil
}

func scanHits(rows pgx.Rows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.DocumentID, &h.Chunk.Ordinal, &h.Source,
			&h.Chunk.RawText, &h.Chunk.ContextualHeader, &h.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
