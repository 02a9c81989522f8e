// Package deadletter archives jobs that exhausted their retries.
package deadletter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Store is the append-only dead-letter archive.
type Store interface {
	Record(ctx context.Context, record models.DeadLetterRecord) error
	List(ctx context.Context, batchID string) ([]models.DeadLetterRecord, error)
}

// PGStore implements Store on the shared Postgres pool. The table is
// created by the vector store migration.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Record appends a dead letter.
func (s *PGStore) Record(ctx context.Context, record models.DeadLetterRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (job_id, batch_id, file_id, failure_stage, error_message, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.JobID, record.BatchID, record.FileID,
		string(record.FailureStage), record.ErrorMessage, record.PayloadSnapshot)
	if err != nil {
		return fmt.Errorf("record dead letter for %s/%s: %w", record.BatchID, record.FileID, err)
	}
	return nil
}

// List returns the dead letters of one batch, newest first.
func (s *PGStore) List(ctx context.Context, batchID string) ([]models.DeadLetterRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, batch_id, file_id, failure_stage, error_message, payload, created_at
		FROM dead_letters
		WHERE batch_id = $1
		ORDER BY created_at DESC`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("list dead letters for %s: %w", batchID, err)
	}
	defer rows.Close()

	var records []models.DeadLetterRecord
	for rows.Next() {
		var r models.DeadLetterRecord
		var stage string
		if err := rows.Scan(&r.JobID, &r.BatchID, &r.FileID, &stage, &r.ErrorMessage,
			&r.PayloadSnapshot, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		r.FailureStage = models.JobStatus(stage)
		records = append(records, r)
	}
	return records, rows.Err()
}
