// Package status tracks per-file job state, keyed by batch and file.
package status

import (
	"context"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Entry is the externally visible state of one file in a batch.
type Entry struct {
	BatchID string           `json:"batch_id"`
	FileID  string           `json:"file_id"`
	Status  models.JobStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
}

// Store persists job status for polling clients.
type Store interface {
	// Set records the current state of a file's job.
	Set(ctx context.Context, entry Entry) error

	// Get returns the state of one file. Missing entries return
	// (nil, nil).
	Get(ctx context.Context, batchID, fileID string) (*Entry, error)

	// Batch returns all known entries for a batch.
	Batch(ctx context.Context, batchID string) ([]Entry, error)

	// CompletedHash reports whether a content hash already finished
	// ingestion, and marks hashes as completed.
	CompletedHash(ctx context.Context, hash string) (bool, error)
	MarkHashCompleted(ctx context.Context, hash string) error
	ReleaseHash(ctx context.Context, hash string) error
}
