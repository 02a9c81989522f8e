// Package queue carries ingestion jobs between the API and the workers.
package queue

import (
	"context"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Delivery is one received job plus the handle to acknowledge it.
// A job is only acknowledged after it reaches a terminal state, so a
// worker crash mid-pipeline redelivers the job (at-least-once).
type Delivery struct {
	Job models.IngestionJob

	// Payload is the raw message, preserved for dead-letter snapshots.
	Payload []byte

	// Ack commits the message. Calling it twice is safe.
	Ack func(ctx context.Context) error
}

// Queue is the job transport.
type Queue interface {
	// Enqueue publishes a job, keyed by batch so one batch's files
	// stay roughly ordered per partition.
	Enqueue(ctx context.Context, job models.IngestionJob) error

	// Receive blocks for the next delivery.
	Receive(ctx context.Context) (*Delivery, error)

	Close() error
}
