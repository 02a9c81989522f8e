// Package notify streams per-batch progress events to subscribers.
package notify

import (
	"context"

	"github.com/raphaelgruber/memfed/internal/models"
)

// Event is one progress update for a file within a batch.
type Event struct {
	BatchID  string           `json:"batch_id"`
	FileID   string           `json:"file_id"`
	Status   models.JobStatus `json:"status"`
	Progress string           `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Notifier publishes progress events. Publishing is fire-and-forget:
// it never returns an error, because a lost progress event must not
// fail an ingestion job. Delivery problems are logged.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// Subscriber receives the event stream of one batch.
type Subscriber interface {
	// Subscribe returns a channel of events for the batch. The channel
	// closes when ctx is cancelled. Events published while nobody was
	// subscribed are gone; subscribers join a live stream.
	Subscribe(ctx context.Context, batchID string) (<-chan Event, error)
}
