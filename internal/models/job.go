// Package models defines data structures shared across the memfed pipeline.
package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	StatusQueued          JobStatus = "QUEUED"
	StatusProcessing      JobStatus = "PROCESSING"
	StatusChunking        JobStatus = "CHUNKING"
	StatusEmbedding       JobStatus = "EMBEDDING"
	StatusGraphExtracting JobStatus = "GRAPH_EXTRACTING"
	StatusDone            JobStatus = "DONE"
	StatusFailed          JobStatus = "FAILED"
)

// stageOrder maps each non-terminal status to its position in the pipeline.
var stageOrder = map[JobStatus]int{
	StatusQueued:          0,
	StatusProcessing:      1,
	StatusChunking:        2,
	StatusEmbedding:       3,
	StatusGraphExtracting: 4,
	StatusDone:            5,
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanAdvanceTo reports whether a transition from s to next is legal.
// Statuses advance monotonically through the stage order; FAILED is
// reachable from any non-terminal state.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// IngestionJob is one file's journey through the ingestion pipeline.
// It is created at upload time, delivered through the job queue, and
// mutated only by the coordinator that currently owns it.
type IngestionJob struct {
	BatchID    string `json:"batch_id"`
	FileID     string `json:"file_id"`
	SourcePath string `json:"source_path"`

	// ContentHash deduplicates re-uploads of identical content. Optional.
	ContentHash string `json:"content_hash,omitempty"`

	Status       JobStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
	AttemptCount int       `json:"attempt_count"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Encode serializes the job for queue transport.
func (j IngestionJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob deserializes a queue message payload into a job.
func DecodeJob(data []byte) (IngestionJob, error) {
	var job IngestionJob
	err := json.Unmarshal(data, &job)
	return job, err
}
