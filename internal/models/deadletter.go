package models

import "time"

// DeadLetterRecord preserves a job that exhausted its retries, for manual
// operator inspection. Records are append-only and never mutated.
type DeadLetterRecord struct {
	JobID        string    `json:"job_id"`
	BatchID      string    `json:"batch_id"`
	FileID       string    `json:"file_id"`
	FailureStage JobStatus `json:"failure_stage"`
	ErrorMessage string    `json:"error_message"`

	// PayloadSnapshot is the raw queue message, kept verbatim so the job
	// can be re-enqueued by hand after the underlying problem is fixed.
	PayloadSnapshot []byte    `json:"payload_snapshot"`
	CreatedAt       time.Time `json:"created_at"`
}
