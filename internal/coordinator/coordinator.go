// Package coordinator drives ingestion jobs through the pipeline
// stages, owning status transitions, retries and dead-lettering.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/memfed/internal/chunker"
	"github.com/raphaelgruber/memfed/internal/deadletter"
	"github.com/raphaelgruber/memfed/internal/llm"
	"github.com/raphaelgruber/memfed/internal/loader"
	"github.com/raphaelgruber/memfed/internal/metrics"
	"github.com/raphaelgruber/memfed/internal/models"
	"github.com/raphaelgruber/memfed/internal/notify"
	"github.com/raphaelgruber/memfed/internal/queue"
	"github.com/raphaelgruber/memfed/internal/status"
)

// Summarizer produces the document-level summary for chunk headers.
type Summarizer interface {
	SummarizeDocument(ctx context.Context, text string) (string, error)
}

// VectorIndexer runs the embedding stage.
type VectorIndexer interface {
	Index(ctx context.Context, source, docSummary string, chunks []models.Chunk) error
}

// GraphIndexer runs the graph extraction stage.
type GraphIndexer interface {
	Extract(ctx context.Context, chunks []models.Chunk) error
}

// Config tunes the coordinator.
type Config struct {
	// Workers is the number of jobs processed concurrently.
	Workers int
	// MaxAttempts is the total delivery attempts before dead-lettering.
	MaxAttempts int
	// Chunking parameters for the splitting stage.
	Chunking chunker.Config
}

// Coordinator consumes the job queue and runs each job through
// load -> chunk -> embed -> extract, publishing progress as it goes.
type Coordinator struct {
	cfg        Config
	queue      queue.Queue
	status     status.Store
	notifier   notify.Notifier
	deadletter deadletter.Store
	summarizer Summarizer
	vectors    VectorIndexer
	graphs     GraphIndexer

	// load is swappable for tests; defaults to loader.Load.
	load func(path string) (string, error)

	metrics *metrics.Collector
}

// New wires a coordinator.
func New(cfg Config, q queue.Queue, st status.Store, n notify.Notifier,
	dl deadletter.Store, sum Summarizer, vec VectorIndexer, gr GraphIndexer) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking = chunker.DefaultConfig()
	}
	return &Coordinator{
		cfg:        cfg,
		queue:      q,
		status:     st,
		notifier:   n,
		deadletter: dl,
		summarizer: sum,
		vectors:    vec,
		graphs:     gr,
		load:       loader.Load,
	}
}

// WithMetrics attaches a collector. A nil collector disables recording.
func (c *Coordinator) WithMetrics(m *metrics.Collector) *Coordinator {
	c.metrics = m
	return c
}

// Run consumes the queue until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.Info("coordinator starting", "workers", c.cfg.Workers, "max_attempts", c.cfg.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.worker(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	for {
		delivery, err := c.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("receive failed, backing off", "worker", id, "error", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		c.Handle(ctx, delivery)
	}
}

// Handle runs one delivery through the pipeline. The message is only
// acknowledged once the job reaches a terminal state or has been
// requeued, so a crash mid-pipeline redelivers it.
func (c *Coordinator) Handle(ctx context.Context, delivery *queue.Delivery) {
	job := delivery.Job
	job.AttemptCount++

	log := slog.With("batch", job.BatchID, "file", job.FileID, "attempt", job.AttemptCount)

	// Content-hash gate: identical content that already finished is
	// skipped wholesale.
	if job.ContentHash != "" {
		done, err := c.status.CompletedHash(ctx, job.ContentHash)
		if err != nil {
			log.Warn("hash lookup failed, processing anyway", "error", err)
		} else if done {
			log.Info("skipping already ingested content")
			c.transition(ctx, &job, models.StatusDone, "already ingested, skipped")
			c.ack(ctx, delivery, log)
			return
		}
	}

	if err := c.observe(metrics.OpJob, func() error {
		return c.process(ctx, &job, log)
	}); err != nil {
		c.dispose(ctx, delivery, job, err, log)
		return
	}

	c.transition(ctx, &job, models.StatusDone, "done")
	if err := c.status.MarkHashCompleted(ctx, job.ContentHash); err != nil {
		log.Warn("marking content hash failed", "error", err)
	}
	c.ack(ctx, delivery, log)
	log.Info("ingestion complete")
}

// process advances the job through the pipeline stages.
func (c *Coordinator) process(ctx context.Context, job *models.IngestionJob, log *slog.Logger) error {
	c.transition(ctx, job, models.StatusProcessing, "started")

	text, err := c.load(job.SourcePath)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	c.transition(ctx, job, models.StatusChunking, "splitting document")
	var summary string
	err = c.observe(metrics.OpSummary, func() error {
		var serr error
		summary, serr = c.summarizer.SummarizeDocument(ctx, text)
		return serr
	})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	chunks := chunker.SplitDocument(job.FileID, text, c.cfg.Chunking)
	log.Info("document split", "chunks", len(chunks))

	c.transition(ctx, job, models.StatusEmbedding, fmt.Sprintf("embedding %d chunks", len(chunks)))
	err = c.observe(metrics.OpEmbedding, func() error {
		return c.vectors.Index(ctx, job.SourcePath, summary, chunks)
	})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	c.transition(ctx, job, models.StatusGraphExtracting, "extracting knowledge graph")
	err = c.observe(metrics.OpGraphExtract, func() error {
		return c.graphs.Extract(ctx, chunks)
	})
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	return nil
}

// dispose routes a failed job: fatal errors and exhausted retries go to
// the dead-letter archive; everything else is requeued.
func (c *Coordinator) dispose(ctx context.Context, delivery *queue.Delivery, job models.IngestionJob, jobErr error, log *slog.Logger) {
	fatal := llm.IsFatal(jobErr) || errors.Is(jobErr, loader.ErrUnparsable)

	if !fatal && job.AttemptCount < c.cfg.MaxAttempts {
		log.Warn("job failed, requeueing", "error", jobErr)
		// The requeued job restarts from the top of the pipeline.
		job.Status = models.StatusQueued
		job.Error = ""
		if err := c.queue.Enqueue(ctx, job); err != nil {
			// Couldn't requeue: leave the message uncommitted so the
			// broker redelivers it.
			log.Error("requeue failed, leaving message for redelivery", "error", err)
			return
		}
		c.ack(ctx, delivery, log)
		return
	}

	reason := "retries exhausted"
	if fatal {
		reason = "fatal error"
	}
	log.Error("job failed permanently", "reason", reason, "error", jobErr)

	failedStage := job.Status
	job.Error = jobErr.Error()
	c.transition(ctx, &job, models.StatusFailed, reason)

	record := models.DeadLetterRecord{
		JobID:           job.BatchID + "/" + job.FileID,
		BatchID:         job.BatchID,
		FileID:          job.FileID,
		FailureStage:    failedStage,
		ErrorMessage:    jobErr.Error(),
		PayloadSnapshot: delivery.Payload,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.deadletter.Record(ctx, record); err != nil {
		log.Error("dead-letter write failed", "error", err)
	}

	// Release the hash so a fixed version of the file can be retried.
	if err := c.status.ReleaseHash(ctx, job.ContentHash); err != nil {
		log.Warn("hash release failed", "error", err)
	}

	c.ack(ctx, delivery, log)
}

// transition advances the job status, persists it and notifies
// subscribers. Illegal transitions are a programming error; they are
// logged and skipped rather than corrupting the visible state.
func (c *Coordinator) transition(ctx context.Context, job *models.IngestionJob, next models.JobStatus, progress string) {
	if !job.Status.CanAdvanceTo(next) {
		slog.Error("illegal status transition",
			"batch", job.BatchID, "file", job.FileID, "from", job.Status, "to", next)
		return
	}
	job.Status = next

	entry := status.Entry{
		BatchID: job.BatchID,
		FileID:  job.FileID,
		Status:  next,
		Error:   job.Error,
	}
	if err := c.status.Set(ctx, entry); err != nil {
		slog.Warn("status write failed",
			"batch", job.BatchID, "file", job.FileID, "status", next, "error", err)
	}

	c.notifier.Publish(ctx, notify.Event{
		BatchID:  job.BatchID,
		FileID:   job.FileID,
		Status:   next,
		Progress: progress,
		Error:    job.Error,
	})
}

func (c *Coordinator) observe(op string, fn func() error) error {
	if c.metrics == nil {
		return fn()
	}
	return c.metrics.Observe(op, fn)
}

func (c *Coordinator) ack(ctx context.Context, delivery *queue.Delivery, log *slog.Logger) {
	if err := delivery.Ack(ctx); err != nil {
		log.Error("ack failed, message will be redelivered", "error", err)
	}
}
