package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memfed/internal/deadletter"
	"github.com/raphaelgruber/memfed/internal/models"
	"github.com/raphaelgruber/memfed/internal/queue"
	"github.com/raphaelgruber/memfed/internal/status"
	"github.com/raphaelgruber/memfed/internal/vector"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <batch-id>",
	Short: "Re-enqueue the dead-lettered jobs of a batch",
	Long: `Re-enqueue jobs that failed permanently, using the payload snapshot
archived when they were dead-lettered. Attempt counters are reset, so
each job gets the full retry budget again.

Intended for use after the underlying problem (a bad file, an expired
API key) has been fixed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRequeue,
}

func runRequeue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	batchID := args[0]

	vectors, err := vector.NewPGStore(ctx, cfg.PostgresURL, cfg.EmbedDimension)
	if err != nil {
		return fmt.Errorf("connect to dead-letter store: %w", err)
	}
	defer vectors.Close()

	records, err := deadletter.NewPGStore(vectors.Pool()).List(ctx, batchID)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	if len(records) == 0 {
		fmt.Printf("No dead letters for batch %s.\n", batchID)
		return nil
	}

	q, err := queue.NewKafkaQueue(queue.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	})
	if err != nil {
		return fmt.Errorf("connect to queue: %w", err)
	}
	defer q.Close()

	statusStore, err := status.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to status store: %w", err)
	}
	defer statusStore.Close()

	requeued := 0
	for _, record := range records {
		job, err := models.DecodeJob(record.PayloadSnapshot)
		if err != nil {
			fmt.Printf("skipping %s: unreadable payload snapshot: %v\n", record.FileID, err)
			continue
		}
		job.Status = models.StatusQueued
		job.Error = ""
		job.AttemptCount = 0

		if err := statusStore.Set(ctx, status.Entry{
			BatchID: job.BatchID,
			FileID:  job.FileID,
			Status:  models.StatusQueued,
		}); err != nil {
			return fmt.Errorf("record status for %s: %w", job.FileID, err)
		}
		if err := q.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue %s: %w", job.FileID, err)
		}
		requeued++
	}

	fmt.Printf("Requeued %d of %d dead-lettered jobs.\n", requeued, len(records))
	return nil
}
