package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memfed/internal/deadletter"
	"github.com/raphaelgruber/memfed/internal/models"
	"github.com/raphaelgruber/memfed/internal/status"
	"github.com/raphaelgruber/memfed/internal/vector"
)

var statusDeadLetters bool

var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show the state of an ingestion batch",
	Long: `Show the per-file state of an ingestion batch.

With --dead-letters, also lists the archived records of files that
failed permanently, including the stage they failed in.

Examples:
  memfed status 3f29c1a0-...-b2
  memfed status 3f29c1a0-...-b2 --dead-letters`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusDeadLetters, "dead-letters", false, "include dead-letter records")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	batchID := args[0]

	statusStore, err := status.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to status store: %w", err)
	}
	defer statusStore.Close()

	entries, err := statusStore.Batch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("read batch: %w", err)
	}
	if len(entries) == 0 {
		fmt.Printf("No jobs found for batch %s.\n", batchID)
		return nil
	}

	counts := make(map[models.JobStatus]int)
	for _, entry := range entries {
		counts[entry.Status]++
		line := fmt.Sprintf("[%s] %s", entry.Status, entry.FileID)
		if entry.Error != "" {
			line += ": " + entry.Error
		}
		fmt.Println(line)
	}

	fmt.Printf("\n%d files: %d done, %d failed, %d in flight\n",
		len(entries), counts[models.StatusDone], counts[models.StatusFailed],
		len(entries)-counts[models.StatusDone]-counts[models.StatusFailed])

	if !statusDeadLetters {
		return nil
	}

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
		fmt.Println("\nNo dead letters for this batch.")
		return nil
	}

	fmt.Printf("\nDead letters (%d):\n", len(records))
	for _, r := range records {
		fmt.Printf("  %s  failed during %s: %s\n", r.FileID, r.FailureStage, r.ErrorMessage)
	}
	return nil
}
