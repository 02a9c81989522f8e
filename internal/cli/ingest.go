package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memfed/internal/models"
	"github.com/raphaelgruber/memfed/internal/notify"
	"github.com/raphaelgruber/memfed/internal/queue"
	"github.com/raphaelgruber/memfed/internal/status"
)

var ingestFollow bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Queue files or directories for ingestion",
	Long: `Queue files or directories for asynchronous ingestion.

Each file becomes one job in the batch. Directories are walked
recursively; hidden files and directories are skipped. Files whose
content was already ingested are skipped by the worker.

Examples:
  memfed ingest notes/
  memfed ingest README.md docs/ --follow`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestFollow, "follow", "f", false, "stream progress until the batch finishes")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	paths, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files found under %s", strings.Join(args, ", "))
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

	batchID := uuid.NewString()

	// Subscribe before enqueueing so no event is missed.
	var events <-chan notify.Event
	if ingestFollow {
		subscriber, err := notify.NewRedisNotifier(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to notifier: %w", err)
		}
		defer subscriber.Close()

		events, err = subscriber.Subscribe(ctx, batchID)
		if err != nil {
			return fmt.Errorf("subscribe to batch: %w", err)
		}
	}

	for _, path := range paths {
		job, err := buildJob(batchID, path)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", path, err)
		}
		if err := statusStore.Set(ctx, status.Entry{
			BatchID: batchID,
			FileID:  job.FileID,
			Status:  models.StatusQueued,
		}); err != nil {
			return fmt.Errorf("record status for %s: %w", path, err)
		}
		if err := q.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue %s: %w", path, err)
		}
		fmt.Printf("queued %s (%s)\n", path, job.FileID)
	}

	fmt.Printf("\nBatch %s: %d files queued.\n", batchID, len(paths))

	if !ingestFollow {
		fmt.Printf("Use 'memfed status %s' to check progress.\n", batchID)
		return nil
	}
	return followBatch(ctx, events, len(paths))
}

// buildJob hashes the file content and wraps it in a queued job.
func buildJob(batchID, path string) (models.IngestionJob, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.IngestionJob{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.IngestionJob{}, err
	}
	sum := sha256.Sum256(data)

	return models.IngestionJob{
		BatchID:     batchID,
		FileID:      uuid.NewString(),
		SourcePath:  abs,
		ContentHash: hex.EncodeToString(sum[:]),
		Status:      models.StatusQueued,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// collectFiles expands the argument list into plain files, walking
// directories recursively and skipping hidden entries.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != arg {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// followBatch prints progress events until every file reaches a
// terminal state.
func followBatch(ctx context.Context, events <-chan notify.Event, total int) error {
	done := make(map[string]models.JobStatus)
	failed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return fmt.Errorf("progress stream closed with %d/%d files finished", len(done), total)
			}
			line := fmt.Sprintf("[%s] %s", event.Status, event.FileID)
			if event.Progress != "" {
				line += ": " + event.Progress
			}
			if event.Error != "" {
				line += " (" + event.Error + ")"
			}
			fmt.Println(line)

			if event.Status.Terminal() {
				done[event.FileID] = event.Status
				if event.Status == models.StatusFailed {
					failed++
				}
			}
			if len(done) >= total {
				if failed > 0 {
					return fmt.Errorf("%d of %d files failed", failed, total)
				}
				fmt.Printf("\nAll %d files ingested.\n", total)
				return nil
			}
		}
	}
}
