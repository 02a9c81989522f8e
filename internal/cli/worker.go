package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memfed/internal/chunker"
	"github.com/raphaelgruber/memfed/internal/config"
	"github.com/raphaelgruber/memfed/internal/coordinator"
	"github.com/raphaelgruber/memfed/internal/deadletter"
	"github.com/raphaelgruber/memfed/internal/graph"
	"github.com/raphaelgruber/memfed/internal/llm"
	"github.com/raphaelgruber/memfed/internal/metrics"
	"github.com/raphaelgruber/memfed/internal/notify"
	"github.com/raphaelgruber/memfed/internal/queue"
	"github.com/raphaelgruber/memfed/internal/status"
	"github.com/raphaelgruber/memfed/internal/vector"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an ingestion worker",
	Long: `Run an ingestion worker that consumes the job queue and drives each
file through loading, chunking, embedding and graph extraction.

Multiple workers can run against the same queue; the consumer group
spreads jobs across them. Stops cleanly on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunWorker(cmd.Context(), cfg)
	},
}

// RunWorker wires the full ingestion stack and consumes jobs until ctx
// is cancelled or a termination signal arrives.
func RunWorker(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := llm.New(cfg)
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}

	vectors, err := vector.NewPGStore(ctx, cfg.PostgresURL, cfg.EmbedDimension)
	if err != nil {
		return fmt.Errorf("connect to vector store: %w", err)
	}
	defer vectors.Close()

	graphs, err := graph.NewNeo4jStore(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return fmt.Errorf("connect to graph store: %w", err)
	}
	defer graphs.Close(context.Background())

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

	notifier, err := notify.NewRedisNotifier(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to notifier: %w", err)
	}
	defer notifier.Close()

	contextualizer := chunker.NewContextualizer(client, cfg.SummaryThreshold)

	vecIndexer, err := vector.NewIndexer(client, contextualizer, vectors, cfg.ChunkFanout)
	if err != nil {
		return fmt.Errorf("init vector indexer: %w", err)
	}
	defer vecIndexer.Release()

	graphIndexer := graph.NewIndexer(client, graphs)
	deadLetters := deadletter.NewPGStore(vectors.Pool())
	collector := metrics.NewCollector()

	coord := coordinator.New(coordinator.Config{
		Workers:     cfg.WorkerCount,
		MaxAttempts: cfg.MaxAttempts,
		Chunking: chunker.Config{
			Size:    cfg.ChunkSize,
			Overlap: cfg.ChunkOverlap,
		},
	}, q, statusStore, notifier, deadLetters, contextualizer, vecIndexer, graphIndexer).
		WithMetrics(collector)

	go reportMetrics(ctx, collector)

	err = coord.Run(ctx)

	slog.Info("worker stopped", snapshotAttrs(collector.Snapshot())...)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reportMetrics logs a throughput summary every 5 minutes.
func reportMetrics(ctx context.Context, collector *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("worker stats", snapshotAttrs(collector.Snapshot())...)
		}
	}
}

func snapshotAttrs(snapshot metrics.Snapshot) []any {
	attrs := []any{"uptime_seconds", int64(snapshot.UptimeSeconds)}
	add := func(name string, op *metrics.OperationSnapshot) {
		if op == nil {
			return
		}
		attrs = append(attrs,
			name, op.Count,
			name+"_failures", op.Failures,
			"avg_"+name+"_ms", int64(op.AvgTimeMs))
	}
	add("jobs", snapshot.Jobs)
	add("summaries", snapshot.Summaries)
	add("embeddings", snapshot.Embeddings)
	add("graph_extracts", snapshot.GraphExtract)
	return attrs
}
