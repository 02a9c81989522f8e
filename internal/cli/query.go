package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memfed/internal/graph"
	"github.com/raphaelgruber/memfed/internal/llm"
	"github.com/raphaelgruber/memfed/internal/query"
	"github.com/raphaelgruber/memfed/internal/vector"
)

var (
	queryTopK        int
	queryShowSources bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against the ingested corpus",
	Long: `Ask a question and get an answer synthesized from vector search and
the knowledge graph.

Terse queries are expanded into a full question first. When one
retrieval path is unavailable the answer is synthesized from the
remaining paths and the degradation is reported.

Examples:
  memfed query "What is the capital of France?"
  memfed query "deploy process" --sources`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "n", 0, "number of chunks handed to synthesis (default from config)")
	queryCmd.Flags().BoolVar(&queryShowSources, "sources", false, "print the retrieved sources")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.QueryTimeout)
	defer cancel()

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
	defer graphs.Close(ctx)

	topK := cfg.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}
	engine := query.New(client, vectors, graphs, query.Config{TopK: topK})

	result, err := engine.Ask(ctx, args[0])
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	fmt.Println(result.Answer)

	if len(result.Degraded) > 0 {
		fmt.Printf("\nNote: degraded retrieval, unavailable paths: %s\n",
			strings.Join(result.Degraded, ", "))
	}

	if queryShowSources && len(result.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range result.Sources {
			fmt.Printf("  %.3f  %s (chunk %d)\n", s.Score, s.Path, s.Ordinal)
		}
	}

	return nil
}
