package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mentora-app/mentora-go/internal/embedder"
	"github.com/mentora-app/mentora-go/internal/ingestion"
	"github.com/mentora-app/mentora-go/internal/logging"
)

// NewIngestCmd constructs the `mentora ingest` command, which loads the
// verse corpus JSON export, embeds it, and populates the Qdrant collection.
func NewIngestCmd() *cobra.Command {
	var file string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest the verse corpus into the Qdrant vector store",
		Long: `Load the Bhagavad-gītā corpus from its JSON export, embed every verse,
and upsert the results into the Qdrant collection the chat server searches.

Verse IDs are deterministic, so re-running ingest updates points in place
rather than duplicating them.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: bhagavad-gita)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: openai, azure, ollama (default: openai)
  EMBEDDING_*          Provider-specific overrides (model, key, endpoint, dimensions)

Examples:
  mentora ingest --file verses.json
  mentora ingest --file verses.json --batch-size 64`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", embedder.ResolveBackend()))

			qstore, err := openPassageStore()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer qstore.Close()

			verses, err := ingestion.LoadFile(file)
			if err != nil {
				return err
			}
			log.Info("corpus loaded", slog.String("file", file), slog.Int("verses", len(verses)))

			pipeline, err := ingestion.NewPipeline(emb, qstore, &ingestion.Config{BatchSize: batchSize})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			if err := pipeline.Ingest(ctx, verses, func(msg string) {
				log.Info(msg)
			}); err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete", slog.Int("verses", len(verses)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the corpus JSON export")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Verses embedded per batch (default 32)")

	return cmd
}
