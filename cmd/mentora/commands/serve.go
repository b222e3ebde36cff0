package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/mentora-app/mentora-go/internal/chat"
	"github.com/mentora-app/mentora-go/internal/embedder"
	"github.com/mentora-app/mentora-go/internal/logging"
	"github.com/mentora-app/mentora-go/internal/provider"
	"github.com/mentora-app/mentora-go/internal/quota"
	"github.com/mentora-app/mentora-go/internal/rag"
	"github.com/mentora-app/mentora-go/internal/server"
	"github.com/mentora-app/mentora-go/internal/store"
	"github.com/mentora-app/mentora-go/internal/tracing"
)

// defaultCollection is the Qdrant collection the verse corpus lives in.
const defaultCollection = "bhagavad-gita"

// NewServeCmd constructs the `mentora serve` command, which starts the HTTP
// chat server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Mentora HTTP chat server",
		Long: `Start the Mentora HTTP server.

The server exposes a REST API: POST /api/chat streams a verse-grounded reply
as plain text, and /api/conversations manages chat history. Requires a
running Qdrant instance with an ingested corpus (see 'mentora ingest').

Examples:
  mentora serve
  mentora serve --port 9090
  MODEL_PROVIDER=gemini mentora serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			// Open the SQLite database backing conversations and the quota
			// ledger. MENTORA_DB overrides the default path (~/.mentora/mentora.db).
			dbPath := os.Getenv("MENTORA_DB")
			if dbPath == "" {
				dbPath, err = store.DefaultDBPath()
				if err != nil {
					return fmt.Errorf("serve: could not resolve database path: %w", err)
				}
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("serve: failed to open database: %w", err)
			}
			defer func() { _ = st.Close() }()
			log.Info("database opened", slog.String("path", dbPath))

			ledger, err := quota.NewSQLiteLedger(st.DB())
			if err != nil {
				return fmt.Errorf("serve: failed to initialise quota ledger: %w", err)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			qstore, err := openPassageStore()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer qstore.Close()

			topK := getEnvInt("RETRIEVAL_TOP_K", 6)
			retriever, err := rag.NewRetriever(emb, qstore, topK)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise retriever: %w", err)
			}

			pipeline, err := chat.New(&chat.Config{
				Model:     chatModel,
				Retriever: retriever,
				Store:     st,
				Ledger:    ledger,
				TopK:      topK,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise chat pipeline: %w", err)
			}

			pingers := []server.Pinger{
				server.NewQdrantPinger(qstore.Client()),
				server.NewDBPinger(st.DB()),
			}

			srv, err := server.New(pipeline, st, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("MENTORA_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// openPassageStore connects to Qdrant using the QDRANT_* environment
// variables and the embedding dimensions of the resolved embedding backend.
func openPassageStore() (*rag.QdrantStore, error) {
	embBackend := embedder.ResolveBackend()
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	qstore, err := rag.NewQdrantStore(&rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", defaultCollection),
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	return qstore, nil
}
