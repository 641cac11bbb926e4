package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/yuvabe/care-companion/db"
	"github.com/yuvabe/care-companion/internal/api"
	"github.com/yuvabe/care-companion/internal/chat"
	"github.com/yuvabe/care-companion/internal/config"
	"github.com/yuvabe/care-companion/internal/embed"
	"github.com/yuvabe/care-companion/internal/history"
	"github.com/yuvabe/care-companion/internal/knowledge"
	"github.com/yuvabe/care-companion/internal/llm"
	"github.com/yuvabe/care-companion/internal/log"
	"github.com/yuvabe/care-companion/internal/rerank"
	"github.com/yuvabe/care-companion/internal/vecindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: true})
	logger.Info("starting care-companion", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	index := vecindex.New(vecindex.NewPGCatalog(pool), logger, cfg.Dimension)
	if err := index.EnsureReady(ctx, cfg.ReadyTimeout()); err != nil {
		if errors.Is(err, vecindex.ErrIndexUnavailable) {
			// Queries fall back to sequential scans until the build
			// finishes; serving is still correct, just slower.
			logger.Warn("search index still provisioning, serving anyway", "error", err)
		} else {
			return fmt.Errorf("preparing search index: %w", err)
		}
	}

	objects, err := history.NewMinIOStore(ctx, history.MinIOConfig{
		Endpoint:  cfg.StoreEndpoint,
		AccessKey: cfg.StoreAccessKey,
		SecretKey: cfg.StoreSecretKey,
		Bucket:    cfg.StoreBucket,
		UseSSL:    cfg.StoreUseSSL,
	})
	if err != nil {
		return fmt.Errorf("connecting to object store: %w", err)
	}
	transcripts := history.NewStore(objects, logger, cfg.Language, cfg.GeneratorModel)

	embedder := embed.NewClient(embed.Config{
		BaseURL:   cfg.EmbedderBaseURL,
		APIKey:    cfg.EmbedderAPIKey,
		Model:     cfg.EmbedderModel,
		Dimension: cfg.Dimension,
	})

	generator := llm.NewClient(llm.Config{
		BaseURL:     cfg.GeneratorBaseURL,
		APIKey:      cfg.GroqAPIKey,
		Model:       cfg.GeneratorModel,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})

	var scorer rerank.Scorer
	if cfg.RerankEnabled {
		scorer = rerank.NewTEIScorer(cfg.RerankURL, cfg.RequestTimeout())
	}

	kb := knowledge.NewService(index, embedder, logger, cfg.Namespace)

	pipeline := chat.New(kb, scorer, generator, transcripts, logger, chat.Config{
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
		HistoryBudget:  cfg.HistoryBudget,
		RerankEnabled:  cfg.RerankEnabled,
		StepTimeout:    cfg.RequestTimeout(),
	})

	server := api.NewServer(
		api.NewChatHandler(pipeline, logger),
		api.NewKnowledgeHandler(kb, logger, cfg.TopK, cfg.ScoreThreshold),
		api.NewHistoryHandler(transcripts, logger),
		api.NewHealthHandler(pool, objects, index, logger),
	)
	return server.Run(ctx, cfg.ListenAddr)
}
