package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/embedding"
	"github.com/martyniukyurii/KovchegBackend/pipeline"
	"github.com/martyniukyurii/KovchegBackend/scraper"
	"github.com/martyniukyurii/KovchegBackend/scraper/m2bomber"
	"github.com/martyniukyurii/KovchegBackend/scraper/olx"
	"github.com/martyniukyurii/KovchegBackend/scraper/telegram"
	"github.com/martyniukyurii/KovchegBackend/services"
	"github.com/martyniukyurii/KovchegBackend/storage"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== Kovcheg Listing Ingestion starting ===")
	logger.Info("Config — sources: %d | global concurrency: %d | metrics: %s",
		len(cfg.Sources), cfg.GlobalMaxConcurrency, cfg.MetricsAddr)

	store, err := storage.NewPostgresStore(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	archiver, err := storage.NewCycleArchiver(cfg.ResultsDir)
	if err != nil {
		logger.Error("Failed to create results dir: %v", err)
		os.Exit(1)
	}

	var embedder embedding.Embedder
	if cfg.OpenAIAPIKey != "" {
		embedder = embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set — dedup runs on signals only")
	}

	metrics := utils.NewMetrics()
	insights := services.NewInsightService(logger)

	pipe := pipeline.New(
		store,
		services.NewNormalizer(cfg),
		services.NewSigner(embedder, cfg.EmbedTimeout, logger),
		services.NewDedupEngine(store, cfg.Dedup, logger),
		services.NewLifecycleManager(store, cfg.Lifecycle, logger),
		services.NewImporter(store, store, logger),
		insights,
		metrics,
		logger,
	)

	adapters := []scraper.SourceAdapter{
		olx.New(cfg.Source("olx"), cfg.ChromeBin, logger),
		m2bomber.New(cfg.Source("m2bomber"), logger),
	}
	if cfg.TelegramBotToken != "" {
		adapters = append(adapters, telegram.New(cfg.Source("telegram"), cfg.TelegramBotToken, logger))
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set — telegram source disabled")
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info("Metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("Metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := pipeline.NewOrchestrator(cfg, pipe, archiver, insights, metrics, logger, adapters...)
	orch.Run(ctx)

	logger.Info("Shutdown complete")
}
