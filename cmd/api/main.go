package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/fauna/internal/api"
	"github.com/your-org/fauna/internal/api/handlers"
	"github.com/your-org/fauna/internal/api/ws"
	"github.com/your-org/fauna/internal/auth"
	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/observability"
	"github.com/your-org/fauna/internal/pipeline"
	"github.com/your-org/fauna/internal/queue"
	"github.com/your-org/fauna/internal/storage"
	"github.com/your-org/fauna/internal/vision"
	"github.com/your-org/fauna/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting fauna API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Relay outcome events to WebSocket clients of the same owner
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create outcome consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeOutcomes(ctx, "api-outcomes", func(ctx context.Context, ev models.OutcomeEvent) error {
		hub.BroadcastOutcome(ev.OwnerID, &dto.WSEvent{
			Type:      "photo_processed",
			JobID:     ev.JobID,
			Outcome:   handlers.OutcomeToDTO(ev.Outcome),
			Timestamp: ev.At.Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		slog.Warn("start outcome consumer", "error", err)
	}

	// Pipeline
	visionClient := vision.NewClient(cfg.Vision, nil)
	if !visionClient.Available() {
		slog.Warn("vision service not configured, photos will be processed without detection")
	}
	processor := pipeline.NewProcessor(cfg.Vision, visionClient, minioStore, db)
	orchestrator := pipeline.NewOrchestrator(cfg.Batch, db, processor, producer)
	fetcher := storage.NewCachingFetcher(minioStore, cfg.Similarity.CacheTTL)
	similarity := pipeline.NewSimilarityEngine(cfg.Similarity, db, fetcher, visionClient)

	authSettings := auth.Settings{
		JWTSecret:   cfg.Server.JWTSecret,
		JWTAudience: cfg.Server.JWTAudience,
		APIKey:      cfg.Server.APIKey,
	}
	if !authSettings.Enabled() {
		slog.Warn("no jwt_secret or api_key configured, trusting X-Owner-ID header")
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		Auth:            authSettings,
		Batch:           orchestrator,
		Similar:         similarity,
		Jobs:            producer,
		Hub:             hub,
		DB:              db,
		MinIO:           minioStore,
		NATS:            handlers.PingerFunc(func(context.Context) error { return producer.Ping() }),
		VisionAvailable: visionClient.Available,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
