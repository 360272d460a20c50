package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/observability"
	"github.com/your-org/fauna/internal/pipeline"
	"github.com/your-org/fauna/internal/queue"
	"github.com/your-org/fauna/internal/storage"
	"github.com/your-org/fauna/internal/vision"
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

	slog.Info("starting fauna reprocess worker",
		"job_workers", cfg.NATS.JobWorkers,
		"vision", cfg.Vision.BaseURL,
	)

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

	// NATS producer publishes outcome events
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	visionClient := vision.NewClient(cfg.Vision, nil)
	if !visionClient.Available() {
		slog.Warn("vision service not configured, photos will be processed without detection")
	}
	processor := pipeline.NewProcessor(cfg.Vision, visionClient, minioStore, db)
	orchestrator := pipeline.NewOrchestrator(cfg.Batch, db, processor, producer)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := func(ctx context.Context, job models.ReprocessJob) error {
		res, err := orchestrator.ProcessJob(ctx, job)
		if err != nil {
			if isRejection(err) {
				return fmt.Errorf("%w: %v", queue.ErrInvalidJob, err)
			}
			return err
		}
		slog.Info("reprocess job done",
			"job_id", job.JobID,
			"owner_id", job.OwnerID,
			"processed", res.ProcessedCount,
			"failed", res.FailedCount,
			"queued_for", time.Since(job.EnqueuedAt).String(),
		)
		return nil
	}

	// A job must finish within the batch ceiling; leave headroom before redelivery.
	ackWait := cfg.Batch.Timeout + 30*time.Second
	if err := consumer.ConsumeJobs(ctx, "reprocess-workers", handler, cfg.NATS.JobWorkers, ackWait); err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.JobQueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// isRejection reports whether a job failed preflight; retrying it cannot succeed.
func isRejection(err error) bool {
	return errors.Is(err, pipeline.ErrEmptyBatch) ||
		errors.Is(err, pipeline.ErrBatchTooLarge) ||
		errors.Is(err, pipeline.ErrDuplicatePhoto) ||
		errors.Is(err, pipeline.ErrOwnershipMismatch)
}
