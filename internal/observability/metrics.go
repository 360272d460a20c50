package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VisionCalls counts vision service calls by operation and normalized status.
	VisionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fauna",
		Name:      "vision_calls_total",
		Help:      "Vision service calls by operation and result status",
	}, []string{"operation", "status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fauna",
		Name:      "stage_duration_seconds",
		Help:      "Duration of per-photo pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})

	PhotosProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fauna",
		Name:      "photos_processed_total",
		Help:      "Photos run through the reprocessing pipeline, by result",
	}, []string{"result"})

	ArtifactCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fauna",
		Name:      "artifact_cleanup_failures_total",
		Help:      "Stale derived artifacts that could not be deleted",
	})

	BatchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fauna",
		Name:      "batches_rejected_total",
		Help:      "Batches rejected before processing, by reason",
	}, []string{"reason"})

	SimilarityRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fauna",
		Name:      "similarity_requests_total",
		Help:      "Similarity lookups by scoring mode",
	}, []string{"mode"})

	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fauna",
		Name:      "job_queue_depth",
		Help:      "Number of pending reprocess jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fauna",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fauna",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
