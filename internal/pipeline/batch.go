package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/observability"
)

// batchWorkers is fixed at one: photos of a batch are processed strictly in sequence.
const batchWorkers = 1

// PhotoProcessor reprocesses a single photo.
type PhotoProcessor interface {
	Process(ctx context.Context, photo models.Photo) models.ProcessOutcome
}

// Orchestrator validates a batch as a whole and then drives the processor over it.
type Orchestrator struct {
	photos   PhotoStore
	proc     PhotoProcessor
	notifier OutcomeNotifier
	cfg      config.BatchConfig
}

// NewOrchestrator creates an orchestrator. notifier may be nil.
func NewOrchestrator(cfg config.BatchConfig, photos PhotoStore, proc PhotoProcessor, notifier OutcomeNotifier) *Orchestrator {
	return &Orchestrator{
		photos:   photos,
		proc:     proc,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Preflight checks the shape of the batch and that every photo exists and is
// owned by ownerID. It has no side effects and returns the photos in request order.
func (o *Orchestrator) Preflight(ctx context.Context, ids []uuid.UUID, ownerID string) ([]models.Photo, error) {
	if len(ids) == 0 {
		return nil, o.reject("empty", ErrEmptyBatch)
	}
	if o.cfg.MaxPhotos > 0 && len(ids) > o.cfg.MaxPhotos {
		return nil, o.reject("too_large", fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(ids), o.cfg.MaxPhotos))
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, o.reject("duplicate", fmt.Errorf("%w: %s", ErrDuplicatePhoto, id))
		}
		seen[id] = struct{}{}
	}

	found, err := o.photos.FindPhotosByIDsAndOwner(ctx, ids, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load batch photos: %w", err)
	}
	if len(found) != len(ids) {
		return nil, o.reject("ownership", fmt.Errorf("%w: requested %d, found %d", ErrOwnershipMismatch, len(ids), len(found)))
	}

	byID := make(map[uuid.UUID]models.Photo, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	ordered := make([]models.Photo, len(ids))
	for i, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, o.reject("ownership", fmt.Errorf("%w: %s", ErrOwnershipMismatch, id))
		}
		ordered[i] = p
	}
	return ordered, nil
}

// ProcessBatch reprocesses the photos of one owner. Request-level errors are
// returned only for preflight violations; per-photo failures land in the outcomes.
func (o *Orchestrator) ProcessBatch(ctx context.Context, ids []uuid.UUID, ownerID string) (*models.BatchResult, error) {
	return o.run(ctx, nil, ids, ownerID)
}

// ProcessJob runs a queued reprocess job.
func (o *Orchestrator) ProcessJob(ctx context.Context, job models.ReprocessJob) (*models.BatchResult, error) {
	return o.run(ctx, &job.JobID, job.PhotoIDs, job.OwnerID)
}

func (o *Orchestrator) run(ctx context.Context, jobID *uuid.UUID, ids []uuid.UUID, ownerID string) (*models.BatchResult, error) {
	photos, err := o.Preflight(ctx, ids, ownerID)
	if err != nil {
		return nil, err
	}

	// Notifications outlive the batch deadline.
	notifyCtx := context.WithoutCancel(ctx)
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	slog.Info("processing batch", "owner_id", ownerID, "photos", len(photos))

	outcomes := make([]models.ProcessOutcome, len(photos))
	var g errgroup.Group
	g.SetLimit(batchWorkers)
	for i, photo := range photos {
		i, photo := i, photo
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = models.FailedOutcome(photo.ID, "batch deadline exceeded before processing")
			} else {
				outcomes[i] = o.proc.Process(ctx, photo)
			}
			o.notify(notifyCtx, jobID, ownerID, outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	result := &models.BatchResult{Outcomes: outcomes}
	for _, out := range outcomes {
		if out.Success {
			result.ProcessedCount++
		} else {
			result.FailedCount++
		}
	}

	observability.StageDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	slog.Info("batch processed",
		"owner_id", ownerID,
		"processed", result.ProcessedCount,
		"failed", result.FailedCount,
		"duration", time.Since(start),
	)
	return result, nil
}

func (o *Orchestrator) notify(ctx context.Context, jobID *uuid.UUID, ownerID string, out models.ProcessOutcome) {
	if o.notifier == nil {
		return
	}
	ev := models.OutcomeEvent{
		JobID:   jobID,
		OwnerID: ownerID,
		Outcome: out,
		At:      time.Now().UTC(),
	}
	if err := o.notifier.PhotoProcessed(ctx, ev); err != nil {
		slog.Warn("publish outcome", "photo_id", out.PhotoID, "error", err)
	}
}

func (o *Orchestrator) reject(reason string, err error) error {
	observability.BatchesRejected.WithLabelValues(reason).Inc()
	slog.Warn("batch rejected", "reason", reason, "error", err)
	return err
}
