package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/observability"
	"github.com/your-org/fauna/internal/vision"
)

const jpegContentType = "image/jpeg"

// Processor runs one photo through detect → segment → embed → persist.
type Processor struct {
	vision    Vision
	artifacts ArtifactStore
	photos    PhotoStore
	cfg       config.VisionConfig
}

func NewProcessor(cfg config.VisionConfig, v Vision, artifacts ArtifactStore, photos PhotoStore) *Processor {
	return &Processor{
		vision:    v,
		artifacts: artifacts,
		photos:    photos,
		cfg:       cfg,
	}
}

// Process reprocesses a single photo. It never returns an error: every failure
// is reported through the outcome so that one photo cannot abort a batch.
func (p *Processor) Process(ctx context.Context, photo models.Photo) (out models.ProcessOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("photo processing panicked", "photo_id", photo.ID, "panic", r)
			out = models.FailedOutcome(photo.ID, fmt.Sprintf("internal error: %v", r))
		}
		result := "success"
		if !out.Success {
			result = "failure"
		}
		observability.PhotosProcessed.WithLabelValues(result).Inc()
		observability.StageDuration.WithLabelValues("photo").Observe(time.Since(start).Seconds())
	}()

	// 1. Load the original; nothing else happens if this fails
	original, err := p.artifacts.Fetch(ctx, photo.OriginalURL)
	if err != nil {
		slog.Error("fetch original", "photo_id", photo.ID, "error", err)
		return models.FailedOutcome(photo.ID, fmt.Sprintf("fetch original: %v", err))
	}

	out, err = p.reprocess(ctx, photo, original)
	if err != nil {
		slog.Error("reprocess photo", "photo_id", photo.ID, "error", err)
		return models.FailedOutcome(photo.ID, err.Error())
	}
	return out
}

func (p *Processor) reprocess(ctx context.Context, photo models.Photo, original []byte) (models.ProcessOutcome, error) {
	// 2. Working-size frame for detection and segmentation
	start := time.Now()
	working, err := vision.Transform(original, p.cfg.Working)
	if err != nil {
		return models.ProcessOutcome{}, fmt.Errorf("transform working image: %w", err)
	}
	observability.StageDuration.WithLabelValues("transform").Observe(time.Since(start).Seconds())

	// 3. Detection decides whether anything downstream runs
	start = time.Now()
	crop := p.vision.DetectAndCrop(ctx, working, p.cfg.DetectionThreshold)
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if !crop.OK() {
		slog.Warn("detection skipped", "photo_id", photo.ID, "status", crop.Status, "detail", crop.Detail)
	}
	detected := crop.OK() && crop.Detected

	// 4. Previous artifacts go before any new one is written
	p.removeStaleArtifacts(ctx, photo)

	state := models.DerivedState{
		SubjectDetected: detected,
		CropConfidence:  crop.Confidence,
	}

	// 5. Cropped artifact
	if detected {
		cropped, err := vision.Transform(crop.Cropped, p.cfg.Cropped)
		if err != nil {
			return models.ProcessOutcome{}, fmt.Errorf("transform cropped image: %w", err)
		}
		url, err := p.artifacts.Put(ctx, cropped, jpegContentType)
		if err != nil {
			return models.ProcessOutcome{}, fmt.Errorf("upload cropped image: %w", err)
		}
		size := int64(len(cropped))
		state.CroppedURL = &url
		state.CroppedSize = &size
		state.IsCropped = true

		// 6. Segmentation and embedding
		if err := p.segmentAndEmbed(ctx, photo, working, &state); err != nil {
			return models.ProcessOutcome{}, err
		}
	}

	// 7. Derived state and vector (or its absence) land together
	if err := p.photos.ReplaceDerivedState(ctx, photo.ID, state); err != nil {
		return models.ProcessOutcome{}, fmt.Errorf("persist derived state: %w", err)
	}

	return models.ProcessOutcome{
		PhotoID:      photo.ID,
		Success:      true,
		Detected:     detected,
		HasCropped:   state.CroppedURL != nil,
		HasSegmented: state.SegmentedURL != nil,
		HasEmbedding: state.Embedding != nil,
	}, nil
}

// segmentAndEmbed fills the segmented and embedding fields of state. A degraded
// service call leaves them empty.
func (p *Processor) segmentAndEmbed(ctx context.Context, photo models.Photo, working []byte, state *models.DerivedState) error {
	start := time.Now()
	seg := p.vision.Segment(ctx, working)
	observability.StageDuration.WithLabelValues("segment").Observe(time.Since(start).Seconds())
	if !seg.OK() {
		slog.Warn("segmentation skipped", "photo_id", photo.ID, "status", seg.Status, "detail", seg.Detail)
		return nil
	}
	if !seg.Detected {
		slog.Info("no subject after segmentation", "photo_id", photo.ID)
		return nil
	}

	segmented, err := vision.Transform(seg.Segmented, p.cfg.Segmented)
	if err != nil {
		return fmt.Errorf("transform segmented image: %w", err)
	}
	url, err := p.artifacts.Put(ctx, segmented, jpegContentType)
	if err != nil {
		return fmt.Errorf("upload segmented image: %w", err)
	}
	size := int64(len(segmented))
	state.SegmentedURL = &url
	state.SegmentedSize = &size

	start = time.Now()
	emb := p.vision.Embed(ctx, segmented)
	observability.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if !emb.OK() {
		slog.Warn("embedding skipped", "photo_id", photo.ID, "status", emb.Status, "detail", emb.Detail)
		return nil
	}

	// The stored dimension is the length actually returned.
	dim := len(emb.Vector)
	state.EmbeddingDim = &dim
	if emb.Model != "" {
		model := emb.Model
		state.EmbeddingModel = &model
	}

	if emb.Dim != dim {
		slog.Warn("embedding declared dimension differs from vector length",
			"photo_id", photo.ID, "declared", emb.Dim, "length", dim)
	}
	if dim != p.cfg.EmbeddingDim {
		slog.Warn("embedding dimension mismatch, vector dropped",
			"photo_id", photo.ID,
			"declared", emb.Dim,
			"length", dim,
			"expected", p.cfg.EmbeddingDim,
		)
		return nil
	}
	state.Embedding = emb.Vector
	return nil
}

// removeStaleArtifacts deletes the photo's previous derived images. Objects are
// content addressed, so one still referenced by another photo is left in place.
func (p *Processor) removeStaleArtifacts(ctx context.Context, photo models.Photo) {
	var tasks []func(context.Context) error
	for _, url := range []*string{photo.CroppedURL, photo.SegmentedURL} {
		if url == nil || *url == "" {
			continue
		}
		url := url
		tasks = append(tasks, func(ctx context.Context) error {
			shared, err := p.photos.ArtifactShared(ctx, *url, photo.ID)
			if err != nil {
				return err
			}
			if shared {
				slog.Info("stale artifact still referenced, kept", "photo_id", photo.ID, "url", *url)
				return nil
			}
			return p.artifacts.Delete(ctx, *url)
		})
	}

	for _, err := range SettleAll(ctx, tasks...) {
		observability.ArtifactCleanupFailures.Inc()
		slog.Warn("delete stale artifact", "photo_id", photo.ID, "error", err)
	}
}
