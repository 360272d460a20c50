package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/fauna/internal/auth"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/pipeline"
	"github.com/your-org/fauna/pkg/dto"
)

// BatchRunner is the batch orchestrator as used by the HTTP layer.
type BatchRunner interface {
	Preflight(ctx context.Context, ids []uuid.UUID, ownerID string) ([]models.Photo, error)
	ProcessBatch(ctx context.Context, ids []uuid.UUID, ownerID string) (*models.BatchResult, error)
}

type SimilarFinder interface {
	FindSimilar(ctx context.Context, photoID uuid.UUID, ownerID string) ([]models.SimilarityCandidate, error)
}

type JobPublisher interface {
	PublishJob(ctx context.Context, job models.ReprocessJob) error
}

type PhotoHandler struct {
	batch   BatchRunner
	similar SimilarFinder
	// jobs is nil when asynchronous processing is not wired.
	jobs JobPublisher
}

func NewPhotoHandler(batch BatchRunner, similar SimilarFinder, jobs JobPublisher) *PhotoHandler {
	return &PhotoHandler{batch: batch, similar: similar, jobs: jobs}
}

// Process handles POST /v1/photos/process.
func (h *PhotoHandler) Process(c *gin.Context) {
	ownerID, ok := auth.OwnerID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing owner identity"})
		return
	}

	var req dto.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ids := make([]uuid.UUID, 0, len(req.PhotoIDs))
	for _, s := range req.PhotoIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id: " + s})
			return
		}
		ids = append(ids, id)
	}

	if req.Async {
		h.enqueue(c, ids, ownerID)
		return
	}

	result, err := h.batch.ProcessBatch(c.Request.Context(), ids, ownerID)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	resp := dto.ProcessResponse{
		ProcessedCount: result.ProcessedCount,
		FailedCount:    result.FailedCount,
		Outcomes:       make([]dto.OutcomeResponse, 0, len(result.Outcomes)),
	}
	for _, out := range result.Outcomes {
		resp.Outcomes = append(resp.Outcomes, OutcomeToDTO(out))
	}
	c.JSON(http.StatusOK, resp)
}

// enqueue validates the batch up front so a rejected batch never reaches the queue.
func (h *PhotoHandler) enqueue(c *gin.Context, ids []uuid.UUID, ownerID string) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "asynchronous processing is not available"})
		return
	}

	if _, err := h.batch.Preflight(c.Request.Context(), ids, ownerID); err != nil {
		writePipelineError(c, err)
		return
	}

	job := models.ReprocessJob{
		JobID:      uuid.New(),
		OwnerID:    ownerID,
		PhotoIDs:   ids,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := h.jobs.PublishJob(c.Request.Context(), job); err != nil {
		slog.Error("enqueue reprocess job", "job_id", job.JobID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to enqueue job"})
		return
	}

	slog.Info("reprocess job queued", "job_id", job.JobID, "owner_id", ownerID, "photos", len(ids))
	c.JSON(http.StatusAccepted, dto.AsyncJobResponse{
		JobID:      job.JobID,
		PhotoCount: len(ids),
		Status:     "queued",
	})
}

// Similar handles GET /v1/photos/:id/similar.
func (h *PhotoHandler) Similar(c *gin.Context) {
	ownerID, ok := auth.OwnerID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing owner identity"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	candidates, err := h.similar.FindSimilar(c.Request.Context(), id, ownerID)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	results := make([]dto.SimilarResult, 0, len(candidates))
	for _, cand := range candidates {
		p := dto.SimilarPhoto{
			ID:           cand.Photo.ID,
			OriginalName: cand.Photo.OriginalName,
			OriginalURL:  cand.Photo.OriginalURL,
			CroppedURL:   cand.Photo.CroppedURL,
			SegmentedURL: cand.Photo.SegmentedURL,
			Latitude:     cand.Photo.Latitude,
			Longitude:    cand.Photo.Longitude,
		}
		if cand.Photo.TakenAt != nil {
			p.TakenAt = cand.Photo.TakenAt.UTC().Format(time.RFC3339)
		}
		results = append(results, dto.SimilarResult{
			Photo:           p,
			VectorDistance:  cand.VectorDistance,
			FinalScore:      cand.FinalScore,
			ConfidenceLabel: cand.ConfidenceLabel,
			IsSameSubject:   cand.IsSameSubject,
			MatchCount:      cand.MatchCount,
			InlierCount:     cand.InlierCount,
		})
	}

	c.JSON(http.StatusOK, dto.SimilarResponse{Results: results, Total: len(results)})
}

// OutcomeToDTO converts a processing outcome to its wire form.
func OutcomeToDTO(out models.ProcessOutcome) dto.OutcomeResponse {
	return dto.OutcomeResponse{
		PhotoID:      out.PhotoID,
		Success:      out.Success,
		Error:        out.Error,
		Detected:     out.Detected,
		HasCropped:   out.HasCropped,
		HasSegmented: out.HasSegmented,
		HasEmbedding: out.HasEmbedding,
	}
}

func writePipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyBatch),
		errors.Is(err, pipeline.ErrBatchTooLarge),
		errors.Is(err, pipeline.ErrDuplicatePhoto):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrOwnershipMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrPhotoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
	case errors.Is(err, pipeline.ErrSimilarityPrecondition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
