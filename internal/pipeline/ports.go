package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/vision"
)

var (
	ErrEmptyBatch        = errors.New("no photo ids supplied")
	ErrBatchTooLarge     = errors.New("too many photo ids in one batch")
	ErrDuplicatePhoto    = errors.New("duplicate photo id in batch")
	ErrOwnershipMismatch = errors.New("one or more photos not found or not owned by caller")

	ErrPhotoNotFound          = errors.New("photo not found")
	ErrSimilarityPrecondition = errors.New("photo has no embedding or segmented image; reprocess it first")
)

// Verifier is the subset of the vision service used by similarity retrieval.
type Verifier interface {
	Verify(ctx context.Context, query []byte, candidates [][]byte) vision.VerifyResult
}

// Vision is the external vision service as seen by the pipeline.
type Vision interface {
	Verifier
	DetectAndCrop(ctx context.Context, image []byte, threshold float64) vision.CropResult
	Segment(ctx context.Context, image []byte) vision.SegmentResult
	Embed(ctx context.Context, image []byte) vision.EmbedResult
}

// ArtifactFetcher reads stored images by URL.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ArtifactStore holds originals and derived images.
type ArtifactStore interface {
	ArtifactFetcher
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
}

// PhotoStore is the persistence the pipeline needs.
type PhotoStore interface {
	FindPhotosByIDsAndOwner(ctx context.Context, ids []uuid.UUID, ownerID string) ([]models.Photo, error)
	// ReplaceDerivedState writes st, embedding included, atomically.
	ReplaceDerivedState(ctx context.Context, id uuid.UUID, st models.DerivedState) error
	// ArtifactShared reports whether a photo other than id references url.
	ArtifactShared(ctx context.Context, url string, id uuid.UUID) (bool, error)
	QueryNearestByEmbedding(ctx context.Context, ownerID string, sourceID uuid.UUID, k int) ([]models.NearestPhoto, error)
}

// OutcomeNotifier is told about every photo a batch finishes.
type OutcomeNotifier interface {
	PhotoProcessed(ctx context.Context, ev models.OutcomeEvent) error
}
