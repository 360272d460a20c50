package models

import (
	"time"

	"github.com/google/uuid"
)

// Photo is a catalogued wildlife photograph and the state the reprocessing pipeline derives from it.
type Photo struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OwnerID      string    `json:"owner_id" db:"owner_id"`
	OriginalName string    `json:"original_name" db:"original_name"`

	OriginalURL   string  `json:"original_url" db:"original_url"`
	OriginalSize  int64   `json:"original_size" db:"original_size"`
	CroppedURL    *string `json:"cropped_url,omitempty" db:"cropped_url"`
	CroppedSize   *int64  `json:"cropped_size,omitempty" db:"cropped_size"`
	SegmentedURL  *string `json:"segmented_url,omitempty" db:"segmented_url"`
	SegmentedSize *int64  `json:"segmented_size,omitempty" db:"segmented_size"`

	IsCropped       bool     `json:"is_cropped" db:"is_cropped"`
	CropConfidence  *float64 `json:"crop_confidence,omitempty" db:"crop_confidence"`
	SubjectDetected bool     `json:"subject_detected" db:"subject_detected"`

	EmbeddingVector []float32 `json:"-" db:"embedding"`
	EmbeddingDim    *int      `json:"embedding_dim,omitempty" db:"embedding_dim"`
	EmbeddingModel  *string   `json:"embedding_model,omitempty" db:"embedding_model"`

	Latitude  *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64   `json:"longitude,omitempty" db:"longitude"`
	TakenAt   *time.Time `json:"taken_at,omitempty" db:"taken_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasEmbedding reports whether a usable embedding vector is attached.
func (p *Photo) HasEmbedding() bool {
	return len(p.EmbeddingVector) > 0
}

// HasSegmented reports whether a background-removed artifact exists.
func (p *Photo) HasSegmented() bool {
	return p.SegmentedURL != nil && *p.SegmentedURL != ""
}

// DerivedState is the full replacement of a photo's pipeline-owned columns.
// Every field is written on update; nil clears the column.
type DerivedState struct {
	CroppedURL      *string
	CroppedSize     *int64
	SegmentedURL    *string
	SegmentedSize   *int64
	IsCropped       bool
	CropConfidence  *float64
	SubjectDetected bool
	EmbeddingDim    *int
	EmbeddingModel  *string

	// Embedding is set only when it has the expected dimension.
	Embedding []float32
}

// PhotoSummary is the display projection of a photo returned by similarity lookups.
type PhotoSummary struct {
	ID           uuid.UUID  `json:"id"`
	OriginalName string     `json:"original_name"`
	OriginalURL  string     `json:"original_url"`
	CroppedURL   *string    `json:"cropped_url,omitempty"`
	SegmentedURL string     `json:"segmented_url"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
}

// NearestPhoto is one row of a vector nearest-neighbour query.
type NearestPhoto struct {
	Photo PhotoSummary
	// Distance is the cosine distance to the query embedding, in [0,2].
	Distance float64
}
