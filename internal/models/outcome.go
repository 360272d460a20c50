package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessOutcome reports what happened to one photo in one batch run. Never persisted.
type ProcessOutcome struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Detected     bool      `json:"detected"`
	HasCropped   bool      `json:"has_cropped"`
	HasSegmented bool      `json:"has_segmented"`
	HasEmbedding bool      `json:"has_embedding"`
}

// FailedOutcome builds a failure outcome for a photo.
func FailedOutcome(id uuid.UUID, msg string) ProcessOutcome {
	return ProcessOutcome{PhotoID: id, Success: false, Error: msg}
}

// BatchResult aggregates the outcomes of one batch run.
type BatchResult struct {
	ProcessedCount int              `json:"processed_count"`
	FailedCount    int              `json:"failed_count"`
	Outcomes       []ProcessOutcome `json:"outcomes"`
}

// Confidence label used when the verifier did not score a candidate.
const ConfidenceUnknown = "unknown"

// SimilarityCandidate is one ranked result of a similarity lookup.
type SimilarityCandidate struct {
	Photo           PhotoSummary `json:"photo"`
	VectorDistance  float64      `json:"vector_distance"`
	FinalScore      float64      `json:"final_score"`
	ConfidenceLabel string       `json:"confidence_label"`
	IsSameSubject   bool         `json:"is_same_subject"`
	MatchCount      int          `json:"match_count"`
	InlierCount     int          `json:"inlier_count"`
}

// ReprocessJob is the message published to NATS for asynchronous batch processing.
type ReprocessJob struct {
	JobID      uuid.UUID   `json:"job_id"`
	OwnerID    string      `json:"owner_id"`
	PhotoIDs   []uuid.UUID `json:"photo_ids"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// OutcomeEvent is published for every photo a batch run finishes.
type OutcomeEvent struct {
	JobID   *uuid.UUID     `json:"job_id,omitempty"`
	OwnerID string         `json:"owner_id"`
	Outcome ProcessOutcome `json:"outcome"`
	At      time.Time      `json:"at"`
}
