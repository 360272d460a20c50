package dto

import "github.com/google/uuid"

// ProcessRequest is the body of POST /v1/photos/process.
type ProcessRequest struct {
	PhotoIDs []string `json:"photo_ids" binding:"required,min=1"`
	// Async queues the batch for a worker instead of processing it in the request.
	Async bool `json:"async"`
}

type OutcomeResponse struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Detected     bool      `json:"detected"`
	HasCropped   bool      `json:"has_cropped"`
	HasSegmented bool      `json:"has_segmented"`
	HasEmbedding bool      `json:"has_embedding"`
}

type ProcessResponse struct {
	ProcessedCount int               `json:"processed_count"`
	FailedCount    int               `json:"failed_count"`
	Outcomes       []OutcomeResponse `json:"outcomes"`
}

type AsyncJobResponse struct {
	JobID      uuid.UUID `json:"job_id"`
	PhotoCount int       `json:"photo_count"`
	Status     string    `json:"status"`
}

type SimilarPhoto struct {
	ID           uuid.UUID `json:"id"`
	OriginalName string    `json:"original_name"`
	OriginalURL  string    `json:"original_url"`
	CroppedURL   *string   `json:"cropped_url,omitempty"`
	SegmentedURL string    `json:"segmented_url"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	TakenAt      string    `json:"taken_at,omitempty"`
}

type SimilarResult struct {
	Photo           SimilarPhoto `json:"photo"`
	VectorDistance  float64      `json:"vector_distance"`
	FinalScore      float64      `json:"final_score"`
	ConfidenceLabel string       `json:"confidence_label"`
	IsSameSubject   bool         `json:"is_same_subject"`
	MatchCount      int          `json:"match_count"`
	InlierCount     int          `json:"inlier_count"`
}

type SimilarResponse struct {
	Results []SimilarResult `json:"results"`
	Total   int             `json:"total"`
}

// WSEvent is pushed to WebSocket clients when a photo finishes processing.
type WSEvent struct {
	Type      string          `json:"type"` // "photo_processed"
	JobID     *uuid.UUID      `json:"job_id,omitempty"`
	Outcome   OutcomeResponse `json:"outcome"`
	Timestamp string          `json:"timestamp"`
}
