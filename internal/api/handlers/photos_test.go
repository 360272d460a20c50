package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fauna/internal/auth"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/pipeline"
	"github.com/your-org/fauna/pkg/dto"
)

const owner = "owner-1"

type stubBatch struct {
	preflightErr error
	batchErr     error
	result       *models.BatchResult

	preflightCalls int
	batchCalls     int
	gotIDs         []uuid.UUID
	gotOwner       string
}

func (s *stubBatch) Preflight(_ context.Context, ids []uuid.UUID, ownerID string) ([]models.Photo, error) {
	s.preflightCalls++
	s.gotIDs, s.gotOwner = ids, ownerID
	return nil, s.preflightErr
}

func (s *stubBatch) ProcessBatch(_ context.Context, ids []uuid.UUID, ownerID string) (*models.BatchResult, error) {
	s.batchCalls++
	s.gotIDs, s.gotOwner = ids, ownerID
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	return s.result, nil
}

type stubSimilar struct {
	candidates []models.SimilarityCandidate
	err        error
}

func (s *stubSimilar) FindSimilar(context.Context, uuid.UUID, string) ([]models.SimilarityCandidate, error) {
	return s.candidates, s.err
}

type stubJobs struct {
	jobs []models.ReprocessJob
	err  error
}

func (s *stubJobs) PublishJob(_ context.Context, job models.ReprocessJob) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func newTestRouter(h *PhotoHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1", auth.OwnerMiddleware(auth.Settings{}))
	v1.POST("/photos/process", h.Process)
	v1.GET("/photos/:id/similar", h.Similar)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", owner)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProcess_Sync(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	batch := &stubBatch{result: &models.BatchResult{
		ProcessedCount: 1,
		FailedCount:    1,
		Outcomes: []models.ProcessOutcome{
			{PhotoID: ids[0], Success: true, Detected: true, HasCropped: true},
			models.FailedOutcome(ids[1], "fetch original: timeout"),
		},
	}}
	r := newTestRouter(NewPhotoHandler(batch, &stubSimilar{}, nil))

	w := doJSON(t, r, http.MethodPost, "/v1/photos/process", dto.ProcessRequest{
		PhotoIDs: []string{ids[0].String(), ids[1].String()},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp dto.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ProcessedCount)
	assert.Equal(t, 1, resp.FailedCount)
	require.Len(t, resp.Outcomes, 2)
	assert.True(t, resp.Outcomes[0].HasCropped)
	assert.Equal(t, "fetch original: timeout", resp.Outcomes[1].Error)
	assert.Equal(t, ids, batch.gotIDs)
	assert.Equal(t, owner, batch.gotOwner)
}

func TestProcess_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "missing ids", body: map[string]any{}},
		{name: "empty ids", body: dto.ProcessRequest{PhotoIDs: []string{}}},
		{name: "invalid uuid", body: dto.ProcessRequest{PhotoIDs: []string{"not-a-uuid"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := &stubBatch{}
			r := newTestRouter(NewPhotoHandler(batch, &stubSimilar{}, nil))

			w := doJSON(t, r, http.MethodPost, "/v1/photos/process", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, batch.batchCalls)
		})
	}
}

func TestProcess_PipelineErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: pipeline.ErrBatchTooLarge, want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: x", pipeline.ErrDuplicatePhoto), want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: requested 3, found 2", pipeline.ErrOwnershipMismatch), want: http.StatusForbidden},
		{err: errors.New("connection refused"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			r := newTestRouter(NewPhotoHandler(&stubBatch{batchErr: tt.err}, &stubSimilar{}, nil))

			w := doJSON(t, r, http.MethodPost, "/v1/photos/process", dto.ProcessRequest{PhotoIDs: []string{uuid.NewString()}})

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestProcess_AsyncQueuesJob(t *testing.T) {
	id := uuid.New()
	batch := &stubBatch{}
	jobs := &stubJobs{}
	r := newTestRouter(NewPhotoHandler(batch, &stubSimilar{}, jobs))

	w := doJSON(t, r, http.MethodPost, "/v1/photos/process", dto.ProcessRequest{PhotoIDs: []string{id.String()}, Async: true})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp dto.AsyncJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.PhotoCount)
	assert.Equal(t, "queued", resp.Status)

	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, resp.JobID, jobs.jobs[0].JobID)
	assert.Equal(t, owner, jobs.jobs[0].OwnerID)
	assert.Equal(t, []uuid.UUID{id}, jobs.jobs[0].PhotoIDs)
	assert.WithinDuration(t, time.Now(), jobs.jobs[0].EnqueuedAt, time.Minute)
	assert.Equal(t, 1, batch.preflightCalls)
	assert.Zero(t, batch.batchCalls)
}

func TestProcess_AsyncRejectedBatchIsNotQueued(t *testing.T) {
	jobs := &stubJobs{}
	r := newTestRouter(NewPhotoHandler(&stubBatch{preflightErr: pipeline.ErrOwnershipMismatch}, &stubSimilar{}, jobs))

	w := doJSON(t, r, http.MethodPost, "/v1/photos/process", dto.ProcessRequest{PhotoIDs: []string{uuid.NewString()}, Async: true})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, jobs.jobs)
}

func TestProcess_AsyncFailures(t *testing.T) {
	t.Run("not wired", func(t *testing.T) {
		r := newTestRouter(NewPhotoHandler(&stubBatch{}, &stubSimilar{}, nil))
		w := doJSON(t, r, http.MethodPost, "/v1/photos/process", dto.ProcessRequest{PhotoIDs: []string{uuid.NewString()}, Async: true})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("publish fails", func(t *testing.T) {
		r := newTestRouter(NewPhotoHandler(&stubBatch{}, &stubSimilar{}, &stubJobs{err: errors.New("nats down")}))
		w := doJSON(t, r, http.MethodPost, "/v1/photos/process", dto.ProcessRequest{PhotoIDs: []string{uuid.NewString()}, Async: true})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestSimilar(t *testing.T) {
	taken := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)
	cand := models.SimilarityCandidate{
		Photo: models.PhotoSummary{
			ID:           uuid.New(),
			OriginalName: "fox.jpg",
			OriginalURL:  "http://minio/fauna/artifacts/a.jpg",
			SegmentedURL: "http://minio/fauna/artifacts/b.jpg",
			TakenAt:      &taken,
		},
		VectorDistance:  0.18,
		FinalScore:      0.91,
		ConfidenceLabel: "high",
		IsSameSubject:   true,
		MatchCount:      120,
		InlierCount:     64,
	}
	r := newTestRouter(NewPhotoHandler(&stubBatch{}, &stubSimilar{candidates: []models.SimilarityCandidate{cand}}, nil))

	w := doJSON(t, r, http.MethodGet, "/v1/photos/"+uuid.NewString()+"/similar", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp dto.SimilarResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	got := resp.Results[0]
	assert.Equal(t, cand.Photo.ID, got.Photo.ID)
	assert.Equal(t, "2025-06-01T07:30:00Z", got.Photo.TakenAt)
	assert.InDelta(t, 0.91, got.FinalScore, 1e-9)
	assert.Equal(t, "high", got.ConfidenceLabel)
	assert.True(t, got.IsSameSubject)
}

func TestSimilar_EmptyIsOK(t *testing.T) {
	r := newTestRouter(NewPhotoHandler(&stubBatch{}, &stubSimilar{candidates: []models.SimilarityCandidate{}}, nil))

	w := doJSON(t, r, http.MethodGet, "/v1/photos/"+uuid.NewString()+"/similar", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[],"total":0}`, w.Body.String())
}

func TestSimilar_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{name: "bad id", path: "/v1/photos/abc/similar", want: http.StatusBadRequest},
		{name: "not found", err: pipeline.ErrPhotoNotFound, want: http.StatusNotFound},
		{name: "no embedding", err: pipeline.ErrSimilarityPrecondition, want: http.StatusUnprocessableEntity},
		{name: "db down", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = "/v1/photos/" + uuid.NewString() + "/similar"
			}
			r := newTestRouter(NewPhotoHandler(&stubBatch{}, &stubSimilar{err: tt.err}, nil))

			w := doJSON(t, r, http.MethodGet, path, nil)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
