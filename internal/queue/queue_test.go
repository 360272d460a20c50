package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fauna/internal/models"
)

func TestDecodeJob(t *testing.T) {
	job := models.ReprocessJob{
		JobID:      uuid.New(),
		OwnerID:    "owner-1",
		PhotoIDs:   []uuid.UUID{uuid.New(), uuid.New()},
		EnqueuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(job)
	require.NoError(t, err)

	got, err := DecodeJob(data)

	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestDecodeJob_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "garbage", data: `{"job_id":`},
		{name: "bad uuid", data: `{"job_id":"nope","owner_id":"o","photo_ids":["x"]}`},
		{name: "no owner", data: `{"job_id":"` + uuid.NewString() + `","photo_ids":["` + uuid.NewString() + `"]}`},
		{name: "no photos", data: `{"job_id":"` + uuid.NewString() + `","owner_id":"o","photo_ids":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestHandleJob_PassesDecodedJobThrough(t *testing.T) {
	id := uuid.New()
	data := []byte(`{"job_id":"` + uuid.NewString() + `","owner_id":"o","photo_ids":["` + id.String() + `"]}`)
	handlerErr := errors.New("vision down")

	var seen models.ReprocessJob
	err := handleJob(context.Background(), data, func(_ context.Context, job models.ReprocessJob) error {
		seen = job
		return handlerErr
	})

	assert.ErrorIs(t, err, handlerErr)
	assert.Equal(t, []uuid.UUID{id}, seen.PhotoIDs)
}
