package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
)

func testBatchConfig() config.BatchConfig {
	return config.BatchConfig{MaxPhotos: 50, Timeout: time.Minute}
}

func ownedPhotos(n int, owner string) []models.Photo {
	out := make([]models.Photo, n)
	for i := range out {
		out[i] = models.Photo{ID: uuid.New(), OwnerID: owner, OriginalURL: "mem://original/" + uuid.NewString()}
	}
	return out
}

func idsOf(photos []models.Photo) []uuid.UUID {
	ids := make([]uuid.UUID, len(photos))
	for i, p := range photos {
		ids[i] = p.ID
	}
	return ids
}

// recordingProcessor fails photos listed in fail and tracks concurrency.
type recordingProcessor struct {
	mu        sync.Mutex
	fail      map[uuid.UUID]bool
	seen      []uuid.UUID
	active    int
	maxActive int
	block     bool
}

func (p *recordingProcessor) Process(ctx context.Context, photo models.Photo) models.ProcessOutcome {
	p.mu.Lock()
	p.seen = append(p.seen, photo.ID)
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
	} else {
		time.Sleep(time.Millisecond)
	}

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	if p.block || p.fail[photo.ID] {
		return models.FailedOutcome(photo.ID, "boom")
	}
	return models.ProcessOutcome{PhotoID: photo.ID, Success: true}
}

func TestPreflight_Rejections(t *testing.T) {
	owned := ownedPhotos(2, testOwner)
	foreign := ownedPhotos(1, "someone-else")
	photos := newFakePhotos(append(owned, foreign...)...)

	cfg := testBatchConfig()
	cfg.MaxPhotos = 3

	tests := []struct {
		name    string
		ids     []uuid.UUID
		wantErr error
	}{
		{name: "empty", ids: nil, wantErr: ErrEmptyBatch},
		{name: "too large", ids: []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}, wantErr: ErrBatchTooLarge},
		{name: "duplicate", ids: []uuid.UUID{owned[0].ID, owned[0].ID}, wantErr: ErrDuplicatePhoto},
		{name: "not owned", ids: []uuid.UUID{owned[0].ID, owned[1].ID, foreign[0].ID}, wantErr: ErrOwnershipMismatch},
		{name: "missing", ids: []uuid.UUID{owned[0].ID, uuid.New()}, wantErr: ErrOwnershipMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &recordingProcessor{}
			notifier := &fakeNotifier{}
			o := NewOrchestrator(cfg, photos, proc, notifier)

			res, err := o.ProcessBatch(context.Background(), tt.ids, testOwner)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Empty(t, proc.seen)
			assert.Empty(t, notifier.events)
		})
	}
}

func TestProcessBatch_ForeignPhotoTouchesNothing(t *testing.T) {
	artifacts := newFakeArtifacts()
	owned := []models.Photo{seedPhoto(t, artifacts), seedPhoto(t, artifacts)}
	foreign := seedPhoto(t, artifacts)
	foreign.OwnerID = "intruder"
	photos := newFakePhotos(append(owned, foreign)...)
	v := detectingVision(t)

	proc := NewProcessor(testVisionConfig(), v, artifacts, photos)
	o := NewOrchestrator(testBatchConfig(), photos, proc, nil)

	_, err := o.ProcessBatch(context.Background(), []uuid.UUID{owned[0].ID, owned[1].ID, foreign.ID}, testOwner)

	require.ErrorIs(t, err, ErrOwnershipMismatch)
	assert.Empty(t, artifacts.ops)
	assert.Zero(t, photos.writes)
	assert.Zero(t, v.cropCalls)
}

func TestProcessBatch_AggregatesEveryOutcomeInOrder(t *testing.T) {
	owned := ownedPhotos(4, testOwner)
	photos := newFakePhotos(owned...)
	proc := &recordingProcessor{fail: map[uuid.UUID]bool{owned[1].ID: true, owned[3].ID: true}}
	o := NewOrchestrator(testBatchConfig(), photos, proc, nil)

	res, err := o.ProcessBatch(context.Background(), idsOf(owned), testOwner)

	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, len(owned), res.ProcessedCount+res.FailedCount)
	require.Len(t, res.Outcomes, len(owned))
	for i, out := range res.Outcomes {
		assert.Equal(t, owned[i].ID, out.PhotoID)
	}
	assert.Equal(t, idsOf(owned), proc.seen)
}

func TestProcessBatch_AllFailedIsStillAResult(t *testing.T) {
	owned := ownedPhotos(2, testOwner)
	proc := &recordingProcessor{fail: map[uuid.UUID]bool{owned[0].ID: true, owned[1].ID: true}}
	o := NewOrchestrator(testBatchConfig(), newFakePhotos(owned...), proc, nil)

	res, err := o.ProcessBatch(context.Background(), idsOf(owned), testOwner)

	require.NoError(t, err)
	assert.Zero(t, res.ProcessedCount)
	assert.Equal(t, 2, res.FailedCount)
}

func TestProcessBatch_Sequential(t *testing.T) {
	owned := ownedPhotos(5, testOwner)
	proc := &recordingProcessor{}
	o := NewOrchestrator(testBatchConfig(), newFakePhotos(owned...), proc, nil)

	_, err := o.ProcessBatch(context.Background(), idsOf(owned), testOwner)

	require.NoError(t, err)
	assert.Equal(t, 1, proc.maxActive)
}

func TestProcessBatch_DeadlineFailsRemainingPhotos(t *testing.T) {
	owned := ownedPhotos(3, testOwner)
	proc := &recordingProcessor{block: true}
	cfg := testBatchConfig()
	cfg.Timeout = 20 * time.Millisecond
	notifier := &fakeNotifier{}
	o := NewOrchestrator(cfg, newFakePhotos(owned...), proc, notifier)

	res, err := o.ProcessBatch(context.Background(), idsOf(owned), testOwner)

	require.NoError(t, err)
	assert.Zero(t, res.ProcessedCount)
	assert.Equal(t, 3, res.FailedCount)
	assert.Len(t, proc.seen, 1)
	assert.Equal(t, "batch deadline exceeded before processing", res.Outcomes[2].Error)
	assert.Len(t, notifier.events, 3)
}

func TestProcessJob_PublishesOutcomesWithJobID(t *testing.T) {
	owned := ownedPhotos(2, testOwner)
	notifier := &fakeNotifier{}
	o := NewOrchestrator(testBatchConfig(), newFakePhotos(owned...), &recordingProcessor{}, notifier)
	job := models.ReprocessJob{JobID: uuid.New(), OwnerID: testOwner, PhotoIDs: idsOf(owned)}

	res, err := o.ProcessJob(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	require.Len(t, notifier.events, 2)
	for i, ev := range notifier.events {
		require.NotNil(t, ev.JobID)
		assert.Equal(t, job.JobID, *ev.JobID)
		assert.Equal(t, testOwner, ev.OwnerID)
		assert.Equal(t, owned[i].ID, ev.Outcome.PhotoID)
	}
}

type failingNotifier struct{}

func (failingNotifier) PhotoProcessed(context.Context, models.OutcomeEvent) error {
	return errors.New("nats down")
}

func TestProcessBatch_NotifierErrorsAreIgnored(t *testing.T) {
	owned := ownedPhotos(1, testOwner)
	o := NewOrchestrator(testBatchConfig(), newFakePhotos(owned...), &recordingProcessor{}, failingNotifier{})

	res, err := o.ProcessBatch(context.Background(), idsOf(owned), testOwner)

	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
}
