package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/storage"
	"github.com/your-org/fauna/internal/vision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testOwner = "owner-1"

func testVisionConfig() config.VisionConfig {
	return config.VisionConfig{
		DetectionThreshold: 0.5,
		EmbeddingDim:       384,
		Working:            config.ImageSize{MaxWidth: 1600, MaxHeight: 1600, Quality: 85},
		Cropped:            config.ImageSize{MaxWidth: 800, MaxHeight: 800, Quality: 85},
		Segmented:          config.ImageSize{MaxWidth: 800, MaxHeight: 800, Quality: 85},
	}
}

func jpegBytes(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func vector(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i%7) / 7
	}
	return v
}

func ptr[T any](v T) *T { return &v }

// --- vision ---

type fakeVision struct {
	mu sync.Mutex

	crop   vision.CropResult
	seg    vision.SegmentResult
	emb    vision.EmbedResult
	verify vision.VerifyResult

	panicOnCrop bool

	cropCalls     int
	segmentCalls  int
	embedCalls    int
	verifyCalls   int
	verifiedCount int
	threshold     float64
}

func ok() vision.Outcome { return vision.Outcome{Status: vision.StatusOK} }

func (f *fakeVision) DetectAndCrop(_ context.Context, _ []byte, threshold float64) vision.CropResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnCrop {
		panic("detector exploded")
	}
	f.cropCalls++
	f.threshold = threshold
	return f.crop
}

func (f *fakeVision) Segment(context.Context, []byte) vision.SegmentResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segmentCalls++
	return f.seg
}

func (f *fakeVision) Embed(context.Context, []byte) vision.EmbedResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	return f.emb
}

func (f *fakeVision) Verify(_ context.Context, _ []byte, candidates [][]byte) vision.VerifyResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	f.verifiedCount = len(candidates)
	return f.verify
}

// --- artifacts ---

type fakeArtifacts struct {
	mu sync.Mutex

	objects   map[string][]byte
	fetchErr  map[string]error
	deleteErr error
	putErr    error

	// ops records "put <url>", "delete <url>" and "fetch <url>" in call order.
	ops []string
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{
		objects:  make(map[string][]byte),
		fetchErr: make(map[string]error),
	}
}

func (a *fakeArtifacts) seed(data []byte) string {
	url := "mem://" + storage.ContentKey(data, jpegContentType)
	a.objects[url] = data
	return url
}

func (a *fakeArtifacts) Put(_ context.Context, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.putErr != nil {
		return "", a.putErr
	}
	url := "mem://" + storage.ContentKey(data, contentType)
	a.objects[url] = data
	a.ops = append(a.ops, "put "+url)
	return url, nil
}

func (a *fakeArtifacts) Delete(_ context.Context, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, "delete "+url)
	if a.deleteErr != nil {
		return a.deleteErr
	}
	delete(a.objects, url)
	return nil
}

func (a *fakeArtifacts) Fetch(_ context.Context, url string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, "fetch "+url)
	if err := a.fetchErr[url]; err != nil {
		return nil, err
	}
	data, ok := a.objects[url]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

// mutations returns the recorded puts and deletes, skipping reads.
func (a *fakeArtifacts) mutations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, op := range a.ops {
		if !strings.HasPrefix(op, "fetch ") {
			out = append(out, op)
		}
	}
	return out
}

// --- photos ---

type fakePhotos struct {
	mu sync.Mutex

	photos    map[uuid.UUID]models.Photo
	nearest   []models.NearestPhoto
	updateErr error
	vectorErr error
	sharedErr error

	writes    int
	lookups   int
	nearestK  int
	nearestOf uuid.UUID
}

func newFakePhotos(photos ...models.Photo) *fakePhotos {
	f := &fakePhotos{photos: make(map[uuid.UUID]models.Photo)}
	for _, p := range photos {
		f.photos[p.ID] = p
	}
	return f
}

func (f *fakePhotos) get(id uuid.UUID) models.Photo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.photos[id]
}

func (f *fakePhotos) FindPhotosByIDsAndOwner(_ context.Context, ids []uuid.UUID, ownerID string) ([]models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	var out []models.Photo
	for _, id := range ids {
		if p, ok := f.photos[id]; ok && p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ReplaceDerivedState applies st in full or, like a rolled back transaction,
// not at all.
func (f *fakePhotos) ReplaceDerivedState(_ context.Context, id uuid.UUID, st models.DerivedState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.updateErr != nil {
		return f.updateErr
	}
	p, ok := f.photos[id]
	if !ok {
		return errors.New("photo not found")
	}
	if f.vectorErr != nil {
		return f.vectorErr
	}
	p.CroppedURL, p.CroppedSize = st.CroppedURL, st.CroppedSize
	p.SegmentedURL, p.SegmentedSize = st.SegmentedURL, st.SegmentedSize
	p.IsCropped, p.CropConfidence, p.SubjectDetected = st.IsCropped, st.CropConfidence, st.SubjectDetected
	p.EmbeddingDim, p.EmbeddingModel = st.EmbeddingDim, st.EmbeddingModel
	p.EmbeddingVector = st.Embedding
	f.photos[id] = p
	return nil
}

func (f *fakePhotos) ArtifactShared(_ context.Context, url string, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sharedErr != nil {
		return false, f.sharedErr
	}
	for pid, p := range f.photos {
		if pid == id {
			continue
		}
		if (p.CroppedURL != nil && *p.CroppedURL == url) || (p.SegmentedURL != nil && *p.SegmentedURL == url) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePhotos) QueryNearestByEmbedding(_ context.Context, _ string, sourceID uuid.UUID, k int) ([]models.NearestPhoto, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nearestK = k
	f.nearestOf = sourceID
	return f.nearest, nil
}

// --- notifier ---

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.OutcomeEvent
}

func (n *fakeNotifier) PhotoProcessed(_ context.Context, ev models.OutcomeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}
