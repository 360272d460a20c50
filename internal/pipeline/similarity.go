package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
	"github.com/your-org/fauna/internal/observability"
)

// SimilarityEngine ranks an owner's photos against a source photo: vector
// nearest neighbours first, then one geometric verification pass.
type SimilarityEngine struct {
	photos  PhotoStore
	fetcher ArtifactFetcher
	vision  Verifier
	cfg     config.SimilarityConfig
}

func NewSimilarityEngine(cfg config.SimilarityConfig, photos PhotoStore, fetcher ArtifactFetcher, v Verifier) *SimilarityEngine {
	if cfg.K <= 0 || cfg.K > config.MaxSimilarResults {
		cfg.K = config.MaxSimilarResults
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	return &SimilarityEngine{
		photos:  photos,
		fetcher: fetcher,
		vision:  v,
		cfg:     cfg,
	}
}

// FindSimilar returns at most K candidates ordered by final score, best first.
func (e *SimilarityEngine) FindSimilar(ctx context.Context, photoID uuid.UUID, ownerID string) ([]models.SimilarityCandidate, error) {
	// 1. Source, scoped to the owner
	found, err := e.photos.FindPhotosByIDsAndOwner(ctx, []uuid.UUID{photoID}, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load source photo: %w", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPhotoNotFound, photoID)
	}
	src := found[0]

	// 2. Preconditions
	if !src.HasEmbedding() || !src.HasSegmented() {
		return nil, fmt.Errorf("%w: %s", ErrSimilarityPrecondition, photoID)
	}

	// 3. Coarse retrieval
	nearest, err := e.photos.QueryNearestByEmbedding(ctx, ownerID, src.ID, e.cfg.K)
	if err != nil {
		return nil, fmt.Errorf("query nearest photos: %w", err)
	}

	candidates := make([]models.SimilarityCandidate, 0, e.cfg.K)
	for _, n := range nearest {
		if len(candidates) == e.cfg.K {
			break
		}
		if n.Photo.ID == src.ID || n.Photo.SegmentedURL == "" {
			continue
		}
		candidates = append(candidates, fallbackCandidate(n))
	}
	if len(candidates) == 0 {
		observability.SimilarityRequests.WithLabelValues("empty").Inc()
		return candidates, nil
	}

	// 4-5. Verification and scoring
	if e.verify(ctx, src, candidates) {
		observability.SimilarityRequests.WithLabelValues("verified").Inc()
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].FinalScore > candidates[j].FinalScore
		})
	} else {
		observability.SimilarityRequests.WithLabelValues("fallback").Inc()
	}
	return candidates, nil
}

// verify scores candidates in place and reports whether the verifier result was
// used. On false, candidates are untouched and keep their fallback scores.
//
// A candidate the verifier did not score (its image could not be fetched, or no
// result carried its index) keeps clamp(1-distance) and the "unknown" label, and
// is ranked together with the verifier scores in one finalScore ordering. The
// label tells callers which scale a score is on.
func (e *SimilarityEngine) verify(ctx context.Context, src models.Photo, candidates []models.SimilarityCandidate) bool {
	query, err := e.fetcher.Fetch(ctx, *src.SegmentedURL)
	if err != nil {
		slog.Warn("fetch source segmented image", "photo_id", src.ID, "error", err)
		return false
	}

	images := make([][]byte, len(candidates))
	var g errgroup.Group
	g.SetLimit(e.cfg.FetchConcurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			data, err := e.fetcher.Fetch(ctx, candidates[i].Photo.SegmentedURL)
			if err != nil {
				slog.Warn("fetch candidate segmented image", "photo_id", candidates[i].Photo.ID, "error", err)
				return nil
			}
			images[i] = data
			return nil
		})
	}
	_ = g.Wait()

	// positions maps the verifier's candidate index back to our slice.
	var positions []int
	var payload [][]byte
	for i, img := range images {
		if img != nil {
			positions = append(positions, i)
			payload = append(payload, img)
		}
	}
	if len(payload) == 0 {
		return false
	}

	res := e.vision.Verify(ctx, query, payload)
	if !res.OK() {
		slog.Warn("verification skipped", "photo_id", src.ID, "status", res.Status, "detail", res.Detail)
		return false
	}
	if len(res.Results) == 0 {
		return false
	}

	for _, m := range res.Results {
		if m.CandidateIndex < 0 || m.CandidateIndex >= len(positions) {
			continue
		}
		c := &candidates[positions[m.CandidateIndex]]
		c.FinalScore = m.Score
		c.ConfidenceLabel = m.ConfidenceLabel
		if c.ConfidenceLabel == "" {
			c.ConfidenceLabel = models.ConfidenceUnknown
		}
		c.IsSameSubject = m.IsSame
		c.MatchCount = m.MatchCount
		c.InlierCount = m.InlierCount
	}
	return true
}

func fallbackCandidate(n models.NearestPhoto) models.SimilarityCandidate {
	return models.SimilarityCandidate{
		Photo:           n.Photo,
		VectorDistance:  n.Distance,
		FinalScore:      clamp01(1 - n.Distance),
		ConfidenceLabel: models.ConfidenceUnknown,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
