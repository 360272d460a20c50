package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/fauna/internal/config"
	"github.com/your-org/fauna/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Photos ---

const photoColumns = `id, owner_id, original_name, original_url, original_size,
	cropped_url, cropped_size, segmented_url, segmented_size,
	is_cropped, crop_confidence, subject_detected,
	embedding::text, embedding_dim, embedding_model,
	latitude, longitude, taken_at, created_at, updated_at`

func scanPhoto(row pgx.Row) (*models.Photo, error) {
	var p models.Photo
	var embedding *string
	err := row.Scan(&p.ID, &p.OwnerID, &p.OriginalName, &p.OriginalURL, &p.OriginalSize,
		&p.CroppedURL, &p.CroppedSize, &p.SegmentedURL, &p.SegmentedSize,
		&p.IsCropped, &p.CropConfidence, &p.SubjectDetected,
		&embedding, &p.EmbeddingDim, &p.EmbeddingModel,
		&p.Latitude, &p.Longitude, &p.TakenAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		var vec pgvector.Vector
		if err := vec.Scan(*embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		p.EmbeddingVector = vec.Slice()
	}
	return &p, nil
}

// FindPhotosByIDsAndOwner returns the photos among ids that belong to ownerID.
// Missing or foreign ids are silently absent from the result.
func (s *PostgresStore) FindPhotosByIDsAndOwner(ctx context.Context, ids []uuid.UUID, ownerID string) ([]models.Photo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE owner_id = $1 AND id = ANY($2::uuid[])`,
		ownerID, strIDs)
	if err != nil {
		return nil, fmt.Errorf("find photos: %w", err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find photos: %w", err)
	}
	return photos, nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ReplaceDerivedState writes the derived columns and st.Embedding in one
// transaction, so metadata and vector are never observed out of step.
func (s *PostgresStore) ReplaceDerivedState(ctx context.Context, id uuid.UUID, st models.DerivedState) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := updatePhotoDerivedState(ctx, tx, id, st); err != nil {
			return err
		}
		return setEmbeddingVector(ctx, tx, id, st.Embedding)
	})
}

// updatePhotoDerivedState overwrites every pipeline-owned column except the embedding vector.
func updatePhotoDerivedState(ctx context.Context, db execer, id uuid.UUID, st models.DerivedState) error {
	tag, err := db.Exec(ctx,
		`UPDATE photos SET
			cropped_url = $1, cropped_size = $2,
			segmented_url = $3, segmented_size = $4,
			is_cropped = $5, crop_confidence = $6, subject_detected = $7,
			embedding_dim = $8, embedding_model = $9,
			updated_at = now()
		 WHERE id = $10`,
		st.CroppedURL, st.CroppedSize,
		st.SegmentedURL, st.SegmentedSize,
		st.IsCropped, st.CropConfidence, st.SubjectDetected,
		st.EmbeddingDim, st.EmbeddingModel,
		id)
	if err != nil {
		return fmt.Errorf("update photo derived state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update photo derived state: photo %s not found", id)
	}
	return nil
}

// setEmbeddingVector stores vec, or clears the column when vec is nil.
func setEmbeddingVector(ctx context.Context, db execer, id uuid.UUID, vec []float32) error {
	var v *pgvector.Vector
	if len(vec) > 0 {
		pv := pgvector.NewVector(vec)
		v = &pv
	}
	_, err := db.Exec(ctx, `UPDATE photos SET embedding = $1, updated_at = now() WHERE id = $2`, v, id)
	if err != nil {
		return fmt.Errorf("set embedding vector: %w", err)
	}
	return nil
}

// ArtifactShared reports whether any photo other than id points at url as its
// cropped or segmented artifact.
func (s *PostgresStore) ArtifactShared(ctx context.Context, url string, id uuid.UUID) (bool, error) {
	var shared bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM photos
			WHERE id <> $2 AND (cropped_url = $1 OR segmented_url = $1)
		)`, url, id).Scan(&shared)
	if err != nil {
		return false, fmt.Errorf("check artifact references: %w", err)
	}
	return shared, nil
}

// QueryNearestByEmbedding returns up to k photos of ownerID closest to the source photo
// by cosine distance. Only photos with an embedding and a segmented artifact qualify,
// and the source itself is excluded.
func (s *PostgresStore) QueryNearestByEmbedding(ctx context.Context, ownerID string, sourceID uuid.UUID, k int) ([]models.NearestPhoto, error) {
	if k <= 0 {
		k = 4
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.original_name, p.original_url, p.cropped_url, p.segmented_url,
		       p.latitude, p.longitude, p.taken_at,
		       p.embedding <=> src.embedding AS distance
		FROM photos p
		JOIN photos src ON src.id = $2 AND src.owner_id = $1
		WHERE p.owner_id = $1
		  AND p.id <> src.id
		  AND p.embedding IS NOT NULL
		  AND p.segmented_url IS NOT NULL
		  AND src.embedding IS NOT NULL
		ORDER BY p.embedding <=> src.embedding
		LIMIT $3`,
		ownerID, sourceID, k)
	if err != nil {
		return nil, fmt.Errorf("query nearest photos: %w", err)
	}
	defer rows.Close()

	var out []models.NearestPhoto
	for rows.Next() {
		var n models.NearestPhoto
		if err := rows.Scan(&n.Photo.ID, &n.Photo.OriginalName, &n.Photo.OriginalURL,
			&n.Photo.CroppedURL, &n.Photo.SegmentedURL,
			&n.Photo.Latitude, &n.Photo.Longitude, &n.Photo.TakenAt,
			&n.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest photo: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query nearest photos: %w", err)
	}
	return out, nil
}
