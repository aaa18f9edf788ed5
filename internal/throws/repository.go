package throws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/throwlytics/backend/internal/models"
)

// ErrNotFound is returned when no throw matches.
var ErrNotFound = errors.New("throw not found")

const throwColumns = `id, owner_id, video_url, thumbnail_url, release_frame, release_confirmed, total_frames,
	video_width, video_height, fps, release_angle_deg, release_lateral_offset_norm, elbow_angle_deg,
	shoulder_angle_deg, wrist_angle_deg, uploaded_at, mirrored_at`

// Repository handles throw persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a throws repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a throw. Its ID and UploadedAt must already be set.
func (r *Repository) Create(ctx context.Context, t *models.Throw) error {
	const q = `INSERT INTO throws (` + throwColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.pool.Exec(ctx, q,
		t.ID, t.OwnerID, t.VideoURL, t.ThumbnailURL, t.ReleaseFrame, t.ReleaseConfirmed, t.TotalFrames,
		t.VideoWidth, t.VideoHeight, t.FPS, t.ReleaseAngleDeg, t.ReleaseLateralOffsetNorm, t.ElbowAngleDeg,
		t.ShoulderAngleDeg, t.WristAngleDeg, t.UploadedAt, t.MirroredAt,
	)
	if err != nil {
		return fmt.Errorf("insert throw: %w", err)
	}
	return nil
}

func scanThrow(row pgx.Row) (*models.Throw, error) {
	var t models.Throw
	err := row.Scan(&t.ID, &t.OwnerID, &t.VideoURL, &t.ThumbnailURL, &t.ReleaseFrame, &t.ReleaseConfirmed, &t.TotalFrames,
		&t.VideoWidth, &t.VideoHeight, &t.FPS, &t.ReleaseAngleDeg, &t.ReleaseLateralOffsetNorm, &t.ElbowAngleDeg,
		&t.ShoulderAngleDeg, &t.WristAngleDeg, &t.UploadedAt, &t.MirroredAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByID returns a throw by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Throw, error) {
	t, err := scanThrow(r.pool.QueryRow(ctx, `SELECT `+throwColumns+` FROM throws WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListByOwner returns an owner's throws, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Throw, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+throwColumns+` FROM throws WHERE owner_id = $1 ORDER BY uploaded_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Throw{}
	for rows.Next() {
		t, err := scanThrow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// MarkMirrored stamps mirrored_at. Stamping an already mirrored throw is a no-op.
func (r *Repository) MarkMirrored(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE throws SET mirrored_at = $2 WHERE id = $1 AND mirrored_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
