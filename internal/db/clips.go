package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/reelremix/reelremix/internal/models"
)

func (db *DB) CreateClip(ctx context.Context, clip *models.Clip) error {
	query := `
		INSERT INTO clips (
			id, render_job_id, project_id, segment_id, storage_key, duration_seconds
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.ID, clip.RenderJobID, clip.ProjectID, clip.SegmentID,
		clip.StorageKey, clip.DurationSeconds,
	).Scan(&clip.CreatedAt)
}

func (db *DB) ListClipsByProject(ctx context.Context, projectID uuid.UUID) ([]models.Clip, error) {
	query := `
		SELECT id, render_job_id, project_id, segment_id, storage_key, duration_seconds, created_at
		FROM clips
		WHERE project_id = $1
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		var c models.Clip
		if err := rows.Scan(
			&c.ID, &c.RenderJobID, &c.ProjectID, &c.SegmentID,
			&c.StorageKey, &c.DurationSeconds, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, c)
	}

	return clips, rows.Err()
}
