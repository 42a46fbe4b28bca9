package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/store"
)

// CreateSegments inserts the full segment list of one analysis run in a
// single transaction. Segments are immutable once written.
func (db *DB) CreateSegments(ctx context.Context, segments []models.Segment) error {
	if len(segments) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO segments (
			id, analysis_job_id, project_id, start_seconds, end_seconds,
			score, transcript_excerpt
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	for i := range segments {
		s := &segments[i]
		if err := tx.QueryRowContext(
			ctx, query,
			s.ID, s.AnalysisJobID, s.ProjectID, s.StartSeconds, s.EndSeconds,
			s.Score, s.TranscriptExcerpt,
		).Scan(&s.CreatedAt); err != nil {
			return fmt.Errorf("failed to create segment: %w", err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	query := `
		SELECT
			id, analysis_job_id, project_id, start_seconds, end_seconds,
			score, transcript_excerpt, created_at
		FROM segments
		WHERE id = $1
	`

	segment := &models.Segment{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&segment.ID, &segment.AnalysisJobID, &segment.ProjectID,
		&segment.StartSeconds, &segment.EndSeconds, &segment.Score,
		&segment.TranscriptExcerpt, &segment.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	return segment, nil
}

func (db *DB) ListSegmentsByAnalysis(ctx context.Context, analysisJobID uuid.UUID) ([]models.Segment, error) {
	query := `
		SELECT
			id, analysis_job_id, project_id, start_seconds, end_seconds,
			score, transcript_excerpt, created_at
		FROM segments
		WHERE analysis_job_id = $1
		ORDER BY start_seconds
	`

	rows, err := db.QueryContext(ctx, query, analysisJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var s models.Segment
		if err := rows.Scan(
			&s.ID, &s.AnalysisJobID, &s.ProjectID,
			&s.StartSeconds, &s.EndSeconds, &s.Score,
			&s.TranscriptExcerpt, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, s)
	}

	return segments, rows.Err()
}
