package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/store"
)

const renderJobColumns = `
	id, project_id, segment_id, state, attempts, progress,
	error_message, started_at, finished_at, queued_at, created_at
`

func scanRenderJob(row *sql.Row) (*models.RenderJob, error) {
	job := &models.RenderJob{}
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.SegmentID, &job.State, &job.Attempts,
		&job.Progress, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt,
		&job.QueuedAt, &job.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan render job: %w", err)
	}
	return job, nil
}

// CreateRenderJob inserts one render job. The unique (project_id, segment_id)
// constraint makes dispatch idempotent: a duplicate insert is a no-op and
// returns false.
func (db *DB) CreateRenderJob(ctx context.Context, job *models.RenderJob) (bool, error) {
	query := `
		INSERT INTO render_jobs (id, project_id, segment_id, state, attempts, progress)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, segment_id) DO NOTHING
	`

	result, err := db.ExecContext(
		ctx, query,
		job.ID, job.ProjectID, job.SegmentID, job.State, job.Attempts, job.Progress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create render job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

func (db *DB) GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	query := `SELECT ` + renderJobColumns + ` FROM render_jobs WHERE id = $1`
	return scanRenderJob(db.QueryRowContext(ctx, query, id))
}

func (db *DB) ListRenderJobs(ctx context.Context, projectID uuid.UUID) ([]models.RenderJob, error) {
	query := `
		SELECT ` + renderJobColumns + `
		FROM render_jobs
		WHERE project_id = $1
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query render jobs: %w", err)
	}
	defer rows.Close()

	return collectRenderJobs(rows)
}

func (db *DB) MarkRenderRunning(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	query := `
		UPDATE render_jobs
		SET state = $2, attempts = attempts + 1, started_at = NOW()
		WHERE id = $1 AND state = 'queued'
		RETURNING ` + renderJobColumns

	job, err := scanRenderJob(db.QueryRowContext(ctx, query, id, models.JobStateRunning))
	if err == store.ErrNotFound {
		return nil, db.renderMissingOrTerminal(ctx, id)
	}
	return job, err
}

func (db *DB) SetRenderProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE render_jobs
		SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')
	`
	return db.guardedRenderUpdate(ctx, id, query, progress)
}

func (db *DB) FinishRender(ctx context.Context, id uuid.UUID, state models.JobState, errorMessage *string) error {
	query := `
		UPDATE render_jobs
		SET state = $2, error_message = $3, finished_at = NOW(),
		    progress = CASE WHEN $2 = 'succeeded' THEN 100 ELSE progress END
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')
	`
	return db.guardedRenderUpdate(ctx, id, query, state, errorMessage)
}

func (db *DB) RequeueRender(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE render_jobs
		SET state = 'queued', queued_at = NOW()
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')
	`
	return db.guardedRenderUpdate(ctx, id, query)
}

func (db *DB) ListStalledRenderJobs(ctx context.Context, olderThan time.Time) ([]models.RenderJob, error) {
	query := `
		SELECT ` + renderJobColumns + `
		FROM render_jobs
		WHERE state = 'queued' AND queued_at < $1
		ORDER BY queued_at
	`

	rows, err := db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled render jobs: %w", err)
	}
	defer rows.Close()

	return collectRenderJobs(rows)
}

func collectRenderJobs(rows *sql.Rows) ([]models.RenderJob, error) {
	var jobs []models.RenderJob
	for rows.Next() {
		var job models.RenderJob
		if err := rows.Scan(
			&job.ID, &job.ProjectID, &job.SegmentID, &job.State, &job.Attempts,
			&job.Progress, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt,
			&job.QueuedAt, &job.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan render job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// CancelProjectJobs marks the analysis job and every non-terminal render job
// of a project cancelled. Jobs already terminal keep their state.
func (db *DB) CancelProjectJobs(ctx context.Context, projectID uuid.UUID) error {
	analysisQuery := `
		UPDATE analysis_jobs
		SET state = 'cancelled', finished_at = NOW()
		WHERE project_id = $1 AND state IN ('queued', 'running')
	`
	if _, err := db.ExecContext(ctx, analysisQuery, projectID); err != nil {
		return fmt.Errorf("failed to cancel analysis job: %w", err)
	}

	renderQuery := `
		UPDATE render_jobs
		SET state = 'cancelled', finished_at = NOW()
		WHERE project_id = $1 AND state IN ('queued', 'running')
	`
	if _, err := db.ExecContext(ctx, renderQuery, projectID); err != nil {
		return fmt.Errorf("failed to cancel render jobs: %w", err)
	}

	return nil
}

func (db *DB) guardedRenderUpdate(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update render job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return db.renderMissingOrTerminal(ctx, id)
	}
	return nil
}

func (db *DB) renderMissingOrTerminal(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM render_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check render job: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrTerminalJob
}
