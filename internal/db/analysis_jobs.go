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

const analysisJobColumns = `
	id, project_id, state, attempts, progress, dispatched,
	error_message, started_at, finished_at, queued_at, created_at
`

func scanAnalysisJob(row *sql.Row) (*models.AnalysisJob, error) {
	job := &models.AnalysisJob{}
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.State, &job.Attempts, &job.Progress,
		&job.Dispatched, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt,
		&job.QueuedAt, &job.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis job: %w", err)
	}
	return job, nil
}

func (db *DB) GetAnalysisJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	query := `SELECT ` + analysisJobColumns + ` FROM analysis_jobs WHERE id = $1`
	return scanAnalysisJob(db.QueryRowContext(ctx, query, id))
}

func (db *DB) GetAnalysisJobByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	query := `SELECT ` + analysisJobColumns + ` FROM analysis_jobs WHERE project_id = $1`
	return scanAnalysisJob(db.QueryRowContext(ctx, query, projectID))
}

// MarkAnalysisRunning transitions a queued job to running and bumps the
// attempt counter. Any other state (cancelled while waiting, or already
// claimed by another delivery of the same message) comes back as
// ErrTerminalJob, which tells the worker to skip it.
func (db *DB) MarkAnalysisRunning(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	query := `
		UPDATE analysis_jobs
		SET state = $2, attempts = attempts + 1, started_at = NOW()
		WHERE id = $1 AND state = 'queued'
		RETURNING ` + analysisJobColumns

	job, err := scanAnalysisJob(db.QueryRowContext(ctx, query, id, models.JobStateRunning))
	if err == store.ErrNotFound {
		return nil, db.analysisMissingOrTerminal(ctx, id)
	}
	return job, err
}

func (db *DB) SetAnalysisProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE analysis_jobs
		SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')
	`
	return db.guardedAnalysisUpdate(ctx, id, query, progress)
}

func (db *DB) FinishAnalysis(ctx context.Context, id uuid.UUID, state models.JobState, errorMessage *string) error {
	query := `
		UPDATE analysis_jobs
		SET state = $2, error_message = $3, finished_at = NOW(),
		    progress = CASE WHEN $2 = 'succeeded' THEN 100 ELSE progress END
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')
	`
	return db.guardedAnalysisUpdate(ctx, id, query, state, errorMessage)
}

func (db *DB) RequeueAnalysis(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE analysis_jobs
		SET state = 'queued', queued_at = NOW()
		WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')
	`
	return db.guardedAnalysisUpdate(ctx, id, query)
}

func (db *DB) SetAnalysisDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE analysis_jobs
		SET dispatched = TRUE
		WHERE id = $1 AND dispatched = FALSE
	`

	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to set dispatched: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

func (db *DB) ListUndispatchedAnalysis(ctx context.Context) ([]models.AnalysisJob, error) {
	query := `
		SELECT ` + analysisJobColumns + `
		FROM analysis_jobs
		WHERE state = 'succeeded' AND dispatched = FALSE
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query undispatched analysis jobs: %w", err)
	}
	defer rows.Close()

	return collectAnalysisJobs(rows)
}

// ListStalledAnalysisJobs returns jobs still queued since before the cutoff.
// Their queue entry was lost (enqueue failed after the row was written, or
// the broker dropped it) and the recovery sweep replays them.
func (db *DB) ListStalledAnalysisJobs(ctx context.Context, olderThan time.Time) ([]models.AnalysisJob, error) {
	query := `
		SELECT ` + analysisJobColumns + `
		FROM analysis_jobs
		WHERE state = 'queued' AND queued_at < $1
		ORDER BY queued_at
	`

	rows, err := db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled analysis jobs: %w", err)
	}
	defer rows.Close()

	return collectAnalysisJobs(rows)
}

func collectAnalysisJobs(rows *sql.Rows) ([]models.AnalysisJob, error) {
	var jobs []models.AnalysisJob
	for rows.Next() {
		var job models.AnalysisJob
		if err := rows.Scan(
			&job.ID, &job.ProjectID, &job.State, &job.Attempts, &job.Progress,
			&job.Dispatched, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt,
			&job.QueuedAt, &job.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// guardedAnalysisUpdate runs a transition guarded against terminal states and
// maps a zero-row result to ErrNotFound or ErrTerminalJob.
func (db *DB) guardedAnalysisUpdate(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update analysis job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return db.analysisMissingOrTerminal(ctx, id)
	}
	return nil
}

func (db *DB) analysisMissingOrTerminal(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM analysis_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check analysis job: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrTerminalJob
}
