package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/store"
)

// CreateProjectWithAnalysisJob inserts the project and its analysis job in
// one transaction so an accepted upload can never exist without its job.
func (db *DB) CreateProjectWithAnalysisJob(ctx context.Context, project *models.Project, job *models.AnalysisJob) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	projectQuery := `
		INSERT INTO projects (
			id, account_id, title, source_ref, source_minutes,
			status, progress_percent, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	if err := tx.QueryRowContext(
		ctx, projectQuery,
		project.ID, project.AccountID, project.Title, project.SourceRef,
		project.SourceMinutes, project.Status, project.ProgressPercent, project.Version,
	).Scan(&project.CreatedAt, &project.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	jobQuery := `
		INSERT INTO analysis_jobs (id, project_id, state, attempts, progress, dispatched)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING queued_at, created_at
	`

	if err := tx.QueryRowContext(
		ctx, jobQuery,
		job.ID, job.ProjectID, job.State, job.Attempts, job.Progress, job.Dispatched,
	).Scan(&job.QueuedAt, &job.CreatedAt); err != nil {
		return fmt.Errorf("failed to create analysis job: %w", err)
	}

	return tx.Commit()
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT
			id, account_id, title, source_ref, source_minutes,
			status, progress_percent, failure_reason, version, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	project := &models.Project{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&project.ID, &project.AccountID, &project.Title, &project.SourceRef,
		&project.SourceMinutes, &project.Status, &project.ProgressPercent,
		&project.FailureReason, &project.Version,
		&project.CreatedAt, &project.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListProjects returns projects ordered by creation date (newest first),
// optionally filtered by account and status.
func (db *DB) ListProjects(ctx context.Context, accountID *uuid.UUID, status string, limit, offset int) ([]models.Project, error) {
	query := `
		SELECT
			id, account_id, title, source_ref, source_minutes,
			status, progress_percent, failure_reason, version, created_at, updated_at
		FROM projects
		WHERE ($1::uuid IS NULL OR account_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := db.QueryContext(ctx, query, accountID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(
			&p.ID, &p.AccountID, &p.Title, &p.SourceRef,
			&p.SourceMinutes, &p.Status, &p.ProgressPercent,
			&p.FailureReason, &p.Version,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}

func (db *DB) CountProjects(ctx context.Context, accountID *uuid.UUID, status string) (int, error) {
	query := `
		SELECT COUNT(*) FROM projects
		WHERE ($1::uuid IS NULL OR account_id = $1)
		  AND ($2 = '' OR status = $2)
	`

	var count int
	err := db.QueryRowContext(ctx, query, accountID, status).Scan(&count)
	return count, err
}

// UpdateProjectState writes the aggregated status guarded by the version the
// caller read. A stale version loses the race and gets ErrVersionConflict so
// an out-of-order completion can never overwrite a newer terminal state.
func (db *DB) UpdateProjectState(ctx context.Context, id uuid.UUID, version int, status models.ProjectStatus, progress int, failureReason *string) error {
	query := `
		UPDATE projects
		SET status = $3, progress_percent = $4, failure_reason = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`

	result, err := db.ExecContext(ctx, query, id, version, status, progress, failureReason)
	if err != nil {
		return fmt.Errorf("failed to update project state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check project: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrVersionConflict
	}

	return nil
}
