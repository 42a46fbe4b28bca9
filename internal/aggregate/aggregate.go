package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/store"
)

// Aggregator derives project status and progress from the underlying job
// records. It is event-driven: workers call ProjectChanged after every job
// transition instead of anything polling the job tables.
type Aggregator struct {
	store store.Store
}

func New(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// maxCASRetries bounds the version-conflict retry loop. Conflicts are rare
// (two workers finishing jobs of the same project at once) and the loser
// re-reads fresh state, so a handful of retries is plenty.
const maxCASRetries = 5

// ProjectChanged re-reads the project's jobs, recomputes status and progress,
// and writes them back under the project's version guard. Terminal projects
// are never touched, so a late recompute can't resurrect a cancelled or
// failed project.
func (a *Aggregator) ProjectChanged(ctx context.Context, projectID uuid.UUID) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		project, err := a.store.GetProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("failed to load project: %w", err)
		}

		if project.Status.Terminal() {
			return nil
		}

		analysis, err := a.store.GetAnalysisJobByProject(ctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to load analysis job: %w", err)
		}

		renders, err := a.store.ListRenderJobs(ctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to load render jobs: %w", err)
		}

		status, progress, failureReason := Recompute(analysis, renders)

		if status == project.Status && progress == project.ProgressPercent {
			return nil
		}

		err = a.store.UpdateProjectState(ctx, projectID, project.Version, status, progress, failureReason)
		if err == nil {
			if status != project.Status {
				log.Printf("[Aggregate] project %s: %s -> %s (%d%%)", projectID, project.Status, status, progress)
			}
			return nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to update project state: %w", err)
	}

	return fmt.Errorf("gave up updating project %s after %d version conflicts", projectID, maxCASRetries)
}

// Recompute derives (status, progress, failureReason) from the analysis job
// and the project's render jobs. Pure function so the derivation rules are
// testable without a store.
//
// Progress model: the analysis stage owns 0-50%, the render stage owns
// 50-100%. Render progress is the average over all render jobs.
func Recompute(analysis *models.AnalysisJob, renders []models.RenderJob) (models.ProjectStatus, int, *string) {
	switch analysis.State {
	case models.JobStateQueued:
		// Only a never-started job maps back to uploaded. A job requeued
		// for a retry keeps the project in analyzing at its last progress,
		// so a retry never rolls the project's progress backwards.
		if analysis.Attempts == 0 {
			return models.ProjectStatusUploaded, 0, nil
		}
		return models.ProjectStatusAnalyzing, analysis.Progress / 2, nil

	case models.JobStateRunning:
		return models.ProjectStatusAnalyzing, analysis.Progress / 2, nil

	case models.JobStateFailed:
		reason := "analysis failed"
		if analysis.ErrorMessage != nil {
			reason = *analysis.ErrorMessage
		}
		return models.ProjectStatusFailed, analysis.Progress / 2, &reason

	case models.JobStateCancelled:
		return models.ProjectStatusCancelled, analysis.Progress / 2, nil
	}

	// Analysis succeeded; the render stage drives the rest.

	if !analysis.Dispatched {
		// Fan-out hasn't run yet; render jobs may still appear.
		return models.ProjectStatusGeneratingClips, 50, nil
	}

	if len(renders) == 0 {
		// Dispatch ran and nothing met the threshold. Done, with zero clips.
		return models.ProjectStatusCompleted, 100, nil
	}

	terminal := 0
	succeeded := 0
	failed := 0
	cancelled := 0
	progressSum := 0
	for _, r := range renders {
		progressSum += r.Progress
		if r.State.Terminal() {
			terminal++
			switch r.State {
			case models.JobStateSucceeded:
				succeeded++
			case models.JobStateFailed:
				failed++
			case models.JobStateCancelled:
				cancelled++
			}
		}
	}

	if terminal == len(renders) {
		if cancelled == len(renders) {
			return models.ProjectStatusCancelled, 50 + progressSum/(2*len(renders)), nil
		}
		// The pipeline ran to the end either way, so progress is 100 even
		// when every render failed.
		if succeeded == 0 && failed > 0 {
			reason := "all clip renders failed"
			return models.ProjectStatusFailed, 100, &reason
		}
		// Partial render failures don't fail the project; the failed
		// segments are surfaced on the status endpoint instead.
		return models.ProjectStatusCompleted, 100, nil
	}

	return models.ProjectStatusGeneratingClips, 50 + progressSum/(2*len(renders)), nil
}
