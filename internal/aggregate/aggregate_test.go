package aggregate

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/store"
)

func analysisIn(state models.JobState, progress int, dispatched bool) *models.AnalysisJob {
	return &models.AnalysisJob{
		ID:         uuid.New(),
		ProjectID:  uuid.New(),
		State:      state,
		Progress:   progress,
		Dispatched: dispatched,
	}
}

func renderIn(state models.JobState, progress int) models.RenderJob {
	return models.RenderJob{ID: uuid.New(), State: state, Progress: progress}
}

func TestRecomputeAnalysisPhases(t *testing.T) {
	status, progress, reason := Recompute(analysisIn(models.JobStateQueued, 0, false), nil)
	assert.Equal(t, models.ProjectStatusUploaded, status)
	assert.Equal(t, 0, progress)
	assert.Nil(t, reason)

	status, progress, _ = Recompute(analysisIn(models.JobStateRunning, 40, false), nil)
	assert.Equal(t, models.ProjectStatusAnalyzing, status)
	assert.Equal(t, 20, progress)

	msg := "transcription failed: boom"
	failed := analysisIn(models.JobStateFailed, 40, false)
	failed.ErrorMessage = &msg
	status, _, reason = Recompute(failed, nil)
	assert.Equal(t, models.ProjectStatusFailed, status)
	require.NotNil(t, reason)
	assert.Equal(t, msg, *reason)

	status, _, _ = Recompute(analysisIn(models.JobStateCancelled, 10, false), nil)
	assert.Equal(t, models.ProjectStatusCancelled, status)
}

func TestRecomputeRequeuedRetryKeepsProgress(t *testing.T) {
	// First attempt failed mid-flight at 40% and the job went back to
	// queued for a retry. The project must not roll back to uploaded/0.
	retried := analysisIn(models.JobStateQueued, 40, false)
	retried.Attempts = 1

	status, progress, reason := Recompute(retried, nil)
	assert.Equal(t, models.ProjectStatusAnalyzing, status)
	assert.Equal(t, 20, progress)
	assert.Nil(t, reason)
}

func TestRecomputeEmptyDispatchCompletes(t *testing.T) {
	// Analysis succeeded, fan-out ran, zero segments qualified.
	status, progress, reason := Recompute(analysisIn(models.JobStateSucceeded, 100, true), nil)
	assert.Equal(t, models.ProjectStatusCompleted, status)
	assert.Equal(t, 100, progress)
	assert.Nil(t, reason)
}

func TestRecomputeBeforeDispatch(t *testing.T) {
	status, progress, _ := Recompute(analysisIn(models.JobStateSucceeded, 100, false), nil)
	assert.Equal(t, models.ProjectStatusGeneratingClips, status)
	assert.Equal(t, 50, progress)
}

func TestRecomputeRenderProgress(t *testing.T) {
	renders := []models.RenderJob{
		renderIn(models.JobStateSucceeded, 100),
		renderIn(models.JobStateRunning, 60),
		renderIn(models.JobStateQueued, 0),
	}
	status, progress, _ := Recompute(analysisIn(models.JobStateSucceeded, 100, true), renders)
	assert.Equal(t, models.ProjectStatusGeneratingClips, status)
	// 50 + avg(100, 60, 0)/2 rounded down
	assert.Equal(t, 76, progress)
}

func TestRecomputePartialFailureStillCompletes(t *testing.T) {
	renders := []models.RenderJob{
		renderIn(models.JobStateSucceeded, 100),
		renderIn(models.JobStateSucceeded, 100),
		renderIn(models.JobStateFailed, 30),
	}
	status, progress, reason := Recompute(analysisIn(models.JobStateSucceeded, 100, true), renders)
	assert.Equal(t, models.ProjectStatusCompleted, status)
	assert.Equal(t, 100, progress)
	assert.Nil(t, reason)
}

func TestRecomputeAllRendersFailed(t *testing.T) {
	renders := []models.RenderJob{
		renderIn(models.JobStateFailed, 10),
		renderIn(models.JobStateFailed, 0),
	}
	status, progress, reason := Recompute(analysisIn(models.JobStateSucceeded, 100, true), renders)
	assert.Equal(t, models.ProjectStatusFailed, status)
	assert.Equal(t, 100, progress)
	require.NotNil(t, reason)
}

func TestProjectChangedWritesThrough(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	agg := New(m)

	project := &models.Project{ID: uuid.New(), AccountID: uuid.New(), Status: models.ProjectStatusUploaded}
	job := &models.AnalysisJob{ID: uuid.New(), ProjectID: project.ID, State: models.JobStateQueued}
	require.NoError(t, m.CreateProjectWithAnalysisJob(ctx, project, job))

	_, err := m.MarkAnalysisRunning(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, m.SetAnalysisProgress(ctx, job.ID, 40))

	require.NoError(t, agg.ProjectChanged(ctx, project.ID))

	p, err := m.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusAnalyzing, p.Status)
	assert.Equal(t, 20, p.ProgressPercent)
}

func TestProjectChangedSkipsTerminalProjects(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	agg := New(m)

	project := &models.Project{ID: uuid.New(), AccountID: uuid.New(), Status: models.ProjectStatusUploaded}
	job := &models.AnalysisJob{ID: uuid.New(), ProjectID: project.ID, State: models.JobStateQueued}
	require.NoError(t, m.CreateProjectWithAnalysisJob(ctx, project, job))

	require.NoError(t, m.UpdateProjectState(ctx, project.ID, 0, models.ProjectStatusCancelled, 5, nil))

	// Even with a succeeded analysis underneath, a cancelled project stays put.
	_, err := m.MarkAnalysisRunning(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, m.FinishAnalysis(ctx, job.ID, models.JobStateSucceeded, nil))

	require.NoError(t, agg.ProjectChanged(ctx, project.ID))

	p, err := m.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCancelled, p.Status)
}
