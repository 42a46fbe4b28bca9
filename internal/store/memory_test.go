package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reelremix/reelremix/internal/models"
)

func seedProject(t *testing.T, m *Memory) (*models.Project, *models.AnalysisJob) {
	t.Helper()
	project := &models.Project{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Title:     "test",
		SourceRef: "uploads/test.mp4",
		Status:    models.ProjectStatusUploaded,
	}
	job := &models.AnalysisJob{
		ID:        uuid.New(),
		ProjectID: project.ID,
		State:     models.JobStateQueued,
	}
	if err := m.CreateProjectWithAnalysisJob(context.Background(), project, job); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return project, job
}

func TestDebitForUpload(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	account := &models.Account{ID: uuid.New(), Active: true, CreditBalance: 15}
	if err := m.CreateAccount(ctx, account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	if err := m.DebitForUpload(ctx, account.ID, 10, 5); err != nil {
		t.Fatalf("first debit should succeed: %v", err)
	}

	err := m.DebitForUpload(ctx, account.ID, 10, 5)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	a, err := m.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	if a.CreditBalance != 5 {
		t.Errorf("expected balance 5, got %d", a.CreditBalance)
	}
	if a.MinutesThisPeriod != 5 {
		t.Errorf("expected 5 minutes used, got %v", a.MinutesThisPeriod)
	}
}

func TestUpdateProjectStateVersionGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	project, _ := seedProject(t, m)

	if err := m.UpdateProjectState(ctx, project.ID, 0, models.ProjectStatusAnalyzing, 10, nil); err != nil {
		t.Fatalf("first update should succeed: %v", err)
	}

	// A second write with the stale version must lose.
	err := m.UpdateProjectState(ctx, project.ID, 0, models.ProjectStatusCompleted, 100, nil)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	p, _ := m.GetProject(ctx, project.ID)
	if p.Status != models.ProjectStatusAnalyzing {
		t.Errorf("stale write must not apply, status is %s", p.Status)
	}
	if p.Version != 1 {
		t.Errorf("expected version 1, got %d", p.Version)
	}
}

func TestTerminalJobGuards(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	project, job := seedProject(t, m)

	if _, err := m.MarkAnalysisRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	if err := m.CancelProjectJobs(ctx, project.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// A late success from an in-flight worker must bounce off the cancelled job.
	err := m.FinishAnalysis(ctx, job.ID, models.JobStateSucceeded, nil)
	if !errors.Is(err, ErrTerminalJob) {
		t.Fatalf("expected ErrTerminalJob, got %v", err)
	}
	if err := m.SetAnalysisProgress(ctx, job.ID, 80); !errors.Is(err, ErrTerminalJob) {
		t.Fatalf("expected ErrTerminalJob from progress write, got %v", err)
	}
	if _, err := m.MarkAnalysisRunning(ctx, job.ID); !errors.Is(err, ErrTerminalJob) {
		t.Fatalf("expected ErrTerminalJob from re-run, got %v", err)
	}

	j, _ := m.GetAnalysisJob(ctx, job.ID)
	if j.State != models.JobStateCancelled {
		t.Errorf("expected cancelled, got %s", j.State)
	}
}

func TestCreateRenderJobIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	project, _ := seedProject(t, m)
	segmentID := uuid.New()

	first := &models.RenderJob{ID: uuid.New(), ProjectID: project.ID, SegmentID: segmentID, State: models.JobStateQueued}
	created, err := m.CreateRenderJob(ctx, first)
	if err != nil || !created {
		t.Fatalf("first insert should create: created=%v err=%v", created, err)
	}

	dup := &models.RenderJob{ID: uuid.New(), ProjectID: project.ID, SegmentID: segmentID, State: models.JobStateQueued}
	created, err = m.CreateRenderJob(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if created {
		t.Fatal("duplicate (project, segment) pair must not create a second job")
	}

	jobs, _ := m.ListRenderJobs(ctx, project.ID)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 render job, got %d", len(jobs))
	}
}

func TestProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, job := seedProject(t, m)

	if _, err := m.MarkAnalysisRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running failed: %v", err)
	}
	if err := m.SetAnalysisProgress(ctx, job.ID, 40); err != nil {
		t.Fatalf("progress write failed: %v", err)
	}
	// Out-of-order milestone from a slow goroutine must not move progress back.
	if err := m.SetAnalysisProgress(ctx, job.ID, 10); err != nil {
		t.Fatalf("progress write failed: %v", err)
	}

	j, _ := m.GetAnalysisJob(ctx, job.ID)
	if j.Progress != 40 {
		t.Errorf("expected progress 40, got %d", j.Progress)
	}
}

func TestListStalledJobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, job := seedProject(t, m)

	// Fresh jobs sit inside the grace period.
	stalled, err := m.ListStalledAnalysisJobs(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 0 {
		t.Fatalf("expected no stalled jobs, got %d", len(stalled))
	}

	// With the cutoff in the future the queued job counts as stalled.
	stalled, err = m.ListStalledAnalysisJobs(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 1 || stalled[0].ID != job.ID {
		t.Fatalf("expected the queued job to be stalled, got %v", stalled)
	}

	// A running job is not stalled regardless of its queued_at.
	if _, err := m.MarkAnalysisRunning(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	stalled, _ = m.ListStalledAnalysisJobs(ctx, time.Now().UTC().Add(time.Minute))
	if len(stalled) != 0 {
		t.Fatalf("running job must not be stalled, got %d", len(stalled))
	}

	// Requeue refreshes queued_at so the job re-enters the grace period.
	before := job.QueuedAt
	if err := m.RequeueAnalysis(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	j, _ := m.GetAnalysisJob(ctx, job.ID)
	if !j.QueuedAt.After(before) {
		t.Errorf("requeue must refresh queued_at: before=%v after=%v", before, j.QueuedAt)
	}
	stalled, _ = m.ListStalledAnalysisJobs(ctx, before.Add(time.Nanosecond))
	if len(stalled) != 0 {
		t.Fatalf("requeued job must be inside the new grace period, got %d", len(stalled))
	}
}

func TestMarkRunningSkipsNonQueuedJob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, job := seedProject(t, m)

	if _, err := m.MarkAnalysisRunning(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	// A duplicate delivery of the same message must not claim the job again.
	if _, err := m.MarkAnalysisRunning(ctx, job.ID); !errors.Is(err, ErrTerminalJob) {
		t.Fatalf("expected ErrTerminalJob for an already-running job, got %v", err)
	}

	j, _ := m.GetAnalysisJob(ctx, job.ID)
	if j.Attempts != 1 {
		t.Errorf("duplicate delivery must not bump attempts, got %d", j.Attempts)
	}
}

func TestListUndispatchedAnalysis(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, job := seedProject(t, m)

	if _, err := m.MarkAnalysisRunning(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.FinishAnalysis(ctx, job.ID, models.JobStateSucceeded, nil); err != nil {
		t.Fatal(err)
	}

	pending, err := m.ListUndispatchedAnalysis(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != job.ID {
		t.Fatalf("expected the succeeded job to be pending dispatch, got %v", pending)
	}

	changed, err := m.SetAnalysisDispatched(ctx, job.ID)
	if err != nil || !changed {
		t.Fatalf("first dispatch mark: changed=%v err=%v", changed, err)
	}
	changed, err = m.SetAnalysisDispatched(ctx, job.ID)
	if err != nil || changed {
		t.Fatalf("second dispatch mark should be a no-op: changed=%v err=%v", changed, err)
	}

	pending, _ = m.ListUndispatchedAnalysis(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected no pending jobs after dispatch, got %d", len(pending))
	}
}
