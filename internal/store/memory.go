package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelremix/reelremix/internal/models"
)

// Memory is an in-process Store used by the test suite and by dev runs
// without DATABASE_URL. It mirrors the transition guards of the Postgres
// implementation under a single mutex.
type Memory struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*models.Account
	projects     map[uuid.UUID]*models.Project
	analysisJobs map[uuid.UUID]*models.AnalysisJob
	segments     map[uuid.UUID]*models.Segment
	renderJobs   map[uuid.UUID]*models.RenderJob
	clips        map[uuid.UUID]*models.Clip
	renderPairs  map[[2]uuid.UUID]uuid.UUID // (projectID, segmentID) -> renderJobID
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[uuid.UUID]*models.Account),
		projects:     make(map[uuid.UUID]*models.Project),
		analysisJobs: make(map[uuid.UUID]*models.AnalysisJob),
		segments:     make(map[uuid.UUID]*models.Segment),
		renderJobs:   make(map[uuid.UUID]*models.RenderJob),
		clips:        make(map[uuid.UUID]*models.Clip),
		renderPairs:  make(map[[2]uuid.UUID]uuid.UUID),
	}
}

func (m *Memory) Close() error { return nil }

// Accounts

func (m *Memory) CreateAccount(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) DebitForUpload(ctx context.Context, accountID uuid.UUID, credits int, minutes float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if a.CreditBalance < credits {
		return ErrInsufficientCredits
	}
	a.CreditBalance -= credits
	a.MinutesThisPeriod += minutes
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ResetAccountUsage(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.MinutesThisPeriod = 0
	a.RendersThisPeriod = 0
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) IncrementRenderUsage(ctx context.Context, accountID uuid.UUID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.RendersThisPeriod += n
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Projects

func (m *Memory) CreateProjectWithAnalysisJob(ctx context.Context, project *models.Project, job *models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	job.CreatedAt = now
	job.QueuedAt = now

	pcp := *project
	jcp := *job
	m.projects[project.ID] = &pcp
	m.analysisJobs[job.ID] = &jcp
	return nil
}

func (m *Memory) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProjects(ctx context.Context, accountID *uuid.UUID, status string, limit, offset int) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Project
	for _, p := range m.projects {
		if accountID != nil && p.AccountID != *accountID {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountProjects(ctx context.Context, accountID *uuid.UUID, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, p := range m.projects {
		if accountID != nil && p.AccountID != *accountID {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		count++
	}
	return count, nil
}

func (m *Memory) UpdateProjectState(ctx context.Context, id uuid.UUID, version int, status models.ProjectStatus, progress int, failureReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	if p.Version != version {
		return ErrVersionConflict
	}
	p.Status = status
	p.ProgressPercent = progress
	p.FailureReason = failureReason
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Analysis jobs

func (m *Memory) GetAnalysisJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.analysisJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) GetAnalysisJobByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.analysisJobs {
		if j.ProjectID == projectID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) MarkAnalysisRunning(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.analysisJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State != models.JobStateQueued {
		return nil, ErrTerminalJob
	}
	now := time.Now().UTC()
	j.State = models.JobStateRunning
	j.Attempts++
	j.StartedAt = &now
	cp := *j
	return &cp, nil
}

func (m *Memory) SetAnalysisProgress(ctx context.Context, id uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State.Terminal() {
		return ErrTerminalJob
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	return nil
}

func (m *Memory) FinishAnalysis(ctx context.Context, id uuid.UUID, state models.JobState, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State.Terminal() {
		return ErrTerminalJob
	}
	now := time.Now().UTC()
	j.State = state
	j.ErrorMessage = errorMessage
	j.FinishedAt = &now
	if state == models.JobStateSucceeded {
		j.Progress = 100
	}
	return nil
}

func (m *Memory) RequeueAnalysis(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State.Terminal() {
		return ErrTerminalJob
	}
	j.State = models.JobStateQueued
	j.QueuedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SetAnalysisDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.analysisJobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.Dispatched {
		return false, nil
	}
	j.Dispatched = true
	return true, nil
}

func (m *Memory) ListUndispatchedAnalysis(ctx context.Context) ([]models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AnalysisJob
	for _, j := range m.analysisJobs {
		if j.State == models.JobStateSucceeded && !j.Dispatched {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *Memory) ListStalledAnalysisJobs(ctx context.Context, olderThan time.Time) ([]models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AnalysisJob
	for _, j := range m.analysisJobs {
		if j.State == models.JobStateQueued && j.QueuedAt.Before(olderThan) {
			out = append(out, *j)
		}
	}
	return out, nil
}

// Segments

func (m *Memory) CreateSegments(ctx context.Context, segments []models.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for i := range segments {
		segments[i].CreatedAt = now
		cp := segments[i]
		m.segments[cp.ID] = &cp
	}
	return nil
}

func (m *Memory) GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.segments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSegmentsByAnalysis(ctx context.Context, analysisJobID uuid.UUID) ([]models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Segment
	for _, s := range m.segments {
		if s.AnalysisJobID == analysisJobID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartSeconds < out[j].StartSeconds })
	return out, nil
}

// Render jobs

func (m *Memory) CreateRenderJob(ctx context.Context, job *models.RenderJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair := [2]uuid.UUID{job.ProjectID, job.SegmentID}
	if _, exists := m.renderPairs[pair]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.QueuedAt = now
	cp := *job
	m.renderJobs[job.ID] = &cp
	m.renderPairs[pair] = job.ID
	return true, nil
}

func (m *Memory) GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.renderJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ListRenderJobs(ctx context.Context, projectID uuid.UUID) ([]models.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.RenderJob
	for _, j := range m.renderJobs {
		if j.ProjectID == projectID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkRenderRunning(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.renderJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State != models.JobStateQueued {
		return nil, ErrTerminalJob
	}
	now := time.Now().UTC()
	j.State = models.JobStateRunning
	j.Attempts++
	j.StartedAt = &now
	cp := *j
	return &cp, nil
}

func (m *Memory) SetRenderProgress(ctx context.Context, id uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.renderJobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State.Terminal() {
		return ErrTerminalJob
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	return nil
}

func (m *Memory) FinishRender(ctx context.Context, id uuid.UUID, state models.JobState, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.renderJobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State.Terminal() {
		return ErrTerminalJob
	}
	now := time.Now().UTC()
	j.State = state
	j.ErrorMessage = errorMessage
	j.FinishedAt = &now
	if state == models.JobStateSucceeded {
		j.Progress = 100
	}
	return nil
}

func (m *Memory) RequeueRender(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.renderJobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State.Terminal() {
		return ErrTerminalJob
	}
	j.State = models.JobStateQueued
	j.QueuedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListStalledRenderJobs(ctx context.Context, olderThan time.Time) ([]models.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.RenderJob
	for _, j := range m.renderJobs {
		if j.State == models.JobStateQueued && j.QueuedAt.Before(olderThan) {
			out = append(out, *j)
		}
	}
	return out, nil
}

// Clips

func (m *Memory) CreateClip(ctx context.Context, clip *models.Clip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clip.CreatedAt = time.Now().UTC()
	cp := *clip
	m.clips[clip.ID] = &cp
	return nil
}

func (m *Memory) ListClipsByProject(ctx context.Context, projectID uuid.UUID) ([]models.Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Clip
	for _, c := range m.clips {
		if c.ProjectID == projectID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Cancellation

func (m *Memory) CancelProjectJobs(ctx context.Context, projectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, j := range m.analysisJobs {
		if j.ProjectID == projectID && !j.State.Terminal() {
			j.State = models.JobStateCancelled
			j.FinishedAt = &now
		}
	}
	for _, j := range m.renderJobs {
		if j.ProjectID == projectID && !j.State.Terminal() {
			j.State = models.JobStateCancelled
			j.FinishedAt = &now
		}
	}
	return nil
}
