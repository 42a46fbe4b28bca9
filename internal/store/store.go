package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/reelremix/reelremix/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredits is returned by DebitForUpload when the conditional
	// debit would take the balance negative.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrVersionConflict is returned when a guarded project write lost the race
	// against a newer version.
	ErrVersionConflict = errors.New("project version conflict")

	// ErrTerminalJob is returned when a transition is attempted on a job that
	// already reached a terminal state.
	ErrTerminalJob = errors.New("job is terminal")
)

// Store is the persistent repository for accounts, projects, and the job
// records of both pipeline stages. Two implementations exist: Postgres
// (internal/db) and in-memory (Memory, used by tests and DATABASE_URL-less
// dev runs).
//
// State-transition methods enforce the job lifecycle: once a job is terminal
// every further transition returns ErrTerminalJob, which is how a late
// success from an abandoned external call is prevented from overwriting a
// cancellation.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// DebitForUpload atomically subtracts credits and adds source minutes to
	// the period usage. The debit is conditional on the balance staying
	// non-negative regardless of any caller-side locking.
	DebitForUpload(ctx context.Context, accountID uuid.UUID, credits int, minutes float64) error
	// ResetAccountUsage zeroes the per-period usage counters (billing period
	// rollover, invoked by an operator or external scheduler).
	ResetAccountUsage(ctx context.Context, accountID uuid.UUID) error
	IncrementRenderUsage(ctx context.Context, accountID uuid.UUID, n int) error

	// Projects
	CreateProjectWithAnalysisJob(ctx context.Context, project *models.Project, job *models.AnalysisJob) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, accountID *uuid.UUID, status string, limit, offset int) ([]models.Project, error)
	CountProjects(ctx context.Context, accountID *uuid.UUID, status string) (int, error)
	// UpdateProjectState writes status/progress/failureReason guarded by the
	// version read earlier; a stale version returns ErrVersionConflict.
	UpdateProjectState(ctx context.Context, id uuid.UUID, version int, status models.ProjectStatus, progress int, failureReason *string) error

	// Analysis jobs
	GetAnalysisJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	GetAnalysisJobByProject(ctx context.Context, projectID uuid.UUID) (*models.AnalysisJob, error)
	// MarkAnalysisRunning transitions queued->running and increments attempts.
	// Any other state (already running elsewhere, or terminal) returns
	// ErrTerminalJob so a duplicate queue delivery is skipped, not re-run.
	MarkAnalysisRunning(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	SetAnalysisProgress(ctx context.Context, id uuid.UUID, progress int) error
	FinishAnalysis(ctx context.Context, id uuid.UUID, state models.JobState, errorMessage *string) error
	// RequeueAnalysis transitions running->queued for a retry.
	RequeueAnalysis(ctx context.Context, id uuid.UUID) error
	// SetAnalysisDispatched flips the dispatched flag; returns false when it
	// was already set (idempotent fan-out).
	SetAnalysisDispatched(ctx context.Context, id uuid.UUID) (bool, error)
	// ListUndispatchedAnalysis returns succeeded jobs whose fan-out never ran
	// (crash recovery sweep).
	ListUndispatchedAnalysis(ctx context.Context) ([]models.AnalysisJob, error)
	// ListStalledAnalysisJobs returns jobs still queued since before the
	// cutoff; their queue entry was lost and must be replayed.
	ListStalledAnalysisJobs(ctx context.Context, olderThan time.Time) ([]models.AnalysisJob, error)

	// Segments
	CreateSegments(ctx context.Context, segments []models.Segment) error
	GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error)
	ListSegmentsByAnalysis(ctx context.Context, analysisJobID uuid.UUID) ([]models.Segment, error)

	// Render jobs
	// CreateRenderJob inserts one render job; returns false without error when
	// a job for the same (project, segment) pair already exists.
	CreateRenderJob(ctx context.Context, job *models.RenderJob) (bool, error)
	GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
	ListRenderJobs(ctx context.Context, projectID uuid.UUID) ([]models.RenderJob, error)
	MarkRenderRunning(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
	SetRenderProgress(ctx context.Context, id uuid.UUID, progress int) error
	FinishRender(ctx context.Context, id uuid.UUID, state models.JobState, errorMessage *string) error
	RequeueRender(ctx context.Context, id uuid.UUID) error
	ListStalledRenderJobs(ctx context.Context, olderThan time.Time) ([]models.RenderJob, error)

	// Clips
	CreateClip(ctx context.Context, clip *models.Clip) error
	ListClipsByProject(ctx context.Context, projectID uuid.UUID) ([]models.Clip, error)

	// CancelProjectJobs marks the analysis job and all non-terminal render
	// jobs of a project cancelled. Terminal jobs are left untouched.
	CancelProjectJobs(ctx context.Context, projectID uuid.UUID) error

	Close() error
}
