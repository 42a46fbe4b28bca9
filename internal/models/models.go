package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums

type ProjectStatus string

const (
	ProjectStatusUploaded        ProjectStatus = "uploaded"
	ProjectStatusAnalyzing       ProjectStatus = "analyzing"
	ProjectStatusGeneratingClips ProjectStatus = "generating_clips"
	ProjectStatusCompleted       ProjectStatus = "completed"
	ProjectStatusFailed          ProjectStatus = "failed"
	ProjectStatusCancelled       ProjectStatus = "cancelled"
)

// Terminal reports whether a project status can never change again.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed || s == ProjectStatusCancelled
}

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether a job state can never change again.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateCancelled
}

type PlanType string

const (
	PlanFree       PlanType = "free"
	PlanPro        PlanType = "pro"
	PlanEnterprise PlanType = "enterprise"
)

// UnlimitedQuota marks a plan limit with no per-period ceiling.
const UnlimitedQuota = -1

// DefaultLimits returns the per-period ceilings a new account starts with.
func DefaultLimits(plan PlanType) PlanLimits {
	switch plan {
	case PlanPro:
		return PlanLimits{MaxRendersPerPeriod: 200, MaxSourceMinutesPerPeriod: 600}
	case PlanEnterprise:
		return PlanLimits{MaxRendersPerPeriod: UnlimitedQuota, MaxSourceMinutesPerPeriod: UnlimitedQuota}
	default:
		return PlanLimits{MaxRendersPerPeriod: 20, MaxSourceMinutesPerPeriod: 60}
	}
}

// DefaultCredits returns the starting credit balance for a new account.
func DefaultCredits(plan PlanType) int {
	switch plan {
	case PlanPro:
		return 500
	case PlanEnterprise:
		return 5000
	default:
		return 50
	}
}

// Models

// PlanLimits are the per-billing-period ceilings for an account's plan.
// UnlimitedQuota (-1) disables a ceiling.
type PlanLimits struct {
	MaxRendersPerPeriod       int     `json:"max_renders_per_period"`
	MaxSourceMinutesPerPeriod float64 `json:"max_source_minutes_per_period"`
}

type Account struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	Active            bool       `json:"active"`
	Plan              PlanType   `json:"plan"`
	CreditBalance     int        `json:"credit_balance"`
	Limits            PlanLimits `json:"limits"`
	MinutesThisPeriod float64    `json:"minutes_this_period"`
	RendersThisPeriod int        `json:"renders_this_period"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type Project struct {
	ID              uuid.UUID     `json:"id"`
	AccountID       uuid.UUID     `json:"account_id"`
	Title           string        `json:"title"`
	SourceRef       string        `json:"source_ref"`
	SourceMinutes   float64       `json:"source_minutes"`
	Status          ProjectStatus `json:"status"`
	ProgressPercent int           `json:"progress_percent"`
	FailureReason   *string       `json:"failure_reason,omitempty"`
	// Version increments on every status/progress write and guards against
	// stale workers overwriting a newer (possibly terminal) state.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AnalysisJob struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	State        JobState   `json:"state"`
	Attempts     int        `json:"attempts"`
	Progress     int        `json:"progress"`
	Dispatched   bool       `json:"dispatched"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	// QueuedAt is refreshed every time the job (re)enters the queued state;
	// the recovery sweep re-enqueues jobs stuck queued past a grace period.
	QueuedAt  time.Time `json:"queued_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is one candidate sub-interval of the source with a viral score.
// Immutable once written.
type Segment struct {
	ID                uuid.UUID `json:"id"`
	AnalysisJobID     uuid.UUID `json:"analysis_job_id"`
	ProjectID         uuid.UUID `json:"project_id"`
	StartSeconds      float64   `json:"start_seconds"`
	EndSeconds        float64   `json:"end_seconds"`
	Score             float64   `json:"score"` // 0..1
	TranscriptExcerpt string    `json:"transcript_excerpt"`
	CreatedAt         time.Time `json:"created_at"`
}

type RenderJob struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	SegmentID    uuid.UUID  `json:"segment_id"`
	State        JobState   `json:"state"`
	Attempts     int        `json:"attempts"`
	Progress     int        `json:"progress"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	QueuedAt     time.Time  `json:"queued_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Clip is the finished output artifact of one successful RenderJob.
// Immutable once written.
type Clip struct {
	ID              uuid.UUID `json:"id"`
	RenderJobID     uuid.UUID `json:"render_job_id"`
	ProjectID       uuid.UUID `json:"project_id"`
	SegmentID       uuid.UUID `json:"segment_id"`
	StorageKey      string    `json:"storage_key"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// DTOs for API requests and responses

type SubmitUploadRequest struct {
	AccountID     uuid.UUID `json:"account_id"`
	SourceRef     string    `json:"source_ref"`
	Title         string    `json:"title"`
	SourceMinutes float64   `json:"source_minutes"`
}

type SubmitUploadResponse struct {
	ProjectID uuid.UUID     `json:"project_id"`
	Status    ProjectStatus `json:"status"`
}

// ClipView is the status-endpoint projection of a finished clip.
type ClipView struct {
	ID              uuid.UUID `json:"id"`
	SegmentID       uuid.UUID `json:"segment_id"`
	StorageKey      string    `json:"storage_key"`
	DurationSeconds float64   `json:"duration_seconds"`
	URL             *string   `json:"url,omitempty"`
}

// SegmentFailure records one render job that exhausted its attempts without
// failing the whole project.
type SegmentFailure struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Reason    string    `json:"reason"`
}

type StatusResponse struct {
	ProjectID       uuid.UUID        `json:"project_id"`
	Status          ProjectStatus    `json:"status"`
	ProgressPercent int              `json:"progress_percent"`
	Clips           []ClipView       `json:"clips"`
	FailedSegments  []SegmentFailure `json:"failed_segments,omitempty"`
	FailureReason   *string          `json:"failure_reason,omitempty"`
}

type ProjectResponse struct {
	Project
	Segments   []Segment   `json:"segments,omitempty"`
	RenderJobs []RenderJob `json:"render_jobs,omitempty"`
	Clips      []ClipView  `json:"clips,omitempty"`
}

type ProjectSummary struct {
	ID              uuid.UUID     `json:"id"`
	Title           string        `json:"title"`
	Status          ProjectStatus `json:"status"`
	ProgressPercent int           `json:"progress_percent"`
	ClipCount       int           `json:"clip_count"`
	FailureReason   *string       `json:"failure_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type ListProjectsResponse struct {
	Projects []ProjectSummary `json:"projects"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

type AccountResponse struct {
	Account
	RemainingMinutes *float64 `json:"remaining_minutes,omitempty"` // nil = unlimited
}
