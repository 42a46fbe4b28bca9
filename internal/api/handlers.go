package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelremix/reelremix/internal/admission"
	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/storage"
	"github.com/reelremix/reelremix/internal/store"
)

// signedURLExpirySeconds is how long clip download links stay valid.
const signedURLExpirySeconds = 3600

type Handler struct {
	store     store.Store
	admission *admission.Controller
	storage   *storage.ObjectStore // nil when object storage is not configured
}

func NewHandler(s store.Store, adm *admission.Controller, stor *storage.ObjectStore) *Handler {
	return &Handler{
		store:     s,
		admission: adm,
		storage:   stor,
	}
}

// SubmitUpload handles POST /v1/projects
func (h *Handler) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if req.SourceRef == "" {
		respondError(w, http.StatusBadRequest, "source_ref is required")
		return
	}
	if req.SourceMinutes <= 0 {
		respondError(w, http.StatusBadRequest, "source_minutes must be positive")
		return
	}

	project, err := h.admission.SubmitUpload(r.Context(), &req)
	if err != nil {
		if ae, ok := admission.AsError(err); ok {
			respondJSON(w, admissionStatus(ae.Code), map[string]string{
				"error": ae.Message,
				"code":  ae.Code,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to submit upload")
		return
	}

	respondJSON(w, http.StatusCreated, models.SubmitUploadResponse{
		ProjectID: project.ID,
		Status:    project.Status,
	})
}

func admissionStatus(code string) int {
	switch code {
	case admission.CodeAccountNotFound:
		return http.StatusNotFound
	case admission.CodeAccountInactive:
		return http.StatusForbidden
	case admission.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case admission.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// GetProjectStatus handles GET /v1/projects/{id}/status
func (h *Handler) GetProjectStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Project not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}

	clips, err := h.store.ListClipsByProject(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list clips")
		return
	}

	renders, err := h.store.ListRenderJobs(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list render jobs")
		return
	}

	resp := models.StatusResponse{
		ProjectID:       project.ID,
		Status:          project.Status,
		ProgressPercent: project.ProgressPercent,
		Clips:           h.clipViews(clips),
		FailureReason:   project.FailureReason,
	}

	for _, rj := range renders {
		if rj.State != models.JobStateFailed {
			continue
		}
		reason := "render failed"
		if rj.ErrorMessage != nil {
			reason = *rj.ErrorMessage
		}
		resp.FailedSegments = append(resp.FailedSegments, models.SegmentFailure{
			SegmentID: rj.SegmentID,
			Reason:    reason,
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) clipViews(clips []models.Clip) []models.ClipView {
	views := make([]models.ClipView, len(clips))
	for i, c := range clips {
		views[i] = models.ClipView{
			ID:              c.ID,
			SegmentID:       c.SegmentID,
			StorageKey:      c.StorageKey,
			DurationSeconds: c.DurationSeconds,
		}
		if h.storage != nil {
			url := h.storage.PublicURL(c.StorageKey)
			views[i].URL = &url
		}
	}
	return views
}

// CancelProject handles POST /v1/projects/{id}/cancel
//
// Cancelling an already-cancelled project is a no-op success; cancelling a
// completed or failed project is a conflict.
func (h *Handler) CancelProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	for {
		project, err := h.store.GetProject(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusNotFound, "Project not found")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to get project")
			return
		}

		if project.Status == models.ProjectStatusCancelled {
			respondJSON(w, http.StatusOK, map[string]string{"status": string(project.Status)})
			return
		}
		if project.Status.Terminal() {
			respondError(w, http.StatusConflict, "Project already "+string(project.Status))
			return
		}

		// Jobs first, then the project row: once the jobs are terminal no
		// in-flight worker can record a late success.
		if err := h.store.CancelProjectJobs(r.Context(), id); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to cancel jobs")
			return
		}

		err = h.store.UpdateProjectState(r.Context(), id, project.Version,
			models.ProjectStatusCancelled, project.ProgressPercent, nil)
		if err == nil {
			respondJSON(w, http.StatusOK, map[string]string{"status": string(models.ProjectStatusCancelled)})
			return
		}
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		respondError(w, http.StatusInternalServerError, "Failed to cancel project")
		return
	}
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Project not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}

	resp := models.ProjectResponse{Project: *project}

	if analysis, err := h.store.GetAnalysisJobByProject(r.Context(), id); err == nil {
		if segments, err := h.store.ListSegmentsByAnalysis(r.Context(), analysis.ID); err == nil {
			resp.Segments = segments
		}
	}
	if renders, err := h.store.ListRenderJobs(r.Context(), id); err == nil {
		resp.RenderJobs = renders
	}
	if clips, err := h.store.ListClipsByProject(r.Context(), id); err == nil {
		resp.Clips = h.clipViews(clips)
	}

	respondJSON(w, http.StatusOK, resp)
}

// ListProjects handles GET /v1/projects
// Query params:
//   - account_id: filter by owning account
//   - status: filter by project status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	var accountID *uuid.UUID
	if a := r.URL.Query().Get("account_id"); a != "" {
		parsed, err := uuid.Parse(a)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid account_id filter")
			return
		}
		accountID = &parsed
	}

	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch models.ProjectStatus(statusFilter) {
		case models.ProjectStatusUploaded, models.ProjectStatusAnalyzing,
			models.ProjectStatusGeneratingClips, models.ProjectStatusCompleted,
			models.ProjectStatusFailed, models.ProjectStatusCancelled:
			// valid
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: uploaded, analyzing, generating_clips, completed, failed, cancelled")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	projects, err := h.store.ListProjects(r.Context(), accountID, statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}

	total, err := h.store.CountProjects(r.Context(), accountID, statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count projects")
		return
	}

	summaries := make([]models.ProjectSummary, len(projects))
	for i, p := range projects {
		clips, _ := h.store.ListClipsByProject(r.Context(), p.ID)
		summaries[i] = models.ProjectSummary{
			ID:              p.ID,
			Title:           p.Title,
			Status:          p.Status,
			ProgressPercent: p.ProgressPercent,
			ClipCount:       len(clips),
			FailureReason:   p.FailureReason,
			CreatedAt:       p.CreatedAt,
			UpdatedAt:       p.UpdatedAt,
		}
	}

	respondJSON(w, http.StatusOK, models.ListProjectsResponse{
		Projects: summaries,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetClipDownload handles GET /v1/projects/{projectId}/clips/{clipId}/download
// Returns a time-limited signed URL for the rendered clip.
func (h *Handler) GetClipDownload(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}
	clipID, err := uuid.Parse(chi.URLParam(r, "clipId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid clip ID")
		return
	}

	if h.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "Object storage is not configured")
		return
	}

	clips, err := h.store.ListClipsByProject(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list clips")
		return
	}

	for _, c := range clips {
		if c.ID != clipID {
			continue
		}
		url, err := h.storage.SignedURL(r.Context(), c.StorageKey, signedURLExpirySeconds)
		if err != nil {
			respondError(w, http.StatusBadGateway, "Failed to sign download URL")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"url":        url,
			"expires_in": signedURLExpirySeconds,
		})
		return
	}

	respondError(w, http.StatusNotFound, "Clip not found")
}

// CreateAccount handles POST /v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string          `json:"email"`
		Plan    models.PlanType `json:"plan"`
		Credits *int            `json:"credits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Plan == "" {
		req.Plan = models.PlanFree
	}
	switch req.Plan {
	case models.PlanFree, models.PlanPro, models.PlanEnterprise:
	default:
		respondError(w, http.StatusBadRequest, "Invalid plan. Allowed: free, pro, enterprise")
		return
	}

	account := &models.Account{
		ID:            uuid.New(),
		Email:         req.Email,
		Active:        true,
		Plan:          req.Plan,
		CreditBalance: models.DefaultCredits(req.Plan),
		Limits:        models.DefaultLimits(req.Plan),
	}
	if req.Credits != nil && *req.Credits >= 0 {
		account.CreditBalance = *req.Credits
	}

	if err := h.store.CreateAccount(r.Context(), account); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	respondJSON(w, http.StatusCreated, account)
}

// GetAccount handles GET /v1/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to get account")
		return
	}

	resp := models.AccountResponse{Account: *account}
	if account.Limits.MaxSourceMinutesPerPeriod != models.UnlimitedQuota {
		remaining := account.Limits.MaxSourceMinutesPerPeriod - account.MinutesThisPeriod
		if remaining < 0 {
			remaining = 0
		}
		resp.RemainingMinutes = &remaining
	}

	respondJSON(w, http.StatusOK, resp)
}

// ResetAccountUsage handles POST /v1/accounts/{id}/reset-usage
// Operator endpoint for billing-period rollover.
func (h *Handler) ResetAccountUsage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	if err := h.store.ResetAccountUsage(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to reset usage")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
