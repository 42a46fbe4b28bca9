package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelremix/reelremix/internal/admission"
	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/queue"
	"github.com/reelremix/reelremix/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	q := queue.NewMemory()
	adm := admission.New(m, q, 10)
	router := NewRouter(NewHandler(m, adm, nil), RouterConfig{})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, m
}

func seedAccount(t *testing.T, m *store.Memory, credits int) *models.Account {
	t.Helper()
	account := &models.Account{
		ID:            uuid.New(),
		Email:         "creator@example.com",
		Active:        true,
		CreditBalance: credits,
		Limits:        models.PlanLimits{MaxRendersPerPeriod: 20, MaxSourceMinutesPerPeriod: 60},
	}
	require.NoError(t, m.CreateAccount(context.Background(), account))
	return account
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSubmitUploadEndpoint(t *testing.T) {
	srv, m := newTestServer(t)
	account := seedAccount(t, m, 50)

	resp := postJSON(t, srv.URL+"/v1/projects", models.SubmitUploadRequest{
		AccountID:     account.ID,
		SourceRef:     "uploads/ep-1.mp4",
		Title:         "Episode 1",
		SourceMinutes: 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.SubmitUploadResponse
	decode(t, resp, &created)
	assert.Equal(t, models.ProjectStatusUploaded, created.Status)
	assert.NotEqual(t, uuid.Nil, created.ProjectID)
}

func TestSubmitUploadRejectionStatuses(t *testing.T) {
	srv, m := newTestServer(t)

	t.Run("missing body fields", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/projects", map[string]string{})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown account", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/projects", models.SubmitUploadRequest{
			AccountID: uuid.New(), SourceRef: "uploads/x.mp4", SourceMinutes: 10,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("insufficient credits", func(t *testing.T) {
		account := seedAccount(t, m, 5)
		resp := postJSON(t, srv.URL+"/v1/projects", models.SubmitUploadRequest{
			AccountID: account.ID, SourceRef: "uploads/x.mp4", SourceMinutes: 10,
		})
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

		var body map[string]string
		decode(t, resp, &body)
		assert.Equal(t, admission.CodeInsufficientCredits, body["code"])
	})

	t.Run("quota exceeded", func(t *testing.T) {
		account := seedAccount(t, m, 100)
		resp := postJSON(t, srv.URL+"/v1/projects", models.SubmitUploadRequest{
			AccountID: account.ID, SourceRef: "uploads/x.mp4", SourceMinutes: 120,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})

	t.Run("suspended account", func(t *testing.T) {
		account := &models.Account{ID: uuid.New(), Active: false, CreditBalance: 100}
		require.NoError(t, m.CreateAccount(context.Background(), account))
		resp := postJSON(t, srv.URL+"/v1/projects", models.SubmitUploadRequest{
			AccountID: account.ID, SourceRef: "uploads/x.mp4", SourceMinutes: 10,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestStatusEndpoint(t *testing.T) {
	srv, m := newTestServer(t)
	ctx := context.Background()

	project := &models.Project{ID: uuid.New(), AccountID: uuid.New(), Status: models.ProjectStatusCompleted, ProgressPercent: 100}
	job := &models.AnalysisJob{ID: uuid.New(), ProjectID: project.ID, State: models.JobStateSucceeded, Dispatched: true}
	require.NoError(t, m.CreateProjectWithAnalysisJob(ctx, project, job))

	okSeg, badSeg := uuid.New(), uuid.New()
	okJob := &models.RenderJob{ID: uuid.New(), ProjectID: project.ID, SegmentID: okSeg, State: models.JobStateSucceeded, Progress: 100}
	_, err := m.CreateRenderJob(ctx, okJob)
	require.NoError(t, err)
	reason := "render failed: corrupt keyframe"
	badJob := &models.RenderJob{ID: uuid.New(), ProjectID: project.ID, SegmentID: badSeg, State: models.JobStateFailed, ErrorMessage: &reason}
	_, err = m.CreateRenderJob(ctx, badJob)
	require.NoError(t, err)

	require.NoError(t, m.CreateClip(ctx, &models.Clip{
		ID: uuid.New(), RenderJobID: okJob.ID, ProjectID: project.ID,
		SegmentID: okSeg, StorageKey: "clips/ok.mp4", DurationSeconds: 30,
	}))

	resp, err := http.Get(fmt.Sprintf("%s/v1/projects/%s/status", srv.URL, project.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.StatusResponse
	decode(t, resp, &status)
	assert.Equal(t, models.ProjectStatusCompleted, status.Status)
	assert.Equal(t, 100, status.ProgressPercent)
	require.Len(t, status.Clips, 1)
	assert.Equal(t, "clips/ok.mp4", status.Clips[0].StorageKey)
	require.Len(t, status.FailedSegments, 1)
	assert.Equal(t, badSeg, status.FailedSegments[0].SegmentID)
	assert.Equal(t, reason, status.FailedSegments[0].Reason)
}

func TestStatusEndpointNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(fmt.Sprintf("%s/v1/projects/%s/status", srv.URL, uuid.New()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	srv, m := newTestServer(t)
	ctx := context.Background()

	project := &models.Project{ID: uuid.New(), AccountID: uuid.New(), Status: models.ProjectStatusAnalyzing}
	job := &models.AnalysisJob{ID: uuid.New(), ProjectID: project.ID, State: models.JobStateRunning}
	require.NoError(t, m.CreateProjectWithAnalysisJob(ctx, project, job))

	resp := postJSON(t, fmt.Sprintf("%s/v1/projects/%s/cancel", srv.URL, project.ID), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, err := m.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCancelled, p.Status)

	j, err := m.GetAnalysisJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCancelled, j.State)

	// Cancelling again is an idempotent success.
	resp = postJSON(t, fmt.Sprintf("%s/v1/projects/%s/cancel", srv.URL, project.ID), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelCompletedProjectConflicts(t *testing.T) {
	srv, m := newTestServer(t)
	ctx := context.Background()

	project := &models.Project{ID: uuid.New(), AccountID: uuid.New(), Status: models.ProjectStatusUploaded}
	job := &models.AnalysisJob{ID: uuid.New(), ProjectID: project.ID, State: models.JobStateSucceeded, Dispatched: true}
	require.NoError(t, m.CreateProjectWithAnalysisJob(ctx, project, job))
	require.NoError(t, m.UpdateProjectState(ctx, project.ID, 0, models.ProjectStatusCompleted, 100, nil))

	resp := postJSON(t, fmt.Sprintf("%s/v1/projects/%s/cancel", srv.URL, project.ID), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAccountEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/accounts", map[string]interface{}{
		"email": "creator@example.com",
		"plan":  "pro",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var account models.Account
	decode(t, resp, &account)
	assert.Equal(t, models.PlanPro, account.Plan)
	assert.Equal(t, models.DefaultCredits(models.PlanPro), account.CreditBalance)

	getResp, err := http.Get(fmt.Sprintf("%s/v1/accounts/%s", srv.URL, account.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var fetched models.AccountResponse
	decode(t, getResp, &fetched)
	assert.Equal(t, account.ID, fetched.ID)
	require.NotNil(t, fetched.RemainingMinutes)
	assert.Equal(t, models.DefaultLimits(models.PlanPro).MaxSourceMinutesPerPeriod, *fetched.RemainingMinutes)
}

func TestAPIKeyAuth(t *testing.T) {
	m := store.NewMemory()
	q := queue.NewMemory()
	adm := admission.New(m, q, 10)
	router := NewRouter(NewHandler(m, adm, nil), RouterConfig{BackendAPIKey: "secret"})
	srv := httptest.NewServer(router)
	defer srv.Close()

	// No key
	resp, err := http.Get(srv.URL + "/v1/projects")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key
	req, _ := http.NewRequest("GET", srv.URL+"/v1/projects", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Right key
	req, _ = http.NewRequest("GET", srv.URL+"/v1/projects", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays public
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
