package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/queue"
	"github.com/reelremix/reelremix/internal/store"
)

// Rejection codes. The API layer maps these to HTTP statuses.
const (
	CodeAccountInactive     = "ACCOUNT_INACTIVE"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
)

// Error is a structured admission rejection.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsError unwraps an admission rejection from an error chain.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Controller gates upload submissions: it checks account standing, credits,
// and plan quota, debits the upload cost, and creates the project with its
// queued analysis job.
type Controller struct {
	store      store.Store
	queue      queue.Queue
	uploadCost int

	// Per-account mutexes serialize concurrent submissions from the same
	// account so the check-then-debit sequence can't interleave. The debit
	// itself is additionally conditional at the store layer.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(s store.Store, q queue.Queue, uploadCostCredits int) *Controller {
	return &Controller{
		store:      s,
		queue:      q,
		uploadCost: uploadCostCredits,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

func (c *Controller) accountLock(accountID uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[accountID] = l
	}
	return l
}

// SubmitUpload admits one upload. On success the project exists in status
// "uploaded" with a queued analysis job, the account has been debited, and
// the job is on the analysis queue.
func (c *Controller) SubmitUpload(ctx context.Context, req *models.SubmitUploadRequest) (*models.Project, error) {
	lock := c.accountLock(req.AccountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := c.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Error{Code: CodeAccountNotFound, Message: "account does not exist"}
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if !account.Active {
		return nil, &Error{Code: CodeAccountInactive, Message: "account is suspended"}
	}

	if account.CreditBalance < c.uploadCost {
		return nil, &Error{
			Code:    CodeInsufficientCredits,
			Message: fmt.Sprintf("upload costs %d credits, balance is %d", c.uploadCost, account.CreditBalance),
		}
	}

	if limit := account.Limits.MaxSourceMinutesPerPeriod; limit != models.UnlimitedQuota {
		if account.MinutesThisPeriod+req.SourceMinutes > limit {
			return nil, &Error{
				Code:    CodeQuotaExceeded,
				Message: fmt.Sprintf("plan allows %.0f source minutes per period, %.0f already used", limit, account.MinutesThisPeriod),
			}
		}
	}

	if err := c.store.DebitForUpload(ctx, req.AccountID, c.uploadCost, req.SourceMinutes); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			// The conditional debit is the backstop; with the account lock
			// held this only fires if credits changed out of band.
			return nil, &Error{
				Code:    CodeInsufficientCredits,
				Message: fmt.Sprintf("upload costs %d credits", c.uploadCost),
			}
		}
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:            uuid.New(),
		AccountID:     req.AccountID,
		Title:         req.Title,
		SourceRef:     req.SourceRef,
		SourceMinutes: req.SourceMinutes,
		Status:        models.ProjectStatusUploaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	job := &models.AnalysisJob{
		ID:        uuid.New(),
		ProjectID: project.ID,
		State:     models.JobStateQueued,
		CreatedAt: now,
	}

	if err := c.store.CreateProjectWithAnalysisJob(ctx, project, job); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	if err := queue.EnqueueAnalysis(ctx, c.queue, project.ID, job.ID); err != nil {
		// The debit and the project row are already committed and the job
		// row stays queued, so the submission still succeeds; the recovery
		// sweep re-enqueues the job once it sits queued past the grace
		// period.
		log.Printf("[Admission] failed to enqueue analysis for project %s: %v", project.ID, err)
	}

	log.Printf("[Admission] project %s admitted for account %s (%d credits)", project.ID, req.AccountID, c.uploadCost)
	return project, nil
}
