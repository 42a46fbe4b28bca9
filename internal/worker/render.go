package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/reelremix/reelremix/internal/aggregate"
	"github.com/reelremix/reelremix/internal/models"
	"github.com/reelremix/reelremix/internal/queue"
	"github.com/reelremix/reelremix/internal/services"
	"github.com/reelremix/reelremix/internal/store"
)

// RenderStage executes render jobs: turn one qualifying segment into a
// finished clip. Render failures stay scoped to their own job; sibling
// renders and the project carry on.
type RenderStage struct {
	store      store.Store
	renderer   services.Renderer
	aggregator *aggregate.Aggregator
	preset     string
}

func NewRenderStage(s store.Store, renderer services.Renderer, agg *aggregate.Aggregator, preset string) *RenderStage {
	return &RenderStage{store: s, renderer: renderer, aggregator: agg, preset: preset}
}

// Handle processes one queued render job.
func (st *RenderStage) Handle(ctx context.Context, qjob *queue.Job) error {
	job, err := st.store.MarkRenderRunning(ctx, qjob.ID)
	if err != nil {
		if errors.Is(err, store.ErrTerminalJob) || errors.Is(err, store.ErrNotFound) {
			log.Printf("[Render] job %s no longer runnable, skipping", qjob.ID)
			return nil
		}
		return fmt.Errorf("failed to mark render running: %w", err)
	}

	if err := st.aggregator.ProjectChanged(ctx, job.ProjectID); err != nil {
		log.Printf("[Render] aggregate update failed for project %s: %v", job.ProjectID, err)
	}

	segment, err := st.store.GetSegment(ctx, job.SegmentID)
	if err != nil {
		return fmt.Errorf("failed to load segment: %w", err)
	}
	project, err := st.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	progress := func(percent int) {
		if err := st.store.SetRenderProgress(ctx, job.ID, percent); err != nil {
			if errors.Is(err, store.ErrTerminalJob) {
				cancelJob()
				return
			}
			log.Printf("[Render] progress write failed for job %s: %v", job.ID, err)
			return
		}
		if err := st.aggregator.ProjectChanged(ctx, job.ProjectID); err != nil {
			log.Printf("[Render] aggregate update failed for project %s: %v", job.ProjectID, err)
		}
	}

	rendered, err := st.renderer.RenderClip(jobCtx, project.SourceRef, segment.StartSeconds, segment.EndSeconds, st.preset, progress)
	if err != nil {
		if cancelledTerminal(ctx, err, func() (models.JobState, error) {
			fresh, gerr := st.store.GetRenderJob(ctx, job.ID)
			if gerr != nil {
				return "", gerr
			}
			return fresh.State, nil
		}) {
			log.Printf("[Render] job %s cancelled mid-flight, result discarded", job.ID)
			return nil
		}
		return fmt.Errorf("render failed: %w", err)
	}

	// Record completion before the clip so a cancellation that won the race
	// drops the artifact instead of attaching it to a cancelled job.
	if err := st.store.FinishRender(ctx, job.ID, models.JobStateSucceeded, nil); err != nil {
		if errors.Is(err, store.ErrTerminalJob) {
			log.Printf("[Render] job %s cancelled before completion could be recorded", job.ID)
			return nil
		}
		return fmt.Errorf("failed to finish render: %w", err)
	}

	clip := &models.Clip{
		ID:              uuid.New(),
		RenderJobID:     job.ID,
		ProjectID:       job.ProjectID,
		SegmentID:       job.SegmentID,
		StorageKey:      rendered.StorageKey,
		DurationSeconds: rendered.DurationSeconds,
		CreatedAt:       time.Now().UTC(),
	}
	if err := st.store.CreateClip(ctx, clip); err != nil {
		return fmt.Errorf("failed to persist clip: %w", err)
	}

	if err := st.store.IncrementRenderUsage(ctx, project.AccountID, 1); err != nil {
		log.Printf("[Render] failed to record usage for account %s: %v", project.AccountID, err)
	}

	if err := st.aggregator.ProjectChanged(ctx, job.ProjectID); err != nil {
		log.Printf("[Render] aggregate update failed for project %s: %v", job.ProjectID, err)
	}

	log.Printf("[Render] job %s produced clip %s (%.1fs)", job.ID, clip.ID, clip.DurationSeconds)
	return nil
}

// Retry flips the job row back to queued before the pool reschedules it.
func (st *RenderStage) Retry(ctx context.Context, qjob *queue.Job, cause error) {
	if err := st.store.RequeueRender(ctx, qjob.ID); err != nil && !errors.Is(err, store.ErrTerminalJob) {
		log.Printf("[Render] failed to requeue job %s: %v", qjob.ID, err)
	}
	if err := st.aggregator.ProjectChanged(ctx, qjob.ProjectID); err != nil {
		log.Printf("[Render] aggregate update failed for project %s: %v", qjob.ProjectID, err)
	}
}

// Exhausted marks the single render job failed. Only the aggregator decides
// what that means for the project.
func (st *RenderStage) Exhausted(ctx context.Context, qjob *queue.Job, cause error) {
	msg := cause.Error()
	if err := st.store.FinishRender(ctx, qjob.ID, models.JobStateFailed, &msg); err != nil && !errors.Is(err, store.ErrTerminalJob) {
		log.Printf("[Render] failed to record failure for job %s: %v", qjob.ID, err)
	}
	if err := st.aggregator.ProjectChanged(ctx, qjob.ProjectID); err != nil {
		log.Printf("[Render] aggregate update failed for project %s: %v", qjob.ProjectID, err)
	}
}
