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
	"github.com/reelremix/reelremix/internal/store"
)

// Dispatcher fans a finished analysis out into render jobs: one per segment
// scoring at or above the threshold. Dispatch is idempotent — the
// (project, segment) uniqueness at the store layer absorbs duplicate runs —
// so it is safe to call again from the recovery sweep.
type Dispatcher struct {
	store      store.Store
	queue      queue.Queue
	aggregator *aggregate.Aggregator
	threshold  float64
	// stalledAfter is the grace period before a job still sitting in
	// 'queued' is presumed lost from the queue and re-enqueued.
	stalledAfter time.Duration
}

func NewDispatcher(s store.Store, q queue.Queue, agg *aggregate.Aggregator, threshold float64, stalledAfter time.Duration) *Dispatcher {
	return &Dispatcher{store: s, queue: q, aggregator: agg, threshold: threshold, stalledAfter: stalledAfter}
}

// Dispatch creates and enqueues render jobs for one succeeded analysis job.
func (d *Dispatcher) Dispatch(ctx context.Context, analysisJobID uuid.UUID) error {
	job, err := d.store.GetAnalysisJob(ctx, analysisJobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load analysis job: %w", err)
	}

	if job.State != models.JobStateSucceeded || job.Dispatched {
		return nil
	}

	segments, err := d.store.ListSegmentsByAnalysis(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}

	created := 0
	for _, seg := range segments {
		if seg.Score < d.threshold {
			continue
		}

		rj := &models.RenderJob{
			ID:        uuid.New(),
			ProjectID: job.ProjectID,
			SegmentID: seg.ID,
			State:     models.JobStateQueued,
			CreatedAt: time.Now().UTC(),
		}

		inserted, err := d.store.CreateRenderJob(ctx, rj)
		if err != nil {
			return fmt.Errorf("failed to create render job: %w", err)
		}
		if !inserted {
			// A previous dispatch run already covered this segment.
			continue
		}
		created++

		if err := queue.EnqueueRender(ctx, d.queue, job.ProjectID, rj.ID); err != nil {
			log.Printf("[Dispatch] failed to enqueue render job %s: %v", rj.ID, err)
		}
	}

	if _, err := d.store.SetAnalysisDispatched(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark analysis dispatched: %w", err)
	}

	log.Printf("[Dispatch] project %s: %d/%d segments qualified (threshold %.2f)",
		job.ProjectID, created, len(segments), d.threshold)

	return d.aggregator.ProjectChanged(ctx, job.ProjectID)
}

// Recover runs one pass of the self-healing sweep. It re-dispatches
// succeeded analysis jobs whose fan-out never completed (a crash between
// finishing analysis and marking it dispatched), then re-enqueues analysis
// and render jobs stuck in 'queued' past the grace period — those rows exist
// but their queue entry was lost, typically because the enqueue after the
// insert failed.
func (d *Dispatcher) Recover(ctx context.Context) {
	jobs, err := d.store.ListUndispatchedAnalysis(ctx)
	if err != nil {
		log.Printf("[Dispatch] sweep failed to list undispatched jobs: %v", err)
	} else {
		for _, job := range jobs {
			if err := d.Dispatch(ctx, job.ID); err != nil {
				log.Printf("[Dispatch] sweep dispatch of %s failed: %v", job.ID, err)
			}
		}
	}

	cutoff := time.Now().UTC().Add(-d.stalledAfter)

	stalled, err := d.store.ListStalledAnalysisJobs(ctx, cutoff)
	if err != nil {
		log.Printf("[Dispatch] sweep failed to list stalled analysis jobs: %v", err)
	} else {
		for _, job := range stalled {
			// Requeue bumps queued_at first so a failed enqueue here does
			// not make the next sweep hammer the same job immediately.
			if err := d.store.RequeueAnalysis(ctx, job.ID); err != nil {
				continue
			}
			if err := queue.EnqueueAnalysis(ctx, d.queue, job.ProjectID, job.ID); err != nil {
				log.Printf("[Dispatch] sweep failed to re-enqueue analysis job %s: %v", job.ID, err)
				continue
			}
			log.Printf("[Dispatch] re-enqueued stalled analysis job %s", job.ID)
		}
	}

	stalledRenders, err := d.store.ListStalledRenderJobs(ctx, cutoff)
	if err != nil {
		log.Printf("[Dispatch] sweep failed to list stalled render jobs: %v", err)
		return
	}
	for _, job := range stalledRenders {
		if err := d.store.RequeueRender(ctx, job.ID); err != nil {
			continue
		}
		if err := queue.EnqueueRender(ctx, d.queue, job.ProjectID, job.ID); err != nil {
			log.Printf("[Dispatch] sweep failed to re-enqueue render job %s: %v", job.ID, err)
			continue
		}
		log.Printf("[Dispatch] re-enqueued stalled render job %s", job.ID)
	}
}

// RunSweep runs Recover on a fixed interval. Blocks until ctx is cancelled.
func (d *Dispatcher) RunSweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Recover(ctx)
		}
	}
}
