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

// AnalysisStage executes analysis jobs: transcribe and score the source,
// persist the scored segments, then hand the job to the dispatcher for
// fan-out.
type AnalysisStage struct {
	store      store.Store
	analyzer   services.Analyzer
	dispatcher *Dispatcher
	aggregator *aggregate.Aggregator
}

func NewAnalysisStage(s store.Store, analyzer services.Analyzer, d *Dispatcher, agg *aggregate.Aggregator) *AnalysisStage {
	return &AnalysisStage{store: s, analyzer: analyzer, dispatcher: d, aggregator: agg}
}

// Handle processes one queued analysis job.
func (st *AnalysisStage) Handle(ctx context.Context, qjob *queue.Job) error {
	job, err := st.store.MarkAnalysisRunning(ctx, qjob.ID)
	if err != nil {
		if errors.Is(err, store.ErrTerminalJob) || errors.Is(err, store.ErrNotFound) {
			// Cancelled (or deleted) while waiting on the queue.
			log.Printf("[Analysis] job %s no longer runnable, skipping", qjob.ID)
			return nil
		}
		return fmt.Errorf("failed to mark analysis running: %w", err)
	}

	if err := st.aggregator.ProjectChanged(ctx, job.ProjectID); err != nil {
		log.Printf("[Analysis] aggregate update failed for project %s: %v", job.ProjectID, err)
	}

	project, err := st.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}

	// Progress writes double as a cancellation probe: once the job row is
	// terminal (project cancelled mid-flight) the write returns
	// ErrTerminalJob and we abandon the in-flight collaborator call.
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	progress := func(percent int) {
		if err := st.store.SetAnalysisProgress(ctx, job.ID, percent); err != nil {
			if errors.Is(err, store.ErrTerminalJob) {
				cancelJob()
				return
			}
			log.Printf("[Analysis] progress write failed for job %s: %v", job.ID, err)
			return
		}
		if err := st.aggregator.ProjectChanged(ctx, job.ProjectID); err != nil {
			log.Printf("[Analysis] aggregate update failed for project %s: %v", job.ProjectID, err)
		}
	}

	scored, err := st.analyzer.TranscribeAndScore(jobCtx, project.SourceRef, progress)
	if err != nil {
		if cancelledTerminal(ctx, err, func() (models.JobState, error) {
			fresh, gerr := st.store.GetAnalysisJob(ctx, job.ID)
			if gerr != nil {
				return "", gerr
			}
			return fresh.State, nil
		}) {
			log.Printf("[Analysis] job %s cancelled mid-flight, result discarded", job.ID)
			return nil
		}
		return fmt.Errorf("analysis failed: %w", err)
	}

	now := time.Now().UTC()
	segments := make([]models.Segment, len(scored))
	for i, s := range scored {
		segments[i] = models.Segment{
			ID:                uuid.New(),
			AnalysisJobID:     job.ID,
			ProjectID:         job.ProjectID,
			StartSeconds:      s.StartSeconds,
			EndSeconds:        s.EndSeconds,
			Score:             s.Score,
			TranscriptExcerpt: s.TranscriptExcerpt,
			CreatedAt:         now,
		}
	}
	if err := st.store.CreateSegments(ctx, segments); err != nil {
		return fmt.Errorf("failed to persist segments: %w", err)
	}

	if err := st.store.FinishAnalysis(ctx, job.ID, models.JobStateSucceeded, nil); err != nil {
		if errors.Is(err, store.ErrTerminalJob) {
			// Cancelled after the work finished; the success is dropped and
			// fan-out never happens.
			log.Printf("[Analysis] job %s cancelled before completion could be recorded", job.ID)
			return nil
		}
		return fmt.Errorf("failed to finish analysis: %w", err)
	}

	if err := st.aggregator.ProjectChanged(ctx, job.ProjectID); err != nil {
		log.Printf("[Analysis] aggregate update failed for project %s: %v", job.ProjectID, err)
	}

	log.Printf("[Analysis] job %s succeeded with %d segments", job.ID, len(segments))

	if err := st.dispatcher.Dispatch(ctx, job.ID); err != nil {
		// The recovery sweep retries fan-out; the analysis itself succeeded.
		log.Printf("[Analysis] dispatch failed for job %s (sweep will retry): %v", job.ID, err)
	}

	return nil
}

// Retry flips the job row back to queued before the pool reschedules it.
func (st *AnalysisStage) Retry(ctx context.Context, qjob *queue.Job, cause error) {
	if err := st.store.RequeueAnalysis(ctx, qjob.ID); err != nil && !errors.Is(err, store.ErrTerminalJob) {
		log.Printf("[Analysis] failed to requeue job %s: %v", qjob.ID, err)
	}
	if err := st.aggregator.ProjectChanged(ctx, qjob.ProjectID); err != nil {
		log.Printf("[Analysis] aggregate update failed for project %s: %v", qjob.ProjectID, err)
	}
}

// Exhausted records the permanent failure; the aggregator then fails the
// project.
func (st *AnalysisStage) Exhausted(ctx context.Context, qjob *queue.Job, cause error) {
	msg := cause.Error()
	if err := st.store.FinishAnalysis(ctx, qjob.ID, models.JobStateFailed, &msg); err != nil && !errors.Is(err, store.ErrTerminalJob) {
		log.Printf("[Analysis] failed to record failure for job %s: %v", qjob.ID, err)
	}
	if err := st.aggregator.ProjectChanged(ctx, qjob.ProjectID); err != nil {
		log.Printf("[Analysis] aggregate update failed for project %s: %v", qjob.ProjectID, err)
	}
}

// cancelledTerminal reports whether a collaborator error is the echo of a
// mid-flight cancellation: the call context was cancelled and the job row is
// already terminal.
func cancelledTerminal(ctx context.Context, err error, state func() (models.JobState, error)) bool {
	if !errors.Is(err, context.Canceled) {
		return false
	}
	if ctx.Err() != nil {
		// Whole-worker shutdown, not a job cancellation.
		return false
	}
	s, gerr := state()
	if gerr != nil {
		return false
	}
	return s.Terminal()
}
