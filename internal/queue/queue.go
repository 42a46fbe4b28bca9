package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	QueueAnalysis = "queue:analysis"
	QueueRender   = "queue:render"
)

// Job is the wire payload of both stage queues. ID is the analysis or render
// job record ID; Attempt counts prior executions and is bumped by the worker
// pool when it reschedules a retry.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	ProjectID uuid.UUID `json:"project_id"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is a FIFO job queue. Redis backs it in production; Memory backs
// tests and dev runs without REDIS_URL.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, job *Job) error
	// Dequeue blocks up to timeout and returns (nil, nil) when no job is
	// available.
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error)
	Len(ctx context.Context, queueName string) (int64, error)
	Close() error
}

// EnqueueAnalysis puts one analysis job on the analysis queue.
func EnqueueAnalysis(ctx context.Context, q Queue, projectID, jobID uuid.UUID) error {
	return q.Enqueue(ctx, QueueAnalysis, &Job{
		ID:        jobID,
		Type:      "analysis",
		ProjectID: projectID,
	})
}

// EnqueueRender puts one render job on the render queue.
func EnqueueRender(ctx context.Context, q Queue, projectID, jobID uuid.UUID) error {
	return q.Enqueue(ctx, QueueRender, &Job{
		ID:        jobID,
		Type:      "render",
		ProjectID: projectID,
	})
}
