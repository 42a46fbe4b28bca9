package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const memoryQueueDepth = 4096

// Memory is an in-process queue with the same blocking-dequeue contract as
// the Redis queue. Used by tests and dev runs without REDIS_URL.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan *Job
	closed bool
}

var _ Queue = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{queues: make(map[string]chan *Job)}
}

func (q *Memory) channel(queueName string) chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.queues[queueName]
	if !ok {
		ch = make(chan *Job, memoryQueueDepth)
		q.queues[queueName] = ch
	}
	return ch
}

func (q *Memory) Enqueue(ctx context.Context, queueName string, job *Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return fmt.Errorf("queue is closed")
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	select {
	case q.channel(queueName) <- job:
		return nil
	default:
		return fmt.Errorf("queue %s is full", queueName)
	}
}

func (q *Memory) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.channel(queueName):
		return job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Memory) Len(ctx context.Context, queueName string) (int64, error) {
	return int64(len(q.channel(queueName))), nil
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
