package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/reelremix/reelremix/internal/queue"
)

// dequeueWait is the blocking-pop timeout; it bounds how long shutdown waits
// for an idle worker goroutine.
const dequeueWait = 5 * time.Second

// defaultBackoffMax caps the exponential retry delay when BackoffMax is left
// zero.
const defaultBackoffMax = 5 * time.Minute

// Handler executes one job. The context carries the per-job timeout; a
// returned error is classified by the pool as retryable or fatal.
type Handler func(ctx context.Context, job *queue.Job) error

// Pool drains one queue with a fixed number of goroutines and owns the retry
// policy: exponential backoff between attempts, a per-job execution timeout,
// and a cap on total attempts.
type Pool struct {
	Name        string
	Queue       queue.Queue
	QueueName   string
	Concurrency int
	JobTimeout  time.Duration
	MaxAttempts int
	// BackoffBase is the delay before the first retry. Each further retry
	// doubles it: retry n (counting from 1) waits BackoffBase * 2^(n-1),
	// capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Handler Handler
	// OnRetry runs before a failed job is rescheduled (e.g. flip the job row
	// back to queued).
	OnRetry func(ctx context.Context, job *queue.Job, err error)
	// OnExhausted runs when a job fails fatally or runs out of attempts.
	OnExhausted func(ctx context.Context, job *queue.Job, err error)

	wg     sync.WaitGroup
	timers sync.WaitGroup
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	log.Printf("[%s] starting %d workers on %s", p.Name, p.Concurrency, p.QueueName)
	for i := 0; i < p.Concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until all worker goroutines and pending retry timers are done.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.timers.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			log.Printf("[%s] worker %d stopping", p.Name, id)
			return
		}

		job, err := p.Queue.Dequeue(ctx, p.QueueName, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[%s] worker %d dequeue error: %v", p.Name, id, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *queue.Job) {
	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.JobTimeout)
	}
	err := p.Handler(jobCtx, job)
	cancel()

	if err == nil {
		return
	}

	// attempt is the number of executions so far, this one included.
	attempt := job.Attempt + 1

	if IsFatal(err) {
		log.Printf("[%s] job %s failed permanently on attempt %d: %v", p.Name, job.ID, attempt, err)
		if p.OnExhausted != nil {
			p.OnExhausted(ctx, job, err)
		}
		return
	}

	if attempt >= p.MaxAttempts {
		log.Printf("[%s] job %s exhausted %d attempts: %v", p.Name, job.ID, attempt, err)
		if p.OnExhausted != nil {
			p.OnExhausted(ctx, job, err)
		}
		return
	}

	delay := p.backoff(attempt)
	log.Printf("[%s] job %s attempt %d failed, retrying in %v: %v", p.Name, job.ID, attempt, delay, err)

	if p.OnRetry != nil {
		p.OnRetry(ctx, job, err)
	}

	retry := *job
	retry.Attempt = attempt

	p.timers.Add(1)
	time.AfterFunc(delay, func() {
		defer p.timers.Done()
		// Re-enqueue outside the worker context so a retry scheduled just
		// before shutdown still lands on the queue.
		enqCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Queue.Enqueue(enqCtx, p.QueueName, &retry); err != nil {
			log.Printf("[%s] failed to re-enqueue job %s: %v", p.Name, job.ID, err)
		}
	})
}

// backoff returns the delay before the next retry. attempt counts executions
// so far (1 after the first run), so the first retry waits BackoffBase, the
// second 2*BackoffBase, and so on, capped at BackoffMax.
func (p *Pool) backoff(attempt int) time.Duration {
	max := p.BackoffMax
	if max <= 0 {
		max = defaultBackoffMax
	}
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
