package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelremix/reelremix/internal/queue"
)

const testQueue = "queue:test"

func startPool(t *testing.T, p *Pool) (context.CancelFunc, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	return cancel, func() {
		cancel()
		p.Wait()
	}
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	q := queue.NewMemory()
	var calls int32
	done := make(chan struct{})

	p := &Pool{
		Name:        "Test",
		Queue:       q,
		QueueName:   testQueue,
		Concurrency: 1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		Handler: func(ctx context.Context, job *queue.Job) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("transient failure")
			}
			close(done)
			return nil
		},
		OnExhausted: func(ctx context.Context, job *queue.Job, err error) {
			t.Errorf("job should not exhaust: %v", err)
		},
	}
	_, stop := startPool(t, p)
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), testQueue, &queue.Job{ID: uuid.New()}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPoolExhaustsAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemory()
	var calls, retries int32
	exhausted := make(chan error, 1)

	p := &Pool{
		Name:        "Test",
		Queue:       q,
		QueueName:   testQueue,
		Concurrency: 1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		Handler: func(ctx context.Context, job *queue.Job) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("always fails")
		},
		OnRetry: func(ctx context.Context, job *queue.Job, err error) {
			atomic.AddInt32(&retries, 1)
		},
		OnExhausted: func(ctx context.Context, job *queue.Job, err error) {
			exhausted <- err
		},
	}
	_, stop := startPool(t, p)
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), testQueue, &queue.Job{ID: uuid.New()}))

	select {
	case err := <-exhausted:
		assert.Contains(t, err.Error(), "always fails")
	case <-time.After(5 * time.Second):
		t.Fatal("job never exhausted")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&retries))
}

func TestPoolFatalErrorSkipsRetries(t *testing.T) {
	q := queue.NewMemory()
	var calls int32
	exhausted := make(chan error, 1)

	p := &Pool{
		Name:        "Test",
		Queue:       q,
		QueueName:   testQueue,
		Concurrency: 1,
		MaxAttempts: 5,
		BackoffBase: time.Millisecond,
		Handler: func(ctx context.Context, job *queue.Job) error {
			atomic.AddInt32(&calls, 1)
			return Fatal(errors.New("bad input"))
		},
		OnRetry: func(ctx context.Context, job *queue.Job, err error) {
			t.Error("fatal errors must not schedule retries")
		},
		OnExhausted: func(ctx context.Context, job *queue.Job, err error) {
			exhausted <- err
		},
	}
	_, stop := startPool(t, p)
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), testQueue, &queue.Job{ID: uuid.New()}))

	select {
	case err := <-exhausted:
		assert.True(t, IsFatal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("fatal job never reached OnExhausted")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoolAppliesJobTimeout(t *testing.T) {
	q := queue.NewMemory()
	exhausted := make(chan error, 1)

	p := &Pool{
		Name:        "Test",
		Queue:       q,
		QueueName:   testQueue,
		Concurrency: 1,
		JobTimeout:  20 * time.Millisecond,
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		Handler: func(ctx context.Context, job *queue.Job) error {
			// Simulates a hung collaborator call.
			<-ctx.Done()
			return ctx.Err()
		},
		OnExhausted: func(ctx context.Context, job *queue.Job, err error) {
			exhausted <- err
		},
	}
	_, stop := startPool(t, p)
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), testQueue, &queue.Job{ID: uuid.New()}))

	select {
	case err := <-exhausted:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("timed-out job never exhausted")
	}
}

func TestBackoffDoubling(t *testing.T) {
	p := &Pool{BackoffBase: 5 * time.Second, BackoffMax: 60 * time.Second}

	assert.Equal(t, 5*time.Second, p.backoff(1))
	assert.Equal(t, 10*time.Second, p.backoff(2))
	assert.Equal(t, 20*time.Second, p.backoff(3))
	assert.Equal(t, 40*time.Second, p.backoff(4))
	assert.Equal(t, 60*time.Second, p.backoff(5))
	assert.Equal(t, 60*time.Second, p.backoff(10))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(errors.New("plain")))
	assert.True(t, IsFatal(Fatal(errors.New("wrapped"))))
	assert.False(t, IsFatal(context.DeadlineExceeded))
}
