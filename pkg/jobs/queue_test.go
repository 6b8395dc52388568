package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stop(t *testing.T, q interface{ Shutdown(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	queue := NewQueue[string]("test", func(ctx context.Context, job Job[string]) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("try again")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	queue.Start(context.Background())
	defer stop(t, queue)

	require.NoError(t, queue.Enqueue(context.Background(), Job[string]{ID: "job-1", Payload: "hello"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 3 }, time.Second, 5*time.Millisecond)
}

func TestQueueDiscardsAfterMaxRetries(t *testing.T) {
	var attempts int32
	discarded := make(chan Job[any], 1)
	queue := NewQueue[int]("test", func(ctx context.Context, job Job[int]) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent")
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
		OnDiscard:  func(job Job[any], err error) { discarded <- job },
	})
	queue.Start(context.Background())
	defer stop(t, queue)

	require.NoError(t, queue.Enqueue(context.Background(), Job[int]{ID: "job-1", Type: "email", Payload: 7}))

	select {
	case job := <-discarded:
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, "email", job.Type)
		assert.Equal(t, 7, job.Payload)
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(time.Second):
		t.Fatal("job was never discarded")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQueueBackoffDoublesUpToCap(t *testing.T) {
	queue := NewQueue[int]("test", nil, QueueConfig{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: time.Second})

	assert.Equal(t, 100*time.Millisecond, queue.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, queue.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, queue.Backoff(4))
	assert.Equal(t, time.Second, queue.Backoff(5))
	assert.Equal(t, time.Second, queue.Backoff(30))
}

func TestQueueTryEnqueueReportsFullBuffer(t *testing.T) {
	release := make(chan struct{})
	queue := NewQueue[int]("test", func(ctx context.Context, job Job[int]) error {
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})

	assert.Error(t, queue.TryEnqueue(Job[int]{ID: "early"}), "queue must be started first")

	queue.Start(context.Background())
	defer stop(t, queue)
	defer close(release)

	require.NoError(t, queue.TryEnqueue(Job[int]{ID: "1"}))
	err := func() error {
		// one job is held by the worker and one sits in the buffer
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if err := queue.TryEnqueue(Job[int]{ID: "n"}); err != nil {
				return err
			}
		}
		return nil
	}()
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueShutdownDrainsBuffer(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	gate := make(chan struct{})
	queue := NewQueue[string]("test", func(ctx context.Context, job Job[string]) error {
		<-gate
		mu.Lock()
		handled = append(handled, job.ID)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	queue.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, queue.TryEnqueue(Job[string]{ID: id}))
	}
	close(gate)
	stop(t, queue)

	assert.Equal(t, []string{"a", "b", "c"}, handled)
	assert.ErrorIs(t, queue.TryEnqueue(Job[string]{ID: "late"}), ErrQueueClosed)
	assert.ErrorIs(t, queue.Enqueue(context.Background(), Job[string]{ID: "late"}), ErrQueueClosed)
}

func TestQueueShutdownDeadlineCancelsHandlers(t *testing.T) {
	queue := NewQueue[int]("test", func(ctx context.Context, job Job[int]) error {
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{Workers: 1})
	queue.Start(context.Background())
	require.NoError(t, queue.TryEnqueue(Job[int]{ID: "stuck"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queue.Shutdown(ctx), context.DeadlineExceeded)
}
