package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by TryEnqueue when the buffer has no free slot.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned once the queue is not accepting jobs.
	ErrQueueClosed = errors.New("queue closed")
)

// Job is one unit of background work. Type routes the job inside the handler.
type Job[T any] struct {
	ID       string
	Type     string
	Payload  T
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job. A returned error schedules a retry.
type Handler[T any] func(context.Context, Job[T]) error

// QueueConfig configures the worker pool and its retry policy.
type QueueConfig struct {
	Workers       int
	BufferSize    int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Logger        *zap.Logger
	// OnDiscard is called for a job that will not be attempted again.
	OnDiscard func(job Job[any], err error)
}

type queueState int

const (
	stateIdle queueState = iota
	stateRunning
	stateClosed
)

// Queue dispatches jobs to a fixed pool of goroutines. Failed jobs are retried
// with exponential backoff. Shutdown delivers what is already buffered.
type Queue[T any] struct {
	name    string
	handler Handler[T]
	cfg     QueueConfig
	logger  *zap.Logger

	jobs   chan Job[T]
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    queueState
	quitOnce sync.Once
	workers  sync.WaitGroup
	retries  sync.WaitGroup
}

// NewQueue builds a queue around handler. Zero config values get defaults.
func NewQueue[T any](name string, handler Handler[T], cfg QueueConfig) *Queue[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 30 * cfg.RetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue[T]{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", name)),
		jobs:    make(chan Job[T], cfg.BufferSize),
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. Calls after the first are ignored. Cancelling
// ctx aborts in-flight handlers.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != stateIdle {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.worker()
	}
	q.state = stateRunning
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Shutdown stops intake, drops pending retries and waits for the workers to
// drain the buffer. When ctx expires first, in-flight handlers are cancelled
// and ctx's error is returned.
func (q *Queue[T]) Shutdown(ctx context.Context) error {
	q.quitOnce.Do(func() { close(q.quit) })

	q.mu.Lock()
	wasRunning := q.state == stateRunning
	q.state = stateClosed
	q.mu.Unlock()
	if !wasRunning {
		return nil
	}

	q.retries.Wait()
	close(q.jobs)

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("queue stopped")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		q.logger.Warn("queue stopped before draining", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Enqueue adds a job, blocking while the buffer is full.
func (q *Queue[T]) Enqueue(ctx context.Context, job Job[T]) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.accepting(); err != nil {
		return err
	}
	stamp(&job)

	select {
	case q.jobs <- job:
		return nil
	case <-q.quit:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue adds a job without blocking and returns ErrQueueFull when there is no room.
func (q *Queue[T]) TryEnqueue(job Job[T]) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.accepting(); err != nil {
		return err
	}
	stamp(&job)

	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// accepting must be called with q.mu held.
func (q *Queue[T]) accepting() error {
	switch q.state {
	case stateIdle:
		return fmt.Errorf("queue %s not started", q.name)
	case stateClosed:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	}
	return nil
}

func stamp[T any](job *Job[T]) {
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
}

func (q *Queue[T]) worker() {
	defer q.workers.Done()
	for job := range q.jobs {
		if err := q.handler(q.ctx, job); err != nil {
			q.retry(job, err)
		}
	}
}

// Backoff returns the wait before the given retry attempt, doubling from
// RetryDelay up to MaxRetryDelay.
func (q *Queue[T]) Backoff(attempt int) time.Duration {
	delay := q.cfg.RetryDelay
	for i := 1; i < attempt && delay < q.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > q.cfg.MaxRetryDelay {
		delay = q.cfg.MaxRetryDelay
	}
	return delay
}

func (q *Queue[T]) retry(job Job[T], err error) {
	job.Attempt++
	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err)}
	if job.Attempt > q.cfg.MaxRetries {
		q.logger.Error("job exceeded retries", fields...)
		q.discard(job, err)
		return
	}

	q.mu.RLock()
	closed := q.state == stateClosed
	if !closed {
		q.retries.Add(1)
	}
	q.mu.RUnlock()
	if closed {
		q.discard(job, fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed))
		return
	}

	delay := q.Backoff(job.Attempt)
	q.logger.Warn("job failed, retrying", append(fields, zap.Duration("delay", delay))...)
	go func() {
		defer q.retries.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.quit:
			q.discard(job, fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed))
		case <-timer.C:
			if err := q.requeue(job); err != nil {
				q.logger.Error("failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
				q.discard(job, err)
			}
		}
	}()
}

// requeue is TryEnqueue for retries, which may run while Shutdown waits on them.
func (q *Queue[T]) requeue(job Job[T]) error {
	select {
	case <-q.quit:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

func (q *Queue[T]) discard(job Job[T], err error) {
	if q.cfg.OnDiscard == nil {
		return
	}
	q.cfg.OnDiscard(Job[any]{ID: job.ID, Type: job.Type, Payload: job.Payload, Attempt: job.Attempt, Enqueued: job.Enqueued}, err)
}
