package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Backend names, recorded on each JobRecord.
const (
	BackendQueue  = "queue"
	BackendMemory = "memory"
)

// RunFunc executes one job to completion. A non-nil error means the job did
// not reach a terminal state and may be delivered again.
type RunFunc func(ctx context.Context, jobID string) error

// Backend schedules jobs for execution.
type Backend interface {
	// Name identifies the backend in job records and events.
	Name() string
	// Start begins consuming work, invoking run for each job.
	Start(run RunFunc) error
	// Enqueue schedules a job. It must not block on job execution.
	Enqueue(ctx context.Context, jobID string) error
	// Close stops accepting work and waits for running jobs to return.
	Close() error
}

// MemoryBackend runs each job on its own goroutine as soon as it is
// enqueued. Jobs do not survive a restart; the orchestrator resumes
// unfinished memory jobs from their records at startup.
type MemoryBackend struct {
	logger *slog.Logger
	mu     sync.Mutex
	run    RunFunc
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewMemoryBackend creates an in-memory backend.
func NewMemoryBackend(logger *slog.Logger) *MemoryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBackend{logger: logger, ctx: ctx, cancel: cancel}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string {
	return BackendMemory
}

// Start implements Backend.
func (b *MemoryBackend) Start(run RunFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.run = run
	return nil
}

// Enqueue implements Backend.
func (b *MemoryBackend) Enqueue(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.run == nil {
		return fmt.Errorf("memory backend not started")
	}

	run := b.run
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := run(b.ctx, jobID); err != nil {
			b.logger.Warn("Job did not finish", "job_id", jobID, "backend", BackendMemory, "error", err)
		}
	}()
	return nil
}

// Close implements Backend. Running jobs see their context cancelled.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

// Wait blocks until every enqueued job has returned. Used by tests and the
// offline CLI.
func (b *MemoryBackend) Wait() {
	b.wg.Wait()
}

// QueueBackend runs jobs through the durable SQLite queue with bounded
// concurrency across jobs.
type QueueBackend struct {
	queue   *Queue
	workers int
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewQueueBackend creates a backend consuming queue with the given number of workers.
func NewQueueBackend(queue *Queue, workers int, logger *slog.Logger) *QueueBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &QueueBackend{queue: queue, workers: workers, logger: logger}
}

// Name implements Backend.
func (b *QueueBackend) Name() string {
	return BackendQueue
}

// Start implements Backend. It verifies the queue is reachable before
// starting the consumer.
func (b *QueueBackend) Start(run RunFunc) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := b.queue.Ping(ctx); err != nil {
		cancel()
		return fmt.Errorf("queue unreachable: %w", err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		b.queue.RunBatch(ctx, b.workers, func(ctx context.Context, j *QueuedJob) error {
			return run(ctx, j.JobID)
		})
	}()
	return nil
}

// Enqueue implements Backend.
func (b *QueueBackend) Enqueue(ctx context.Context, jobID string) error {
	if err := b.queue.Publish(ctx, jobID); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Close implements Backend. In-flight jobs are drained; deliveries that were
// not acknowledged become visible again on the next start.
func (b *QueueBackend) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	return b.queue.Close()
}
