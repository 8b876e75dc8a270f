// Package jobs runs batch find-and-replace jobs.
//
// A job moves queued -> in_progress -> completed | failed. Entries of one
// job are processed sequentially in submission order; a failing entry is
// recorded in entryErrors and never aborts the batch. Jobs run on a
// pluggable Backend: the durable SQLite queue when configured and
// reachable, otherwise the in-memory backend.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/replace"
)

// Options configures an Orchestrator.
type Options struct {
	Store     *Store
	Processor EntryProcessor

	// Primary is the preferred backend, typically a QueueBackend. When nil
	// or when it fails to start, jobs run on Fallback.
	Primary Backend

	// Fallback runs jobs the primary backend cannot take. Created if nil.
	Fallback *MemoryBackend

	// MaxPatternLength bounds rule.find. Defaults to replace.DefaultMaxPatternLength.
	MaxPatternLength int

	// OnEvent receives backend selection and demotion events.
	OnEvent EventHandler

	// NewID generates job ids. Defaults to UUIDv7.
	NewID func() string

	Logger *slog.Logger
}

// Orchestrator validates submissions, records jobs and drives their execution.
type Orchestrator struct {
	store            *Store
	processor        EntryProcessor
	primary          Backend
	fallback         *MemoryBackend
	maxPatternLength int
	onEvent          EventHandler
	newID            func() string
	logger           *slog.Logger
	validate         *validator.Validate

	startOnce  sync.Once
	selectOnce sync.Once
	selected   Backend
	ready      atomic.Bool
	closed     atomic.Bool
}

// NewOrchestrator creates an orchestrator. Call Start before serving requests.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewMemoryBackend(logger)
	}
	maxLen := opts.MaxPatternLength
	if maxLen <= 0 {
		maxLen = replace.DefaultMaxPatternLength
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}

	return &Orchestrator{
		store:            opts.Store,
		processor:        opts.Processor,
		primary:          opts.Primary,
		fallback:         fallback,
		maxPatternLength: maxLen,
		onEvent:          opts.OnEvent,
		newID:            newID,
		logger:           logger,
		validate:         newValidator(),
	}
}

// newValidator reports payload fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Start selects the execution backend and resumes unfinished jobs. It must
// be called before the first Submit; later calls are no-ops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		o.selectBackend()
		if n := o.resume(ctx); n > 0 {
			o.logger.Info("Resumed unfinished jobs", "count", n)
		}
	})
}

// Backend returns the name of the selected backend, or "" before selection.
func (o *Orchestrator) Backend() string {
	if !o.ready.Load() {
		return ""
	}
	return o.selected.Name()
}

// selectBackend chooses the backend once per process.
func (o *Orchestrator) selectBackend() {
	o.selectOnce.Do(func() {
		if err := o.fallback.Start(o.run); err != nil {
			o.logger.Error("Failed to start memory backend", "error", err)
		}

		o.selected = o.fallback
		var startErr error
		if o.primary != nil {
			if startErr = o.primary.Start(o.run); startErr == nil {
				o.selected = o.primary
			} else {
				o.logger.Warn("Primary job backend unavailable, using fallback",
					"backend", o.primary.Name(), "error", startErr)
			}
		}
		o.ready.Store(true)
		o.emit(BackendEvent{Kind: EventBackendSelected, Backend: o.selected.Name(), Err: startErr})
	})
}

// Submit validates payload, records a queued job and schedules it.
// Invalid payloads return a *ValidationError and create no job.
func (o *Orchestrator) Submit(ctx context.Context, payload domain.BatchPayload) (*domain.JobRecord, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	if err := o.validatePayload(payload); err != nil {
		return nil, err
	}
	o.selectBackend()

	rec := &domain.JobRecord{
		ID:          o.newID(),
		Status:      domain.StatusQueued,
		Payload:     payload,
		EntryErrors: []domain.EntryError{},
		Backend:     o.selected.Name(),
	}
	o.store.Create(rec)
	o.logger.Info("Job submitted",
		"job_id", rec.ID,
		"content_type_uid", payload.ContentTypeUID,
		"entries", len(payload.EntryUIDs),
		"dry_run", payload.DryRun,
		"backend", rec.Backend,
	)

	if err := o.selected.Enqueue(ctx, rec.ID); err != nil {
		if o.selected == Backend(o.fallback) {
			o.fail(rec.ID, fmt.Errorf("enqueue failed: %w", err))
			return nil, fmt.Errorf("failed to schedule job: %w", err)
		}
		if err := o.demote(ctx, rec.ID, err); err != nil {
			return nil, err
		}
	}

	job, _ := o.store.Get(rec.ID)
	return job, nil
}

// demote hands a job the selected backend rejected to the memory backend.
func (o *Orchestrator) demote(ctx context.Context, jobID string, cause error) error {
	o.emit(BackendEvent{Kind: EventDemotedToFallback, JobID: jobID, Backend: o.fallback.Name(), Err: cause})
	if _, err := o.store.Update(jobID, func(r *domain.JobRecord) {
		r.Backend = o.fallback.Name()
	}); err != nil {
		return err
	}
	if err := o.fallback.Enqueue(ctx, jobID); err != nil {
		o.fail(jobID, fmt.Errorf("fallback enqueue failed: %w", err))
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	return nil
}

func (o *Orchestrator) validatePayload(payload domain.BatchPayload) error {
	if err := o.validate.Struct(payload); err != nil {
		return newValidationError(err)
	}
	if _, err := replace.MatcherForRule(*payload.Rule, o.maxPatternLength); err != nil {
		return &ValidationError{Fields: []string{"rule.find"}, Err: err}
	}
	return nil
}

// Get returns a copy of a job record, including progress made by another
// process consuming the same queue.
func (o *Orchestrator) Get(id string) (*domain.JobRecord, error) {
	rec, ok := o.store.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return rec, nil
}

// resume schedules jobs left unfinished by a previous process. Jobs owned by
// a running queue backend are redelivered by the queue itself; everything
// else is run in memory. It returns the number of jobs scheduled here.
func (o *Orchestrator) resume(ctx context.Context) int {
	resumed := 0
	for _, rec := range o.store.Pending() {
		if rec.Backend == BackendQueue && o.selected.Name() == BackendQueue {
			continue
		}
		if rec.Backend != o.fallback.Name() {
			if _, err := o.store.Update(rec.ID, func(r *domain.JobRecord) {
				r.Backend = o.fallback.Name()
			}); err != nil {
				continue
			}
		}
		if err := o.fallback.Enqueue(ctx, rec.ID); err != nil {
			o.logger.Error("Failed to resume job", "job_id", rec.ID, "error", err)
			continue
		}
		resumed++
	}
	return resumed
}

// run executes one job. It returns an error when the job was interrupted or
// its record is not readable yet, so the delivery is made again.
func (o *Orchestrator) run(ctx context.Context, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(jobID, fmt.Errorf("job execution panicked: %v", r))
			err = nil
		}
	}()

	// Jobs submitted by another process sharing the queue are read from disk.
	rec, ok := o.store.Load(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	payload := rec.Payload
	if payload.Rule == nil {
		o.fail(jobID, errors.New("job has no rule"))
		return nil
	}
	m, err := replace.MatcherForRule(*payload.Rule, o.maxPatternLength)
	if err != nil {
		o.fail(jobID, fmt.Errorf("invalid rule: %w", err))
		return nil
	}

	rec, err = o.store.Update(jobID, func(r *domain.JobRecord) {
		r.Status = domain.StatusInProgress
		if r.Result == nil {
			r.Result = &domain.JobResult{
				Entries: []domain.EntryResult{},
				Total:   len(r.Payload.EntryUIDs),
				DryRun:  r.Payload.DryRun,
			}
		}
	})
	if err != nil || rec.Status.IsTerminal() {
		return nil
	}

	attempted := rec.Attempted()
	o.logger.Info("Job started", "job_id", jobID, "entries", len(payload.EntryUIDs), "already_done", len(attempted))

	for _, entryUID := range payload.EntryUIDs {
		if attempted[entryUID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		result, entryErr := o.processor.ProcessEntry(ctx, payload, m, entryUID)
		if err := ctx.Err(); err != nil {
			// Interrupted mid-entry: leave it unrecorded so it is retried.
			return err
		}
		if entryErr != nil {
			o.logger.Warn("Entry failed", "job_id", jobID, "entry_uid", entryUID, "stage", entryErr.Stage, "error", entryErr.Message)
		}

		if _, err := o.store.Update(jobID, func(r *domain.JobRecord) {
			recordEntry(r, result, entryErr)
		}); err != nil {
			return nil
		}
		attempted[entryUID] = true
	}

	final, err := o.store.Update(jobID, func(r *domain.JobRecord) {
		r.Status = domain.StatusCompleted
		r.Progress = 100
	})
	if err == nil {
		o.logger.Info("Job completed",
			"job_id", jobID,
			"replaced", final.Result.TotalReplaced,
			"entries", len(final.Result.Entries),
			"entry_errors", len(final.EntryErrors),
		)
	}
	return nil
}

// recordEntry folds one entry outcome into the job record and recomputes progress.
func recordEntry(r *domain.JobRecord, result domain.EntryResult, entryErr *domain.EntryError) {
	if entryErr != nil {
		r.EntryErrors = append(r.EntryErrors, *entryErr)
	} else {
		r.Result.Entries = append(r.Result.Entries, result)
		r.Result.TotalReplaced += result.ReplacedCount
	}
	r.Result.Processed++
	if r.Result.Total > 0 {
		r.Progress = r.Result.Processed * 100 / r.Result.Total
	}
}

// fail marks a job failed.
func (o *Orchestrator) fail(jobID string, cause error) {
	o.logger.Error("Job failed", "job_id", jobID, "error", cause)
	_, _ = o.store.Update(jobID, func(r *domain.JobRecord) {
		r.Status = domain.StatusFailed
		r.Error = cause.Error()
	})
}

func (o *Orchestrator) emit(ev BackendEvent) {
	attrs := []any{"kind", ev.Kind, "backend", ev.Backend}
	if ev.JobID != "" {
		attrs = append(attrs, "job_id", ev.JobID)
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
		o.logger.Warn("Job backend event", attrs...)
	} else {
		o.logger.Info("Job backend event", attrs...)
	}
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}

// Close stops the backends. Running jobs are interrupted and resumed on the
// next start.
func (o *Orchestrator) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if o.primary != nil {
		if err := o.primary.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s backend: %w", o.primary.Name(), err))
		}
	}
	if err := o.fallback.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close memory backend: %w", err))
	}
	return errors.Join(errs...)
}
