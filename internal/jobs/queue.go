package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// QueueOptions configures the durable queue.
type QueueOptions struct {
	// Visibility is how long a claimed job stays invisible to other
	// consumers. A worker extends it while the job is running. Default: 15m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts limits redeliveries of a job before it is discarded.
	// 0 means unlimited.
	MaxAttempts int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *QueueOptions) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 15 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// QueuedJob is a claimed row of the queue.
type QueuedJob struct {
	ID        string
	JobID     string
	CreatedAt time.Time
	Attempts  int
}

// Queue is a visibility-timeout queue of job ids stored in SQLite.
//
// A claimed row is hidden for the visibility duration. If the worker
// crashes before acknowledging it, the row becomes visible again and the job
// is redelivered, possibly to another process sharing the database file.
//
// Schema (created by Open):
//
//	CREATE TABLE IF NOT EXISTS replace_jobs (
//	    id          TEXT PRIMARY KEY,
//	    job_id      TEXT NOT NULL,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
//	    created_at  INTEGER NOT NULL,            -- milliseconds since epoch
//	    attempts    INTEGER NOT NULL DEFAULT 0
//	);
type Queue struct {
	db   *sql.DB
	opts QueueOptions
}

// OpenQueue opens (creating if needed) the queue database at path.
// path may be ":memory:" in tests.
func OpenQueue(ctx context.Context, path string, opts QueueOptions) (*Queue, error) {
	opts.defaults()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", queueDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	q := &Queue{db: db, opts: opts}
	if err := q.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

// queueDSN applies the production pragmas through the connection string so
// that every pooled connection gets them.
func queueDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(10000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(ON)")
	if path == ":memory:" {
		return "file::memory:?" + params.Encode()
	}
	return "file:" + path + "?" + params.Encode()
}

func (q *Queue) ensureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS replace_jobs (
			id          TEXT PRIMARY KEY,
			job_id      TEXT NOT NULL,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_replace_jobs_visible ON replace_jobs (visible_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create queue table: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Publish inserts a delivery for jobID that is immediately visible.
// Publishing the same job twice is a no-op.
func (q *Queue) Publish(ctx context.Context, jobID string) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO replace_jobs (id, job_id, visible_at, created_at) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		jobID, jobID, now, now,
	)
	return err
}

// BatchClaim atomically claims up to n visible deliveries, oldest first.
// It returns an empty (non-nil) slice when none are available.
func (q *Queue) BatchClaim(ctx context.Context, n int) ([]*QueuedJob, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE replace_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM replace_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING id, job_id, created_at, attempts`,
		hideUntil, now.UnixMilli(), n,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	jobs := []*QueuedJob{}
	for rows.Next() {
		var j QueuedJob
		var creAt int64
		if err := rows.Scan(&j.ID, &j.JobID, &creAt, &j.Attempts); err != nil {
			return nil, err
		}
		j.CreatedAt = time.UnixMilli(creAt)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Ack deletes a processed delivery.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM replace_jobs WHERE id = ?`, id)
	return err
}

// Nack makes a delivery visible again immediately.
func (q *Queue) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE replace_jobs SET visible_at = 0 WHERE id = ?`, id)
	return err
}

// Extend pushes the visibility timeout of a running delivery forward.
func (q *Queue) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE replace_jobs SET visible_at = ? WHERE id = ?`, hideUntil, id,
	)
	return err
}

// Len returns the number of deliveries, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replace_jobs`).Scan(&n)
	return n, err
}

// QueueHandler processes a claimed delivery. Return nil to ack, non-nil to nack.
type QueueHandler func(ctx context.Context, job *QueuedJob) error

// RunBatch claims deliveries and runs handler with at most maxConcurrency
// handlers in flight. It blocks until ctx is cancelled, then drains
// in-flight handlers before returning.
func (q *Queue) RunBatch(ctx context.Context, maxConcurrency int, handler QueueHandler) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	log := q.opts.Logger
	log.Info("Queue consumer started",
		"max_concurrency", maxConcurrency,
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval,
	)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Queue consumer stopping, draining in-flight jobs")
			wg.Wait()
			log.Info("Queue consumer stopped")
			return
		case <-ticker.C:
		}

		free := maxConcurrency - len(sem)
		if free == 0 {
			continue
		}
		jobs, err := q.BatchClaim(ctx, free)
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return
			}
			log.Warn("Queue claim failed", "error", err)
			continue
		}

		for _, job := range jobs {
			if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
				log.Warn("Job exceeded max delivery attempts, discarding",
					"job_id", job.JobID, "attempts", job.Attempts)
				_ = q.Ack(ctx, job.ID)
				continue
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = q.Nack(context.Background(), job.ID)
				continue
			}

			wg.Add(1)
			go func(j *QueuedJob) {
				defer wg.Done()
				defer func() { <-sem }()
				q.handle(ctx, j, handler)
			}(job)
		}
	}
}

// handle runs one delivery, extending its visibility while the handler runs.
func (q *Queue) handle(ctx context.Context, j *QueuedJob, handler QueueHandler) {
	log := q.opts.Logger
	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go q.heartbeat(hbCtx, j.ID)

	if err := handler(ctx, j); err != nil {
		log.Warn("Job handler failed, nacking", "job_id", j.JobID, "error", err)
		if nerr := q.Nack(context.Background(), j.ID); nerr != nil && !errors.Is(nerr, sql.ErrConnDone) {
			log.Warn("Nack failed", "job_id", j.JobID, "error", nerr)
		}
		return
	}
	if err := q.Ack(context.Background(), j.ID); err != nil {
		log.Warn("Ack failed", "job_id", j.JobID, "error", err)
	}
}

func (q *Queue) heartbeat(ctx context.Context, id string) {
	ticker := time.NewTicker(q.opts.Visibility / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Extend(ctx, id, q.opts.Visibility); err != nil && ctx.Err() == nil {
				q.opts.Logger.Warn("Failed to extend job visibility", "id", id, "error", err)
			}
		}
	}
}

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}
