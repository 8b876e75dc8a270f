package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sha1n/mcp-replace-server/internal/domain"
)

const (
	// RecordExt is the extension of job record files
	RecordExt = ".json"

	// SweepLockFilename guards retention sweeps across processes
	SweepLockFilename = ".sweep.lock"
)

// Store is the job index: an in-memory map of job records backed by one
// JSON file per job. It is constructed once at startup and shared by the
// orchestrator and the API layer.
//
// Every mutation is persisted immediately. Write failures are logged and
// counted but never returned to the caller; the in-memory record stays
// authoritative for the running process.
type Store struct {
	dir      string
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex
	records  map[string]*domain.JobRecord
	failures atomic.Int64
}

// NewStore creates an empty store persisting to dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:     dir,
		logger:  logger,
		now:     time.Now,
		records: make(map[string]*domain.JobRecord),
	}
}

// OpenStore creates a store and loads every readable record from dir.
// Unreadable files are logged and skipped.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	s := NewStore(dir, logger)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, RecordExt) {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("Skipping unreadable job record", "file", name, "error", err)
			continue
		}
		s.records[rec.ID] = rec
	}

	s.logger.Debug("Job store loaded", "dir", dir, "records", len(s.records))
	return s, nil
}

func readRecord(path string) (*domain.JobRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec domain.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse job record: %w", err)
	}
	if rec.ID == "" {
		return nil, errors.New("job record has no id")
	}
	if rec.EntryErrors == nil {
		rec.EntryErrors = []domain.EntryError{}
	}
	return &rec, nil
}

// Dir returns the jobs directory.
func (s *Store) Dir() string {
	return s.dir
}

// PersistenceFailures returns the number of failed record writes.
func (s *Store) PersistenceFailures() int64 {
	return s.failures.Load()
}

// Create adds a new record and persists it.
func (s *Store) Create(rec *domain.JobRecord) {
	now := s.now().UTC()
	c := rec.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[c.ID] = c
	s.persistLocked(c)
}

// Update applies fn to the record under the store lock, stamps UpdatedAt
// and persists the result. Records in a terminal state are not modified.
func (s *Store) Update(id string, fn func(*domain.JobRecord)) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if rec.Status.IsTerminal() {
		return rec.Clone(), nil
	}

	fn(rec)
	rec.UpdatedAt = s.now().UTC()
	s.persistLocked(rec)
	return rec.Clone(), nil
}

// Get returns a copy of a record.
func (s *Store) Get(id string) (*domain.JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Load returns a copy of a record, refreshed from its file when the file is
// newer than the in-memory copy or the record is not known yet. Records
// created or advanced by another process sharing the jobs directory become
// visible this way.
func (s *Store) Load(id string) (*domain.JobRecord, bool) {
	var disk *domain.JobRecord
	if id != "" && !strings.ContainsAny(id, `/\`) {
		rec, err := readRecord(s.path(id))
		switch {
		case err == nil && rec.ID == id:
			disk = rec
		case err != nil && !errors.Is(err, os.ErrNotExist):
			s.logger.Warn("Failed to read job record", "job_id", id, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mem, ok := s.records[id]
	if disk != nil && (!ok || disk.UpdatedAt.After(mem.UpdatedAt)) {
		s.records[id] = disk
		return disk.Clone(), true
	}
	if !ok {
		return nil, false
	}
	return mem.Clone(), true
}

// List returns copies of all records, newest first.
func (s *Store) List() []*domain.JobRecord {
	s.mu.RLock()
	out := make([]*domain.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// Pending returns copies of records that have not reached a terminal state,
// oldest first.
func (s *Store) Pending() []*domain.JobRecord {
	all := s.List()
	pending := make([]*domain.JobRecord, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].Status.IsTerminal() {
			pending = append(pending, all[i])
		}
	}
	return pending
}

// Sweep deletes terminal records older than maxAge and terminal records
// beyond the maxCount most recent, oldest first. A zero bound is disabled.
// Sweeps are serialized across processes with a file lock; if another
// process is sweeping, Sweep returns immediately.
func (s *Store) Sweep(maxAge time.Duration, maxCount int) (int, error) {
	lock := NewFileLock(filepath.Join(s.dir, SweepLockFilename))
	acquired, err := lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !acquired {
		s.logger.Info("Job sweep skipped, another process holds the lock")
		return 0, nil
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release sweep lock", "error", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*domain.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	sortNewestFirst(all)

	cutoff := s.now().Add(-maxAge)
	var errs []error
	removed := 0
	for i, rec := range all {
		if !rec.Status.IsTerminal() {
			continue
		}
		expired := maxAge > 0 && rec.CreatedAt.Before(cutoff)
		overflow := maxCount > 0 && i >= maxCount
		if !expired && !overflow {
			continue
		}
		if err := os.Remove(s.path(rec.ID)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		delete(s.records, rec.ID)
		removed++
	}

	if removed > 0 {
		s.logger.Info("Job sweep completed", "removed", removed, "kept", len(s.records))
	}
	return removed, errors.Join(errs...)
}

// persistLocked writes rec atomically with write-to-temp + rename.
// The caller must hold s.mu.
func (s *Store) persistLocked(rec *domain.JobRecord) {
	if err := s.write(rec); err != nil {
		s.failures.Add(1)
		s.logger.Error("Job record persistence failure", "job_id", rec.ID, "error", err)
	}
}

func (s *Store) write(rec *domain.JobRecord) error {
	path := s.path(rec.ID)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Op: "marshal", Path: path, Err: err}
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &domain.PersistenceError{Op: "mkdir", Path: s.dir, Err: err}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return &domain.PersistenceError{Op: "write", Path: tempPath, Err: err}
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return &domain.PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+RecordExt)
}

func sortNewestFirst(recs []*domain.JobRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
