// Package snapshot persists pre-mutation copies of CMS entries.
//
// Each snapshot is one JSON file named {contentTypeUid}_{entryUid}_{epochMillis}.json
// under the snapshots directory. Files are written once and never updated;
// only Sweep deletes them.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/replace"
)

const (
	// FileExt is the extension of snapshot files
	FileExt = ".json"

	// maxIDAttempts bounds the search for a free id when snapshots of the
	// same entry are taken within the same millisecond.
	maxIDAttempts = 1000
)

var (
	// ErrInvalidID indicates a snapshot id that cannot name a file in the store
	ErrInvalidID = errors.New("invalid snapshot id")

	// ErrInvalidKey indicates an empty content type or entry uid
	ErrInvalidKey = errors.New("content type uid and entry uid are required")
)

// Key identifies the entry a snapshot belongs to.
type Key struct {
	ContentTypeUID string
	EntryUID       string
}

// Store is a write-once snapshot file store.
type Store struct {
	dir      string
	index    *Index
	logger   *slog.Logger
	now      func() time.Time
	failures atomic.Int64
}

// NewStore creates a store rooted at dir. index may be nil, in which case
// List falls back to scanning the directory.
func NewStore(dir string, index *Index, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		index:  index,
		logger: logger,
		now:    time.Now,
	}
}

// Dir returns the snapshots directory.
func (s *Store) Dir() string {
	return s.dir
}

// PersistenceFailures returns the number of failed snapshot writes.
func (s *Store) PersistenceFailures() int64 {
	return s.failures.Load()
}

// Save writes a deep copy of doc as a new snapshot and returns its id.
// A failed write is logged, counted and returned as a *domain.PersistenceError.
func (s *Store) Save(ctx context.Context, key Key, doc any, rule *domain.ReplacementRule) (string, error) {
	if key.ContentTypeUID == "" || key.EntryUID == "" ||
		strings.ContainsAny(key.ContentTypeUID+key.EntryUID, `/\`) {
		return "", ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	created := s.now().UTC()
	snap := domain.Snapshot{
		ContentTypeUID: key.ContentTypeUID,
		EntryUID:       key.EntryUID,
		Data:           replace.Clone(doc),
		CreatedAt:      created,
	}
	if rule != nil {
		r := *rule
		snap.Rule = &r
	}
	if v, ok := domain.EntryVersion(doc); ok {
		snap.Version = v
	}

	id, err := s.writeOnce(&snap)
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("Snapshot persistence failure",
			"content_type_uid", key.ContentTypeUID, "entry_uid", key.EntryUID, "error", err)
		return "", err
	}

	if s.index != nil {
		indexDoc := domain.SnapshotDocument{
			ID:             id,
			ContentTypeUID: key.ContentTypeUID,
			EntryUID:       key.EntryUID,
			CreatedAt:      snap.CreatedAt,
		}
		if err := s.index.Add(indexDoc); err != nil {
			s.logger.Warn("Failed to index snapshot", "snapshot_id", id, "error", err)
		}
	}

	s.logger.Debug("Snapshot saved", "snapshot_id", id)
	return id, nil
}

// writeOnce writes snap under a fresh id. The file is written to a temp path
// and hard-linked into place, so an existing snapshot is never overwritten.
func (s *Store) writeOnce(snap *domain.Snapshot) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", &domain.PersistenceError{Op: "mkdir", Path: s.dir, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return "", &domain.PersistenceError{Op: "create", Path: s.dir, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	millis := snap.CreatedAt.UnixMilli()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := FormatID(snap.ContentTypeUID, snap.EntryUID, millis)
		snap.ID = id
		snap.CreatedAt = time.UnixMilli(millis).UTC()

		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			_ = tmp.Close()
			return "", &domain.PersistenceError{Op: "marshal", Path: id, Err: err}
		}
		if err := writeTemp(tmp, data); err != nil {
			_ = tmp.Close()
			return "", &domain.PersistenceError{Op: "write", Path: tmpPath, Err: err}
		}

		path := s.path(id)
		err = os.Link(tmpPath, path)
		if err == nil {
			_ = tmp.Close()
			return id, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			_ = tmp.Close()
			return "", &domain.PersistenceError{Op: "link", Path: path, Err: err}
		}
		millis++
	}

	_ = tmp.Close()
	return "", &domain.PersistenceError{
		Op:   "allocate",
		Path: s.dir,
		Err:  fmt.Errorf("no free snapshot id after %d attempts", maxIDAttempts),
	}
}

func writeTemp(f *os.File, data []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// Load reads a snapshot. It returns nil and no error when the snapshot does not exist.
func (s *Store) Load(id string) (*domain.Snapshot, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// List returns snapshot ids for an entry, newest first. Empty arguments
// match anything; limit <= 0 means no limit.
func (s *Store) List(contentTypeUID, entryUID string, limit int) ([]string, error) {
	if s.index != nil {
		ids, err := s.index.Search(contentTypeUID, entryUID, limit)
		if err == nil {
			return ids, nil
		}
		s.logger.Warn("Snapshot index search failed, scanning directory", "error", err)
	}

	files, err := s.scan()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for _, f := range files {
		if !matchesKey(f.id, contentTypeUID, entryUID) {
			continue
		}
		if contentTypeUID != "" || entryUID != "" {
			ok, err := s.hasKey(f.id, contentTypeUID, entryUID)
			if err != nil {
				s.logger.Warn("Skipping unreadable snapshot", "snapshot_id", f.id, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		ids = append(ids, f.id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// Sweep deletes snapshots older than maxAge and all but the maxCount newest.
// A zero maxAge or maxCount disables that bound. It returns the number of
// snapshots removed.
func (s *Store) Sweep(maxAge time.Duration, maxCount int) (int, error) {
	files, err := s.scan()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-maxAge)
	var removed []string
	var errs []error
	for i, f := range files {
		expired := maxAge > 0 && f.created.Before(cutoff)
		overflow := maxCount > 0 && i >= maxCount
		if !expired && !overflow {
			continue
		}
		if err := os.Remove(s.path(f.id)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, f.id)
	}

	if s.index != nil && len(removed) > 0 {
		if err := s.index.Delete(removed...); err != nil {
			s.logger.Warn("Failed to remove swept snapshots from index", "error", err)
		}
	}

	if len(removed) > 0 {
		s.logger.Info("Snapshot sweep completed", "removed", len(removed), "kept", len(files)-len(removed))
	}
	return len(removed), errors.Join(errs...)
}

type snapshotFile struct {
	id      string
	created time.Time
}

// scan lists snapshot files, newest first.
func (s *Store) scan() ([]snapshotFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	files := make([]snapshotFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, FileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, FileExt)
		millis, ok := parseMillis(id)
		if !ok {
			continue
		}
		files = append(files, snapshotFile{id: id, created: time.UnixMilli(millis)})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].created.Equal(files[j].created) {
			return files[i].id > files[j].id
		}
		return files[i].created.After(files[j].created)
	})
	return files, nil
}

// hasKey reports whether the stored snapshot belongs to the given key.
// Ids cannot be split unambiguously when uids contain underscores.
func (s *Store) hasKey(id, contentTypeUID, entryUID string) (bool, error) {
	snap, err := s.Load(id)
	if err != nil || snap == nil {
		return false, err
	}
	if contentTypeUID != "" && snap.ContentTypeUID != contentTypeUID {
		return false, nil
	}
	if entryUID != "" && snap.EntryUID != entryUID {
		return false, nil
	}
	return true, nil
}

// matchesKey is an id prefilter. Empty arguments match anything.
func matchesKey(id, contentTypeUID, entryUID string) bool {
	switch {
	case contentTypeUID != "" && entryUID != "":
		return strings.HasPrefix(id, contentTypeUID+"_"+entryUID+"_")
	case contentTypeUID != "":
		return strings.HasPrefix(id, contentTypeUID+"_")
	case entryUID != "":
		return strings.Contains(id, "_"+entryUID+"_")
	default:
		return true
	}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+FileExt)
}

// FormatID returns the snapshot id for an entry at the given epoch millis.
func FormatID(contentTypeUID, entryUID string, millis int64) string {
	return contentTypeUID + "_" + entryUID + "_" + strconv.FormatInt(millis, 10)
}

// parseMillis extracts the timestamp suffix of a snapshot id.
func parseMillis(id string) (int64, bool) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return 0, false
	}
	millis, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return millis, true
}

func validateID(id string) error {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if _, ok := parseMillis(id); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Close closes the lookup index, if any.
func (s *Store) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}
