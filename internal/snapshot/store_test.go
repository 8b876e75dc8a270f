package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sha1n/mcp-replace-server/internal/domain"
)

// closeStore is a helper to close a store in tests and fail on error
func closeStore(t *testing.T, s *Store) {
	t.Helper()
	if err := s.Close(); err != nil {
		t.Errorf("Failed to close store: %v", err)
	}
}

func fixedClock(start time.Time) func() time.Time {
	return func() time.Time { return start }
}

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = fixedClock(now)

	doc := map[string]any{"title": "Gemini", "_version": float64(7), "tags": []any{"a"}}
	rule := &domain.ReplacementRule{Find: "Gemini", Replace: "Claude"}

	id, err := store.Save(context.Background(), Key{ContentTypeUID: "page", EntryUID: "blt1"}, doc, rule)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	wantID := FormatID("page", "blt1", now.UnixMilli())
	if id != wantID {
		t.Errorf("id = %q, want %q", id, wantID)
	}
	if _, err := os.Stat(filepath.Join(dir, wantID+".json")); err != nil {
		t.Errorf("Snapshot file should exist: %v", err)
	}

	// Mutating the source after Save must not affect the snapshot
	doc["title"] = "changed"
	rule.Find = "changed"

	snap, err := store.Load(id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Expected snapshot, got nil")
	}
	if snap.ContentTypeUID != "page" || snap.EntryUID != "blt1" || snap.Version != 7 {
		t.Errorf("unexpected metadata: %+v", snap)
	}
	if !snap.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", snap.CreatedAt, now)
	}
	if snap.Rule == nil || snap.Rule.Find != "Gemini" {
		t.Errorf("Rule = %+v", snap.Rule)
	}
	want := map[string]any{"title": "Gemini", "_version": float64(7), "tags": []any{"a"}}
	if !reflect.DeepEqual(snap.Data, want) {
		t.Errorf("Data = %v, want %v", snap.Data, want)
	}
}

func TestStore_SaveNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil, nil)
	now := time.UnixMilli(1_700_000_000_000)
	store.now = fixedClock(now)
	key := Key{ContentTypeUID: "page", EntryUID: "blt1"}

	first, err := store.Save(context.Background(), key, map[string]any{"n": float64(1)}, nil)
	if err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second, err := store.Save(context.Background(), key, map[string]any{"n": float64(2)}, nil)
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	if first == second {
		t.Fatalf("Expected distinct ids, both %q", first)
	}
	if second != FormatID("page", "blt1", now.UnixMilli()+1) {
		t.Errorf("second id = %q", second)
	}

	snap, err := store.Load(first)
	if err != nil || snap == nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.Data.(map[string]any)["n"] != float64(1) {
		t.Errorf("first snapshot was overwritten: %v", snap.Data)
	}

	// No temp files are left behind
	matches, _ := filepath.Glob(filepath.Join(dir, ".snapshot-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestStore_SaveInvalidKey(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)
	for _, key := range []Key{{}, {ContentTypeUID: "page"}, {ContentTypeUID: "../x", EntryUID: "a"}} {
		if _, err := store.Save(context.Background(), key, map[string]any{}, nil); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Save(%+v) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestStore_SaveFailureIsCounted(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(filepath.Join(blocker, "snapshots"), nil, nil)

	_, err := store.Save(context.Background(), Key{ContentTypeUID: "page", EntryUID: "a"}, map[string]any{}, nil)

	var perr *domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected PersistenceError, got %v", err)
	}
	if store.PersistenceFailures() != 1 {
		t.Errorf("PersistenceFailures() = %d, want 1", store.PersistenceFailures())
	}
}

func TestStore_SaveCanceledContext(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Save(ctx, Key{ContentTypeUID: "page", EntryUID: "a"}, map[string]any{}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStore_LoadMissingAndInvalid(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)

	snap, err := store.Load("page_blt1_123")
	if err != nil || snap != nil {
		t.Errorf("Load(missing) = (%v, %v), want (nil, nil)", snap, err)
	}

	for _, id := range []string{"", "../page_a_1", "a/b_1", ".index_1", "no-millis"} {
		if _, err := store.Load(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Load(%q) error = %v, want ErrInvalidID", id, err)
		}
	}
}

func saveAt(t *testing.T, s *Store, at time.Time, ct, entry string) string {
	t.Helper()
	s.now = fixedClock(at)
	id, err := s.Save(context.Background(), Key{ContentTypeUID: ct, EntryUID: entry}, map[string]any{}, nil)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return id
}

func TestStore_ListWithoutIndex(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)
	base := time.UnixMilli(1_700_000_000_000)

	old := saveAt(t, store, base, "page", "a")
	newer := saveAt(t, store, base.Add(time.Second), "page", "a")
	other := saveAt(t, store, base.Add(2*time.Second), "page", "b")
	blog := saveAt(t, store, base.Add(3*time.Second), "blog", "a")

	tests := []struct {
		name  string
		ct    string
		entry string
		limit int
		want  []string
	}{
		{"entry", "page", "a", 0, []string{newer, old}},
		{"content type", "page", "", 0, []string{other, newer, old}},
		{"entry uid only", "", "a", 0, []string{blog, newer, old}},
		{"limit", "page", "a", 1, []string{newer}},
		{"all", "", "", 0, []string{blog, other, newer, old}},
		{"none", "page", "zzz", 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(tt.ct, tt.entry, tt.limit)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("List() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_ListWithoutIndexUnderscoreUIDs(t *testing.T) {
	store := NewStore(t.TempDir(), nil, nil)
	base := time.UnixMilli(1_700_000_000_000)

	blog := saveAt(t, store, base, "blog", "post_1")
	blogPost := saveAt(t, store, base.Add(time.Second), "blog_post", "1")
	post := saveAt(t, store, base.Add(2*time.Second), "blog_post", "x")

	tests := []struct {
		name  string
		ct    string
		entry string
		want  []string
	}{
		{"content type is a prefix of another", "blog", "", []string{blog}},
		{"longer content type", "blog_post", "", []string{post, blogPost}},
		{"same id prefix different key", "blog", "post_1", []string{blog}},
		{"entry uid suffix of another", "", "1", []string{blogPost}},
		{"entry uid with underscore", "", "post_1", []string{blog}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(tt.ct, tt.entry, 0)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("List(%q, %q) = %v, want %v", tt.ct, tt.entry, got, tt.want)
			}
		})
	}
}

func TestStore_ListWithIndex(t *testing.T) {
	dir := t.TempDir()
	index, err := OpenIndex(filepath.Join(dir, IndexDirName))
	if err != nil {
		t.Fatalf("OpenIndex failed: %v", err)
	}
	store := NewStore(dir, index, nil)
	defer closeStore(t, store)
	base := time.UnixMilli(1_700_000_000_000)

	old := saveAt(t, store, base, "page", "a")
	newer := saveAt(t, store, base.Add(time.Minute), "page", "a")
	_ = saveAt(t, store, base.Add(2*time.Minute), "page", "b")

	got, err := store.List("page", "a", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{newer, old}; !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	count, err := index.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("DocCount() = %d, want 3", count)
	}
}

func TestStore_Sweep(t *testing.T) {
	dir := t.TempDir()
	index, err := OpenIndex(filepath.Join(dir, IndexDirName))
	if err != nil {
		t.Fatalf("OpenIndex failed: %v", err)
	}
	store := NewStore(dir, index, nil)
	defer closeStore(t, store)

	now := time.UnixMilli(1_700_000_000_000)
	expired := saveAt(t, store, now.Add(-48*time.Hour), "page", "a")
	oldest := saveAt(t, store, now.Add(-3*time.Hour), "page", "a")
	middle := saveAt(t, store, now.Add(-2*time.Hour), "page", "a")
	newest := saveAt(t, store, now.Add(-1*time.Hour), "page", "a")
	store.now = fixedClock(now)

	removed, err := store.Sweep(24*time.Hour, 2)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	for _, id := range []string{expired, oldest} {
		if snap, _ := store.Load(id); snap != nil {
			t.Errorf("snapshot %s should have been swept", id)
		}
	}
	got, err := store.List("page", "a", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{newest, middle}; !reflect.DeepEqual(got, want) {
		t.Errorf("List() after sweep = %v, want %v", got, want)
	}
}

func TestStore_SweepMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"), nil, nil)
	removed, err := store.Sweep(time.Hour, 1)
	if err != nil || removed != 0 {
		t.Errorf("Sweep() = (%d, %v), want (0, nil)", removed, err)
	}
}
