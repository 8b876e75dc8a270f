package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/replace"
)

var (
	// ErrFakeNotFound is returned by FakeCMS for unknown entries
	ErrFakeNotFound = errors.New("fake cms: entry not found")

	// ErrFakeVersionConflict is returned by FakeCMS when _version is stale
	ErrFakeVersionConflict = errors.New("fake cms: version conflict")
)

// FakeUpdate records one UpdateEntry call.
type FakeUpdate struct {
	ContentTypeUID string
	EntryUID       string
	Entry          map[string]any
}

// FakeCMS is an in-memory EntryClient for tests. It enforces _version
// optimistic locking like the real CMS.
type FakeCMS struct {
	mu           sync.Mutex
	entries      map[string]map[string]any
	fetchErrors  map[string]error
	updateErrors map[string]error
	fetches      []string
	updates      []FakeUpdate

	// OnUpdate, if set, is called at the start of every UpdateEntry.
	OnUpdate func(contentTypeUID, entryUID string, entry map[string]any)
}

// NewFakeCMS creates an empty fake.
func NewFakeCMS() *FakeCMS {
	return &FakeCMS{
		entries:      make(map[string]map[string]any),
		fetchErrors:  make(map[string]error),
		updateErrors: make(map[string]error),
	}
}

func fakeKey(contentTypeUID, entryUID string) string {
	return contentTypeUID + "/" + entryUID
}

// Put stores an entry.
func (f *FakeCMS) Put(contentTypeUID, entryUID string, entry map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[fakeKey(contentTypeUID, entryUID)] = replace.Clone(entry).(map[string]any)
}

// Entry returns a copy of a stored entry, or nil.
func (f *FakeCMS) Entry(contentTypeUID, entryUID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[fakeKey(contentTypeUID, entryUID)]
	if !ok {
		return nil
	}
	return replace.Clone(e).(map[string]any)
}

// FailFetch makes FetchEntryDraft fail for an entry uid.
func (f *FakeCMS) FailFetch(entryUID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrors[entryUID] = err
}

// FailUpdate makes UpdateEntry fail for an entry uid.
func (f *FakeCMS) FailUpdate(entryUID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErrors[entryUID] = err
}

// Fetches returns the entry uids fetched so far, in order.
func (f *FakeCMS) Fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetches...)
}

// Updates returns the UpdateEntry calls so far, in order.
func (f *FakeCMS) Updates() []FakeUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeUpdate(nil), f.updates...)
}

// FetchEntryDraft implements EntryClient.
func (f *FakeCMS) FetchEntryDraft(_ context.Context, contentTypeUID, entryUID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, entryUID)
	if err := f.fetchErrors[entryUID]; err != nil {
		return nil, err
	}
	e, ok := f.entries[fakeKey(contentTypeUID, entryUID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrFakeNotFound, contentTypeUID, entryUID)
	}
	return replace.Clone(e).(map[string]any), nil
}

// UpdateEntry implements EntryClient.
func (f *FakeCMS) UpdateEntry(_ context.Context, contentTypeUID, entryUID string, entry map[string]any) (*domain.EntryRef, error) {
	if f.OnUpdate != nil {
		f.OnUpdate(contentTypeUID, entryUID, entry)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, FakeUpdate{
		ContentTypeUID: contentTypeUID,
		EntryUID:       entryUID,
		Entry:          replace.Clone(entry).(map[string]any),
	})
	if err := f.updateErrors[entryUID]; err != nil {
		return nil, err
	}

	key := fakeKey(contentTypeUID, entryUID)
	current, ok := f.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrFakeNotFound, contentTypeUID, entryUID)
	}
	currentVersion, _ := domain.EntryVersion(current)
	if sent, ok := domain.EntryVersion(entry); ok && sent != currentVersion {
		return nil, ErrFakeVersionConflict
	}

	stored := replace.Clone(entry).(map[string]any)
	stored[domain.FieldVersion] = float64(currentVersion + 1)
	f.entries[key] = stored
	return &domain.EntryRef{UID: entryUID, Version: currentVersion + 1}, nil
}
