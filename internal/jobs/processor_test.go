package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/replace"
	"github.com/sha1n/mcp-replace-server/internal/snapshot"
)

type failingSnapshots struct{}

func (failingSnapshots) Save(context.Context, snapshot.Key, any, *domain.ReplacementRule) (string, error) {
	return "", &domain.PersistenceError{Op: "write", Path: "x", Err: errors.New("disk full")}
}

type countingSnapshots struct{ saves int }

func (c *countingSnapshots) Save(context.Context, snapshot.Key, any, *domain.ReplacementRule) (string, error) {
	c.saves++
	return "snap", nil
}

func mustRuleMatcher(t *testing.T, rule *domain.ReplacementRule) *replace.Matcher {
	t.Helper()
	m, err := replace.MatcherForRule(*rule, 0)
	if err != nil {
		t.Fatalf("MatcherForRule failed: %v", err)
	}
	return m
}

func TestProcessor_SnapshotFailurePolicy(t *testing.T) {
	rule := geminiRule()
	payload := domain.BatchPayload{ContentTypeUID: "page", EntryUIDs: []string{"a"}, Rule: rule}

	t.Run("best effort", func(t *testing.T) {
		cms := NewFakeCMS()
		seedEntries(cms, "a")
		p := NewProcessor(cms, failingSnapshots{}, ProcessorOptions{})

		res, entryErr := p.ProcessEntry(context.Background(), payload, mustRuleMatcher(t, rule), "a")
		if entryErr != nil {
			t.Fatalf("unexpected entry error %v", entryErr)
		}
		if !res.Committed || res.SnapshotID != "" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("required", func(t *testing.T) {
		cms := NewFakeCMS()
		seedEntries(cms, "a")
		p := NewProcessor(cms, failingSnapshots{}, ProcessorOptions{RequireSnapshot: true})

		_, entryErr := p.ProcessEntry(context.Background(), payload, mustRuleMatcher(t, rule), "a")
		if entryErr == nil || entryErr.Stage != domain.StageSnapshot {
			t.Fatalf("entry error = %v, want snapshot stage", entryErr)
		}
		if len(cms.Updates()) != 0 {
			t.Error("entry must not be committed without a snapshot")
		}
	})
}

func TestProcessor_SendsFetchedVersion(t *testing.T) {
	cms := NewFakeCMS()
	cms.Put("page", "a", map[string]any{"_version": float64(9), "title": "gemini"})
	rule := geminiRule()
	p := NewProcessor(cms, nil, ProcessorOptions{})

	res, entryErr := p.ProcessEntry(context.Background(),
		domain.BatchPayload{ContentTypeUID: "page", EntryUIDs: []string{"a"}, Rule: rule},
		mustRuleMatcher(t, rule), "a")
	if entryErr != nil {
		t.Fatalf("unexpected entry error %v", entryErr)
	}

	updates := cms.Updates()
	if len(updates) != 1 {
		t.Fatalf("Updates = %d, want 1", len(updates))
	}
	if v := updates[0].Entry["_version"]; v != float64(9) {
		t.Errorf("sent _version = %v, want 9", v)
	}
	if res.Version != 10 {
		t.Errorf("Version = %d, want 10", res.Version)
	}
}

func TestProcessor_UnknownEntryIsFetchError(t *testing.T) {
	rule := geminiRule()
	p := NewProcessor(NewFakeCMS(), nil, ProcessorOptions{})

	_, entryErr := p.ProcessEntry(context.Background(),
		domain.BatchPayload{ContentTypeUID: "page", EntryUIDs: []string{"zzz"}, Rule: rule},
		mustRuleMatcher(t, rule), "zzz")
	if entryErr == nil || entryErr.Stage != domain.StageFetch || entryErr.EntryUID != "zzz" {
		t.Errorf("entry error = %+v, want fetch stage for zzz", entryErr)
	}
}

func TestProcessor_SnapshotOnlyBeforeCommit(t *testing.T) {
	rule := geminiRule()

	tests := []struct {
		name      string
		entry     map[string]any
		dryRun    bool
		wantSaves int
	}{
		{"commit", map[string]any{"title": "gemini"}, false, 1},
		{"dry run", map[string]any{"title": "gemini"}, true, 0},
		{"no match", map[string]any{"title": "nothing here"}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cms := NewFakeCMS()
			cms.Put("page", "a", tt.entry)
			snaps := &countingSnapshots{}
			p := NewProcessor(cms, snaps, ProcessorOptions{RequireSnapshot: true})

			res, entryErr := p.ProcessEntry(context.Background(),
				domain.BatchPayload{ContentTypeUID: "page", EntryUIDs: []string{"a"}, Rule: rule, DryRun: tt.dryRun},
				mustRuleMatcher(t, rule), "a")
			if entryErr != nil {
				t.Fatalf("unexpected entry error %v", entryErr)
			}
			if snaps.saves != tt.wantSaves {
				t.Errorf("snapshot saves = %d, want %d", snaps.saves, tt.wantSaves)
			}
			if res.Committed != (tt.wantSaves == 1) {
				t.Errorf("Committed = %v, want %v", res.Committed, tt.wantSaves == 1)
			}
			if tt.wantSaves == 0 && res.SnapshotID != "" {
				t.Errorf("SnapshotID = %q, want empty", res.SnapshotID)
			}
		})
	}
}
