package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/replace"
	"github.com/sha1n/mcp-replace-server/internal/snapshot"
)

// EntryClient is the CMS boundary used to read and write entries.
type EntryClient interface {
	// FetchEntryDraft returns the latest draft of an entry.
	FetchEntryDraft(ctx context.Context, contentTypeUID, entryUID string) (map[string]any, error)
	// UpdateEntry writes an entry. A _version field in entry is sent as
	// the optimistic-lock token.
	UpdateEntry(ctx context.Context, contentTypeUID, entryUID string, entry map[string]any) (*domain.EntryRef, error)
}

// SnapshotSaver persists pre-mutation copies of entries.
type SnapshotSaver interface {
	Save(ctx context.Context, key snapshot.Key, doc any, rule *domain.ReplacementRule) (string, error)
}

// EntryProcessor handles one entry of a batch. Failures are returned as an
// EntryError and never abort the batch.
type EntryProcessor interface {
	ProcessEntry(ctx context.Context, payload domain.BatchPayload, m *replace.Matcher, entryUID string) (domain.EntryResult, *domain.EntryError)
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// RequireSnapshot turns a failed snapshot write into an entry error
	// instead of a logged warning, so the entry is not committed.
	RequireSnapshot bool
	Logger          *slog.Logger
}

// Processor is the default EntryProcessor: fetch, rewrite, snapshot, commit.
type Processor struct {
	client          EntryClient
	snapshots       SnapshotSaver
	requireSnapshot bool
	logger          *slog.Logger
}

// NewProcessor creates a processor. snapshots may be nil to disable snapshots.
func NewProcessor(client EntryClient, snapshots SnapshotSaver, opts ProcessorOptions) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		client:          client,
		snapshots:       snapshots,
		requireSnapshot: opts.RequireSnapshot,
		logger:          logger,
	}
}

// ProcessEntry implements EntryProcessor.
//
// The snapshot is written only when a commit will follow (matches found and
// not a dry run), and always before the commit call.
func (p *Processor) ProcessEntry(ctx context.Context, payload domain.BatchPayload, m *replace.Matcher, entryUID string) (domain.EntryResult, *domain.EntryError) {
	ct := payload.ContentTypeUID
	entryErr := func(stage string, err error) *domain.EntryError {
		return &domain.EntryError{EntryUID: entryUID, Stage: stage, Message: err.Error()}
	}

	doc, err := p.client.FetchEntryDraft(ctx, ct, entryUID)
	if err != nil {
		return domain.EntryResult{}, entryErr(domain.StageFetch, err)
	}

	updated, count, err := p.rewrite(doc, m, payload.Rule)
	if err != nil {
		return domain.EntryResult{}, entryErr(domain.StageRewrite, err)
	}

	result := domain.EntryResult{EntryUID: entryUID, ReplacedCount: count}
	// Nothing is committed, so nothing is snapshotted.
	if count == 0 || payload.DryRun {
		return result, nil
	}

	if p.snapshots != nil {
		id, err := p.snapshots.Save(ctx, snapshot.Key{ContentTypeUID: ct, EntryUID: entryUID}, doc, payload.Rule)
		if err != nil {
			if p.requireSnapshot {
				return domain.EntryResult{}, entryErr(domain.StageSnapshot, err)
			}
			p.logger.Warn("Committing without snapshot", "content_type_uid", ct, "entry_uid", entryUID, "error", err)
		}
		result.SnapshotID = id
	}

	ref, err := p.client.UpdateEntry(ctx, ct, entryUID, updated)
	if err != nil {
		return domain.EntryResult{}, entryErr(domain.StageCommit, err)
	}
	result.Committed = true
	if ref != nil {
		result.Version = ref.Version
	}
	return result, nil
}

// rewrite runs the walker, converting a panic on malformed input into an error.
func (p *Processor) rewrite(doc map[string]any, m *replace.Matcher, rule *domain.ReplacementRule) (out map[string]any, count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rewrite panicked: %v", r)
		}
	}()

	res := replace.Rewrite(doc, m, rule.Replace, replace.OptionsForRule(*rule))
	out, ok := res.Value.(map[string]any)
	if !ok {
		return nil, 0, fmt.Errorf("rewrite returned %T, want an object", res.Value)
	}
	return out, res.Count, nil
}
