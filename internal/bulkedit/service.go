// Package bulkedit exposes the replacement engine to MCP clients: previews
// and single-entry applies against the CMS, batch submission and job and
// snapshot lookups.
package bulkedit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/jobs"
	"github.com/sha1n/mcp-replace-server/internal/replace"
	"github.com/sha1n/mcp-replace-server/internal/snapshot"
)

const (
	// DefaultMinConfidence is the confidence below which suggestions are skipped
	DefaultMinConfidence = 0.5

	// DefaultSnapshotLimit caps list_snapshots results
	DefaultSnapshotLimit = 20
)

var (
	// ErrNothingToApply indicates an apply request with neither a rule nor suggestions
	ErrNothingToApply = errors.New("either a rule or suggestions are required")

	// ErrAmbiguousApply indicates an apply request with both a rule and suggestions
	ErrAmbiguousApply = errors.New("a rule and suggestions cannot be combined")

	// ErrMissingEntry indicates an empty content type or entry uid
	ErrMissingEntry = errors.New("content type uid and entry uid are required")
)

// SnapshotStore saves and looks up entry snapshots.
type SnapshotStore interface {
	jobs.SnapshotSaver
	Load(id string) (*domain.Snapshot, error)
	List(contentTypeUID, entryUID string, limit int) ([]string, error)
}

// Options configures a Service.
type Options struct {
	CMS       jobs.EntryClient
	Snapshots SnapshotStore
	Jobs      *jobs.Orchestrator

	// MaxPatternLength bounds rule.find for previews and applies.
	MaxPatternLength int

	// RequireSnapshot fails an apply when its snapshot cannot be written.
	RequireSnapshot bool

	Logger *slog.Logger
}

// Service runs bulk-edit operations.
type Service struct {
	cms              jobs.EntryClient
	snapshots        SnapshotStore
	jobs             *jobs.Orchestrator
	maxPatternLength int
	requireSnapshot  bool
	logger           *slog.Logger
}

// NewService creates a service. CMS and Jobs may be nil, in which case the
// operations that need them return an error.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLen := opts.MaxPatternLength
	if maxLen <= 0 {
		maxLen = replace.DefaultMaxPatternLength
	}
	return &Service{
		cms:              opts.CMS,
		snapshots:        opts.Snapshots,
		jobs:             opts.Jobs,
		maxPatternLength: maxLen,
		requireSnapshot:  opts.RequireSnapshot,
		logger:           logger,
	}
}

// ApplyRequest applies one rule, or a list of suggestions, to one entry.
type ApplyRequest struct {
	ContentTypeUID string
	EntryUID       string
	Rule           *domain.ReplacementRule
	Suggestions    []replace.Suggestion
	MinConfidence  float64
	DryRun         bool
}

// ApplyOutcome is the result of an apply, plus what was written.
type ApplyOutcome struct {
	*replace.ApplyResult
	SnapshotID string `json:"snapshotId,omitempty"`
	Committed  bool   `json:"committed"`
	Version    int    `json:"version,omitempty"`
}

// SnapshotInfo describes a snapshot without its entry data.
type SnapshotInfo struct {
	ID             string                  `json:"id"`
	ContentTypeUID string                  `json:"contentTypeUid"`
	EntryUID       string                  `json:"entryUid"`
	CreatedAt      time.Time               `json:"createdAt"`
	Version        int                     `json:"version"`
	Rule           *domain.ReplacementRule `json:"rule,omitempty"`
}

// PreviewDocument previews rule against a document supplied by the caller.
func (s *Service) PreviewDocument(doc any, rule domain.ReplacementRule) (*replace.Preview, error) {
	if _, err := replace.MatcherForRule(rule, s.maxPatternLength); err != nil {
		return nil, err
	}
	return replace.PreviewReplace(doc, rule)
}

// PreviewEntry fetches the entry draft and previews rule against it.
func (s *Service) PreviewEntry(ctx context.Context, contentTypeUID, entryUID string, rule domain.ReplacementRule) (*replace.Preview, error) {
	if _, err := replace.MatcherForRule(rule, s.maxPatternLength); err != nil {
		return nil, err
	}
	doc, err := s.fetch(ctx, contentTypeUID, entryUID)
	if err != nil {
		return nil, err
	}
	return replace.PreviewReplace(doc, rule)
}

// Apply fetches the entry, applies the request and, unless nothing matched
// or DryRun is set, snapshots the original and commits the result.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyOutcome, error) {
	if req.Rule == nil && len(req.Suggestions) == 0 {
		return nil, ErrNothingToApply
	}
	if req.Rule != nil && len(req.Suggestions) > 0 {
		return nil, ErrAmbiguousApply
	}
	if req.Rule != nil {
		if _, err := replace.MatcherForRule(*req.Rule, s.maxPatternLength); err != nil {
			return nil, err
		}
	}

	doc, err := s.fetch(ctx, req.ContentTypeUID, req.EntryUID)
	if err != nil {
		return nil, err
	}

	var result *replace.ApplyResult
	if req.Rule != nil {
		result, err = replace.ApplyRule(doc, *req.Rule)
		if err != nil {
			return nil, err
		}
	} else {
		minConfidence := req.MinConfidence
		if minConfidence <= 0 {
			minConfidence = DefaultMinConfidence
		}
		result = replace.ApplySuggestions(doc, req.Suggestions, minConfidence)
	}

	outcome := &ApplyOutcome{ApplyResult: result}
	if result.TotalReplaced == 0 || req.DryRun {
		return outcome, nil
	}

	updated, ok := result.After.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("apply produced %T, want an object", result.After)
	}

	if s.snapshots != nil {
		id, err := s.snapshots.Save(ctx, snapshot.Key{ContentTypeUID: req.ContentTypeUID, EntryUID: req.EntryUID}, doc, req.Rule)
		if err != nil {
			if s.requireSnapshot {
				return nil, fmt.Errorf("snapshot failed, entry not updated: %w", err)
			}
			s.logger.Warn("Committing without snapshot", "content_type_uid", req.ContentTypeUID, "entry_uid", req.EntryUID, "error", err)
		}
		outcome.SnapshotID = id
	}

	ref, err := s.cms.UpdateEntry(ctx, req.ContentTypeUID, req.EntryUID, updated)
	if err != nil {
		return nil, fmt.Errorf("update failed: %w", err)
	}
	outcome.Committed = true
	if ref != nil {
		outcome.Version = ref.Version
	}

	s.logger.Info("Entry updated",
		"content_type_uid", req.ContentTypeUID,
		"entry_uid", req.EntryUID,
		"replaced", result.TotalReplaced,
		"snapshot_id", outcome.SnapshotID,
	)
	return outcome, nil
}

// Submit queues a batch job.
func (s *Service) Submit(ctx context.Context, payload domain.BatchPayload) (*domain.JobRecord, error) {
	if s.jobs == nil {
		return nil, errors.New("batch jobs are not available")
	}
	return s.jobs.Submit(ctx, payload)
}

// Job returns the current state of a batch job.
func (s *Service) Job(id string) (*domain.JobRecord, error) {
	if s.jobs == nil {
		return nil, errors.New("batch jobs are not available")
	}
	return s.jobs.Get(id)
}

// Snapshots lists snapshots of an entry, newest first. Empty uids match any.
func (s *Service) Snapshots(contentTypeUID, entryUID string, limit int) ([]SnapshotInfo, error) {
	if s.snapshots == nil {
		return nil, errors.New("snapshots are not available")
	}
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}

	ids, err := s.snapshots.List(contentTypeUID, entryUID, limit)
	if err != nil {
		return nil, err
	}

	infos := make([]SnapshotInfo, 0, len(ids))
	for _, id := range ids {
		snap, err := s.snapshots.Load(id)
		if err != nil {
			s.logger.Warn("Skipping unreadable snapshot", "snapshot_id", id, "error", err)
			continue
		}
		if snap == nil {
			continue
		}
		infos = append(infos, SnapshotInfo{
			ID:             snap.ID,
			ContentTypeUID: snap.ContentTypeUID,
			EntryUID:       snap.EntryUID,
			CreatedAt:      snap.CreatedAt,
			Version:        snap.Version,
			Rule:           snap.Rule,
		})
	}
	return infos, nil
}

func (s *Service) fetch(ctx context.Context, contentTypeUID, entryUID string) (map[string]any, error) {
	if contentTypeUID == "" || entryUID == "" {
		return nil, ErrMissingEntry
	}
	if s.cms == nil {
		return nil, errors.New("cms client is not configured")
	}
	doc, err := s.cms.FetchEntryDraft(ctx, contentTypeUID, entryUID)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return doc, nil
}
