package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

// Job states. Completed and failed are terminal.
const (
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Entry processing stages, recorded on EntryError.
const (
	StageFetch    = "fetch"
	StageSnapshot = "snapshot"
	StageRewrite  = "rewrite"
	StageCommit   = "commit"
)

// BatchPayload is a batch submission.
type BatchPayload struct {
	ContentTypeUID string           `json:"contentTypeUid" validate:"required"`
	EntryUIDs      []string         `json:"entryUids" validate:"required,min=1,unique,dive,required"`
	Rule           *ReplacementRule `json:"rule" validate:"required"`
	DryRun         bool             `json:"dryRun,omitempty"`
}

// EntryResult records a successfully processed entry.
type EntryResult struct {
	EntryUID      string `json:"entryUid"`
	ReplacedCount int    `json:"replacedCount"`
	SnapshotID    string `json:"snapshotId,omitempty"`
	Committed     bool   `json:"committed"`
	Version       int    `json:"version,omitempty"`
}

// EntryError records a failure isolated to one entry.
type EntryError struct {
	EntryUID string `json:"entryUid"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %s: %s failed: %s", e.EntryUID, e.Stage, e.Message)
}

// JobResult accumulates per-entry outcomes while a job runs.
type JobResult struct {
	Entries       []EntryResult `json:"entries"`
	TotalReplaced int           `json:"totalReplaced"`
	Processed     int           `json:"processed"`
	Total         int           `json:"total"`
	DryRun        bool          `json:"dryRun"`
}

// JobRecord is the durable state of one batch submission.
// It is persisted as {id}.json under the jobs directory.
type JobRecord struct {
	ID          string       `json:"id"`
	Status      JobStatus    `json:"status"`
	Payload     BatchPayload `json:"payload"`
	Progress    int          `json:"progress"`
	Result      *JobResult   `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	EntryErrors []EntryError `json:"entryErrors"`
	Backend     string       `json:"backend,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand out of a store.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload.EntryUIDs = append([]string(nil), r.Payload.EntryUIDs...)
	if r.Payload.Rule != nil {
		rule := *r.Payload.Rule
		c.Payload.Rule = &rule
	}
	if r.Result != nil {
		res := *r.Result
		res.Entries = append([]EntryResult(nil), r.Result.Entries...)
		c.Result = &res
	}
	c.EntryErrors = append([]EntryError{}, r.EntryErrors...)
	return &c
}

// Attempted returns the entry uids that already have a recorded outcome.
func (r *JobRecord) Attempted() map[string]bool {
	done := make(map[string]bool)
	if r.Result != nil {
		for _, e := range r.Result.Entries {
			done[e.EntryUID] = true
		}
	}
	for _, e := range r.EntryErrors {
		done[e.EntryUID] = true
	}
	return done
}
