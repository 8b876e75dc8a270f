package domain

import "time"

// Snapshot is a persisted pre-mutation copy of one CMS entry, written
// immediately before the entry is committed. Dry runs and entries without
// matches are never committed and so get no snapshot.
// Snapshots are write-once; retention sweeps are the only deleters.
type Snapshot struct {
	// ID has the format "{contentTypeUid}_{entryUid}_{epochMillis}" and is
	// also the file name (without .json) under the snapshots directory.
	ID             string           `json:"id"`
	ContentTypeUID string           `json:"contentTypeUid"`
	EntryUID       string           `json:"entryUid"`
	Data           any              `json:"data"`
	CreatedAt      time.Time        `json:"createdAt"`
	Rule           *ReplacementRule `json:"rule,omitempty"`

	// Version is the entry's _version at the time of the snapshot, 0 if unknown.
	Version int `json:"version"`
}

// SnapshotDocument is the metadata stored in the snapshot lookup index.
// Entry data is not indexed.
type SnapshotDocument struct {
	ID             string    `json:"id"`
	ContentTypeUID string    `json:"content_type_uid"`
	EntryUID       string    `json:"entry_uid"`
	CreatedAt      time.Time `json:"created_at"`
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	SnapshotFieldID          = "id"
	SnapshotFieldContentType = "content_type_uid"
	SnapshotFieldEntry       = "entry_uid"
	SnapshotFieldCreatedAt   = "created_at"
)
