package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FieldVersion is the optimistic-lock version field of a CMS entry.
const FieldVersion = "_version"

// EntryVersion returns the _version carried by an entry document.
func EntryVersion(doc any) (int, bool) {
	m, ok := doc.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m[FieldVersion].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	default:
		return 0, false
	}
}

// PersistenceError is a failed write of a job record or snapshot file.
// Stores log and count these; they never abort a running job.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// EntryRef identifies a committed entry revision.
type EntryRef struct {
	UID     string `json:"uid"`
	Version int    `json:"version"`
}
