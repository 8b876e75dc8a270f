package jobs

// EventKind identifies a backend lifecycle event.
type EventKind string

const (
	// EventBackendSelected is emitted once, when the execution backend is chosen.
	EventBackendSelected EventKind = "backend_selected"

	// EventDemotedToFallback is emitted when a job is handed to the in-memory
	// backend because the selected backend could not accept it.
	EventDemotedToFallback EventKind = "demoted_to_fallback"
)

// BackendEvent reports a backend selection or a per-job demotion.
type BackendEvent struct {
	Kind EventKind `json:"kind"`
	// JobID is set for demotions.
	JobID string `json:"jobId,omitempty"`
	// Backend is the backend that ends up running the work.
	Backend string `json:"backend"`
	// Err is the failure that caused a fallback, if any.
	Err error `json:"-"`
}

// EventHandler receives backend events. It is called synchronously and must not block.
type EventHandler func(BackendEvent)
