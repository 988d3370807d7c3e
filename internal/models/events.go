package models

// EventKind is the closed set of progress event types pushed to UI clients.
// Free-form event names are deliberately not supported: a typo in an event
// name must fail to compile, not silently vanish.
type EventKind string

const (
	EventFetchProgress EventKind = "fetch_progress"
	EventFetchDone     EventKind = "fetch_done"
	EventSyncProgress  EventKind = "sync_progress"
	EventSyncDone      EventKind = "sync_done"
)

// ProgressEvent is one progress update. Processed counts are monotonically
// non-decreasing within a single fetch or sync pass.
type ProgressEvent struct {
	Kind      EventKind `json:"kind"`
	Source    Source    `json:"source,omitempty"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
}
