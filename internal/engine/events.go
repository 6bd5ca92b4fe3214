package engine

import "time"

// EventType identifies the kind of engine event.
type EventType string

const (
	// EventDelegationPlanned fires when a plan is produced for a
	// work request.
	EventDelegationPlanned EventType = "delegation_planned"
	// EventTaskStarted fires when a task is dispatched to a worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted fires when a task succeeds.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed fires when a task exhausts its retries.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped fires when a task is skipped because an
	// upstream dependency failed.
	EventTaskSkipped EventType = "task_skipped"
	// EventSessionReaped fires when the idle reaper removes a
	// session.
	EventSessionReaped EventType = "session_reaped"
)

// Event is one engine lifecycle notification.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// SessionID is the related session, if applicable.
	SessionID string
	// TaskID is the related task, if applicable.
	TaskID string
	// WorkerID is the related worker, if applicable.
	WorkerID string
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
