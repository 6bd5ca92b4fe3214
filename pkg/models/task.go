package models

import "time"

// TaskPriority represents the urgency of a task within a graph.
type TaskPriority string

const (
	// PriorityLow is for tasks that can be deferred behind everything else.
	PriorityLow TaskPriority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium TaskPriority = "medium"
	// PriorityHigh is for tasks that should be scheduled ahead of their peers.
	PriorityHigh TaskPriority = "high"
	// PriorityCritical is for tasks that must run as soon as they are unblocked.
	PriorityCritical TaskPriority = "critical"
)

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the priority as an ordinal for sorting.
// Higher values schedule first. Unknown priorities rank as medium.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Task represents one unit of work inside a delegation.
// Tasks are transient: they exist only for the duration of one
// Execute call and are never persisted by the core.
type Task struct {
	// ID is the unique identifier for this task within its graph.
	ID string `json:"id"`
	// Description is what the worker is asked to do.
	Description string `json:"description"`
	// RequiredCapability names the worker capability needed to run this task.
	RequiredCapability string `json:"required_capability"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Priority breaks ties between tasks that become runnable together.
	Priority TaskPriority `json:"priority,omitempty"`
	// MaxRetries is how many times a failed execution is retried
	// before the failure is propagated to dependents.
	MaxRetries int `json:"max_retries,omitempty"`
}

// ExecutionResult is the per-task outcome of a graph execution.
// The result slice returned by the executor is ordered identically to
// the submitted task list, not in completion order.
type ExecutionResult struct {
	// TaskID is the ID of the task this result belongs to.
	TaskID string `json:"task_id"`
	// WorkerID is the worker the task was dispatched to, if any.
	WorkerID string `json:"worker_id,omitempty"`
	// Success indicates whether the task completed successfully.
	Success bool `json:"success"`
	// Output is the worker's output, passed through uninterpreted.
	Output string `json:"output,omitempty"`
	// Error describes the failure, if any. Tasks skipped because a
	// dependency failed carry ErrUpstreamFailure here.
	Error string `json:"error,omitempty"`
	// Duration is how long the task ran, zero for skipped tasks.
	Duration time.Duration `json:"duration_ms"`
	// Attempts is the number of execution attempts made, zero for
	// skipped tasks.
	Attempts int `json:"attempts,omitempty"`
}

// ErrUpstreamFailure is the Error value reported for tasks that were
// never dispatched because a direct or transitive dependency failed.
const ErrUpstreamFailure = "upstream-failure"
