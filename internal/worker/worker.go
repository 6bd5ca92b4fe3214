// Package worker defines the contract for executing one task and the
// dispatch implementations behind it. Workers are capability-tagged and
// supplied by the host environment; the core never interprets their
// output beyond pass-through.
package worker

import (
	"context"
	"time"

	"conclave/pkg/models"
)

// Result is what a worker reports for one task execution.
type Result struct {
	// Success indicates whether the worker completed the task.
	Success bool `json:"success"`
	// Output is the worker's output, uninterpreted by the core.
	Output string `json:"output,omitempty"`
	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
	// Duration is how long the worker reported taking.
	Duration time.Duration `json:"duration_ms"`
}

// Worker executes a single task. Implementations may be local or
// remote; the core is agnostic.
type Worker interface {
	// ID returns the worker's registry identity.
	ID() string
	// Execute runs one task. A worker-reported failure comes back as
	// Result.Success == false with a nil error; the error return is
	// reserved for dispatch failures (the worker could not be reached
	// or did not produce a parseable result).
	Execute(ctx context.Context, task models.Task) (Result, error)
}

// Dispatcher resolves a worker implementation for a registry identity.
// The engine uses it to turn a delegation plan's worker IDs into
// executable workers.
type Dispatcher interface {
	// Worker returns the executor for the given worker identity.
	Worker(info models.WorkerInfo) Worker
}
