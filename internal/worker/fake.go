package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conclave/pkg/models"
)

// FakeWorker is the in-memory Worker used in tests. Outcomes can be
// scripted per task ID; unscripted tasks succeed with a canned output.
type FakeWorker struct {
	id string

	mu sync.Mutex
	// scripted maps task ID to its forced result.
	scripted map[string]Result
	// latency is applied to every execution.
	latency time.Duration
	// executed records task IDs in execution order.
	executed []string
}

// NewFakeWorker creates a fake worker with the given identity.
func NewFakeWorker(id string) *FakeWorker {
	return &FakeWorker{
		id:       id,
		scripted: make(map[string]Result),
	}
}

// ID returns the worker's identity.
func (w *FakeWorker) ID() string {
	return w.id
}

// Script forces the result for a task ID.
func (w *FakeWorker) Script(taskID string, result Result) *FakeWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scripted[taskID] = result
	return w
}

// Fail scripts a failure for a task ID.
func (w *FakeWorker) Fail(taskID, reason string) *FakeWorker {
	return w.Script(taskID, Result{Success: false, Error: reason})
}

// SetLatency makes every execution take at least d.
func (w *FakeWorker) SetLatency(d time.Duration) *FakeWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latency = d
	return w
}

// Executed returns the task IDs this worker ran, in order.
func (w *FakeWorker) Executed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.executed))
	copy(out, w.executed)
	return out
}

// Execute returns the scripted result for the task, or a generic
// success. Honors context cancellation during simulated latency.
func (w *FakeWorker) Execute(ctx context.Context, task models.Task) (Result, error) {
	w.mu.Lock()
	latency := w.latency
	w.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.executed = append(w.executed, task.ID)

	if res, ok := w.scripted[task.ID]; ok {
		if res.Duration == 0 {
			res.Duration = latency
		}
		return res, nil
	}
	return Result{
		Success:  true,
		Output:   fmt.Sprintf("%s completed %s", w.id, task.ID),
		Duration: latency,
	}, nil
}

var _ Worker = (*FakeWorker)(nil)

// FakeDispatcher hands out FakeWorkers by identity, creating them on
// demand so tests can pre-script specific workers.
type FakeDispatcher struct {
	mu      sync.Mutex
	workers map[string]*FakeWorker
}

// NewFakeDispatcher creates an empty fake dispatcher.
func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{workers: make(map[string]*FakeWorker)}
}

// Add registers a pre-scripted fake worker.
func (d *FakeDispatcher) Add(w *FakeWorker) *FakeDispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[w.ID()] = w
	return d
}

// Get returns the fake worker for an identity, if present.
func (d *FakeDispatcher) Get(id string) (*FakeWorker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[id]
	return w, ok
}

// Worker returns the fake for the identity, creating one if needed.
func (d *FakeDispatcher) Worker(info models.WorkerInfo) Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workers[info.ID]; ok {
		return w
	}
	w := NewFakeWorker(info.ID)
	d.workers[info.ID] = w
	return w
}

var _ Dispatcher = (*FakeDispatcher)(nil)
