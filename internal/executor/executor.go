// Package executor runs a delegation plan's task graph against
// workers, concurrently where dependencies allow, with deterministic
// ordering and failure isolation.
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"conclave/internal/graph"
	"conclave/internal/worker"
	"conclave/pkg/models"
)

const (
	// DefaultMaxConcurrent bounds how many tasks run at once.
	DefaultMaxConcurrent = 5
	// DefaultRetryDelay is the base delay between retry attempts.
	// Backoff is linear: delay * attempt.
	DefaultRetryDelay = time.Second
)

// GraphValidationError rejects an invalid task graph before any task
// is dispatched.
type GraphValidationError struct {
	Err error
}

func (e *GraphValidationError) Error() string {
	return fmt.Sprintf("invalid task graph: %v", e.Err)
}

func (e *GraphValidationError) Unwrap() error {
	return e.Err
}

// Recorder receives per-task audit entries. The session manager
// satisfies it; a nil recorder disables recording.
type Recorder interface {
	RecordInteraction(sessionID, agentID, action, result string, success bool, duration time.Duration)
}

// Task lifecycle events reported through Config.OnTaskEvent.
const (
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskSkipped   = "task_skipped"
)

// Config carries the executor's tunables. Zero values fall back to the
// package defaults.
type Config struct {
	MaxConcurrent int
	TaskTimeout   time.Duration
	RetryDelay    time.Duration

	// OnTaskEvent, when set, is called with each task lifecycle
	// transition.
	OnTaskEvent func(event, taskID, workerID string)
}

// Executor schedules task graphs onto workers supplied by a
// dispatcher.
type Executor struct {
	dispatcher    worker.Dispatcher
	recorder      Recorder
	maxConcurrent int64
	taskTimeout   time.Duration
	retryDelay    time.Duration
	onEvent       func(event, taskID, workerID string)
}

// New builds an executor. recorder may be nil.
func New(dispatcher worker.Dispatcher, recorder Recorder, cfg Config) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Executor{
		dispatcher:    dispatcher,
		recorder:      recorder,
		maxConcurrent: int64(cfg.MaxConcurrent),
		taskTimeout:   cfg.TaskTimeout,
		retryDelay:    cfg.RetryDelay,
		onEvent:       cfg.OnTaskEvent,
	}
}

// outcome is one finished task's result, reported back to the
// scheduling loop.
type outcome struct {
	taskID string
	result models.ExecutionResult
}

// Execute runs tasks under plan. Results come back in input order, one
// per task, regardless of execution order. The graph is validated
// wholesale before any dispatch; a validation failure returns a
// GraphValidationError and no results.
func (e *Executor) Execute(ctx context.Context, sessionID string, plan models.DelegationPlan, tasks []models.Task) ([]models.ExecutionResult, error) {
	g, err := graph.Build(tasks)
	if err != nil {
		return nil, &GraphValidationError{Err: err}
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	assignments := assignWorkers(plan, tasks)
	sem := semaphore.NewWeighted(e.maxConcurrent)
	results := make(map[string]models.ExecutionResult, len(tasks))
	outcomes := make(chan outcome)
	dispatched := make(map[string]bool, len(tasks))
	inflight := 0

	for {
		for _, task := range g.Ready() {
			if dispatched[task.ID] {
				continue
			}
			dispatched[task.ID] = true
			g.MarkRunning(task.ID)
			inflight++

			info := assignments[task.ID]
			e.emit(EventTaskStarted, task.ID, info.ID)
			go func(task models.Task, info models.WorkerInfo) {
				outcomes <- outcome{taskID: task.ID, result: e.runTask(ctx, sem, task, info)}
			}(task, info)
		}
		if inflight == 0 {
			break
		}

		out := <-outcomes
		inflight--
		results[out.taskID] = out.result
		e.record(sessionID, out.result)

		if out.result.Success {
			g.MarkSucceeded(out.taskID)
			e.emit(EventTaskCompleted, out.taskID, out.result.WorkerID)
			continue
		}
		e.emit(EventTaskFailed, out.taskID, out.result.WorkerID)
		for _, skippedID := range g.MarkFailed(out.taskID) {
			dispatched[skippedID] = true
			skipped := models.ExecutionResult{
				TaskID:  skippedID,
				Success: false,
				Error:   models.ErrUpstreamFailure,
			}
			results[skippedID] = skipped
			e.record(sessionID, skipped)
			e.emit(EventTaskSkipped, skippedID, "")
		}
	}

	ordered := make([]models.ExecutionResult, len(tasks))
	for i, task := range tasks {
		ordered[i] = results[task.ID]
	}
	return ordered, nil
}

// runTask executes one task with bounded concurrency, a per-attempt
// timeout, and linear retry backoff.
func (e *Executor) runTask(ctx context.Context, sem *semaphore.Weighted, task models.Task, info models.WorkerInfo) models.ExecutionResult {
	if err := sem.Acquire(ctx, 1); err != nil {
		return models.ExecutionResult{
			TaskID:   task.ID,
			WorkerID: info.ID,
			Success:  false,
			Error:    err.Error(),
			Attempts: 0,
		}
	}
	defer sem.Release(1)

	w := e.dispatcher.Worker(info)
	start := time.Now()
	var last worker.Result
	var lastErr error

	attempts := 0
	for {
		attempts++
		last, lastErr = e.attempt(ctx, w, task)
		if lastErr == nil && last.Success {
			break
		}
		if attempts > task.MaxRetries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(e.retryDelay * time.Duration(attempts)):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	res := models.ExecutionResult{
		TaskID:   task.ID,
		WorkerID: w.ID(),
		Success:  lastErr == nil && last.Success,
		Output:   last.Output,
		Error:    last.Error,
		Duration: last.Duration,
		Attempts: attempts,
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	return res
}

// attempt runs one execution attempt under the per-task timeout.
func (e *Executor) attempt(ctx context.Context, w worker.Worker, task models.Task) (worker.Result, error) {
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}
	return w.Execute(ctx, task)
}

// record forwards one result to the session audit log.
func (e *Executor) record(sessionID string, res models.ExecutionResult) {
	if e.recorder == nil || sessionID == "" {
		return
	}
	e.recorder.RecordInteraction(sessionID, res.WorkerID, "execute "+res.TaskID, res.Output, res.Success, res.Duration)
}

func (e *Executor) emit(event, taskID, workerID string) {
	if e.onEvent != nil {
		e.onEvent(event, taskID, workerID)
	}
}

// assignWorkers maps each task to a plan worker declaring its required
// capability. Candidates are considered in plan order so assignment is
// deterministic; a capability nobody declares falls back to the
// coordinator, then to the first plan worker.
func assignWorkers(plan models.DelegationPlan, tasks []models.Task) map[string]models.WorkerInfo {
	assignments := make(map[string]models.WorkerInfo, len(tasks))
	for _, task := range tasks {
		assignments[task.ID] = pickWorker(plan, task.RequiredCapability)
	}
	return assignments
}

func pickWorker(plan models.DelegationPlan, capability string) models.WorkerInfo {
	if capability != "" {
		for _, w := range plan.Workers {
			if w.HasCapability(capability) {
				return w
			}
		}
	}
	if plan.CoordinatorID != "" {
		for _, w := range plan.Workers {
			if w.ID == plan.CoordinatorID {
				return w
			}
		}
	}
	if len(plan.Workers) > 0 {
		return plan.Workers[0]
	}
	return models.WorkerInfo{}
}
