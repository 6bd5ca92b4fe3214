// Package engine wires the scorer, strategist, executor, session
// manager, and conflict resolver into one facade. One Engine serves
// the whole process; construct it with New and release it with
// Shutdown.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"conclave/internal/conflict"
	"conclave/internal/executor"
	"conclave/internal/registry"
	"conclave/internal/session"
	"conclave/internal/strategy"
	"conclave/internal/worker"
	"conclave/pkg/models"
)

// Outcome classifies the result of an executed delegation.
type Outcome string

const (
	// OutcomeRejected means the request never ran: the task graph
	// failed validation or the plan was degraded.
	OutcomeRejected Outcome = "rejected"
	// OutcomePartial means the graph ran but some tasks failed or
	// were skipped.
	OutcomePartial Outcome = "partial"
	// OutcomeSucceeded means every task succeeded.
	OutcomeSucceeded Outcome = "succeeded"
)

// DelegationResult is the structured outcome of ExecuteDelegation.
// Callers always get one of the three outcome states, never a bare
// error for expected failure modes.
type DelegationResult struct {
	Outcome Outcome                  `json:"outcome"`
	Results []models.ExecutionResult `json:"results,omitempty"`
	// Reason explains a rejected outcome.
	Reason string `json:"reason,omitempty"`
}

// Config carries the engine's tunables. Zero values fall back to
// package defaults.
type Config struct {
	MaxConcurrentTasks int
	TaskTimeout        time.Duration
	RetryDelay         time.Duration
	SessionIdleTimeout time.Duration
	SessionReapEvery   time.Duration
	DefaultPolicy      conflict.Policy
	EventBuffer        int
	LogPath            string
}

// Options supplies the engine's collaborators. Registry and Dispatcher
// are required; Store may be nil; Closers are shut down with the
// engine, after its own components.
type Options struct {
	Registry   *registry.Registry
	Dispatcher worker.Dispatcher
	Store      session.HistoryStore
	Closers    []io.Closer
}

// Engine is the delegation facade.
type Engine struct {
	registry   *registry.Registry
	strategist *strategy.Strategist
	resolver   *conflict.Resolver
	sessions   *session.Manager
	executor   *executor.Executor
	emitter    *EventEmitter
	logger     *DebugLogger
	closers    []io.Closer
	stopOnce   sync.Once
}

// New builds an engine and starts its background components (session
// reaper, debug logger).
func New(cfg Config, opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("engine: dispatcher is required")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 100
	}

	logger, err := NewDebugLogger(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	setPackageLogger(logger)

	emitter := NewEventEmitter(cfg.EventBuffer)
	resolver := conflict.NewResolver(opts.Registry)

	sessions := session.NewManager(session.Config{
		IdleTimeout:   cfg.SessionIdleTimeout,
		ReapInterval:  cfg.SessionReapEvery,
		DefaultPolicy: cfg.DefaultPolicy,
		OnReap: func(id string) {
			debugLog("session %s reaped after idle timeout", id)
			emitter.Emit(Event{Type: EventSessionReaped, SessionID: id, Timestamp: time.Now()})
		},
	}, resolver, opts.Store)

	exec := executor.New(opts.Dispatcher, sessions, executor.Config{
		MaxConcurrent: cfg.MaxConcurrentTasks,
		TaskTimeout:   cfg.TaskTimeout,
		RetryDelay:    cfg.RetryDelay,
		OnTaskEvent: func(event, taskID, workerID string) {
			emitter.Emit(Event{
				Type:      EventType(event),
				TaskID:    taskID,
				WorkerID:  workerID,
				Timestamp: time.Now(),
			})
		},
	})

	return &Engine{
		registry:   opts.Registry,
		strategist: strategy.New(opts.Registry),
		resolver:   resolver,
		sessions:   sessions,
		executor:   exec,
		emitter:    emitter,
		logger:     logger,
		closers:    opts.Closers,
	}, nil
}

// Events exposes the engine's event stream.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// AnalyzeDelegation scores a work request and produces a delegation
// plan. A capability nobody covers yields a degraded plan, not an
// error.
func (e *Engine) AnalyzeDelegation(req models.WorkRequest) models.DelegationPlan {
	plan := e.strategist.Analyze(req)
	debugLog("analyzed %q: score=%d strategy=%s workers=%v degraded=%v",
		req.Description, plan.Complexity.Value, plan.Strategy, plan.WorkerIDs(), plan.Degraded)
	e.emitter.Emit(Event{
		Type:      EventDelegationPlanned,
		Message:   string(plan.Strategy),
		Timestamp: time.Now(),
	})
	return plan
}

// ExecuteDelegation registers the delegation under key in the session,
// runs the tasks, and completes the record. The session is created if
// it does not exist.
func (e *Engine) ExecuteDelegation(ctx context.Context, sessionID, key string, plan models.DelegationPlan, tasks []models.Task) (DelegationResult, error) {
	if plan.Degraded {
		return DelegationResult{Outcome: OutcomeRejected, Reason: plan.Reason}, nil
	}

	e.sessions.Initialize(sessionID)
	if err := e.sessions.RegisterDelegation(sessionID, key, plan); err != nil {
		return DelegationResult{}, err
	}

	results, err := e.executor.Execute(ctx, sessionID, plan, tasks)
	if err != nil {
		var verr *executor.GraphValidationError
		if errors.As(err, &verr) {
			return DelegationResult{Outcome: OutcomeRejected, Reason: verr.Error()}, nil
		}
		return DelegationResult{}, err
	}

	outcome := classify(results)
	if cerr := e.sessions.CompleteDelegation(sessionID, key, string(outcome)); cerr != nil {
		debugLog("complete delegation %s/%s: %v", sessionID, key, cerr)
	}
	debugLog("delegation %s/%s finished: %s (%d tasks)", sessionID, key, outcome, len(results))
	return DelegationResult{Outcome: outcome, Results: results}, nil
}

// classify maps task results to an overall outcome.
func classify(results []models.ExecutionResult) Outcome {
	for _, r := range results {
		if !r.Success {
			return OutcomePartial
		}
	}
	return OutcomeSucceeded
}

// InitializeSession creates the session if needed.
func (e *Engine) InitializeSession(id string) session.Status {
	return e.sessions.Initialize(id)
}

// ShareContext appends a shared-context contribution.
func (e *Engine) ShareContext(sessionID, key string, value models.Value, contributorID string) error {
	return e.sessions.ShareContext(sessionID, key, value, contributorID)
}

// GetSharedContext reads a shared-context value under the default
// conflict policy.
func (e *Engine) GetSharedContext(sessionID, key string) (models.Value, error) {
	return e.sessions.GetSharedContext(sessionID, key)
}

// ResolveConflict reads a shared-context value under an explicit
// policy.
func (e *Engine) ResolveConflict(sessionID, key string, policy conflict.Policy) (models.Value, error) {
	return e.sessions.ResolveConflict(sessionID, key, policy)
}

// RecordInteraction appends an audit entry; storage failures never
// reach the caller.
func (e *Engine) RecordInteraction(sessionID, agentID, action, result string, success bool, duration time.Duration) {
	e.sessions.RecordInteraction(sessionID, agentID, action, result, success, duration)
}

// SessionStatus reports a session's status.
func (e *Engine) SessionStatus(id string) (session.Status, error) {
	return e.sessions.GetStatus(id)
}

// CleanupSession marks a session inactive and evicts its state.
func (e *Engine) CleanupSession(id string) {
	e.sessions.Cleanup(id)
}

// Shutdown stops background components and closes attached resources.
// Safe to call more than once; the engine is unusable afterwards.
func (e *Engine) Shutdown() error {
	var errs []error
	e.stopOnce.Do(func() {
		e.sessions.Close()
		e.emitter.Close()
		setPackageLogger(nil)

		if err := e.logger.Close(); err != nil {
			errs = append(errs, err)
		}
		for _, c := range e.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
