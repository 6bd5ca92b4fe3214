package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"conclave/internal/graph"
	"conclave/internal/worker"
	"conclave/pkg/models"
)

func testPlan(workers ...models.WorkerInfo) models.DelegationPlan {
	return models.DelegationPlan{
		Strategy: models.StrategyParallel,
		Workers:  workers,
	}
}

func fastConfig() Config {
	return Config{MaxConcurrent: 5, RetryDelay: time.Millisecond}
}

// countingRecorder collects audit calls for assertions.
type countingRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *countingRecorder) RecordInteraction(sessionID, agentID, action, result string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, action)
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestExecuteResultsInInputOrder(t *testing.T) {
	d := worker.NewFakeDispatcher()
	e := New(d, nil, fastConfig())

	tasks := []models.Task{
		{ID: "c", DependsOn: []string{"a", "b"}},
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	results, err := e.Execute(context.Background(), "", testPlan(models.WorkerInfo{ID: "w1"}), tasks)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	// Input order, not execution order.
	for i, want := range []string{"c", "a", "b"} {
		if results[i].TaskID != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].TaskID, want)
		}
		if !results[i].Success {
			t.Errorf("task %s failed: %s", want, results[i].Error)
		}
	}

	// Dependencies executed before dependents.
	w, _ := d.Get("w1")
	executed := w.Executed()
	pos := make(map[string]int, len(executed))
	for i, id := range executed {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("execution order %v violates dependencies", executed)
	}
}

func TestExecuteRejectsInvalidGraph(t *testing.T) {
	e := New(worker.NewFakeDispatcher(), nil, fastConfig())

	tasks := []models.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	_, err := e.Execute(context.Background(), "", testPlan(models.WorkerInfo{ID: "w1"}), tasks)

	var verr *GraphValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected GraphValidationError, got %v", err)
	}
	if !errors.Is(err, graph.ErrCycleDetected) {
		t.Errorf("expected wrapped cycle error, got %v", err)
	}
}

func TestExecuteUpstreamFailureSkipsDependents(t *testing.T) {
	d := worker.NewFakeDispatcher()
	d.Add(worker.NewFakeWorker("w1").Fail("build", "compile error"))
	e := New(d, nil, fastConfig())

	tasks := []models.Task{
		{ID: "build"},
		{ID: "test", DependsOn: []string{"build"}},
		{ID: "deploy", DependsOn: []string{"test"}},
		{ID: "docs"},
	}
	results, err := e.Execute(context.Background(), "", testPlan(models.WorkerInfo{ID: "w1"}), tasks)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	byID := make(map[string]models.ExecutionResult, len(results))
	for _, r := range results {
		byID[r.TaskID] = r
	}

	if byID["build"].Success || byID["build"].Error != "compile error" {
		t.Errorf("build = %+v", byID["build"])
	}
	for _, id := range []string{"test", "deploy"} {
		r := byID[id]
		if r.Success || r.Error != models.ErrUpstreamFailure {
			t.Errorf("%s = %+v, want upstream-failure skip", id, r)
		}
	}
	// The independent branch still ran.
	if !byID["docs"].Success {
		t.Errorf("docs = %+v, want success", byID["docs"])
	}

	// Skipped tasks were never dispatched.
	w, _ := d.Get("w1")
	for _, id := range w.Executed() {
		if id == "test" || id == "deploy" {
			t.Errorf("skipped task %s was dispatched", id)
		}
	}
}

func TestExecuteRetriesWithBackoff(t *testing.T) {
	d := worker.NewFakeDispatcher()
	d.Add(worker.NewFakeWorker("w1").Fail("flaky", "still broken"))
	e := New(d, nil, fastConfig())

	tasks := []models.Task{{ID: "flaky", MaxRetries: 2}}
	results, err := e.Execute(context.Background(), "", testPlan(models.WorkerInfo{ID: "w1"}), tasks)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	r := results[0]
	if r.Success {
		t.Error("expected failure after exhausting retries")
	}
	if r.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", r.Attempts)
	}
	w, _ := d.Get("w1")
	if got := len(w.Executed()); got != 3 {
		t.Errorf("dispatches = %d, want 3", got)
	}
}

func TestExecuteCapabilityAssignment(t *testing.T) {
	d := worker.NewFakeDispatcher()
	e := New(d, nil, fastConfig())

	plan := testPlan(
		models.WorkerInfo{ID: "analyst", Capabilities: []string{"analysis"}},
		models.WorkerInfo{ID: "builder", Capabilities: []string{"build"}},
	)
	tasks := []models.Task{
		{ID: "t1", RequiredCapability: "analysis"},
		{ID: "t2", RequiredCapability: "build"},
	}
	results, err := e.Execute(context.Background(), "", plan, tasks)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results[0].WorkerID != "analyst" {
		t.Errorf("t1 ran on %s, want analyst", results[0].WorkerID)
	}
	if results[1].WorkerID != "builder" {
		t.Errorf("t2 ran on %s, want builder", results[1].WorkerID)
	}
}

func TestExecuteUnmatchedCapabilityFallsBack(t *testing.T) {
	d := worker.NewFakeDispatcher()
	e := New(d, nil, fastConfig())

	plan := models.DelegationPlan{
		Strategy:      models.StrategyOrchestrator,
		CoordinatorID: "coord",
		Workers: []models.WorkerInfo{
			{ID: "analyst", Capabilities: []string{"analysis"}},
			{ID: "coord", Capabilities: []string{"coordination"}},
		},
	}
	tasks := []models.Task{{ID: "t1", RequiredCapability: "alchemy"}}
	results, err := e.Execute(context.Background(), "", plan, tasks)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results[0].WorkerID != "coord" {
		t.Errorf("ran on %s, want coordinator fallback", results[0].WorkerID)
	}
}

func TestExecuteTaskTimeout(t *testing.T) {
	d := worker.NewFakeDispatcher()
	d.Add(worker.NewFakeWorker("w1").SetLatency(time.Minute))

	cfg := fastConfig()
	cfg.TaskTimeout = 10 * time.Millisecond
	e := New(d, nil, cfg)

	results, err := e.Execute(context.Background(), "", testPlan(models.WorkerInfo{ID: "w1"}), []models.Task{{ID: "slow"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	r := results[0]
	if r.Success {
		t.Error("expected timeout failure")
	}
	if !strings.Contains(r.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("error = %q, want deadline exceeded", r.Error)
	}
}

// gaugedWorker tracks peak in-flight executions across instances.
type gauge struct {
	mu        sync.Mutex
	cur, peak int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()
}

func (g *gauge) exit() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

type gaugedWorker struct {
	id string
	g  *gauge
}

func (w *gaugedWorker) ID() string { return w.id }

func (w *gaugedWorker) Execute(ctx context.Context, task models.Task) (worker.Result, error) {
	w.g.enter()
	defer w.g.exit()
	time.Sleep(5 * time.Millisecond)
	return worker.Result{Success: true}, nil
}

type gaugedDispatcher struct {
	g *gauge
}

func (d *gaugedDispatcher) Worker(info models.WorkerInfo) worker.Worker {
	return &gaugedWorker{id: info.ID, g: d.g}
}

func TestExecuteConcurrencyLimit(t *testing.T) {
	g := &gauge{}
	cfg := fastConfig()
	cfg.MaxConcurrent = 2
	e := New(&gaugedDispatcher{g: g}, nil, cfg)

	var tasks []models.Task
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, models.Task{ID: id})
	}
	if _, err := e.Execute(context.Background(), "", testPlan(models.WorkerInfo{ID: "w1"}), tasks); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if g.peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", g.peak)
	}
}

func TestExecuteRecordsInteractions(t *testing.T) {
	d := worker.NewFakeDispatcher()
	rec := &countingRecorder{}
	e := New(d, rec, fastConfig())

	tasks := []models.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	if _, err := e.Execute(context.Background(), "s1", testPlan(models.WorkerInfo{ID: "w1"}), tasks); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("recorded = %d, want one entry per task", rec.count())
	}
}

func TestExecuteEmptyTaskList(t *testing.T) {
	e := New(worker.NewFakeDispatcher(), nil, fastConfig())
	results, err := e.Execute(context.Background(), "", testPlan(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want none", results)
	}
}

func TestExecuteEmitsEvents(t *testing.T) {
	d := worker.NewFakeDispatcher()
	d.Add(worker.NewFakeWorker("w1").Fail("build", "boom"))

	var mu sync.Mutex
	events := make(map[string]int)
	cfg := fastConfig()
	cfg.OnTaskEvent = func(event, taskID, workerID string) {
		mu.Lock()
		events[event]++
		mu.Unlock()
	}
	e := New(d, nil, cfg)

	tasks := []models.Task{
		{ID: "build"},
		{ID: "test", DependsOn: []string{"build"}},
		{ID: "docs"},
	}
	if _, err := e.Execute(context.Background(), "", testPlan(models.WorkerInfo{ID: "w1"}), tasks); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if events[EventTaskStarted] != 2 {
		t.Errorf("started = %d, want 2 (skipped task never starts)", events[EventTaskStarted])
	}
	if events[EventTaskCompleted] != 1 || events[EventTaskFailed] != 1 || events[EventTaskSkipped] != 1 {
		t.Errorf("events = %v", events)
	}
}
