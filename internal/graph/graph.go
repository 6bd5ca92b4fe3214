// Package graph provides the validated dependency graph a delegation's
// tasks are scheduled from.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"conclave/pkg/models"
)

// Validation errors. Any of these rejects the whole graph before a
// single task is dispatched; there is no partial execution of an
// invalid graph.
var (
	// ErrCycleDetected indicates a circular dependency in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrDuplicateTask indicates two tasks share an ID.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrUnknownDependency indicates a dependency references a task
	// that is not in the graph.
	ErrUnknownDependency = errors.New("dependency references unknown task")
)

// TaskState is the scheduling state of one task inside a graph.
type TaskState string

const (
	// StatePending means the task has not started.
	StatePending TaskState = "pending"
	// StateRunning means the task has been dispatched to a worker.
	StateRunning TaskState = "running"
	// StateSucceeded is terminal success.
	StateSucceeded TaskState = "succeeded"
	// StateFailed is terminal failure.
	StateFailed TaskState = "failed"
	// StateSkipped is terminal: a direct or transitive dependency
	// failed, so the task was never dispatched.
	StateSkipped TaskState = "skipped"
)

// Terminal returns true for states a task can never leave.
func (s TaskState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// Graph is a directed acyclic graph of task dependencies. Tasks are
// nodes; edges point at the tasks a node is blocked by.
type Graph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task.
	nodes map[string]models.Task
	// order records submission order for deterministic tie-breaks.
	order []string
	// edges maps task ID to the IDs it depends on.
	edges map[string][]string
	// state tracks each task's scheduling state.
	state map[string]TaskState
}

// Build validates the task list and constructs the graph. Duplicate
// IDs, dangling dependency references, and cycles are all rejected.
func Build(tasks []models.Task) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]models.Task, len(tasks)),
		edges: make(map[string][]string, len(tasks)),
		state: make(map[string]TaskState, len(tasks)),
	}

	for _, task := range tasks {
		if _, exists := g.nodes[task.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		g.nodes[task.ID] = task
		g.order = append(g.order, task.ID)
		g.state[task.ID] = StatePending
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.hasCycle() {
		return nil, ErrCycleDetected
	}
	return g, nil
}

// hasCycle runs DFS with coloring to find back edges. Only called
// during Build, before the graph is shared.
func (g *Graph) hasCycle() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns task IDs with every dependency before its
// dependents. Ties follow submission order.
func (g *Graph) TopologicalSort() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result
}

// Ready returns pending tasks whose dependencies have all succeeded,
// ordered by declared priority (highest first) and then submission
// order so scheduling stays deterministic.
func (g *Graph) Ready() []models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	submitted := make(map[string]int, len(g.order))
	for i, id := range g.order {
		submitted[id] = i
	}

	var ready []models.Task
	for _, id := range g.order {
		if g.state[id] != StatePending {
			continue
		}
		satisfied := true
		for _, depID := range g.edges[id] {
			if g.state[depID] != StateSucceeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, g.nodes[id])
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority.Rank() != ready[j].Priority.Rank() {
			return ready[i].Priority.Rank() > ready[j].Priority.Rank()
		}
		return submitted[ready[i].ID] < submitted[ready[j].ID]
	})
	return ready
}

// MarkRunning transitions a task to running.
func (g *Graph) MarkRunning(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state[id] == StatePending {
		g.state[id] = StateRunning
	}
}

// MarkSucceeded transitions a task to succeeded, unblocking dependents.
func (g *Graph) MarkSucceeded(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state[id] = StateSucceeded
}

// MarkFailed transitions a task to failed and marks every direct and
// transitive dependent skipped. Returns the skipped IDs in submission
// order. Skipped tasks are never dispatched; independent branches are
// unaffected.
func (g *Graph) MarkFailed(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state[id] = StateFailed

	skipped := make(map[string]bool)
	var mark func(failedID string)
	mark = func(failedID string) {
		for _, depID := range g.dependentsLocked(failedID) {
			if g.state[depID].Terminal() || skipped[depID] {
				continue
			}
			g.state[depID] = StateSkipped
			skipped[depID] = true
			mark(depID)
		}
	}
	mark(id)

	var out []string
	for _, tid := range g.order {
		if skipped[tid] {
			out = append(out, tid)
		}
	}
	return out
}

// dependentsLocked returns the IDs that depend on the given task.
// Caller must hold the lock.
func (g *Graph) dependentsLocked(id string) []string {
	var dependents []string
	for _, tid := range g.order {
		for _, depID := range g.edges[tid] {
			if depID == id {
				dependents = append(dependents, tid)
				break
			}
		}
	}
	return dependents
}

// State returns the scheduling state of a task.
func (g *Graph) State(id string) TaskState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state[id]
}

// Task returns the task for an ID.
func (g *Graph) Task(id string) (models.Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.nodes[id]
	return t, ok
}

// Size returns the number of tasks in the graph.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Done returns true once every task is in a terminal state.
func (g *Graph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		if !g.state[id].Terminal() {
			return false
		}
	}
	return true
}
