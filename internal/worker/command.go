package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"conclave/pkg/models"
)

// taskEnvelope is the JSON document a command worker receives on stdin.
type taskEnvelope struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Capability  string `json:"capability"`
	Priority    string `json:"priority,omitempty"`
	WorkerID    string `json:"worker_id"`
}

// resultEnvelope is the JSON document a command worker prints on stdout.
type resultEnvelope struct {
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// CommandWorker dispatches tasks to an out-of-process capability: it
// runs a configured executable, writes the task envelope to its stdin,
// and parses the result envelope from its stdout. This is the
// production Worker implementation; tests use FakeWorker.
type CommandWorker struct {
	id      string
	command string
	args    []string
	workDir string
	runner  CommandRunner
}

// NewCommandWorker creates a worker that shells out to the given
// command. A nil runner defaults to os/exec dispatch.
func NewCommandWorker(id, command string, args []string, workDir string, runner CommandRunner) *CommandWorker {
	if runner == nil {
		runner = NewRunner()
	}
	return &CommandWorker{
		id:      id,
		command: command,
		args:    args,
		workDir: workDir,
		runner:  runner,
	}
}

// ID returns the worker's registry identity.
func (w *CommandWorker) ID() string {
	return w.id
}

// Execute runs the task through the configured command. The command's
// own failure report comes back as an unsuccessful Result; a dispatch
// or decode problem is returned as an error.
func (w *CommandWorker) Execute(ctx context.Context, task models.Task) (Result, error) {
	input, err := json.Marshal(taskEnvelope{
		TaskID:      task.ID,
		Description: task.Description,
		Capability:  task.RequiredCapability,
		Priority:    string(task.Priority),
		WorkerID:    w.id,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode task %s: %w", task.ID, err)
	}

	start := time.Now()
	output, runErr := w.runner.RunInput(ctx, w.workDir, input, w.command, w.args...)
	elapsed := time.Since(start)

	if runErr != nil {
		// A non-zero exit with a parseable result envelope is still a
		// worker-reported failure, not a dispatch error.
		if res, ok := decodeResult(output); ok {
			res.Duration = durationOr(res.Duration, elapsed)
			return res, nil
		}
		return Result{}, fmt.Errorf("dispatch task %s to worker %s: %w", task.ID, w.id, runErr)
	}

	res, ok := decodeResult(output)
	if !ok {
		return Result{}, fmt.Errorf("worker %s returned unparseable result for task %s", w.id, task.ID)
	}
	res.Duration = durationOr(res.Duration, elapsed)
	return res, nil
}

// decodeResult parses a result envelope from worker output.
func decodeResult(output []byte) (Result, bool) {
	var env resultEnvelope
	if err := json.Unmarshal(output, &env); err != nil {
		return Result{}, false
	}
	return Result{
		Success:  env.Success,
		Output:   env.Output,
		Error:    env.Error,
		Duration: time.Duration(env.DurationMs) * time.Millisecond,
	}, true
}

// durationOr returns the worker-reported duration when present,
// otherwise the measured wall-clock time.
func durationOr(reported, measured time.Duration) time.Duration {
	if reported > 0 {
		return reported
	}
	return measured
}

var _ Worker = (*CommandWorker)(nil)

// CommandDispatcher builds CommandWorkers for registry identities, all
// sharing one configured command.
type CommandDispatcher struct {
	command string
	args    []string
	workDir string
	runner  CommandRunner
}

// NewCommandDispatcher creates a dispatcher that runs every worker
// through the given command. The worker identity travels in the task
// envelope so one host process can serve many logical workers.
func NewCommandDispatcher(command string, args []string, workDir string, runner CommandRunner) *CommandDispatcher {
	return &CommandDispatcher{command: command, args: args, workDir: workDir, runner: runner}
}

// Worker returns a CommandWorker for the given identity.
func (d *CommandDispatcher) Worker(info models.WorkerInfo) Worker {
	return NewCommandWorker(info.ID, d.command, d.args, d.workDir, d.runner)
}

var _ Dispatcher = (*CommandDispatcher)(nil)
