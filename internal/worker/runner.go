package worker

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandRunner abstracts subprocess execution so command dispatch can
// be mocked in tests.
type CommandRunner interface {
	// RunInput executes a command, feeding input to stdin, and returns
	// combined stdout/stderr output.
	RunInput(ctx context.Context, workDir string, input []byte, name string, args ...string) (output []byte, err error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// RunInput executes a command with the given stdin and returns combined
// stdout/stderr output.
func (r *ExecRunner) RunInput(ctx context.Context, workDir string, input []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	return cmd.CombinedOutput()
}

var _ CommandRunner = (*ExecRunner)(nil)
