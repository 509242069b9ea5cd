// Package exec runs the target command of a coverage run.
package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// ExecutionResult holds the outcome of a command execution.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor defines an interface for running external commands.
// This allows for mocking in tests.
type Executor interface {
	Run(ctx context.Context, command string, args ...string) (*ExecutionResult, error)
}

// Options configures a CommandExecutor.
type Options struct {
	Dir string
	// Env is appended to the current process environment.
	Env []string
	// Stdout and Stderr, when set, receive the output as it is produced in
	// addition to the captured copy.
	Stdout io.Writer
	Stderr io.Writer
}

// CommandExecutor runs commands on the host system.
type CommandExecutor struct {
	opts Options
}

// NewCommandExecutor creates a new CommandExecutor.
func NewCommandExecutor(opts Options) *CommandExecutor {
	return &CommandExecutor{opts: opts}
}

// Run executes the command and returns its result. A non-zero exit code is
// reported in the result, not as an error.
func (e *CommandExecutor) Run(ctx context.Context, command string, args ...string) (*ExecutionResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = e.opts.Dir
	if len(e.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), e.opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, e.opts.Stdout)
	cmd.Stderr = tee(&stderr, e.opts.Stderr)

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}

	return &ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}, nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
