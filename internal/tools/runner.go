package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/logger"
	"github.com/gorkemkeskinkol/SpoofDPI-MacOS-Daemon/internal/metrics"
)

// DefaultCommandTimeout bounds every external command unless overridden.
const DefaultCommandTimeout = 15 * time.Second

// Runner executes external commands. Output is the combined stdout and
// stderr of the command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	RunWithInput(ctx context.Context, input string, name string, args ...string) (string, error)
}

// CommandError is returned when a command exits unsuccessfully. It keeps the
// command output for diagnostics.
type CommandError struct {
	Command string
	Args    []string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	cmd := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", cmd, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", cmd, e.Output, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from a command killed by its deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// ExecRunner runs commands with os/exec, each under its own timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates a runner with the given per-command timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ExecRunner{Timeout: timeout}
}

// WithTimeout returns a copy of the runner using a different timeout, for
// the few commands (package installs) that legitimately run long.
func (r *ExecRunner) WithTimeout(timeout time.Duration) *ExecRunner {
	return NewExecRunner(timeout)
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return r.run(ctx, nil, name, args...)
}

func (r *ExecRunner) RunWithInput(
	ctx context.Context,
	input string,
	name string,
	args ...string,
) (string, error) {
	return r.run(ctx, strings.NewReader(input), name, args...)
}

func (r *ExecRunner) run(
	ctx context.Context,
	stdin *strings.Reader,
	name string,
	args ...string,
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	output := strings.TrimSpace(out.String())

	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w after %s", ctx.Err(), r.Timeout)
	}

	logger.LogCommand(name, args, duration, err)
	metrics.RecordCommand(name, duration, err)

	if err != nil {
		return output, &CommandError{Command: name, Args: args, Output: output, Err: err}
	}
	return output, nil
}
