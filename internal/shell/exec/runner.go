// Package exec wraps external tool invocation behind a Runner interface so
// pipelines can be tested without spawning processes. Every invocation is
// bounded by a context deadline; a hung tool fails the operation instead of
// blocking it forever.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrCommandFailed = errors.New("command failed")
	ErrTimeout       = errors.New("command timed out")
)

// CommandError wraps a failed invocation with its captured stderr.
type CommandError struct {
	Cmd    string // command line as invoked
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command %q failed: %s: %s", e.Cmd, e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("command %q failed: %s", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Runner Interface
// =============================================================================

// Runner executes an external command in a directory and returns captured
// stdout and stderr. Implementations must honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)
}

// =============================================================================
// ExecRunner
// =============================================================================

// ExecRunner runs commands via os/exec with a per-call timeout.
type ExecRunner struct {
	// Timeout bounds each invocation. Zero means the caller's ctx alone
	// bounds the call.
	Timeout time.Duration
}

// NewExecRunner creates a runner with the given per-call timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes the command and captures its output.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		cmdLine := name
		if len(args) > 0 {
			cmdLine = name + " " + strings.Join(args, " ")
		}
		wrapped := err
		if ctx.Err() == context.DeadlineExceeded {
			wrapped = ErrTimeout
		}
		return stdout.String(), stderr.String(), &CommandError{
			Cmd:    cmdLine,
			Stderr: stderr.String(),
			Err:    wrapped,
		}
	}

	return stdout.String(), stderr.String(), nil
}

// =============================================================================
// Retry Helper
// =============================================================================

// Retry runs fn up to attempts times with a fixed backoff between failures.
// The last error is returned when every attempt fails.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
