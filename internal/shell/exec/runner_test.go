package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ExecRunner Tests
// =============================================================================

func TestExecRunner_CapturesStdout(t *testing.T) {
	r := NewExecRunner(5 * time.Second)
	stdout, stderr, err := r.Run(context.Background(), "", "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stdout)
	assert.Empty(t, stderr)
}

func TestExecRunner_CapturesStderrOnFailure(t *testing.T) {
	r := NewExecRunner(5 * time.Second)
	_, stderr, err := r.Run(context.Background(), "", "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, stderr, "boom")

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, cmdErr.Stderr, "boom")
	assert.Contains(t, cmdErr.Error(), "boom")
}

func TestExecRunner_RunsInDir(t *testing.T) {
	dir := t.TempDir()
	r := NewExecRunner(5 * time.Second)
	stdout, _, err := r.Run(context.Background(), dir, "pwd")
	require.NoError(t, err)
	assert.Contains(t, stdout, dir)
}

func TestExecRunner_Timeout(t *testing.T) {
	r := NewExecRunner(100 * time.Millisecond)
	_, _, err := r.Run(context.Background(), "", "sleep", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

// =============================================================================
// Retry Tests
// =============================================================================

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("persistent")
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Second, func() error {
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("fail")
	})
	assert.Equal(t, 1, calls)
}
