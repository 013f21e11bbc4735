package docker

import (
	"context"
	"path/filepath"

	"github.com/artpar/rollhost/internal/shell/exec"
)

// =============================================================================
// Compose CLI Fallback
// =============================================================================

// ComposeCLI is the docker-compose command surface used when the Docker API
// path is unavailable or a stack is not tracked in memory.
type ComposeCLI interface {
	// Down tears down a whole compose project.
	Down(ctx context.Context, composeFile, project string) error
	// Logs returns the captured logs of one service in the project.
	Logs(ctx context.Context, composeFile, project, service string) (string, error)
}

// ExecComposeCLI shells out to the docker-compose binary.
type ExecComposeCLI struct {
	runner exec.Runner
	binary string
}

// NewExecComposeCLI creates a CLI fallback. Empty binary defaults to
// "docker-compose".
func NewExecComposeCLI(runner exec.Runner, binary string) *ExecComposeCLI {
	if binary == "" {
		binary = "docker-compose"
	}
	return &ExecComposeCLI{runner: runner, binary: binary}
}

// Down runs `docker-compose -f <file> -p <project> down`.
func (c *ExecComposeCLI) Down(ctx context.Context, composeFile, project string) error {
	_, _, err := c.runner.Run(ctx, filepath.Dir(composeFile), c.binary,
		"-f", composeFile, "-p", project, "down")
	return err
}

// Logs runs `docker-compose -f <file> -p <project> logs --no-color <service>`.
func (c *ExecComposeCLI) Logs(ctx context.Context, composeFile, project, service string) (string, error) {
	stdout, _, err := c.runner.Run(ctx, filepath.Dir(composeFile), c.binary,
		"-f", composeFile, "-p", project, "logs", "--no-color", service)
	if err != nil {
		return "", err
	}
	return stdout, nil
}
