package deployer

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrWorkspaceFailed = errors.New("workspace setup failed")
	ErrCheckoutFailed  = errors.New("contracts checkout failed")
	ErrBuildFailed     = errors.New("contracts build failed")
	ErrEnvWriteFailed  = errors.New("env file write failed")
	ErrScriptRender    = errors.New("deploy script render failed")
	ErrDeployFailed    = errors.New("contract deployment failed")
	ErrProxyFailed     = errors.New("rollup proxy deployment failed")
)

// Pipeline steps, in execution order. Step numbers appear in DeployError so
// operators can see exactly where a multi-minute deployment died.
type Step int

const (
	StepWorkspace Step = iota + 1
	StepCheckout
	StepBuild
	StepEnvFile
	StepDeployScript
	StepDeployContracts
	StepUpdateEnv
	StepDeployProxy
)

func (s Step) String() string {
	switch s {
	case StepWorkspace:
		return "create workspace"
	case StepCheckout:
		return "checkout contracts"
	case StepBuild:
		return "install and build"
	case StepEnvFile:
		return "write env file"
	case StepDeployScript:
		return "render deploy script"
	case StepDeployContracts:
		return "deploy contracts"
	case StepUpdateEnv:
		return "update env with creator"
	case StepDeployProxy:
		return "deploy rollup proxy"
	default:
		return fmt.Sprintf("step %d", int(s))
	}
}

// DeployError identifies the pipeline step that failed and carries the
// underlying process or parse error.
type DeployError struct {
	Step    Step
	Message string
	Err     error
}

func (e *DeployError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("deploy step %d (%s): %s", int(e.Step), e.Step, e.Message)
	}
	return fmt.Sprintf("deploy step %d (%s): %s", int(e.Step), e.Step, e.Err)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// NewDeployError creates a DeployError for a failed step.
func NewDeployError(step Step, message string, err error) *DeployError {
	return &DeployError{
		Step:    step,
		Message: message,
		Err:     err,
	}
}
