// Package deployer runs the multi-step contract deployment pipeline for a
// rollup: checkout, build, env generation, script rendering and the two
// deployment-script invocations. The pipeline is fail-fast; the caller owns
// any retry decision.
package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/rollhost/internal/core/contracts"
	"github.com/artpar/rollhost/internal/core/domain"
	"github.com/artpar/rollhost/internal/shell/exec"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultRepoURL is the contracts repository cloned into each workspace.
	DefaultRepoURL = "https://github.com/EspressoSystems/nitro-contracts.git"
	// DefaultBranch is the pinned contracts branch.
	DefaultBranch = "develop"
	// DefaultTEEVerifier is the shared TEE verifier contract address.
	DefaultTEEVerifier = "0x8354db765810dF8F24f1477B06e91E5b17a408bF"

	repoDirName     = "nitro-contracts"
	manifestDirName = "espresso-deployments"
)

// =============================================================================
// Pipeline Config
// =============================================================================

// Config carries everything a single deployment needs.
type Config struct {
	WorkspaceDir string
	RepoURL      string
	Branch       string
	TEEVerifier  string

	Rollup domain.RollupConfig

	// Credential material, resolved by the caller at the point of use.
	DeployerKey    string
	ArbiscanAPIKey string
}

// Result holds the facts the pipeline exists to recover.
type Result struct {
	CreatorAddress  string
	ProxyAddress    string
	UpgradeExecutor string
	DeploymentBlock uint64
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline deploys rollup contracts in a dedicated workspace.
type Pipeline struct {
	cfg    Config
	runner exec.Runner
	logger *slog.Logger
}

// NewPipeline creates a pipeline. Empty RepoURL/Branch/TEEVerifier fall back
// to the pinned defaults.
func NewPipeline(cfg Config, runner exec.Runner, logger *slog.Logger) *Pipeline {
	if cfg.RepoURL == "" {
		cfg.RepoURL = DefaultRepoURL
	}
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}
	if cfg.TEEVerifier == "" {
		cfg.TEEVerifier = DefaultTEEVerifier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}
}

// repoDir is the checkout location inside the workspace.
func (p *Pipeline) repoDir() string {
	return filepath.Join(p.cfg.WorkspaceDir, repoDirName)
}

// manifestPath is the JSON deployment artifact for the target network.
func (p *Pipeline) manifestPath() string {
	return filepath.Join(p.repoDir(), manifestDirName, fmt.Sprintf("%s.json", p.cfg.Rollup.Network))
}

// Deploy runs the full pipeline and returns the deployed addresses and block.
func (p *Pipeline) Deploy(ctx context.Context) (*Result, error) {
	p.logger.Info("starting contract deployment",
		"workspace", p.cfg.WorkspaceDir,
		"chain_id", p.cfg.Rollup.ChainID,
		"network", p.cfg.Rollup.Network,
	)

	if err := p.createWorkspace(); err != nil {
		return nil, err
	}
	if err := p.checkoutContracts(ctx); err != nil {
		return nil, err
	}
	if err := p.buildContracts(ctx); err != nil {
		return nil, err
	}
	if err := p.writeEnvFile(); err != nil {
		return nil, err
	}
	if err := p.renderDeployScript(); err != nil {
		return nil, err
	}

	creator, err := p.deployContracts(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.appendCreatorToEnv(creator); err != nil {
		return nil, err
	}

	proxy, executor, block, err := p.deployProxy(ctx)
	if err != nil {
		return nil, err
	}

	p.logger.Info("contract deployment complete",
		"creator", creator,
		"proxy", proxy,
		"upgrade_executor", executor,
		"deployment_block", block,
	)

	return &Result{
		CreatorAddress:  creator,
		ProxyAddress:    proxy,
		UpgradeExecutor: executor,
		DeploymentBlock: block,
	}, nil
}

// =============================================================================
// Steps
// =============================================================================

// createWorkspace ensures the workspace directory exists (step 1, idempotent).
func (p *Pipeline) createWorkspace() error {
	if err := os.MkdirAll(p.cfg.WorkspaceDir, 0o755); err != nil {
		return NewDeployError(StepWorkspace, err.Error(), ErrWorkspaceFailed)
	}
	return nil
}

// checkoutContracts clones the contracts repository and pins the branch
// (step 2). A pre-existing checkout is reused after branch verification.
func (p *Pipeline) checkoutContracts(ctx context.Context) error {
	repoDir := p.repoDir()

	if _, err := os.Stat(repoDir); os.IsNotExist(err) {
		p.logger.Info("cloning contracts repository", "repo", p.cfg.RepoURL)
		if _, _, err := p.runner.Run(ctx, p.cfg.WorkspaceDir, "git", "clone", p.cfg.RepoURL, repoDirName); err != nil {
			return NewDeployError(StepCheckout, "", fmt.Errorf("%w: %w", ErrCheckoutFailed, err))
		}
	}

	if _, _, err := p.runner.Run(ctx, repoDir, "git", "checkout", p.cfg.Branch); err != nil {
		return NewDeployError(StepCheckout, "", fmt.Errorf("%w: %w", ErrCheckoutFailed, err))
	}

	// Verify the switch actually landed on the pinned branch.
	stdout, _, err := p.runner.Run(ctx, repoDir, "git", "branch", "--show-current")
	if err != nil {
		return NewDeployError(StepCheckout, "", fmt.Errorf("%w: %w", ErrCheckoutFailed, err))
	}
	if current := strings.TrimSpace(stdout); current != p.cfg.Branch {
		return NewDeployError(StepCheckout,
			fmt.Sprintf("expected branch %s, on %s", p.cfg.Branch, current), ErrCheckoutFailed)
	}

	return nil
}

// buildContracts installs dependencies and compiles (step 3). Dependency
// install failures are fatal; build stderr with a zero exit is warnings only
// and gets logged, not surfaced.
func (p *Pipeline) buildContracts(ctx context.Context) error {
	repoDir := p.repoDir()

	p.logger.Info("installing yarn dependencies")
	if _, _, err := p.runner.Run(ctx, repoDir, "yarn", "install"); err != nil {
		return NewDeployError(StepBuild, "", fmt.Errorf("%w: %w", ErrBuildFailed, err))
	}

	p.logger.Info("installing forge dependencies")
	if _, _, err := p.runner.Run(ctx, repoDir, "forge", "install"); err != nil {
		return NewDeployError(StepBuild, "", fmt.Errorf("%w: %w", ErrBuildFailed, err))
	}

	p.logger.Info("building contracts")
	_, stderr, err := p.runner.Run(ctx, repoDir, "yarn", "build:all")
	if err != nil {
		return NewDeployError(StepBuild, "", fmt.Errorf("%w: %w", ErrBuildFailed, err))
	}
	if strings.TrimSpace(stderr) != "" {
		p.logger.Warn("contracts built with compiler warnings", "stderr", strings.TrimSpace(stderr))
	}

	return nil
}

// writeEnvFile writes the credential env file into the checkout (step 4).
func (p *Pipeline) writeEnvFile() error {
	env := contracts.EnvFile{
		ArbiscanAPIKey: p.cfg.ArbiscanAPIKey,
		DeployerKey:    p.cfg.DeployerKey,
		TEEVerifier:    p.cfg.TEEVerifier,
	}
	if err := os.WriteFile(p.envPath(), []byte(env.Render()), 0o600); err != nil {
		return NewDeployError(StepEnvFile, err.Error(), ErrEnvWriteFailed)
	}
	return nil
}

func (p *Pipeline) envPath() string {
	return filepath.Join(p.repoDir(), ".env")
}

// renderDeployScript renders scripts/config.ts from the repo's template
// (step 5).
func (p *Pipeline) renderDeployScript() error {
	templatePath := filepath.Join(p.repoDir(), "scripts", "config.template.ts")
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return NewDeployError(StepDeployScript, fmt.Sprintf("read template: %s", err), ErrScriptRender)
	}

	rendered := contracts.RenderDeployScript(string(template), p.cfg.Rollup)
	if left := contracts.UnresolvedPlaceholders(rendered); len(left) > 0 {
		p.logger.Warn("deploy script template has unresolved placeholders", "placeholders", left)
	}

	configPath := filepath.Join(p.repoDir(), "scripts", "config.ts")
	if err := os.WriteFile(configPath, []byte(rendered), 0o644); err != nil {
		return NewDeployError(StepDeployScript, fmt.Sprintf("write config.ts: %s", err), ErrScriptRender)
	}

	return nil
}

// deployContracts invokes the primary deployment script and extracts the
// creator address from the produced JSON manifest (step 6).
func (p *Pipeline) deployContracts(ctx context.Context) (string, error) {
	p.logger.Info("running deployment script", "network", p.cfg.Rollup.Network)

	_, _, err := p.runner.Run(ctx, p.repoDir(),
		"npx", "hardhat", "run", "scripts/deployment.ts", "--network", string(p.cfg.Rollup.Network))
	if err != nil {
		return "", NewDeployError(StepDeployContracts, "", fmt.Errorf("%w: %w", ErrDeployFailed, err))
	}

	data, err := os.ReadFile(p.manifestPath())
	if err != nil {
		return "", NewDeployError(StepDeployContracts,
			fmt.Sprintf("deployment manifest not found at %s", p.manifestPath()), ErrDeployFailed)
	}

	manifest, err := contracts.ParseDeploymentManifest(data)
	if err != nil {
		return "", NewDeployError(StepDeployContracts, "", fmt.Errorf("%w: %w", ErrDeployFailed, err))
	}
	creator, err := manifest.CreatorAddress()
	if err != nil {
		return "", NewDeployError(StepDeployContracts, "", fmt.Errorf("%w: %w", ErrDeployFailed, err))
	}

	return creator, nil
}

// appendCreatorToEnv records the creator address for the proxy script
// (step 7).
func (p *Pipeline) appendCreatorToEnv(creator string) error {
	current, err := os.ReadFile(p.envPath())
	if err != nil {
		return NewDeployError(StepUpdateEnv, err.Error(), ErrEnvWriteFailed)
	}
	updated := contracts.AppendCreator(string(current), creator)
	if err := os.WriteFile(p.envPath(), []byte(updated), 0o600); err != nil {
		return NewDeployError(StepUpdateEnv, err.Error(), ErrEnvWriteFailed)
	}
	return nil
}

// deployProxy invokes the proxy-creation script and scrapes its results
// (step 8). The deployment block soft-fails to zero when the marker is
// absent.
func (p *Pipeline) deployProxy(ctx context.Context) (proxy, executor string, block uint64, err error) {
	p.logger.Info("running rollup proxy script", "network", p.cfg.Rollup.Network)

	data, err := os.ReadFile(p.manifestPath())
	if err != nil {
		return "", "", 0, NewDeployError(StepDeployProxy,
			fmt.Sprintf("deployment manifest not found at %s", p.manifestPath()), ErrProxyFailed)
	}
	manifest, err := contracts.ParseDeploymentManifest(data)
	if err != nil {
		return "", "", 0, NewDeployError(StepDeployProxy, "", fmt.Errorf("%w: %w", ErrProxyFailed, err))
	}

	stdout, _, err := p.runner.Run(ctx, p.repoDir(),
		"npx", "hardhat", "run", "scripts/createEthRollup.ts", "--network", string(p.cfg.Rollup.Network))
	if err != nil {
		return "", "", 0, NewDeployError(StepDeployProxy, "", fmt.Errorf("%w: %w", ErrProxyFailed, err))
	}

	executor, err = manifest.UpgradeExecutorAddress()
	if err != nil {
		return "", "", 0, NewDeployError(StepDeployProxy, "", fmt.Errorf("%w: %w", ErrProxyFailed, err))
	}
	proxy, err = contracts.ParseProxyAddress(stdout)
	if err != nil {
		return "", "", 0, NewDeployError(StepDeployProxy, "", fmt.Errorf("%w: %w", ErrProxyFailed, err))
	}
	block, err = contracts.ParseDeploymentBlock(stdout)
	if err != nil {
		return "", "", 0, NewDeployError(StepDeployProxy, "", fmt.Errorf("%w: %w", ErrProxyFailed, err))
	}

	return proxy, executor, block, nil
}
