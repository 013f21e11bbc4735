// Package render generates the per-rollup node configuration file set from
// embedded templates. The renderer is stateless; it substitutes deployment
// results into the templates and writes them to disk, nothing more.
package render

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

//go:embed templates/*
var templatesFS embed.FS

// =============================================================================
// Error Types
// =============================================================================

var ErrRenderFailed = errors.New("config render failed")

// =============================================================================
// Render Params
// =============================================================================

// Params carries everything the node config set needs: deployment results,
// signing keys and the target directories.
type Params struct {
	ConfigDir    string
	WorkspaceDir string

	ChainID       uint64
	ChainName     string
	ParentChainID uint64

	RollupAddress     string
	UpgradeExecutor   string
	InitialChainOwner string
	BridgeAddress     string
	InboxAddress      string
	SequencerInbox    string
	DeploymentBlock   uint64

	ValidatorKey   string
	BatchPosterKey string
	ArbitrumRPCURL string
}

// replacer builds the placeholder substitution applied to every template.
func (p Params) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"PARENT_CHAIN_ID", strconv.FormatUint(p.ParentChainID, 10),
		"CHAIN_ID", strconv.FormatUint(p.ChainID, 10),
		"CHAIN_NAME", p.ChainName,
		"INITIAL_CHAIN_OWNER_ADDRESS", p.InitialChainOwner,
		"BRIDGE_ADDRESS", p.BridgeAddress,
		"INBOX_ADDRESS", p.InboxAddress,
		"SEQUENCER_INBOX_ADDRESS", p.SequencerInbox,
		"ROLLUP_ADDRESS", p.RollupAddress,
		"UPGRADE_EXECUTOR_ADDRESS", p.UpgradeExecutor,
		"VALIDATOR_UTILS_ADDRESS", "",
		"VALIDATOR_WALLET_CREATOR_ADDRESS", "",
		"DEPLOYMENT_BLOCK", strconv.FormatUint(p.DeploymentBlock, 10),
		"VALIDATOR_PRIVATE_KEY", p.ValidatorKey,
		"BATCH_POSTER_PRIVATE_KEY", p.BatchPosterKey,
		"ARBITRUM_RPC_URL", p.ArbitrumRPCURL,
		"CONFIG_DIR", p.ConfigDir,
	)
}

// =============================================================================
// Renderer
// =============================================================================

// configFiles are written into ConfigDir; the compose manifest goes to
// WorkspaceDir so the stack can be managed independently of node configs.
var configFiles = []string{
	"l2_chain_info.json",
	"full_node.json",
	"validation_node_config.json",
	"val_jwt.hex",
}

const composeFile = "docker-compose.yml"

// Renderer writes the node configuration set for one rollup.
type Renderer struct{}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render writes all config files and returns the compose manifest path.
func (r *Renderer) Render(p Params) (string, error) {
	if err := os.MkdirAll(p.ConfigDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	if err := os.MkdirAll(p.WorkspaceDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	replacer := p.replacer()

	for _, name := range configFiles {
		if err := renderFile(replacer, name, filepath.Join(p.ConfigDir, name)); err != nil {
			return "", err
		}
	}

	composePath := filepath.Join(p.WorkspaceDir, composeFile)
	if err := renderFile(replacer, composeFile, composePath); err != nil {
		return "", err
	}

	return composePath, nil
}

func renderFile(replacer *strings.Replacer, name, dest string) error {
	template, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return fmt.Errorf("%w: read template %s: %w", ErrRenderFailed, name, err)
	}
	content := replacer.Replace(string(template))
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrRenderFailed, name, err)
	}
	return nil
}
