package contracts

import (
	"fmt"
	"strings"

	"github.com/artpar/rollhost/internal/core/domain"
)

// =============================================================================
// Environment File
// =============================================================================

// EnvFile is the credential material the deployment scripts read from the
// workspace .env. Written in cleartext to the workspace; accepted operational
// constraint.
type EnvFile struct {
	ArbiscanAPIKey string
	DeployerKey    string
	TEEVerifier    string
}

// Render produces the .env contents for the contracts workspace.
func (e EnvFile) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ARBISCAN_API_KEY=%q\n", e.ArbiscanAPIKey)
	fmt.Fprintf(&b, "DEVNET_PRIVKEY=%q\n", e.DeployerKey)
	b.WriteString("IGNORE_MAX_DATA_SIZE_WARNING=true\n")
	fmt.Fprintf(&b, "ESPRESSO_TEE_VERIFIER_ADDRESS=%q\n", e.TEEVerifier)
	return b.String()
}

// AppendCreator appends the extracted rollup creator address to existing
// .env contents.
func AppendCreator(envContent, creatorAddress string) string {
	if envContent != "" && !strings.HasSuffix(envContent, "\n") {
		envContent += "\n"
	}
	return envContent + fmt.Sprintf("ROLLUP_CREATOR_ADDRESS=%q\n", creatorAddress)
}

// =============================================================================
// Deployment Script Rendering
// =============================================================================

// Placeholders in scripts/config.template.ts shipped by the contracts repo.
var scriptPlaceholders = []string{
	"OWNER_ADDRESS",
	"YOUR_CHAIN_ID",
	"ChainID",
	"YOUR_OWNED_ADDRESS",
	"AN_OWNED_ADDRESS",
	"ANOTHER_OWNED_ADDRESS",
}

// RenderDeployScript substitutes the rollup's chain id, owner, first
// validator and batch poster into the deployment config template.
func RenderDeployScript(template string, cfg domain.RollupConfig) string {
	chainID := fmt.Sprintf("%d", cfg.ChainID)
	replacer := strings.NewReplacer(
		"OWNER_ADDRESS", cfg.InitialChainOwner.Hex(),
		"YOUR_CHAIN_ID", chainID,
		"ChainID", chainID,
		"YOUR_OWNED_ADDRESS", cfg.InitialChainOwner.Hex(),
		"AN_OWNED_ADDRESS", cfg.Validators[0].Hex(),
		"ANOTHER_OWNED_ADDRESS", cfg.BatchPoster.Hex(),
	)
	return replacer.Replace(template)
}

// UnresolvedPlaceholders returns any template placeholders still present
// after rendering; used to detect upstream template drift.
func UnresolvedPlaceholders(rendered string) []string {
	var left []string
	for _, p := range scriptPlaceholders {
		if strings.Contains(rendered, p) {
			left = append(left, p)
		}
	}
	return left
}
