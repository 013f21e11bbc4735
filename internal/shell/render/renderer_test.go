package render

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T) Params {
	t.Helper()
	return Params{
		ConfigDir:         filepath.Join(t.TempDir(), "config"),
		WorkspaceDir:      filepath.Join(t.TempDir(), "workspace"),
		ChainID:           42424242,
		ChainName:         "test-rollup",
		ParentChainID:     421614,
		RollupAddress:     "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		UpgradeExecutor:   "0x0987654321098765432109876543210987654321",
		InitialChainOwner: "0x1111111111111111111111111111111111111111",
		DeploymentBlock:   424242,
		ValidatorKey:      "0xvalkey",
		BatchPosterKey:    "0xposterkey",
		ArbitrumRPCURL:    "https://sepolia-rollup.arbitrum.io/rpc",
	}
}

func TestRenderer_WritesFullFileSet(t *testing.T) {
	p := testParams(t)
	composePath, err := NewRenderer().Render(p)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(p.WorkspaceDir, "docker-compose.yml"), composePath)
	assert.FileExists(t, composePath)
	for _, name := range configFiles {
		assert.FileExists(t, filepath.Join(p.ConfigDir, name))
	}
}

func TestRenderer_ChainInfoSubstitution(t *testing.T) {
	p := testParams(t)
	_, err := NewRenderer().Render(p)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(p.ConfigDir, "l2_chain_info.json"))
	require.NoError(t, err)

	// Must stay valid JSON after numeric substitutions.
	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed, 1)

	assert.Equal(t, float64(42424242), parsed[0]["chain-id"])
	assert.Equal(t, float64(421614), parsed[0]["parent-chain-id"])
	assert.Equal(t, "test-rollup", parsed[0]["chain-name"])

	rollup := parsed[0]["rollup"].(map[string]any)
	assert.Equal(t, p.RollupAddress, rollup["rollup"])
	assert.Equal(t, p.UpgradeExecutor, rollup["upgrade-executor"])
	assert.Equal(t, float64(424242), rollup["deployed-at"])
}

func TestRenderer_FullNodeSubstitution(t *testing.T) {
	p := testParams(t)
	_, err := NewRenderer().Render(p)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(p.ConfigDir, "full_node.json"))
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	content := string(data)
	assert.Contains(t, content, p.ArbitrumRPCURL)
	assert.Contains(t, content, `"private-key": "0xvalkey"`)
	assert.Contains(t, content, `"private-key": "0xposterkey"`)
	assert.NotContains(t, content, "VALIDATOR_PRIVATE_KEY")
	assert.NotContains(t, content, "BATCH_POSTER_PRIVATE_KEY")
}

func TestRenderer_ComposeBindsConfigDir(t *testing.T) {
	p := testParams(t)
	composePath, err := NewRenderer().Render(p)
	require.NoError(t, err)

	data, err := os.ReadFile(composePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), p.ConfigDir+":/config")
	assert.NotContains(t, string(data), "CONFIG_DIR")
}

func TestRenderer_JWTFileCopiedVerbatim(t *testing.T) {
	p := testParams(t)
	_, err := NewRenderer().Render(p)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(p.ConfigDir, "val_jwt.hex"))
	require.NoError(t, err)
	template, err := templatesFS.ReadFile("templates/val_jwt.hex")
	require.NoError(t, err)
	assert.Equal(t, string(template), string(data))
}

func TestRenderer_CreatesMissingDirs(t *testing.T) {
	p := testParams(t)
	p.ConfigDir = filepath.Join(t.TempDir(), "deep", "nested", "config")
	p.WorkspaceDir = filepath.Join(t.TempDir(), "deep", "nested", "workspace")

	_, err := NewRenderer().Render(p)
	require.NoError(t, err)
	assert.DirExists(t, p.ConfigDir)
	assert.DirExists(t, p.WorkspaceDir)
}
