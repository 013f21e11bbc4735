package contracts

import (
	"encoding/json"
	"strconv"
	"strings"
)

// =============================================================================
// Deployment Manifest (JSON artifact)
// =============================================================================

// Manifest JSON fields produced by the deployment scripts.
const (
	manifestFieldCreator         = "RollupCreator"
	manifestFieldUpgradeExecutor = "UpgradeExecutor"
)

// DeploymentManifest is the parsed JSON artifact the primary deployment
// script writes per network.
type DeploymentManifest struct {
	raw map[string]json.RawMessage
}

// ParseDeploymentManifest parses the JSON deployment artifact.
func ParseDeploymentManifest(data []byte) (*DeploymentManifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewScrapeError("manifest", "", err.Error(), ErrInvalidManifest)
	}
	return &DeploymentManifest{raw: raw}, nil
}

// CreatorAddress extracts the rollup creator contract address.
func (m *DeploymentManifest) CreatorAddress() (string, error) {
	return m.stringField(manifestFieldCreator)
}

// UpgradeExecutorAddress extracts the upgrade executor contract address.
func (m *DeploymentManifest) UpgradeExecutorAddress() (string, error) {
	return m.stringField(manifestFieldUpgradeExecutor)
}

func (m *DeploymentManifest) stringField(field string) (string, error) {
	raw, ok := m.raw[field]
	if !ok {
		return "", NewScrapeError("manifest", field, "field absent", ErrMissingField)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", NewScrapeError("manifest", field, "field is not a string", ErrMissingField)
	}
	if value == "" {
		return "", NewScrapeError("manifest", field, "field is empty", ErrMissingField)
	}
	return value, nil
}

// =============================================================================
// Proxy Deployment Output (stdout scraping)
// =============================================================================

// Stdout markers emitted by the proxy-creation script.
const (
	markerProxyAddress    = "RollupProxy Contract created at address:"
	markerDeploymentBlock = "All deployed at block number:"
)

// ParseProxyAddress extracts the rollup proxy address from script stdout.
func ParseProxyAddress(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if idx := strings.Index(line, markerProxyAddress); idx >= 0 {
			addr := strings.TrimSpace(line[idx+len(markerProxyAddress):])
			if addr != "" {
				return addr, nil
			}
		}
	}
	return "", NewScrapeError("stdout", markerProxyAddress, "marker absent", ErrMarkerNotFound)
}

// ParseDeploymentBlock extracts the deployment block number from script
// stdout. A missing marker yields block 0 rather than an error; the chain
// info template treats 0 as "scan from genesis".
func ParseDeploymentBlock(output string) (uint64, error) {
	for _, line := range strings.Split(output, "\n") {
		if idx := strings.Index(line, markerDeploymentBlock); idx >= 0 {
			blockStr := strings.TrimSpace(line[idx+len(markerDeploymentBlock):])
			block, err := strconv.ParseUint(blockStr, 10, 64)
			if err != nil {
				return 0, NewScrapeError("stdout", markerDeploymentBlock, "marker value is not a number: "+blockStr, ErrMarkerNotFound)
			}
			return block, nil
		}
	}
	return 0, nil
}
