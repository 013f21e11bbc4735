package rollup

import (
	"fmt"
	"path/filepath"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the isolated network name for a rollup's containers.
// Pattern: rollhost_{vmID}
func NetworkName(vmID string) string {
	return fmt.Sprintf("rollhost_%s", vmID)
}

// ContainerName generates a container name for a service in a rollup stack.
// Pattern: rollhost_{vmID}_{serviceName}
func ContainerName(vmID, serviceName string) string {
	return fmt.Sprintf("rollhost_%s_%s", vmID, serviceName)
}

// VolumeName generates a volume name scoped to a rollup stack.
// Pattern: rollhost_{vmID}_{volumeName}
func VolumeName(vmID, volumeName string) string {
	return fmt.Sprintf("rollhost_%s_%s", vmID, volumeName)
}

// ProjectName generates the compose project name used by the CLI fallback.
func ProjectName(vmID string) string {
	return fmt.Sprintf("rollup-%s", vmID)
}

// WorkspaceDir returns the per-rollup workspace directory under root.
func WorkspaceDir(root, vmID string) string {
	return filepath.Join(root, vmID, "workspace")
}

// ConfigDir returns the per-rollup node-config directory under root.
func ConfigDir(root, vmID string) string {
	return filepath.Join(root, vmID, "config")
}
