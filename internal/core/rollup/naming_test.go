package rollup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Naming Tests
// =============================================================================

func TestNetworkName(t *testing.T) {
	tests := []struct {
		name string
		vmID string
		want string
	}{
		{"simple", "rollup-1-abc", "rollhost_rollup-1-abc"},
		{"uuid", "rollup-9-550e8400-e29b-41d4-a716-446655440000", "rollhost_rollup-9-550e8400-e29b-41d4-a716-446655440000"},
		{"empty", "", "rollhost_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NetworkName(tt.vmID))
		})
	}
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "rollhost_rollup-1-abc_nitro", ContainerName("rollup-1-abc", "nitro"))
	assert.Equal(t, "rollhost_rollup-1-abc_validation", ContainerName("rollup-1-abc", "validation"))
}

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "rollhost_rollup-1-abc_nitro-data", VolumeName("rollup-1-abc", "nitro-data"))
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "rollup-rollup-1-abc", ProjectName("rollup-1-abc"))
}

func TestWorkspaceAndConfigDirs(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/lib/rollhost", "vm1", "workspace"), WorkspaceDir("/var/lib/rollhost", "vm1"))
	assert.Equal(t, filepath.Join("/var/lib/rollhost", "vm1", "config"), ConfigDir("/var/lib/rollhost", "vm1"))
}
