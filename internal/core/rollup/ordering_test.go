package rollup

import (
	"testing"

	"github.com/artpar/rollhost/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TopologicalSort Tests
// =============================================================================

func names(services []compose.Service) []string {
	out := make([]string, len(services))
	for i, svc := range services {
		out[i] = svc.Name
	}
	return out
}

func indexOf(list []string, name string) int {
	for i, n := range list {
		if n == name {
			return i
		}
	}
	return -1
}

func TestTopologicalSort_Empty(t *testing.T) {
	assert.Empty(t, TopologicalSort(nil))
}

func TestTopologicalSort_Chain(t *testing.T) {
	services := []compose.Service{
		{Name: "nitro", DependsOn: []string{"validation"}},
		{Name: "validation", DependsOn: []string{"redis"}},
		{Name: "redis"},
	}
	got := names(TopologicalSort(services))
	assert.Equal(t, []string{"redis", "validation", "nitro"}, got)
}

func TestTopologicalSort_Diamond(t *testing.T) {
	services := []compose.Service{
		{Name: "nitro", DependsOn: []string{"validation", "da"}},
		{Name: "validation", DependsOn: []string{"redis"}},
		{Name: "da", DependsOn: []string{"redis"}},
		{Name: "redis"},
	}
	got := names(TopologicalSort(services))
	require.Len(t, got, 4)
	assert.Equal(t, "redis", got[0])
	assert.Less(t, indexOf(got, "validation"), indexOf(got, "nitro"))
	assert.Less(t, indexOf(got, "da"), indexOf(got, "nitro"))
}

func TestTopologicalSort_NoDependencies(t *testing.T) {
	services := []compose.Service{
		{Name: "a"},
		{Name: "b"},
		{Name: "c"},
	}
	got := TopologicalSort(services)
	assert.Len(t, got, 3)
}

func TestTopologicalSort_CycleFallback(t *testing.T) {
	// Cycles are rejected at parse time; the sort must still terminate and
	// return every service if one slips through.
	services := []compose.Service{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}
	got := TopologicalSort(services)
	assert.Len(t, got, 2)
}
