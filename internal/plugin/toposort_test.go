package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func manifestWithDeps(id string, deps ...string) Manifest {
	return Manifest{ID: id, Version: "1.0.0", Entrypoint: id + ":Plugin", Dependencies: deps}
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestSort_OrdersDependenciesBeforeDependents(t *testing.T) {
	manifests := map[string]Manifest{
		"a": manifestWithDeps("a"),
		"b": manifestWithDeps("b", "a"),
		"c": manifestWithDeps("c", "b"),
	}
	plan, err := Sort(manifests)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, plan.Order)
	require.Empty(t, plan.Skipped)
}

func TestSort_SkipsPluginWithMissingDependency(t *testing.T) {
	manifests := map[string]Manifest{
		"a": manifestWithDeps("a", "nonexistent"),
		"b": manifestWithDeps("b"),
	}
	plan, err := Sort(manifests)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, plan.Order)
	require.Contains(t, plan.Skipped, "a")
}

func TestSort_PropagatesSkipTransitively(t *testing.T) {
	manifests := map[string]Manifest{
		"a": manifestWithDeps("a", "nonexistent"),
		"b": manifestWithDeps("b", "a"),
		"c": manifestWithDeps("c"),
	}
	plan, err := Sort(manifests)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, plan.Order)
	require.Contains(t, plan.Skipped, "a")
	require.Contains(t, plan.Skipped, "b")
}

func TestSort_CycleIsFatalError(t *testing.T) {
	manifests := map[string]Manifest{
		"a": manifestWithDeps("a", "b"),
		"b": manifestWithDeps("b", "a"),
	}
	_, err := Sort(manifests)
	require.Error(t, err)
}

func TestSort_IndependentPluginsBothPresent(t *testing.T) {
	manifests := map[string]Manifest{
		"a": manifestWithDeps("a"),
		"b": manifestWithDeps("b"),
	}
	plan, err := Sort(manifests)
	require.NoError(t, err)
	require.True(t, indexOf(plan.Order, "a") >= 0)
	require.True(t, indexOf(plan.Order, "b") >= 0)
}
