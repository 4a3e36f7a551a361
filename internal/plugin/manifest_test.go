package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validManifest = `
id: weather_plugin
version: 1.2.3
entrypoint: weather.plugin:WeatherPlugin
dependencies: []
permissions: [network.outbound]
isolation_mode: local
`

func TestParseManifest_ValidManifestParses(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	require.Equal(t, "weather_plugin", m.ID)
	require.Equal(t, "1.2.3", m.Version)
	require.Equal(t, IsolationLocal, m.IsolationMode)
	require.Equal(t, []Permission{PermNetworkOutbound}, m.Permissions)
}

func TestParseManifest_DefaultsIsolationModeToLocal(t *testing.T) {
	m, err := ParseManifest([]byte("id: p\nversion: 1.0.0\nentrypoint: p:P\n"))
	require.NoError(t, err)
	require.Equal(t, IsolationLocal, m.IsolationMode)
}

func TestParseManifest_RejectsBadID(t *testing.T) {
	_, err := ParseManifest([]byte("id: Bad-ID!\nversion: 1.0.0\nentrypoint: p:P\n"))
	require.Error(t, err)
}

func TestParseManifest_RejectsBadSemver(t *testing.T) {
	_, err := ParseManifest([]byte("id: p\nversion: not-a-version\nentrypoint: p:P\n"))
	require.Error(t, err)
}

func TestParseManifest_RejectsBadEntrypoint(t *testing.T) {
	_, err := ParseManifest([]byte("id: p\nversion: 1.0.0\nentrypoint: nocolon\n"))
	require.Error(t, err)
}

func TestParseManifest_RejectsUnknownPermission(t *testing.T) {
	_, err := ParseManifest([]byte("id: p\nversion: 1.0.0\nentrypoint: p:P\npermissions: [root.access]\n"))
	require.Error(t, err)
}

func TestParseManifest_RejectsUnknownIsolationMode(t *testing.T) {
	_, err := ParseManifest([]byte("id: p\nversion: 1.0.0\nentrypoint: p:P\nisolation_mode: sandboxed\n"))
	require.Error(t, err)
}

func TestManifest_EffectivePermissionsIncludesDefaults(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	eff := m.EffectivePermissions()
	require.True(t, eff[PermEventSubscribe])
	require.True(t, eff[PermEventEmit])
	require.True(t, eff[PermPluginDiscovery])
	require.True(t, eff[PermNetworkOutbound])
}

func TestDiscoverManifests_FindsAndSkipsMissingOnes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "weather"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "weather", "manifest.yaml"), []byte(validManifest), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no_manifest_here"), 0o755))

	manifests, err := DiscoverManifests(root)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	require.Contains(t, manifests, "weather_plugin")
	require.Equal(t, filepath.Join(root, "weather"), manifests["weather_plugin"].Dir)
}
