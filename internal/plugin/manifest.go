// Package plugin implements PluginRuntime: manifest discovery,
// dependency-ordered loading, permission enforcement, and lifecycle
// events for plugins running either in-process ("local") or in a
// child process over an IPC pipe ("process").
//
// Grounded on spec §4.8 and internal/mcp/servers.go's exec.Command +
// stdio-pipe pattern for the process isolation mode.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"lumina/internal/luminaerr"
)

// IsolationMode selects how a plugin's code runs.
type IsolationMode string

const (
	IsolationLocal   IsolationMode = "local"
	IsolationProcess IsolationMode = "process"
)

// Permission is one capability a plugin may request. The set is fixed;
// unknown permissions fail manifest validation.
type Permission string

const (
	PermFilesystemRead     Permission = "filesystem.read"
	PermFilesystemWrite    Permission = "filesystem.write"
	PermFilesystemExternal Permission = "filesystem.external"
	PermNetworkOutbound    Permission = "network.outbound"
	PermNetworkListen      Permission = "network.listen"
	PermMemoryRead         Permission = "memory.read"
	PermMemoryWrite        Permission = "memory.write"
	PermLLMInvoke          Permission = "llm.invoke"
	PermTickerSubscribe    Permission = "ticker.subscribe"
	PermEventSubscribe     Permission = "event.subscribe"
	PermEventEmit          Permission = "event.emit"
	PermPluginDiscovery    Permission = "plugin.discovery"
	PermSoulModify         Permission = "soul.modify"
	PermSystemNotification Permission = "system.notification"
)

var validPermissions = map[Permission]bool{
	PermFilesystemRead: true, PermFilesystemWrite: true, PermFilesystemExternal: true,
	PermNetworkOutbound: true, PermNetworkListen: true,
	PermMemoryRead: true, PermMemoryWrite: true,
	PermLLMInvoke: true, PermTickerSubscribe: true,
	PermEventSubscribe: true, PermEventEmit: true,
	PermPluginDiscovery: true, PermSoulModify: true, PermSystemNotification: true,
}

// DefaultPermissions is granted to every plugin regardless of its
// declared permissions list, per spec §4.8.
var DefaultPermissions = []Permission{PermEventSubscribe, PermEventEmit, PermPluginDiscovery}

var idPattern = regexp.MustCompile(`^[a-z0-9_.]+$`)
var entrypointPattern = regexp.MustCompile(`^[A-Za-z0-9_./]+:[A-Za-z_][A-Za-z0-9_]*$`)
var semverPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)

// Manifest is PluginManifest: the authoritative on-disk description of
// a plugin, loaded from manifest.yaml.
type Manifest struct {
	ID             string        `yaml:"id"`
	Version        string        `yaml:"version"`
	Entrypoint     string        `yaml:"entrypoint"`
	Dependencies   []string      `yaml:"dependencies"`
	Permissions    []Permission  `yaml:"permissions"`
	IsolationMode  IsolationMode `yaml:"isolation_mode"`
	GroupID        string        `yaml:"group_id"`
	GroupExclusive bool          `yaml:"group_exclusive"`

	// Dir is the plugin's directory, set by discovery rather than
	// parsed from the manifest.
	Dir string `yaml:"-"`
}

// ParseManifest parses and validates a manifest.yaml's bytes.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, luminaerr.NewValidation("plugin.parse_manifest", "invalid yaml", err)
	}
	if m.IsolationMode == "" {
		m.IsolationMode = IsolationLocal
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	if !idPattern.MatchString(m.ID) {
		return luminaerr.NewValidation("plugin.validate", fmt.Sprintf("id %q must match %s", m.ID, idPattern.String()), nil)
	}
	if !semverPattern.MatchString(m.Version) {
		return luminaerr.NewValidation("plugin.validate", fmt.Sprintf("version %q is not valid semver", m.Version), nil)
	}
	if !entrypointPattern.MatchString(m.Entrypoint) {
		return luminaerr.NewValidation("plugin.validate", fmt.Sprintf("entrypoint %q must be module:Class", m.Entrypoint), nil)
	}
	if m.IsolationMode != IsolationLocal && m.IsolationMode != IsolationProcess {
		return luminaerr.NewValidation("plugin.validate", fmt.Sprintf("isolation_mode %q must be local or process", m.IsolationMode), nil)
	}
	for _, p := range m.Permissions {
		if !validPermissions[p] {
			return luminaerr.NewValidation("plugin.validate", fmt.Sprintf("unknown permission %q", p), nil)
		}
	}
	return nil
}

// EffectivePermissions is the manifest's declared permissions unioned
// with DefaultPermissions.
func (m Manifest) EffectivePermissions() map[Permission]bool {
	out := map[Permission]bool{}
	for _, p := range DefaultPermissions {
		out[p] = true
	}
	for _, p := range m.Permissions {
		out[p] = true
	}
	return out
}

// DiscoverManifests scans dir for immediate subdirectories containing
// manifest.yaml, parsing and validating each.
func DiscoverManifests(dir string) (map[string]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, luminaerr.NewConfig("plugin.discover", "read plugins dir", err)
	}
	out := map[string]Manifest{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), "manifest.yaml")
		data, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, luminaerr.NewConfig("plugin.discover", "read "+manifestPath, err)
		}
		m, err := ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("plugin.discover: %s: %w", manifestPath, err)
		}
		m.Dir = filepath.Join(dir, entry.Name())
		out[m.ID] = m
	}
	return out, nil
}
