package plugin

import "context"

// Status is a plugin's self-reported health, exposed read-only over
// the admin HTTP surface (GET /api/v1/plugins), per
// core/interfaces/plugin.py's get_status().
type Status struct {
	ID      string         `json:"id"`
	Healthy bool           `json:"healthy"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Plugin is the interface every loaded plugin satisfies, whether
// running locally or proxied over an IPC pipe to a child process.
type Plugin interface {
	Initialize(ctx context.Context, lctx Context) error
	Shutdown(ctx context.Context) error
	GetStatus() Status
}

// Factory constructs a fresh Plugin instance for a local-mode entry.
type Factory func() Plugin

var localRegistry = map[string]Factory{}

// Register associates entrypoint (a manifest's "module:Class" string)
// with a Factory, mirroring the original's dynamic module import with
// the idiomatic Go equivalent: plugins register themselves by
// entrypoint string, the way database/sql drivers register by name.
// Called from a local plugin package's init().
func Register(entrypoint string, f Factory) {
	localRegistry[entrypoint] = f
}

// lookupLocal returns the registered Factory for entrypoint, if any.
func lookupLocal(entrypoint string) (Factory, bool) {
	f, ok := localRegistry[entrypoint]
	return f, ok
}
