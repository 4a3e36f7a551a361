package plugin

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"lumina/internal/eventbus"
	"lumina/internal/llmmanager"
	"lumina/internal/memory"
	"lumina/internal/soul"
)

// loadedPlugin pairs a running Plugin with the manifest it was loaded
// from, so Unload can tear down its context-owned subscriptions.
type loadedPlugin struct {
	manifest Manifest
	instance Plugin
}

// Runtime is PluginRuntime: discovers manifests, sorts them into a
// dependency-respecting load order, instantiates each in its declared
// isolation mode behind a SandboxedContext, and emits the lifecycle
// events other components react to.
type Runtime struct {
	bus      *eventbus.Bus
	soulSvc  *soul.Service
	memStore *memory.MemoryStore
	llm      *llmmanager.Manager
	config   map[string]any
	dataRoot string
	router   *echo.Echo
	log      zerolog.Logger

	mu          sync.RWMutex
	loaded      map[string]*loadedPlugin
	subRegister eventbus.SubscriptionID
}

// New builds a Runtime. soulSvc/memStore/llm may be nil in a minimal
// deployment; plugins requesting the corresponding permission then
// receive a nil service (a plugin author bug, not a runtime one).
// router receives route groups plugins register via core.register_router;
// it may be nil if the host runs with no HTTP surface.
func New(bus *eventbus.Bus, soulSvc *soul.Service, memStore *memory.MemoryStore, llm *llmmanager.Manager, config map[string]any, dataRoot string, router *echo.Echo, log zerolog.Logger) *Runtime {
	r := &Runtime{
		bus: bus, soulSvc: soulSvc, memStore: memStore, llm: llm,
		config: config, dataRoot: dataRoot, router: router, log: log,
		loaded: map[string]*loadedPlugin{},
	}
	if router != nil {
		r.subRegister = bus.Subscribe("core.register_router", r.onRegisterRouter)
		router.GET("/api/v1/plugins", r.handleListPlugins)
	}
	return r
}

// onRegisterRouter mounts a plugin's HTTP routes under its requested
// prefix, per spec §4.8: "a plugin that exposes HTTP routes emits
// core.register_router on the bus with its router object and prefix;
// the HTTP layer subscribes and mounts it. Plugins do not hold a
// reference to the HTTP app."
func (r *Runtime) onRegisterRouter(_ context.Context, ev eventbus.Event) error {
	prefix, _ := ev.Data["prefix"].(string)
	group, ok := ev.Data["router"].(func(*echo.Group))
	if !ok || prefix == "" {
		r.log.Warn().Interface("data", ev.Data).Msg("plugin_runtime: malformed core.register_router payload")
		return nil
	}
	group(r.router.Group(prefix))
	return nil
}

func (r *Runtime) handleListPlugins(c echo.Context) error {
	return c.JSON(http.StatusOK, r.Status())
}

// LoadAll discovers every manifest under pluginsDir, sorts them, and
// loads each in order. A skipped plugin (missing dependency) and a
// per-plugin load failure both emit plugin.error and do not abort the
// rest of the batch; a dependency cycle is fatal and aborts LoadAll
// entirely, per spec §4.8.
func (r *Runtime) LoadAll(ctx context.Context, pluginsDir string) error {
	manifests, err := DiscoverManifests(pluginsDir)
	if err != nil {
		return err
	}
	plan, err := Sort(manifests)
	if err != nil {
		return err
	}
	for id, reason := range plan.Skipped {
		r.emitError(id, reason)
	}
	for _, id := range plan.Order {
		if err := r.Load(ctx, manifests[id]); err != nil {
			r.emitError(id, err.Error())
		}
	}
	return nil
}

// Load instantiates one plugin per its manifest's isolation mode and
// runs its Initialize hook behind a SandboxedContext scoped to its
// declared permissions.
func (r *Runtime) Load(ctx context.Context, m Manifest) error {
	base := NewLuminaContext(r.bus, r.soulSvc, r.memStore, r.llm, r.config, m.ID, r.dataRoot)
	sandboxed := NewSandboxedContext(base, m.EffectivePermissions())

	instance, err := r.instantiate(ctx, m)
	if err != nil {
		return err
	}
	if err := instance.Initialize(ctx, sandboxed); err != nil {
		return fmt.Errorf("plugin %q: initialize: %w", m.ID, err)
	}

	r.mu.Lock()
	r.loaded[m.ID] = &loadedPlugin{manifest: m, instance: instance}
	r.mu.Unlock()

	r.bus.EmitSync(eventbus.Event{Type: "plugin.loaded", Source: "plugin_runtime", Data: map[string]any{"plugin_id": m.ID, "version": m.Version, "enabled": true}})
	return nil
}

func (r *Runtime) instantiate(ctx context.Context, m Manifest) (Plugin, error) {
	switch m.IsolationMode {
	case IsolationProcess:
		command, args, err := processCommand(m)
		if err != nil {
			return nil, err
		}
		return newProcessProxy(ctx, m, command, args)
	default:
		factory, ok := lookupLocal(m.Entrypoint)
		if !ok {
			return nil, fmt.Errorf("plugin %q: no local entrypoint registered for %q", m.ID, m.Entrypoint)
		}
		return factory(), nil
	}
}

// processCommand derives the child process command for a process-mode
// plugin: its entrypoint ("run_host.py:PluginHost", "./host:Main", …)
// names the harness executable as the part before the colon, invoked
// from the plugin's own directory.
func processCommand(m Manifest) (string, []string, error) {
	if m.Dir == "" {
		return "", nil, fmt.Errorf("plugin %q: no directory recorded for process isolation", m.ID)
	}
	return m.Entrypoint[:indexColon(m.Entrypoint)], nil, nil
}

func indexColon(s string) int {
	for i, r := range s {
		if r == ':' {
			return i
		}
	}
	return len(s)
}

// Unload stops a running plugin by id and emits plugin.unloaded. Safe
// to call on an unknown id (a no-op), matching "removing and
// re-loading a plugin by id is supported" for live reload.
func (r *Runtime) Unload(ctx context.Context, id string) error {
	r.mu.Lock()
	lp, ok := r.loaded[id]
	if ok {
		delete(r.loaded, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := lp.instance.Shutdown(ctx); err != nil {
		r.emitError(id, err.Error())
		return err
	}
	r.bus.EmitSync(eventbus.Event{Type: "plugin.unloaded", Source: "plugin_runtime", Data: map[string]any{"plugin_id": id}})
	return nil
}

// Reload unloads then loads id again with a freshly read manifest, for
// live reload.
func (r *Runtime) Reload(ctx context.Context, m Manifest) error {
	if err := r.Unload(ctx, m.ID); err != nil {
		return err
	}
	return r.Load(ctx, m)
}

// ShutdownAll unloads every loaded plugin, in no particular order (the
// dependency order only constrains load, not shutdown).
func (r *Runtime) ShutdownAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Unload(ctx, id)
	}
	if r.subRegister != 0 {
		r.bus.Unsubscribe(r.subRegister)
	}
}

// Status returns every loaded plugin's self-reported status, for the
// GET /api/v1/plugins admin surface.
func (r *Runtime) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.loaded))
	for _, lp := range r.loaded {
		out = append(out, lp.instance.GetStatus())
	}
	return out
}

func (r *Runtime) emitError(pluginID, reason string) {
	r.log.Warn().Str("plugin_id", pluginID).Str("reason", reason).Msg("plugin_runtime: plugin error")
	r.bus.EmitSync(eventbus.Event{Type: "plugin.error", Source: "plugin_runtime", Data: map[string]any{"plugin_id": pluginID, "reason": reason}})
}
