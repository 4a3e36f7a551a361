package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"lumina/internal/eventbus"
	"lumina/internal/llmmanager"
	"lumina/internal/luminaerr"
	"lumina/internal/memory"
	"lumina/internal/soul"
)

// Context is the capability surface handed to every plugin. A plugin
// talks only to this interface, never to the concrete services
// directly, so permission enforcement (SandboxedContext) can sit
// between it and the real bus/soul/memory/llmmanager.
type Context interface {
	Subscribe(eventType string, handler eventbus.Handler) (eventbus.SubscriptionID, error)
	Unsubscribe(id eventbus.SubscriptionID)
	Emit(ctx context.Context, ev eventbus.Event) (int, error)
	SubscribeTick(handler eventbus.Handler) (eventbus.SubscriptionID, error)

	Soul() (*soul.Service, error)
	Memory() (*memory.MemoryStore, error)
	LLMManager() (*llmmanager.Manager, error)

	Config() map[string]any

	LoadData() ([]byte, error)
	SaveData(data []byte) error
	DataDir() string
}

// LuminaContext is the unrestricted base capability object: references
// to the live services plus load_data/save_data/get_data_dir bound to
// one plugin's id, per spec §4.8.
type LuminaContext struct {
	bus      *eventbus.Bus
	soulSvc  *soul.Service
	memStore *memory.MemoryStore
	llm      *llmmanager.Manager
	config   map[string]any
	pluginID string
	dataRoot string
}

// NewLuminaContext builds the base context for pluginID. dataRoot is
// the plugin data directory's parent; the plugin's own subdirectory is
// created lazily on first SaveData.
func NewLuminaContext(bus *eventbus.Bus, soulSvc *soul.Service, memStore *memory.MemoryStore, llm *llmmanager.Manager, config map[string]any, pluginID, dataRoot string) *LuminaContext {
	return &LuminaContext{bus: bus, soulSvc: soulSvc, memStore: memStore, llm: llm, config: config, pluginID: pluginID, dataRoot: dataRoot}
}

func (c *LuminaContext) Subscribe(eventType string, handler eventbus.Handler) (eventbus.SubscriptionID, error) {
	return c.bus.Subscribe(eventType, handler), nil
}

func (c *LuminaContext) Unsubscribe(id eventbus.SubscriptionID) { c.bus.Unsubscribe(id) }

func (c *LuminaContext) Emit(ctx context.Context, ev eventbus.Event) (int, error) {
	return c.bus.Emit(ctx, ev), nil
}

func (c *LuminaContext) SubscribeTick(handler eventbus.Handler) (eventbus.SubscriptionID, error) {
	return c.bus.Subscribe("system.tick*", handler), nil
}

func (c *LuminaContext) Soul() (*soul.Service, error)             { return c.soulSvc, nil }
func (c *LuminaContext) Memory() (*memory.MemoryStore, error)     { return c.memStore, nil }
func (c *LuminaContext) LLMManager() (*llmmanager.Manager, error) { return c.llm, nil }

// Config returns a shallow copy of the read-only config view, so a
// plugin mutating its own copy cannot affect the host's configuration.
func (c *LuminaContext) Config() map[string]any {
	out := make(map[string]any, len(c.config))
	for k, v := range c.config {
		out[k] = v
	}
	return out
}

func (c *LuminaContext) dataFile() string {
	return filepath.Join(c.dataRoot, c.pluginID, "data.json")
}

func (c *LuminaContext) DataDir() string { return filepath.Join(c.dataRoot, c.pluginID) }

// LoadData reads the plugin's persisted data blob, returning nil with
// no error if nothing has been saved yet.
func (c *LuminaContext) LoadData() ([]byte, error) {
	data, err := os.ReadFile(c.dataFile())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, luminaerr.NewTransient("plugin.load_data", c.pluginID, err)
	}
	return data, nil
}

// SaveData atomically writes the plugin's data blob (tmp-then-rename,
// matching the character-directory write discipline elsewhere in this
// module).
func (c *LuminaContext) SaveData(data []byte) error {
	dir := c.DataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return luminaerr.NewTransient("plugin.save_data", c.pluginID, err)
	}
	tmp := c.dataFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return luminaerr.NewTransient("plugin.save_data", c.pluginID, err)
	}
	if err := os.Rename(tmp, c.dataFile()); err != nil {
		return luminaerr.NewTransient("plugin.save_data", c.pluginID, err)
	}
	return nil
}

// SandboxedContext wraps a base Context and rejects any access whose
// required permission was not granted to the plugin, per spec §4.8.
type SandboxedContext struct {
	base    Context
	granted map[Permission]bool
}

// NewSandboxedContext wraps base with a fixed permission set.
func NewSandboxedContext(base Context, granted map[Permission]bool) *SandboxedContext {
	return &SandboxedContext{base: base, granted: granted}
}

func (s *SandboxedContext) require(p Permission) error {
	if s.granted[p] {
		return nil
	}
	return luminaerr.NewPermission("plugin.sandbox", fmt.Sprintf("missing permission %q", p), nil)
}

func (s *SandboxedContext) Subscribe(eventType string, handler eventbus.Handler) (eventbus.SubscriptionID, error) {
	if err := s.require(PermEventSubscribe); err != nil {
		return 0, err
	}
	return s.base.Subscribe(eventType, handler)
}

func (s *SandboxedContext) Unsubscribe(id eventbus.SubscriptionID) { s.base.Unsubscribe(id) }

func (s *SandboxedContext) Emit(ctx context.Context, ev eventbus.Event) (int, error) {
	if err := s.require(PermEventEmit); err != nil {
		return 0, err
	}
	return s.base.Emit(ctx, ev)
}

func (s *SandboxedContext) SubscribeTick(handler eventbus.Handler) (eventbus.SubscriptionID, error) {
	if err := s.require(PermTickerSubscribe); err != nil {
		return 0, err
	}
	return s.base.SubscribeTick(handler)
}

func (s *SandboxedContext) Soul() (*soul.Service, error) {
	if err := s.require(PermSoulModify); err != nil {
		return nil, err
	}
	return s.base.Soul()
}

func (s *SandboxedContext) Memory() (*memory.MemoryStore, error) {
	if err := s.require(PermMemoryRead); err != nil {
		if err2 := s.require(PermMemoryWrite); err2 != nil {
			return nil, err
		}
	}
	return s.base.Memory()
}

func (s *SandboxedContext) LLMManager() (*llmmanager.Manager, error) {
	if err := s.require(PermLLMInvoke); err != nil {
		return nil, err
	}
	return s.base.LLMManager()
}

func (s *SandboxedContext) Config() map[string]any { return s.base.Config() }

// LoadData/SaveData/DataDir are always available, scoped to the
// plugin's own id regardless of declared permissions: the
// filesystem.* permissions gate host filesystem access beyond this
// sandbox, which this implementation does not expose to plugins at
// all, so there is nothing left for them to gate here.
func (s *SandboxedContext) LoadData() ([]byte, error)  { return s.base.LoadData() }
func (s *SandboxedContext) SaveData(data []byte) error { return s.base.SaveData(data) }
func (s *SandboxedContext) DataDir() string            { return s.base.DataDir() }
