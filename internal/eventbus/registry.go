package eventbus

// RegisterService makes svc discoverable to other components under
// name and emits a service.registered event, so plugins can react to
// newly available services instead of polling for them.
func (b *Bus) RegisterService(name string, svc any) {
	b.mu.Lock()
	b.services[name] = svc
	b.mu.Unlock()

	b.EmitSync(Event{Type: "service.registered", Data: map[string]any{"name": name}, Source: "eventbus"})
}

// UnregisterService removes a previously registered service and emits
// service.unregistered.
func (b *Bus) UnregisterService(name string) {
	b.mu.Lock()
	_, existed := b.services[name]
	delete(b.services, name)
	b.mu.Unlock()

	if existed {
		b.EmitSync(Event{Type: "service.unregistered", Data: map[string]any{"name": name}, Source: "eventbus"})
	}
}

// GetService looks up a registered service by name.
func (b *Bus) GetService(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	svc, ok := b.services[name]
	return svc, ok
}

// ListServices returns the names of all currently registered services.
func (b *Bus) ListServices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.services))
	for name := range b.services {
		names = append(names, name)
	}
	return names
}

// PluginLoaded emits plugin.loaded for id, the convenience helper the
// original exposes alongside its generic emit_sync surface.
func (b *Bus) PluginLoaded(id string) {
	b.EmitSync(Event{Type: "plugin.loaded", Data: map[string]any{"plugin_id": id}, Source: "eventbus"})
}

// PluginUnloaded emits plugin.unloaded for id.
func (b *Bus) PluginUnloaded(id string) {
	b.EmitSync(Event{Type: "plugin.unloaded", Data: map[string]any{"plugin_id": id}, Source: "eventbus"})
}
