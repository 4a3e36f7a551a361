// Package eventbus implements the publish/subscribe core every other
// Lumina component routes through: typed events, wildcard subscription
// patterns, an optional schema registry, and a service registry used
// for plugin-to-plugin discovery.
//
// Grounded on the original implementation's core/events/bus.py: the
// same subscribe/unsubscribe/emit/emit_sync surface, the same
// direct-subscribers-then-wildcard-subscribers dispatch order, and the
// same "log and continue" handler isolation.
package eventbus

import "time"

// Event is one message flowing through the bus.
//
// SchemaVersion is optional: an emitter that doesn't know or care about
// schema versioning leaves it blank and Emit skips the version check
// entirely. An emitter that does declare one is asserting "I built this
// payload against major version N of eventType's schema" — Emit rejects
// the call if that major version doesn't match the registered schema's,
// per the version-tagging requirement in §4.1.
type Event struct {
	Type          string
	Data          map[string]any
	Source        string
	Timestamp     time.Time
	SchemaVersion string
}

// EventSchema optionally constrains the Data payload of events
// registered under a given type. Validate is nil for unconstrained
// event types.
type EventSchema struct {
	Version     string
	Description string
	Validate    func(data map[string]any) error
}
