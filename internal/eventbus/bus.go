package eventbus

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one Event. A returned error is logged by the bus
// and never propagated to other subscribers or to the emitter.
type Handler func(ctx context.Context, ev Event) error

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID int64

type subscription struct {
	id      SubscriptionID
	pattern string
	handler Handler
}

// Bus is the concrete EventBus. It is safe for concurrent use.
type Bus struct {
	log zerolog.Logger

	mu            sync.RWMutex
	direct        map[string][]subscription
	wildcard      []subscription
	subIndex      map[SubscriptionID]string // id -> pattern; wildcard vs direct follows from whether the pattern holds *, ? or [
	schemas       map[string]EventSchema
	services      map[string]any
	nextSub       SubscriptionID
}

// New builds an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:      log,
		direct:   make(map[string][]subscription),
		subIndex: make(map[SubscriptionID]string),
		schemas:  make(map[string]EventSchema),
		services: make(map[string]any),
	}
}

// RegisterSchema constrains future Emit calls for eventType.
func (b *Bus) RegisterSchema(eventType string, schema EventSchema) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemas[eventType] = schema
}

// Subscribe registers handler for eventType, which may contain glob
// wildcards ("*", "?", "[...]") matched against the emitted event's
// Type. Patterns without a wildcard are dispatched via a direct map
// lookup; patterns containing one are checked against every emit.
func (b *Bus) Subscribe(eventType string, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	id := b.nextSub
	sub := subscription{id: id, pattern: eventType, handler: handler}

	if strings.ContainsAny(eventType, "*?[") {
		b.wildcard = append(b.wildcard, sub)
	} else {
		b.direct[eventType] = append(b.direct[eventType], sub)
	}
	b.subIndex[id] = eventType
	return id
}

// Unsubscribe removes a subscription previously returned by Subscribe.
// Unsubscribing an unknown id is a no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pattern, ok := b.subIndex[id]
	if !ok {
		return
	}
	delete(b.subIndex, id)

	if strings.ContainsAny(pattern, "*?[") {
		for i, s := range b.wildcard {
			if s.id == id {
				b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
				break
			}
		}
		return
	}
	subs := b.direct[pattern]
	for i, s := range subs {
		if s.id == id {
			b.direct[pattern] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Emit checks ev.SchemaVersion (if set) against any schema registered
// for ev.Type, validates ev.Data, then calls direct subscribers
// followed by wildcard subscribers, returning the count of handlers
// invoked. A version mismatch or schema validation failure
// short-circuits dispatch entirely and returns 0.
//
// Each handler runs synchronously and in isolation: a panic or
// returned error is logged and does not stop the remaining handlers
// or propagate to the caller.
func (b *Bus) Emit(ctx context.Context, ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	schema, hasSchema := b.schemas[ev.Type]
	b.mu.RUnlock()

	if hasSchema && !schemaVersionCompatible(schema.Version, ev.SchemaVersion) {
		b.log.Warn().
			Str("event_type", ev.Type).
			Str("schema_version", schema.Version).
			Str("emit_version", ev.SchemaVersion).
			Msg("eventbus: emit under a different major schema version, dropping emit")
		return 0
	}

	if hasSchema && schema.Validate != nil {
		if err := schema.Validate(ev.Data); err != nil {
			b.log.Warn().Str("event_type", ev.Type).Err(err).Msg("eventbus: schema validation failed, dropping emit")
			return 0
		}
	}

	b.mu.RLock()
	direct := append([]subscription(nil), b.direct[ev.Type]...)
	wildcards := append([]subscription(nil), b.wildcard...)
	b.mu.RUnlock()

	called := 0
	for _, s := range direct {
		b.invoke(ctx, s, ev)
		called++
	}
	for _, s := range wildcards {
		if !globMatch(s.pattern, ev.Type) {
			continue
		}
		b.invoke(ctx, s, ev)
		called++
	}
	return called
}

func (b *Bus) invoke(ctx context.Context, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", ev.Type).
				Str("pattern", s.pattern).
				Interface("panic", r).
				Msg("eventbus: handler panicked")
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		b.log.Error().
			Str("event_type", ev.Type).
			Str("pattern", s.pattern).
			Err(err).
			Msg("eventbus: handler returned error")
	}
}

// EmitSync dispatches ev on a background goroutine and returns
// immediately, for callers that emit from a context where blocking on
// every subscriber isn't acceptable (the original's emit_sync, which
// schedules a task on the running loop instead of awaiting it).
func (b *Bus) EmitSync(ev Event) {
	go b.Emit(context.Background(), ev)
}

func globMatch(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// schemaVersionCompatible implements §4.1's "emitting under a schema of
// a different major version is rejected." Either side being blank
// means no assertion was made (an unversioned schema, or an emitter
// that doesn't declare a version) and the check is skipped, so every
// existing caller that predates versioning is unaffected.
func schemaVersionCompatible(schemaVersion, emitVersion string) bool {
	if schemaVersion == "" || emitVersion == "" {
		return true
	}
	return majorVersion(schemaVersion) == majorVersion(emitVersion)
}

// majorVersion extracts the leading dot-separated component of a
// "MAJOR.MINOR[.PATCH]" version string, e.g. "2.1" -> "2".
func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
