package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return New(zerolog.Nop())
}

func TestSubscribe_DirectDispatch(t *testing.T) {
	b := newTestBus()
	var got Event
	b.Subscribe("chat.message", func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})

	called := b.Emit(context.Background(), Event{Type: "chat.message", Data: map[string]any{"text": "hi"}})
	require.Equal(t, 1, called)
	require.Equal(t, "hi", got.Data["text"])
}

func TestSubscribe_WildcardDispatch(t *testing.T) {
	b := newTestBus()
	var hits int
	b.Subscribe("chat.*", func(_ context.Context, ev Event) error {
		hits++
		return nil
	})

	b.Emit(context.Background(), Event{Type: "chat.message"})
	b.Emit(context.Background(), Event{Type: "chat.interrupt"})
	b.Emit(context.Background(), Event{Type: "system.tick"})

	require.Equal(t, 2, hits)
}

func TestEmit_DirectBeforeWildcard(t *testing.T) {
	b := newTestBus()
	var order []string
	var mu sync.Mutex
	record := func(name string) Handler {
		return func(_ context.Context, _ Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	b.Subscribe("chat.*", record("wildcard"))
	b.Subscribe("chat.message", record("direct"))

	b.Emit(context.Background(), Event{Type: "chat.message"})
	require.Equal(t, []string{"direct", "wildcard"}, order)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := newTestBus()
	called := 0
	id := b.Subscribe("x.y", func(_ context.Context, _ Event) error {
		called++
		return nil
	})
	b.Unsubscribe(id)
	b.Emit(context.Background(), Event{Type: "x.y"})
	require.Equal(t, 0, called)
}

func TestUnsubscribe_Wildcard(t *testing.T) {
	b := newTestBus()
	called := 0
	id := b.Subscribe("x.*", func(_ context.Context, _ Event) error {
		called++
		return nil
	})
	b.Unsubscribe(id)
	b.Emit(context.Background(), Event{Type: "x.y"})
	require.Equal(t, 0, called)
}

func TestEmit_HandlerErrorDoesNotStopOthers(t *testing.T) {
	b := newTestBus()
	second := 0
	b.Subscribe("x.y", func(_ context.Context, _ Event) error { return errors.New("boom") })
	b.Subscribe("x.y", func(_ context.Context, _ Event) error { second++; return nil })

	called := b.Emit(context.Background(), Event{Type: "x.y"})
	require.Equal(t, 2, called)
	require.Equal(t, 1, second)
}

func TestEmit_HandlerPanicDoesNotStopOthers(t *testing.T) {
	b := newTestBus()
	second := 0
	b.Subscribe("x.y", func(_ context.Context, _ Event) error { panic("boom") })
	b.Subscribe("x.y", func(_ context.Context, _ Event) error { second++; return nil })

	called := b.Emit(context.Background(), Event{Type: "x.y"})
	require.Equal(t, 2, called)
	require.Equal(t, 1, second)
}

func TestRegisterSchema_RejectsInvalidPayload(t *testing.T) {
	b := newTestBus()
	b.RegisterSchema("chat.message", EventSchema{
		Validate: func(data map[string]any) error {
			if _, ok := data["text"]; !ok {
				return errors.New("missing text")
			}
			return nil
		},
	})
	called := 0
	b.Subscribe("chat.message", func(_ context.Context, _ Event) error { called++; return nil })

	n := b.Emit(context.Background(), Event{Type: "chat.message", Data: map[string]any{}})
	require.Equal(t, 0, n)
	require.Equal(t, 0, called)

	n = b.Emit(context.Background(), Event{Type: "chat.message", Data: map[string]any{"text": "hi"}})
	require.Equal(t, 1, n)
	require.Equal(t, 1, called)
}

func TestRegisterSchema_RejectsMismatchedMajorVersion(t *testing.T) {
	b := newTestBus()
	b.RegisterSchema("chat.message", EventSchema{Version: "2.0"})
	called := 0
	b.Subscribe("chat.message", func(_ context.Context, _ Event) error { called++; return nil })

	n := b.Emit(context.Background(), Event{Type: "chat.message", SchemaVersion: "1.3", Data: map[string]any{}})
	require.Equal(t, 0, n, "a different major version must be rejected")
	require.Equal(t, 0, called)

	n = b.Emit(context.Background(), Event{Type: "chat.message", SchemaVersion: "2.4", Data: map[string]any{}})
	require.Equal(t, 1, n, "a matching major version with a different minor must be accepted")
	require.Equal(t, 1, called)

	n = b.Emit(context.Background(), Event{Type: "chat.message", Data: map[string]any{}})
	require.Equal(t, 1, n, "an emitter that asserts no version at all must not be rejected")
	require.Equal(t, 2, called)
}

func TestEmitSync_DispatchesAsynchronously(t *testing.T) {
	b := newTestBus()
	done := make(chan struct{})
	b.Subscribe("async.event", func(_ context.Context, _ Event) error {
		close(done)
		return nil
	})

	b.EmitSync(Event{Type: "async.event"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestRegisterService_EmitsDiscoveryEvent(t *testing.T) {
	b := newTestBus()
	done := make(chan string, 1)
	b.Subscribe("service.registered", func(_ context.Context, ev Event) error {
		done <- ev.Data["name"].(string)
		return nil
	})

	b.RegisterService("memory", struct{}{})

	select {
	case name := <-done:
		require.Equal(t, "memory", name)
	case <-time.After(time.Second):
		t.Fatal("service.registered was not emitted")
	}

	svc, ok := b.GetService("memory")
	require.True(t, ok)
	require.NotNil(t, svc)
	require.Contains(t, b.ListServices(), "memory")
}

func TestUnregisterService_EmitsOnlyIfExisted(t *testing.T) {
	b := newTestBus()
	called := 0
	b.Subscribe("service.unregistered", func(_ context.Context, _ Event) error { called++; return nil })

	b.UnregisterService("nonexistent")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, called)

	b.RegisterService("x", 1)
	b.UnregisterService("x")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, called)
}
