package plugin

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/eventbus"
)

func TestSandboxedContext_AllowsGrantedPermission(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	base := NewLuminaContext(bus, nil, nil, nil, nil, "plugin_a", t.TempDir())
	sandboxed := NewSandboxedContext(base, map[Permission]bool{PermEventEmit: true})

	n, err := sandboxed.Emit(context.Background(), eventbus.Event{Type: "test.event"})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSandboxedContext_RejectsMissingPermission(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	base := NewLuminaContext(bus, nil, nil, nil, nil, "plugin_a", t.TempDir())
	sandboxed := NewSandboxedContext(base, map[Permission]bool{})

	_, err := sandboxed.Emit(context.Background(), eventbus.Event{Type: "test.event"})
	require.Error(t, err)
}

func TestSandboxedContext_SubscribeRequiresEventSubscribe(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	base := NewLuminaContext(bus, nil, nil, nil, nil, "plugin_a", t.TempDir())
	sandboxed := NewSandboxedContext(base, map[Permission]bool{PermEventSubscribe: true})

	id, err := sandboxed.Subscribe("test.event", func(context.Context, eventbus.Event) error { return nil })
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestSandboxedContext_SoulRequiresSoulModify(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	base := NewLuminaContext(bus, nil, nil, nil, nil, "plugin_a", t.TempDir())
	sandboxed := NewSandboxedContext(base, map[Permission]bool{})

	_, err := sandboxed.Soul()
	require.Error(t, err)
}

func TestLuminaContext_SaveThenLoadDataRoundTrips(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	base := NewLuminaContext(bus, nil, nil, nil, nil, "plugin_a", t.TempDir())

	require.NoError(t, base.SaveData([]byte(`{"count":1}`)))
	data, err := base.LoadData()
	require.NoError(t, err)
	require.JSONEq(t, `{"count":1}`, string(data))
}

func TestLuminaContext_LoadDataBeforeSaveReturnsNil(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	base := NewLuminaContext(bus, nil, nil, nil, nil, "plugin_a", t.TempDir())

	data, err := base.LoadData()
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestLuminaContext_ConfigReturnsIndependentCopy(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	base := NewLuminaContext(bus, nil, nil, nil, map[string]any{"key": "value"}, "plugin_a", t.TempDir())

	cfg := base.Config()
	cfg["key"] = "mutated"
	require.Equal(t, "value", base.Config()["key"])
}
