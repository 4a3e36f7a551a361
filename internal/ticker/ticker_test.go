package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/eventbus"
)

func TestTicker_EmitsSystemTick(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(zerolog.Nop())
	tk := New(bus, zerolog.Nop())
	tk.interval = 10 * time.Millisecond

	ticks := make(chan struct{}, 10)
	bus.Subscribe("system.tick", func(_ context.Context, _ eventbus.Event) error {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	})

	ctx := context.Background()
	tk.Start(ctx)
	defer tk.Stop()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("expected at least one system.tick")
	}
}

func TestTicker_StartTwiceIsNoop(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(zerolog.Nop())
	tk := New(bus, zerolog.Nop())
	tk.interval = 10 * time.Millisecond

	ctx := context.Background()
	tk.Start(ctx)
	firstCancel := tk.cancel
	tk.Start(ctx)
	require.NotNil(t, tk.cancel)
	tk.Stop()
	_ = firstCancel
}

func TestTicker_StopWithoutStartIsNoop(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(zerolog.Nop())
	tk := New(bus, zerolog.Nop())
	tk.Stop()
}

func TestTicker_StopWaitsForRunLoopExit(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(zerolog.Nop())
	tk := New(bus, zerolog.Nop())
	tk.interval = 5 * time.Millisecond

	tk.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	tk.Stop()
	require.Nil(t, tk.cancel)
}
