// Package ticker is the single global clock every time-based behavior
// in Lumina subscribes to instead of starting its own timer: scheduled
// soul evolution, idle consolidation triggers, and proactive chat all
// react to system.tick / system.tick.minute rather than polling.
package ticker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lumina/internal/eventbus"
)

// Ticker emits system.tick every second and system.tick.minute on
// minute boundaries, both on the shared bus.
type Ticker struct {
	bus *eventbus.Bus
	log zerolog.Logger

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds a Ticker that has not started yet.
func New(bus *eventbus.Bus, log zerolog.Logger) *Ticker {
	return &Ticker{bus: bus, log: log, interval: time.Second}
}

// Start begins emitting ticks until ctx is done or Stop is called.
// Calling Start twice without an intervening Stop is a no-op.
func (t *Ticker) Start(ctx context.Context) {
	if t.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(runCtx)
}

// Stop halts emission and waits for the run loop to exit.
func (t *Ticker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.done)

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	lastMinute := time.Now().Minute()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			t.bus.Emit(ctx, eventbus.Event{Type: "system.tick", Source: "ticker", Timestamp: now})
			if m := now.Minute(); m != lastMinute {
				lastMinute = m
				t.bus.Emit(ctx, eventbus.Event{Type: "system.tick.minute", Source: "ticker", Timestamp: now})
			}
		}
	}
}
