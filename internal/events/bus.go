// Package events distributes turret status changes to live clients.
//
// The bus holds a single pending event plus the last delivered one. Publishing
// the last delivered value again is a no-op; publishing anything else replaces
// whatever is still pending, so slow readers see only the most recent state.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/psg-sentry/sentry/pkg/core"
)

// AlwaysFireFunc reports whether the always-fire override is active.
type AlwaysFireFunc func() bool

// Stats counts what happened to published events.
type Stats struct {
	Published   uint64 `json:"published"`
	Suppressed  uint64 `json:"suppressed"`
	Overwritten uint64 `json:"overwritten"`
	Delivered   uint64 `json:"delivered"`
}

// Bus is the single-slot status notifier.
type Bus struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending    *core.TurretEvent
	last       *core.TurretEvent
	terminated bool
	stats      Stats

	alwaysFire AlwaysFireFunc
	logger     *slog.Logger
}

// NewBus creates a bus. alwaysFire may be nil.
func NewBus(alwaysFire AlwaysFireFunc, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		alwaysFire: alwaysFire,
		logger:     logger.With("component", "events"),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish offers a new status. It never blocks.
func (b *Bus) Publish(pan, tilt int, firing bool) {
	ev := core.TurretEvent{Pan: pan, Tilt: tilt, Firing: firing}

	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return
	}
	if b.last != nil && *b.last == ev {
		b.stats.Suppressed++
		b.mu.Unlock()
		b.logger.Debug("Not publishing, same as last delivered", "pan", pan, "tilt", tilt, "firing", firing)
		return
	}
	if b.pending != nil {
		b.stats.Overwritten++
	}

	b.pending = &ev
	b.stats.Published++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Next blocks until an event is pending, the bus is terminated or ctx is done.
// ok is false in the latter two cases. The always-fire override is applied to
// the returned value, while the raw published value is what later publishes
// are compared against.
func (b *Bus) Next(ctx context.Context) (ev core.TurretEvent, ok bool) {
	ev, ok = b.NextRaw(ctx)
	if !ok {
		return ev, false
	}
	ev = b.Apply(ev)
	b.logger.Debug("Sending event", "pan", ev.Pan, "tilt", ev.Tilt, "firing", ev.Firing)
	return ev, true
}

// NextRaw is Next without the always-fire override.
func (b *Bus) NextRaw(ctx context.Context) (ev core.TurretEvent, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	for !b.terminated && b.pending == nil && ctx.Err() == nil {
		b.cond.Wait()
	}
	if b.terminated || b.pending == nil {
		b.mu.Unlock()
		return core.TurretEvent{}, false
	}

	ev = *b.pending
	b.last = b.pending
	b.pending = nil
	b.stats.Delivered++
	b.mu.Unlock()
	return ev, true
}

// Apply returns ev as a client should see it right now: firing is forced on
// while always-fire is active.
func (b *Bus) Apply(ev core.TurretEvent) core.TurretEvent {
	if b.alwaysFire != nil && b.alwaysFire() {
		ev.Firing = true
	}
	return ev
}

// NextEvent is Next rendered as a server-sent-events frame.
func (b *Bus) NextEvent(ctx context.Context) (string, bool) {
	ev, ok := b.Next(ctx)
	if !ok {
		return "", false
	}
	return ev.SSE(), true
}

// Terminate wakes every waiting reader. Later reads return immediately.
func (b *Bus) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminated = true
	b.pending = nil
	b.cond.Broadcast()
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
