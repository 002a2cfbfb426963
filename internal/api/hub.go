package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/psg-sentry/sentry/pkg/core"
)

// EventSource is the status event bus. The hub is its only reader. Events are
// read raw so the firing override can be applied again whenever a stored
// event is handed to a new client.
type EventSource interface {
	NextRaw(ctx context.Context) (core.TurretEvent, bool)
	Apply(ev core.TurretEvent) core.TurretEvent
}

// Subscriber receives turret events. C holds at most one pending event; a
// slow subscriber sees only the most recent one.
type Subscriber struct {
	ID uuid.UUID
	C  chan core.TurretEvent
}

// Hub reads the event bus and fans each event out to every stream client.
type Hub struct {
	src    EventSource
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscriber
	last   *core.TurretEvent // raw, before the firing override
	closed bool

	finished chan struct{}
}

// NewHub creates a hub over src. Call Run to start reading.
func NewHub(src EventSource, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		src:      src,
		logger:   logger.With("component", "hub"),
		subs:     make(map[uuid.UUID]*Subscriber),
		finished: make(chan struct{}),
	}
}

// Run pumps events until the source is terminated or ctx ends, then closes
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.finished)
	defer h.close()

	for {
		ev, ok := h.src.NextRaw(ctx)
		if !ok {
			return
		}
		h.broadcast(ev)
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.finished
}

// Subscribe registers a new client. The last delivered event, if any, is
// queued immediately so the client starts with the current state.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.New(), C: make(chan core.TurretEvent, 1)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.C)
		return sub
	}
	if h.last != nil {
		sub.C <- h.src.Apply(*h.last)
	}
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("Stream client connected", "client", sub.ID, "clients", n)
	return sub
}

// Unsubscribe removes a client. It is safe to call after the hub closed.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub.ID)
	close(sub.C)
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("Stream client disconnected", "client", sub.ID, "clients", n)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) broadcast(raw core.TurretEvent) {
	ev := h.src.Apply(raw)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &raw
	for _, sub := range h.subs {
		select {
		case sub.C <- ev:
		default:
			// replace the stale pending event
			select {
			case <-sub.C:
			default:
			}
			sub.C <- ev
		}
	}
}

func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		close(sub.C)
		delete(h.subs, id)
	}
}
