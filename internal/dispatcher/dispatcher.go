// Package dispatcher routes telemetry commands raised by the control plane
// (turret status, engagements, policy changes) to registered handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrUnknownCommand is returned for a command with no handler.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrQueueFull is returned when a dropping buffer has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned for buffered commands after Close.
	ErrClosed = errors.New("dispatcher closed")
)

const instrumentationName = "github.com/psg-sentry/sentry/internal/dispatcher"

// Queued is the result of a command accepted into a buffer.
const Queued = "queued"

// Event is a single telemetry record travelling through the dispatcher.
type Event struct {
	Command   string
	Payload   any
	Timestamp time.Time
}

// NewEvent stamps a payload with the current time.
func NewEvent(command string, payload any) Event {
	return Event{Command: command, Payload: payload, Timestamp: time.Now()}
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*route)

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(r *route) { r.bufferSize = size }
}

// Blocking makes a buffered handler wait for room instead of dropping.
// Operator changes use it: losing one would leave history inconsistent.
func Blocking() Option {
	return func(r *route) { r.blocking = true }
}

// Logged adds debug logging around the handler.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

// CommandStats counts what happened to one command.
type CommandStats struct {
	Handled uint64 `json:"handled"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

type route struct {
	command    string
	handler    HandlerFunc
	bufferSize int
	blocking   bool
	logged     bool
	buffer     chan Event
	attrs      metric.MeasurementOption
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	routes map[string]*route
	logger Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	// mu guards closed; the read side keeps Close from closing a buffer
	// under a pending send
	mu      sync.RWMutex
	closed  bool
	drained sync.WaitGroup

	statsMu sync.Mutex
	stats   map[string]*CommandStats
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		routes: make(map[string]*route),
		stats:  make(map[string]*CommandStats),
		logger: logger,
	}

	m := otel.Meter(instrumentationName)
	var err error

	d.queueSize, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Telemetry records waiting in each command buffer"))
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, r := range d.routes {
			if r.buffer != nil {
				o.ObserveInt64(d.queueSize, int64(len(r.buffer)), r.attrs)
			}
		}
		return nil
	}, d.queueSize)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Telemetry records handled"))
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	d.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Telemetry records dropped because the buffer was full"))
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command. Handlers must be registered
// before the first Dispatch.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	r := &route{
		command: command,
		handler: h,
		attrs:   metric.WithAttributes(attribute.String("command", command)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logged {
		r.handler = d.withLogging(command, r.handler)
	}
	if r.bufferSize > 0 {
		r.buffer = make(chan Event, r.bufferSize)
		d.drained.Add(1)
		go d.drain(r)
	}

	d.statsMu.Lock()
	d.stats[command] = &CommandStats{}
	d.statsMu.Unlock()
	d.routes[command] = r
}

// Dispatch routes an event to its handler. Buffered commands return Queued
// as soon as the event is accepted.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	r, ok := d.routes[e.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	if r.buffer == nil {
		return d.handle(r, e)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, e.Command)
	}
	if r.blocking {
		r.buffer <- e
		return Queued, nil
	}
	select {
	case r.buffer <- e:
		return Queued, nil
	default:
		d.dropped.Add(context.Background(), 1, r.attrs)
		d.count(r.command, func(s *CommandStats) { s.Dropped++ })
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, e.Command)
	}
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	_, ok := d.routes[command]
	return ok
}

// Commands lists the registered commands in sorted order.
func (d *Dispatcher) Commands() []string {
	out := make([]string, 0, len(d.routes))
	for cmd := range d.routes {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the per-command counters.
func (d *Dispatcher) Stats() map[string]CommandStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	out := make(map[string]CommandStats, len(d.stats))
	for cmd, s := range d.stats {
		snap := *s
		if r := d.routes[cmd]; r != nil && r.buffer != nil {
			snap.Queued = len(r.buffer)
		}
		out[cmd] = snap
	}
	return out
}

// Close stops accepting buffered events and waits until every queued event
// has been handled. Synchronous handlers keep working.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, r := range d.routes {
		if r.buffer != nil {
			close(r.buffer)
		}
	}
	d.mu.Unlock()

	d.drained.Wait()
}

func (d *Dispatcher) drain(r *route) {
	defer d.drained.Done()
	for e := range r.buffer {
		if _, err := d.handle(r, e); err != nil && !r.logged {
			d.logger.Error("buffered event failed", "command", r.command, "error", err)
		}
	}
}

func (d *Dispatcher) handle(r *route, e Event) (any, error) {
	result, err := r.handler(e)
	d.processed.Add(context.Background(), 1, r.attrs)
	d.count(r.command, func(s *CommandStats) {
		s.Handled++
		if err != nil {
			s.Failed++
		}
	})
	return result, err
}

func (d *Dispatcher) count(command string, update func(*CommandStats)) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if s, ok := d.stats[command]; ok {
		update(s)
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "payload", fmt.Sprintf("%T", e.Payload))

		result, err := h(e)
		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}
		return result, err
	}
}
