// Package turret owns the authoritative turret state and the single goroutine
// that writes commands to the hardware.
package turret

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/psg-sentry/sentry/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/psg-sentry/sentry/internal/turret"

// Publisher receives every (pan, tilt, firing) triple the writer handles.
type Publisher interface {
	Publish(pan, tilt int, firing bool)
}

// Recorder receives timestamped status for the telemetry pipeline.
type Recorder interface {
	RecordStatus(core.TurretStatus)
}

// Option configures a Controller.
type Option func(*Controller)

func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller serialises every state change into commands for the device.
// Callers mutate state through Move, Fire and AlwaysFire; the writer goroutine
// picks up the latest state each time it is woken.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	pan        int
	tilt       int
	firing     bool
	alwaysFire bool

	dirty   bool
	done    bool
	started bool

	// only touched by the writer goroutine
	lastSent string

	device    Device
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
	finished  chan struct{}

	written    metric.Int64Counter
	suppressed metric.Int64Counter
	failed     metric.Int64Counter
}

// New creates a controller for device. Call Start to launch the writer.
func New(device Device, opts ...Option) (*Controller, error) {
	c := &Controller{
		device:   device,
		finished: make(chan struct{}),
		logger:   slog.Default(),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "turret")

	m := otel.Meter(instrumentationName)
	var err error
	c.written, err = m.Int64Counter("turret.commands.written",
		metric.WithDescription("Commands written to the turret device"))
	if err != nil {
		return nil, fmt.Errorf("creating written counter: %w", err)
	}
	c.suppressed, err = m.Int64Counter("turret.commands.suppressed",
		metric.WithDescription("Commands not sent because identical to the last one"))
	if err != nil {
		return nil, fmt.Errorf("creating suppressed counter: %w", err)
	}
	c.failed, err = m.Int64Counter("turret.commands.failed",
		metric.WithDescription("Commands the device rejected"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return c, nil
}

// Start launches the writer and drives the turret to its neutral position.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
	c.Move(core.NeutralAngle, core.NeutralAngle)
}

// Move clamps the angles into servo range and, if they differ from the current
// position, updates state and wakes the writer. Logging happens outside c.mu
// because log records read Status.
func (c *Controller) Move(pan, tilt int) {
	if clamped, ok := core.ClampAngle(pan); ok {
		c.logger.Warn("Pan out of range, changing to be within 0..180", "pan", pan, "clamped", clamped)
		pan = clamped
	}
	if clamped, ok := core.ClampAngle(tilt); ok {
		c.logger.Warn("Tilt out of range, changing to be within 0..180", "tilt", tilt, "clamped", clamped)
		tilt = clamped
	}

	c.mu.Lock()
	if pan == c.pan && tilt == c.tilt {
		c.mu.Unlock()
		c.logger.Debug("Turret already in position, not moving", "position", core.Position{Pan: pan, Tilt: tilt})
		return
	}
	c.pan = pan
	c.tilt = tilt
	c.wake()
	c.mu.Unlock()

	c.logger.Info("Moving turret", "pan", pan, "tilt", tilt)
}

// Fire changes the trigger state. It does nothing while always-fire is on or
// when the value is unchanged.
func (c *Controller) Fire(firing bool) {
	c.mu.Lock()
	if c.alwaysFire || c.firing == firing {
		c.mu.Unlock()
		return
	}
	c.firing = firing
	c.wake()
	c.mu.Unlock()

	c.logger.Info("Changing trigger", "firing", firing)
}

// AlwaysFire latches the trigger to enabled. The writer is woken even when
// nothing changed.
func (c *Controller) AlwaysFire(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alwaysFire = enabled
	c.firing = enabled
	c.wake()
}

// Position returns the current pan/tilt.
func (c *Controller) Position() core.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.Position{Pan: c.pan, Tilt: c.tilt}
}

func (c *Controller) IsFiring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firing
}

func (c *Controller) IsAlwaysFire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alwaysFire
}

// Status is a timestamped snapshot of the turret state.
func (c *Controller) Status() core.TurretStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.TurretStatus{Time: time.Now(), Pan: c.pan, Tilt: c.tilt, Firing: c.firing}
}

// Terminate stops the writer and blocks until the shutdown command has been
// written. Safe to call more than once.
func (c *Controller) Terminate() {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.done = true
		c.mu.Unlock()
		// writer never ran, shut the hardware down ourselves
		c.write(ShutdownCommand, true)
		close(c.finished)
		return
	}
	c.done = true
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.finished
}

// Done is closed once the writer has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.finished
}

// wake must be called with c.mu held.
func (c *Controller) wake() {
	c.dirty = true
	c.cond.Signal()
}

func (c *Controller) run() {
	defer close(c.finished)

	for {
		c.mu.Lock()
		for !c.dirty && !c.done {
			c.cond.Wait()
		}
		if c.done {
			c.mu.Unlock()
			break
		}
		c.dirty = false
		status := core.TurretStatus{Time: time.Now(), Pan: c.pan, Tilt: c.tilt, Firing: c.firing}
		c.mu.Unlock()

		c.write(EncodeCommand(status.Pan, status.Tilt, status.Firing), false)

		if c.publisher != nil {
			c.publisher.Publish(status.Pan, status.Tilt, status.Firing)
		}
		if c.recorder != nil {
			c.recorder.RecordStatus(status)
		}
	}

	c.logger.Info("Stopping serial controller")
	c.write(ShutdownCommand, true)
}

func (c *Controller) write(command string, force bool) {
	ctx := context.Background()

	if !force && command == c.lastSent {
		c.logger.Debug("Not sending, identical to last sent", "command", command)
		c.suppressed.Add(ctx, 1)
		return
	}

	c.logger.Debug("Sending to device", "command", command)
	if _, err := c.device.Write([]byte(command)); err != nil {
		c.logger.Error("Failed to write to turret", "command", command, "error", err)
		c.failed.Add(ctx, 1)
		return
	}
	c.lastSent = command
	c.written.Add(ctx, 1)
}
