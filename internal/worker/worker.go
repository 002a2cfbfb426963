// Package worker turns control-plane telemetry into stored history. Records
// enter through the dispatcher, wait in queues and are flushed in batches to
// the storage backend and the metrics sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/psg-sentry/sentry/internal/dispatcher"
	"github.com/psg-sentry/sentry/internal/queue"
	"github.com/psg-sentry/sentry/internal/storage"
	"github.com/psg-sentry/sentry/pkg/core"
)

// Metrics receives batched time series, e.g. *influx.Manager.
type Metrics interface {
	WriteStatus(core.TurretStatus) error
	WriteEngagement(core.Engagement) error
}

// Broadcaster pushes records as they happen, e.g. *emitter.MQTTEmitter.
type Broadcaster interface {
	PublishStatus(core.TurretStatus) error
	PublishEngagement(core.Engagement) error
	PublishControls(core.ControlsConfig) error
}

// Dependencies holds all dependencies for the worker manager. Metrics and
// Broadcaster are optional.
type Dependencies struct {
	Metrics     Metrics
	Broadcaster Broadcaster
	Logger      *slog.Logger
	Now         func() time.Time
}

// Queues holds records waiting for the next flush.
type Queues struct {
	Statuses    *queue.Queue[core.TurretStatus]
	Engagements *queue.Queue[core.Engagement]
}

// NewQueues creates bounded queues. limit <= 0 means unbounded.
func NewQueues(limit int) *Queues {
	return &Queues{
		Statuses:    queue.NewBounded[core.TurretStatus](limit),
		Engagements: queue.NewBounded[core.Engagement](limit),
	}
}

// Stats summarises the pipeline for the status monitor.
type Stats struct {
	StatusesWritten    uint64        `json:"statuses_written"`
	EngagementsWritten uint64        `json:"engagements_written"`
	Rejected           uint64        `json:"rejected"`
	FlushErrors        uint64        `json:"flush_errors"`
	QueuedStatuses     int           `json:"queued_statuses"`
	QueuedEngagements  int           `json:"queued_engagements"`
	Evicted            uint64        `json:"evicted"`
	LastFlush          time.Time     `json:"last_flush"`
	LastFlushDuration  time.Duration `json:"last_flush_duration"`
}

// Manager manages the telemetry queues and the flush goroutine.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	queues  *Queues
	logger  *slog.Logger

	d *dispatcher.Dispatcher

	flushMu sync.Mutex

	mu    sync.Mutex
	stats Stats

	stop     chan struct{}
	finished chan struct{}
	started  bool
	stopped  bool
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend, queues *Queues) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if queues == nil {
		queues = NewQueues(0)
	}
	return &Manager{
		deps:     deps,
		backend:  backend,
		queues:   queues,
		logger:   deps.Logger.With("component", "worker"),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Queues exposes the pending record queues.
func (m *Manager) Queues() *Queues {
	return m.queues
}

// RecordStatus hands a turret status to the pipeline. Never blocks; a full
// dispatcher buffer drops the sample.
func (m *Manager) RecordStatus(s core.TurretStatus) {
	m.dispatch(CmdStatus, s)
}

// RecordEngagement hands an engagement to the pipeline.
func (m *Manager) RecordEngagement(e core.Engagement) {
	m.dispatch(CmdEngagement, e)
}

// RecordCalibration records the operator installing a new grid.
func (m *Manager) RecordCalibration(g core.CalibrationGrid) {
	m.dispatch(CmdCalibration, core.CalibrationChange{Time: m.deps.Now(), Grid: g})
}

// RecordControls records the operator replacing the controls policy.
func (m *Manager) RecordControls(c core.ControlsConfig) {
	m.dispatch(CmdControls, core.ControlsChange{Time: m.deps.Now(), Controls: c.Clone()})
}

func (m *Manager) dispatch(command string, payload any) {
	if m.d == nil {
		return
	}
	if _, err := m.d.Dispatch(dispatcher.NewEvent(command, payload)); err != nil {
		m.mu.Lock()
		m.stats.Rejected++
		m.mu.Unlock()
		m.logger.Debug("telemetry record rejected", "command", command, "error", err)
	}
}

// Start launches the flush loop.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.run(ctx, interval)
}

func (m *Manager) run(ctx context.Context, interval time.Duration) {
	defer close(m.finished)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Error("telemetry flush failed", "error", err)
			}
		}
	}
}

// Stop ends the flush loop and writes whatever is still queued. Close the
// dispatcher first so no handler is still pushing.
func (m *Manager) Stop() error {
	m.mu.Lock()
	running := m.started && !m.stopped
	m.stopped = true
	m.mu.Unlock()

	if running {
		close(m.stop)
		<-m.finished
	}
	return m.Flush()
}

// Flush writes queued records to the backend and metrics sink. Records the
// backend refuses are requeued for the next flush.
func (m *Manager) Flush() error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	start := m.deps.Now()
	var errs []error

	statuses := m.queues.Statuses.GetAndEmpty()
	if len(statuses) > 0 {
		if err := m.backend.RecordStatuses(statuses); err != nil {
			m.queues.Statuses.Requeue(statuses)
			errs = append(errs, fmt.Errorf("statuses: %w", err))
		} else {
			m.count(func(s *Stats) { s.StatusesWritten += uint64(len(statuses)) })
			m.writeMetrics(statuses, nil)
		}
	}

	engagements := m.queues.Engagements.GetAndEmpty()
	if len(engagements) > 0 {
		if err := m.backend.RecordEngagements(engagements); err != nil {
			m.queues.Engagements.Requeue(engagements)
			errs = append(errs, fmt.Errorf("engagements: %w", err))
		} else {
			m.count(func(s *Stats) { s.EngagementsWritten += uint64(len(engagements)) })
			m.writeMetrics(nil, engagements)
		}
	}

	m.count(func(s *Stats) {
		s.LastFlush = start
		s.LastFlushDuration = m.deps.Now().Sub(start)
		if len(errs) > 0 {
			s.FlushErrors++
		}
	})

	return errors.Join(errs...)
}

func (m *Manager) writeMetrics(statuses []core.TurretStatus, engagements []core.Engagement) {
	if m.deps.Metrics == nil {
		return
	}
	for _, s := range statuses {
		if err := m.deps.Metrics.WriteStatus(s); err != nil {
			m.logger.Debug("metrics write failed", "error", err)
			return
		}
	}
	for _, e := range engagements {
		if err := m.deps.Metrics.WriteEngagement(e); err != nil {
			m.logger.Debug("metrics write failed", "error", err)
			return
		}
	}
}

func (m *Manager) count(update func(*Stats)) {
	m.mu.Lock()
	update(&m.stats)
	m.mu.Unlock()
}

// Stats returns a snapshot of the pipeline counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()

	s.QueuedStatuses = m.queues.Statuses.Len()
	s.QueuedEngagements = m.queues.Engagements.Len()
	s.Evicted = m.queues.Statuses.Dropped() + m.queues.Engagements.Dropped()
	return s
}
