package worker

import (
	"fmt"

	"github.com/psg-sentry/sentry/internal/dispatcher"
	"github.com/psg-sentry/sentry/pkg/core"
)

// Telemetry commands.
const (
	CmdStatus      = ":TURRET:STATUS:"
	CmdEngagement  = ":TARGET:ENGAGED:"
	CmdCalibration = ":CALIBRATION:SET:"
	CmdControls    = ":CONTROLS:SET:"
)

// RegisterHandlers registers all telemetry handlers with the dispatcher and
// routes the manager's Record* calls through it.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher, bufferSize int) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	// High-volume samples - buffered, dropped when full
	d.Register(CmdStatus, m.handleStatus, dispatcher.Buffered(bufferSize))
	d.Register(CmdEngagement, m.handleEngagement, dispatcher.Buffered(bufferSize), dispatcher.Logged())

	// Operator changes - rare, never dropped
	d.Register(CmdCalibration, m.handleCalibration, dispatcher.Buffered(16), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(CmdControls, m.handleControls, dispatcher.Buffered(16), dispatcher.Blocking(), dispatcher.Logged())

	m.d = d
}

func (m *Manager) handleStatus(e dispatcher.Event) (any, error) {
	s, ok := e.Payload.(core.TurretStatus)
	if !ok {
		return nil, fmt.Errorf("unexpected status payload %T", e.Payload)
	}
	m.queues.Statuses.Push(s)

	if m.deps.Broadcaster != nil {
		if err := m.deps.Broadcaster.PublishStatus(s); err != nil {
			m.logger.Debug("status broadcast failed", "error", err)
		}
	}
	return nil, nil
}

func (m *Manager) handleEngagement(e dispatcher.Event) (any, error) {
	g, ok := e.Payload.(core.Engagement)
	if !ok {
		return nil, fmt.Errorf("unexpected engagement payload %T", e.Payload)
	}
	m.queues.Engagements.Push(g)

	if m.deps.Broadcaster != nil {
		if err := m.deps.Broadcaster.PublishEngagement(g); err != nil {
			m.logger.Debug("engagement broadcast failed", "error", err)
		}
	}
	return nil, nil
}

func (m *Manager) handleCalibration(e dispatcher.Event) (any, error) {
	c, ok := e.Payload.(core.CalibrationChange)
	if !ok {
		return nil, fmt.Errorf("unexpected calibration payload %T", e.Payload)
	}
	if err := m.backend.RecordCalibration(c); err != nil {
		return nil, fmt.Errorf("failed to record calibration: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleControls(e dispatcher.Event) (any, error) {
	c, ok := e.Payload.(core.ControlsChange)
	if !ok {
		return nil, fmt.Errorf("unexpected controls payload %T", e.Payload)
	}
	if err := m.backend.RecordControls(c); err != nil {
		return nil, fmt.Errorf("failed to record controls: %w", err)
	}
	if m.deps.Broadcaster != nil {
		if err := m.deps.Broadcaster.PublishControls(c.Controls); err != nil {
			m.logger.Debug("controls broadcast failed", "error", err)
		}
	}
	return nil, nil
}
