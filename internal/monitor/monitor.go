// Package monitor periodically snapshots the daemon's state into a status
// file for operators and external supervisors.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psg-sentry/sentry/internal/dispatcher"
	"github.com/psg-sentry/sentry/internal/events"
	"github.com/psg-sentry/sentry/internal/worker"
	"github.com/psg-sentry/sentry/pkg/core"
)

// Turret is the part of the turret controller the monitor reads.
type Turret interface {
	Status() core.TurretStatus
	IsAlwaysFire() bool
}

// Dependencies holds all dependencies for the monitor service. Every source
// except Turret is optional.
type Dependencies struct {
	Turret     Turret
	Scanner    func() string
	Calibrated func() bool
	Controls   func() core.ControlsConfig
	Events     func() events.Stats
	Telemetry  func() worker.Stats
	Commands   func() map[string]dispatcher.CommandStats
	Frames     func() uint64

	Path     string
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Status is the document written to the status file.
type Status struct {
	Time          time.Time                          `json:"time"`
	Uptime        string                             `json:"uptime"`
	Turret        core.TurretStatus                  `json:"turret"`
	AlwaysFire    bool                               `json:"alwaysfire"`
	Scanner       string                             `json:"scanner,omitempty"`
	Calibrated    bool                               `json:"calibrated"`
	Controls      *core.ControlsConfig               `json:"controls,omitempty"`
	Events        *events.Stats                      `json:"events,omitempty"`
	Telemetry     *worker.Stats                      `json:"telemetry,omitempty"`
	Commands      map[string]dispatcher.CommandStats `json:"commands,omitempty"`
	DroppedFrames uint64                             `json:"dropped_frames"`
}

// Service manages status monitoring
type Service struct {
	deps    Dependencies
	started time.Time
	logger  *slog.Logger

	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:    deps,
		started: deps.Now(),
		logger:  deps.Logger.With("component", "monitor"),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot gathers the current status from every dependency.
func (s *Service) Snapshot() Status {
	now := s.deps.Now()
	st := Status{
		Time:   now,
		Uptime: now.Sub(s.started).Round(time.Second).String(),
	}

	if s.deps.Turret != nil {
		st.Turret = s.deps.Turret.Status()
		st.AlwaysFire = s.deps.Turret.IsAlwaysFire()
	}
	if s.deps.Scanner != nil {
		st.Scanner = s.deps.Scanner()
	}
	if s.deps.Calibrated != nil {
		st.Calibrated = s.deps.Calibrated()
	}
	if s.deps.Controls != nil {
		c := s.deps.Controls()
		st.Controls = &c
	}
	if s.deps.Events != nil {
		e := s.deps.Events()
		st.Events = &e
	}
	if s.deps.Telemetry != nil {
		t := s.deps.Telemetry()
		st.Telemetry = &t
	}
	if s.deps.Commands != nil {
		st.Commands = s.deps.Commands()
	}
	if s.deps.Frames != nil {
		st.DroppedFrames = s.deps.Frames()
	}
	return st
}

// WriteStatus writes one snapshot, replacing the previous file.
func (s *Service) WriteStatus() error {
	raw, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	tmp := s.deps.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := os.Rename(tmp, s.deps.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine. Without a path it does nothing.
func (s *Service) Start() error {
	if s.deps.Path == "" {
		return nil
	}
	if dir := filepath.Dir(s.deps.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating status directory: %w", err)
		}
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		s.logger.Debug("Starting status monitor", "path", s.deps.Path, "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					s.logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
}
