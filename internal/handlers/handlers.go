// Package handlers implements the operator control operations. The HTTP
// layer in internal/api decodes requests and delegates here.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/psg-sentry/sentry/internal/calibration"
	"github.com/psg-sentry/sentry/internal/controls"
	"github.com/psg-sentry/sentry/internal/storage"
	"github.com/psg-sentry/sentry/pkg/core"
)

// ErrNoHistory is returned by history queries when the storage backend keeps none.
var ErrNoHistory = errors.New("storage backend does not keep history")

// Turret is the subset of the turret controller the operations drive.
type Turret interface {
	Move(pan, tilt int)
	Fire(firing bool)
	AlwaysFire(enabled bool)
	Position() core.Position
	IsFiring() bool
}

// Scanner is the subset of the idle scanner the operations drive.
type Scanner interface {
	Enable(enabled bool)
	TurretActive()
}

// Camera passes configuration through to the frame source.
type Camera interface {
	Configure(raw json.RawMessage) (json.RawMessage, error)
}

// Recorder receives operator changes for the history.
type Recorder interface {
	RecordCalibration(g core.CalibrationGrid)
	RecordControls(c core.ControlsConfig)
}

// Dependencies holds all dependencies for the control operations. Recorder
// and History are optional.
type Dependencies struct {
	Calibration *calibration.Store
	Controls    *controls.Store
	Turret      Turret
	Scanner     Scanner
	Camera      Camera
	Recorder    Recorder
	History     storage.Reader
	Logger      *slog.Logger
}

// Service implements the control operations.
type Service struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewService creates a new control service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		logger: logger.With("component", "handlers"),
	}
}

// Calibrate installs and persists a new grid.
func (s *Service) Calibrate(grid core.CalibrationGrid) error {
	if err := s.deps.Calibration.Calibrate(grid); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.RecordCalibration(grid)
	}
	return nil
}

// Calibration returns the current grid, or false when none is loaded.
func (s *Service) Calibration() (*core.CalibrationGrid, bool) {
	g := s.deps.Calibration.Calibration()
	return g, g != nil
}

// TurretPosition returns the commanded position.
func (s *Service) TurretPosition() core.Position {
	return s.deps.Turret.Position()
}

// Move points the turret. Out-of-range angles are clamped by the controller.
func (s *Service) Move(pan, tilt int) {
	s.logger.Debug("Manual move", "pan", pan, "tilt", tilt)
	s.deps.Scanner.TurretActive()
	s.deps.Turret.Move(pan, tilt)
}

// Fire starts or stops firing.
func (s *Service) Fire(firing bool) {
	s.logger.Debug("Manual fire", "firing", firing, "position", s.deps.Turret.Position().String())
	s.deps.Scanner.TurretActive()
	s.deps.Turret.Fire(firing)
}

// Aim converts a pixel to turret angles. With moveAndFire the turret is
// also moved there and fires.
func (s *Service) Aim(x, y int, moveAndFire bool) (core.Position, error) {
	pan, tilt, err := s.deps.Calibration.CalculateTurretPosition(x, y)
	if err != nil {
		return core.Position{}, fmt.Errorf("aim: %w", err)
	}

	if moveAndFire {
		s.deps.Scanner.TurretActive()
		s.deps.Turret.Move(pan, tilt)
		s.deps.Turret.Fire(true)
	}
	return core.Position{Pan: pan, Tilt: tilt}, nil
}

// TrackableColours lists the colours that may appear in the controls lists.
func (s *Service) TrackableColours() []core.Colour {
	return core.TrackableColours()
}

// Controls returns the operator policy.
func (s *Service) Controls() core.ControlsConfig {
	return s.deps.Controls.Get()
}

// SetControls replaces the operator policy and applies its side effects:
// a change of autofire while firing ceases fire, the scanner runs only when
// idle scanning is wanted and neither fire policy is on, and the controller
// follows alwaysfire.
func (s *Service) SetControls(cfg core.ControlsConfig) (core.ControlsConfig, error) {
	prev, err := s.deps.Controls.Set(cfg)
	if err != nil {
		return core.ControlsConfig{}, fmt.Errorf("set controls: %w", err)
	}
	next := s.deps.Controls.Get()

	if next.Autofire != prev.Autofire && s.deps.Turret.IsFiring() {
		s.deps.Turret.Fire(false)
	}
	s.deps.Scanner.Enable(next.ScanWhenIdle && !next.AlwaysFire && !next.Autofire)
	s.deps.Turret.AlwaysFire(next.AlwaysFire)

	if s.deps.Recorder != nil {
		s.deps.Recorder.RecordControls(next)
	}
	return next, nil
}

// CameraConfiguration returns the camera configuration, replacing it first
// when raw is non-empty.
func (s *Service) CameraConfiguration(raw json.RawMessage) (json.RawMessage, error) {
	return s.deps.Camera.Configure(raw)
}

// RecentEngagements returns up to limit engagements, newest first.
func (s *Service) RecentEngagements(limit int) ([]core.Engagement, error) {
	if s.deps.History == nil {
		return nil, ErrNoHistory
	}
	return s.deps.History.RecentEngagements(limit)
}

// RecentStatuses returns up to limit status samples, newest first.
func (s *Service) RecentStatuses(limit int) ([]core.TurretStatus, error) {
	if s.deps.History == nil {
		return nil, ErrNoHistory
	}
	return s.deps.History.RecentStatuses(limit)
}
