// Package scanner pans the turret back and forth while nothing else is using it.
package scanner

import (
	"log/slog"
	"sync"
	"time"

	"github.com/psg-sentry/sentry/pkg/core"
)

// State is the externally visible scanner state.
type State int

const (
	Disabled State = iota
	Cooling
	Scanning
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Cooling:
		return "cooling"
	case Scanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// Turret is the part of the turret controller the scanner drives.
type Turret interface {
	Position() core.Position
	Move(pan, tilt int)
}

// Limits supplies the calibrated travel limits.
type Limits interface {
	PanLimits() (left, right int, err error)
	TiltLimits() (up, down int, err error)
}

// Config holds the scan timings.
type Config struct {
	// PauseBeforeResuming is how long the turret must be left alone before scanning starts.
	PauseBeforeResuming time.Duration
	// Spacing is the minimum time between two scan steps.
	Spacing time.Duration
	// Increment is the pan step in degrees.
	Increment int
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		PauseBeforeResuming: 2 * time.Second,
		Spacing:             700 * time.Millisecond,
		Increment:           10,
	}
}

// Scanner is the idle-time auto-pan daemon.
type Scanner struct {
	mu          sync.Mutex
	enabled     bool
	lastActive  time.Time
	nextMove    time.Time
	panningLeft bool
	stopped     bool
	started     bool

	wake     chan struct{}
	stop     chan struct{}
	finished chan struct{}

	turret Turret
	limits Limits
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates a disabled scanner. The turret counts as active from now on, so
// the first scan waits out the full pause.
func New(turret Turret, limits Limits, cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		panningLeft: true,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		finished:    make(chan struct{}),
		turret:      turret,
		limits:      limits,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With("component", "scanner"),
	}
	s.lastActive = s.now()
	return s
}

// Enable toggles scanning.
func (s *Scanner) Enable(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()

	s.logger.Info("Scanner enabled changed", "enabled", enabled)
	s.notify()
}

// TurretActive records manual use of the turret and restarts the idle pause.
func (s *Scanner) TurretActive() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()

	s.notify()
}

// Enabled reports whether scanning is switched on.
func (s *Scanner) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// State reports where the scanner is in its cycle.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.enabled:
		return Disabled
	case s.now().Before(s.lastActive.Add(s.cfg.PauseBeforeResuming)):
		return Cooling
	default:
		return Scanning
	}
}

// Start launches the scanner goroutine.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Terminate stops the scanner and waits for its goroutine to exit.
func (s *Scanner) Terminate() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.finished
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.stop)
	if !started {
		close(s.finished)
		return
	}
	<-s.finished
}

func (s *Scanner) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scanner) run() {
	defer close(s.finished)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		wait, indefinite := s.step(s.now())

		if indefinite {
			s.logger.Debug("Waiting for scanner to be enabled")
			select {
			case <-s.stop:
				s.logger.Info("Stopping scanner")
				return
			case <-s.wake:
			}
			continue
		}

		if wait <= 0 {
			select {
			case <-s.stop:
				s.logger.Info("Stopping scanner")
				return
			default:
			}
			continue
		}

		timer.Reset(wait)
		select {
		case <-s.stop:
			s.logger.Info("Stopping scanner")
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// step evaluates the state machine once at time now. It returns how long to
// wait before evaluating again, or indefinite when only Enable can help.
func (s *Scanner) step(now time.Time) (wait time.Duration, indefinite bool) {
	s.mu.Lock()
	if !s.enabled {
		s.nextMove = time.Time{}
		s.mu.Unlock()
		return 0, true
	}

	if resume := s.lastActive.Add(s.cfg.PauseBeforeResuming); now.Before(resume) {
		s.nextMove = time.Time{}
		s.mu.Unlock()
		return resume.Sub(now), false
	}

	if !s.nextMove.IsZero() && now.Before(s.nextMove) {
		wait := s.nextMove.Sub(now)
		s.mu.Unlock()
		return wait, false
	}

	activeAt := s.lastActive
	panningLeft := s.panningLeft
	s.mu.Unlock()

	// the turret and calibration own their locks, so they are consulted unlocked
	current := s.turret.Position()
	panLeft, panRight, err := s.limits.PanLimits()
	if err == nil {
		var tiltUp, tiltDown int
		tiltUp, tiltDown, err = s.limits.TiltLimits()
		if err == nil {
			return s.advance(now, activeAt, panningLeft, current, panLeft, panRight, tiltUp+(tiltDown-tiltUp)/2)
		}
	}

	s.logger.Warn("Cannot scan without calibration", "error", err)
	s.mu.Lock()
	s.nextMove = now.Add(s.cfg.Spacing)
	s.mu.Unlock()
	return s.cfg.Spacing, false
}

func (s *Scanner) advance(now, activeAt time.Time, panningLeft bool, current core.Position, panLeft, panRight, tilt int) (time.Duration, bool) {
	newPan := current.Pan
	flip := false
	if panningLeft {
		newPan += s.cfg.Increment
		flip = newPan > panLeft
	} else {
		newPan -= s.cfg.Increment
		flip = newPan < panRight
	}

	s.mu.Lock()
	// someone touched the turret or disabled us while we were looking
	if !s.enabled || !s.lastActive.Equal(activeAt) {
		s.mu.Unlock()
		return 0, false
	}
	s.nextMove = now.Add(s.cfg.Spacing)
	if flip {
		s.panningLeft = !panningLeft
	}
	s.mu.Unlock()

	if flip {
		s.logger.Debug("Reached pan limit, changing direction",
			"pan", current.Pan, "pan_left", panLeft, "pan_right", panRight, "panning_left", !panningLeft)
		return s.cfg.Spacing, false
	}

	s.logger.Debug("Moving turret as part of scan", "pan", newPan, "tilt", tilt)
	s.turret.Move(newPan, tilt)
	return s.cfg.Spacing, false
}
