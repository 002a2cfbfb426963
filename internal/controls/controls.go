// Package controls holds the operator targeting policy.
package controls

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/psg-sentry/sentry/pkg/core"
)

// Store is the atomically replaceable controls configuration.
type Store struct {
	mu     sync.RWMutex
	cfg    core.ControlsConfig
	logger *slog.Logger
}

// New returns a store holding the all-disabled defaults.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    core.DefaultControls(),
		logger: logger.With("component", "controls"),
	}
}

// Get returns a copy of the current configuration.
func (s *Store) Get() core.ControlsConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Set replaces the whole configuration. An invalid colour anywhere rejects the
// update and leaves the previous configuration in place. The previous value is
// returned so callers can react to edges.
func (s *Store) Set(cfg core.ControlsConfig) (core.ControlsConfig, error) {
	if err := cfg.Validate(); err != nil {
		return core.ControlsConfig{}, err
	}
	next := cfg.Clone()

	s.mu.Lock()
	prev := s.cfg
	s.cfg = next
	s.mu.Unlock()

	s.logger.Info("Controls updated",
		"tracking", next.Tracking,
		"autofire", next.Autofire,
		"alwaysfire", next.AlwaysFire,
		"scanwhenidle", next.ScanWhenIdle,
		"shoot_colours", next.ShootColours,
		"safe_colours", next.SafeColours)

	return prev, nil
}

// IsShootable is true for every colour when the shoot list is empty.
func (s *Store) IsShootable(c core.Colour) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cfg.ShootColours) == 0 || slices.Contains(s.cfg.ShootColours, c)
}

// IsSafe is false for every colour when the safe list is empty.
func (s *Store) IsSafe(c core.Colour) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.cfg.SafeColours, c)
}

func (s *Store) Tracking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Tracking
}

func (s *Store) Autofire() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Autofire
}

func (s *Store) AlwaysFire() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.AlwaysFire
}

func (s *Store) ScanWhenIdle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ScanWhenIdle
}
