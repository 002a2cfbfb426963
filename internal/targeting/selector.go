// Package targeting decides, frame by frame, what the turret should shoot at.
//
// Nothing is carried between frames: every call to Process starts from the
// current detections and the turret's current position.
package targeting

import (
	"image"
	"log/slog"
	"math"

	"github.com/psg-sentry/sentry/pkg/core"
)

// Turret is the part of the turret controller the selector commands.
type Turret interface {
	Position() core.Position
	IsFiring() bool
	Move(pan, tilt int)
	Fire(firing bool)
}

// Locator maps pixel coordinates to turret angles.
type Locator interface {
	CalculateTurretPosition(x, y int) (pan, tilt int, err error)
}

// Policy is the operator's targeting policy.
type Policy interface {
	Autofire() bool
	IsSafe(core.Colour) bool
	IsShootable(core.Colour) bool
}

// Decision describes what happened for one frame.
type Decision struct {
	Safe      []core.DetectedTarget
	Shootable []core.DetectedTarget
	Other     []core.DetectedTarget

	Autofire bool

	// Target is the chosen shootable target, nil when nothing was engaged.
	Target *core.DetectedTarget
	Aim    core.Position
	Cost   int

	Engaged bool
	Ceased  bool
}

// Selector applies the policy to detections and drives the turret.
type Selector struct {
	turret  Turret
	locator Locator
	policy  Policy
	logger  *slog.Logger
}

func NewSelector(turret Turret, locator Locator, policy Policy, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		turret:  turret,
		locator: locator,
		policy:  policy,
		logger:  logger.With("component", "targeting"),
	}
}

// Classify samples the frame colour under every keypoint.
func Classify(frame image.Image, keypoints []core.Keypoint) []core.DetectedTarget {
	targets := make([]core.DetectedTarget, 0, len(keypoints))
	for _, kp := range keypoints {
		x, y := int(kp.X), int(kp.Y)
		targets = append(targets, core.DetectedTarget{
			PixelX: x,
			PixelY: y,
			Size:   kp.Size,
			Colour: core.SampleColour(frame, x, y),
		})
	}
	return targets
}

// Partition splits targets into safe, shootable and other. Safety is checked
// first, so a colour on both lists is safe.
func (s *Selector) Partition(targets []core.DetectedTarget) (safe, shootable, other []core.DetectedTarget) {
	for _, t := range targets {
		switch {
		case s.policy.IsSafe(t.Colour):
			safe = append(safe, t)
		case s.policy.IsShootable(t.Colour):
			shootable = append(shootable, t)
		default:
			other = append(other, t)
		}
	}
	return safe, shootable, other
}

// Process runs the policy for one frame's detections.
func (s *Selector) Process(targets []core.DetectedTarget) Decision {
	var d Decision
	d.Safe, d.Shootable, d.Other = s.Partition(targets)
	d.Autofire = s.policy.Autofire()

	if !d.Autofire {
		return d
	}

	if len(d.Shootable) == 0 {
		if s.turret.IsFiring() {
			if len(targets) == 0 {
				s.logger.Debug("No targets")
			} else {
				s.logger.Debug("No shootable targets")
			}
			s.turret.Fire(false)
			d.Ceased = true
		}
		return d
	}

	current := s.turret.Position()
	best := -1
	lowest := math.MaxInt
	for i, t := range d.Shootable {
		pan, tilt, err := s.locator.CalculateTurretPosition(t.PixelX, t.PixelY)
		if err != nil {
			s.logger.Warn("Cannot aim at target", "x", t.PixelX, "y", t.PixelY, "error", err)
			continue
		}
		candidate := core.Position{Pan: pan, Tilt: tilt}
		if cost := current.Distance(candidate); cost < lowest {
			lowest = cost
			best = i
			d.Aim = candidate
		}
	}

	if best < 0 {
		if s.turret.IsFiring() {
			s.turret.Fire(false)
			d.Ceased = true
		}
		return d
	}

	target := d.Shootable[best]
	d.Target = &target
	d.Cost = lowest
	d.Engaged = true

	s.logger.Debug("Engaging target",
		"x", target.PixelX, "y", target.PixelY, "colour", target.Colour,
		"pan", d.Aim.Pan, "tilt", d.Aim.Tilt, "cost", lowest)

	s.turret.Move(d.Aim.Pan, d.Aim.Tilt)
	s.turret.Fire(true)
	return d
}
