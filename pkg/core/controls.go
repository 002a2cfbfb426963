// pkg/core/controls.go
package core

import "fmt"

// ControlsConfig is the operator policy. It is always read and written whole.
type ControlsConfig struct {
	Tracking     bool     `json:"tracking"`
	Autofire     bool     `json:"autofire"`
	AlwaysFire   bool     `json:"alwaysfire"`
	ScanWhenIdle bool     `json:"scanwhenidle"`
	ShootColours []Colour `json:"shoot_colours"`
	SafeColours  []Colour `json:"safe_colours"`
}

// DefaultControls is everything disabled with empty colour lists.
func DefaultControls() ControlsConfig {
	return ControlsConfig{
		ShootColours: []Colour{},
		SafeColours:  []Colour{},
	}
}

// Validate rejects colours outside the closed vocabulary. JSON decoding already
// refuses unknown names; this catches values built in code.
func (c ControlsConfig) Validate() error {
	for _, col := range c.ShootColours {
		if !col.Valid() {
			return fmt.Errorf("shoot_colours: %w: %d", ErrUnknownColour, int(col))
		}
	}
	for _, col := range c.SafeColours {
		if !col.Valid() {
			return fmt.Errorf("safe_colours: %w: %d", ErrUnknownColour, int(col))
		}
	}
	return nil
}

// Clone copies the colour slices so callers cannot alias stored state.
func (c ControlsConfig) Clone() ControlsConfig {
	cp := c
	cp.ShootColours = append([]Colour{}, c.ShootColours...)
	cp.SafeColours = append([]Colour{}, c.SafeColours...)
	return cp
}
