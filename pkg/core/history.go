// pkg/core/history.go
package core

import "time"

// CalibrationChange records the operator installing a new grid.
type CalibrationChange struct {
	Time time.Time       `json:"time"`
	Grid CalibrationGrid `json:"grid"`
}

// ControlsChange records the operator replacing the controls policy.
type ControlsChange struct {
	Time     time.Time      `json:"time"`
	Controls ControlsConfig `json:"controls"`
}
