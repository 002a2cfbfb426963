// pkg/core/turret.go
package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Servo travel in degrees. Both axes share the same range.
const (
	MinAngle     = 0
	MaxAngle     = 180
	NeutralAngle = 90
)

// Position is a pan/tilt pair in degrees.
type Position struct {
	Pan  int `json:"pan"`
	Tilt int `json:"tilt"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d°, %d°)", p.Pan, p.Tilt)
}

// Distance is the Manhattan distance in degrees between two positions.
func (p Position) Distance(o Position) int {
	return abs(p.Pan-o.Pan) + abs(p.Tilt-o.Tilt)
}

// ClampAngle forces an angle into the servo range and reports whether it had to.
func ClampAngle(angle int) (int, bool) {
	if angle < MinAngle {
		return MinAngle, true
	}
	if angle > MaxAngle {
		return MaxAngle, true
	}
	return angle, false
}

// TurretEvent is the status triple delivered to live clients.
type TurretEvent struct {
	Pan    int  `json:"pan"`
	Tilt   int  `json:"tilt"`
	Firing bool `json:"firing"`
}

// SSE renders the event as a single text/event-stream frame.
func (e TurretEvent) SSE() string {
	data, _ := json.Marshal(e)
	return fmt.Sprintf("data: %s\nretry:100\n\n", data)
}

// TurretStatus is a timestamped TurretEvent as recorded by the telemetry pipeline.
type TurretStatus struct {
	Time   time.Time `json:"time"`
	Pan    int       `json:"pan"`
	Tilt   int       `json:"tilt"`
	Firing bool      `json:"firing"`
}

// Event drops the timestamp.
func (s TurretStatus) Event() TurretEvent {
	return TurretEvent{Pan: s.Pan, Tilt: s.Tilt, Firing: s.Firing}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
