// pkg/core/target.go
package core

import "time"

// Keypoint is a point of interest reported by the detector, in pixel space.
type Keypoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// DetectedTarget is a keypoint after colour classification. It lives for one frame.
type DetectedTarget struct {
	PixelX int
	PixelY int
	Size   float64
	Colour Colour
}

// Engagement records the turret being aimed and fired at a target.
type Engagement struct {
	Time   time.Time `json:"time"`
	PixelX int       `json:"x"`
	PixelY int       `json:"y"`
	Colour Colour    `json:"colour"`
	Pan    int       `json:"pan"`
	Tilt   int       `json:"tilt"`
	Cost   int       `json:"cost"`
}
