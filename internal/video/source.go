// Package video runs the frame pipeline: frames come in from a source, the
// targeting policy acts on detections, and annotated frames go out to viewers.
package video

import (
	"encoding/json"
	"errors"
	"image"
	"time"

	"github.com/psg-sentry/sentry/pkg/core"
)

var (
	// ErrTimeout is returned by FrameSource.Read when no frame arrived in time.
	ErrTimeout = errors.New("timed out waiting for frame")
	// ErrClosed is returned once a source or buffer has been shut down.
	ErrClosed = errors.New("video source closed")
	// ErrInvalidConfiguration rejects a camera configuration that is not JSON.
	ErrInvalidConfiguration = errors.New("camera configuration is not valid JSON")
)

// FrameSource produces raster frames.
type FrameSource interface {
	// Read blocks until a frame newer than the last one read is available or
	// timeout elapses.
	Read(timeout time.Duration) (image.Image, error)
	// Configure replaces the source configuration when raw is non-empty and
	// returns the configuration now in effect.
	Configure(raw json.RawMessage) (json.RawMessage, error)
}

// Detector finds points of interest in a frame.
type Detector interface {
	Detect(frame image.Image) ([]core.Keypoint, error)
}
