package detection

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"

	"github.com/psg-sentry/sentry/pkg/core"
)

// KeypointMessage is what an external detector sends for each analysed frame.
type KeypointMessage struct {
	Keypoints []core.Keypoint `json:"keypoints"`
}

// Feed is a Detector backed by keypoints pushed from outside the process.
// Each batch is handed out once; a frame with no new batch has no detections,
// so stale points are never shot at.
type Feed struct {
	mu      sync.Mutex
	pending []core.Keypoint
	params  Params
	logger  *slog.Logger
}

func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		params: DefaultParams(),
		logger: logger.With("component", "keypoint-feed"),
	}
}

// Push replaces any batch not yet consumed.
func (f *Feed) Push(keypoints []core.Keypoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append([]core.Keypoint(nil), keypoints...)
}

// HandleMessage decodes a KeypointMessage and pushes it.
func (f *Feed) HandleMessage(payload []byte) error {
	var msg KeypointMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding keypoints: %w", err)
	}
	f.Push(msg.Keypoints)
	return nil
}

// Detect returns the pending batch filtered by the current parameters.
func (f *Feed) Detect(frame image.Image) ([]core.Keypoint, error) {
	f.mu.Lock()
	batch := f.pending
	f.pending = nil
	p := f.params
	f.mu.Unlock()

	bounds := frame.Bounds()
	out := make([]core.Keypoint, 0, len(batch))
	for _, kp := range batch {
		if !image.Pt(int(kp.X), int(kp.Y)).In(bounds) {
			continue
		}
		if p.FilterByArea {
			area := math.Pi * (kp.Size / 2) * (kp.Size / 2)
			if area < p.Area.Min || area > p.Area.Max {
				continue
			}
		}
		if tooClose(out, kp, p.MinDistBetweenBlobs) {
			continue
		}
		out = append(out, kp)
	}
	return out, nil
}

// SetParams implements Configurable.
func (f *Feed) SetParams(p Params) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = p
	f.logger.Debug("Detection parameters applied", "params", p.String())
}

func tooClose(accepted []core.Keypoint, kp core.Keypoint, minDist float64) bool {
	for _, a := range accepted {
		if math.Hypot(a.X-kp.X, a.Y-kp.Y) < minDist {
			return true
		}
	}
	return false
}
