package video

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultCameraFile is where camera settings are kept between runs.
const DefaultCameraFile = "camera.json"

// DefaultCameraConfiguration mirrors the settings a Pi camera starts with.
var DefaultCameraConfiguration = map[string]any{
	"type":          "picam",
	"brightness":    50,
	"contrast":      0,
	"saturation":    0,
	"exposure_mode": "auto",
	"ISO":           0,
	"awb_mode":      "auto",
}

// CameraConfig is an opaque JSON document handed through to the camera.
// Every read or write persists it so the file always exists after first use.
type CameraConfig struct {
	mu     sync.Mutex
	path   string
	raw    json.RawMessage
	apply  func(json.RawMessage) error
	logger *slog.Logger
}

// LoadCameraConfig reads path, falling back to the defaults when it is missing.
func LoadCameraConfig(path string, logger *slog.Logger) (*CameraConfig, error) {
	if path == "" {
		path = DefaultCameraFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &CameraConfig{path: path, logger: logger.With("component", "camera")}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.logger.Info("Camera configuration not found, using defaults", "path", path)
		data, err = json.Marshal(DefaultCameraConfiguration)
		if err != nil {
			return nil, fmt.Errorf("encoding default camera configuration: %w", err)
		}
		if err := writeFileAtomic(path, data); err != nil {
			return nil, fmt.Errorf("writing camera configuration: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading camera configuration: %w", err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("camera configuration %s is not valid JSON", path)
	}
	c.raw = json.RawMessage(data)
	return c, nil
}

// OnApply registers a hook run whenever a new configuration is set.
func (c *CameraConfig) OnApply(fn func(json.RawMessage) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply = fn
}

// Configure replaces the configuration when raw is non-empty, persists it and
// returns what is now in effect.
func (c *CameraConfig) Configure(raw json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(bytes.TrimSpace(raw)) > 0 {
		if !json.Valid(raw) {
			return nil, ErrInvalidConfiguration
		}
		if c.apply != nil {
			if err := c.apply(raw); err != nil {
				return nil, fmt.Errorf("applying camera configuration: %w", err)
			}
		}
		c.raw = append(json.RawMessage(nil), raw...)
		c.logger.Info("Camera configuration updated", "config", string(c.raw))
	}

	if err := writeFileAtomic(c.path, c.raw); err != nil {
		return nil, fmt.Errorf("writing camera configuration: %w", err)
	}

	return append(json.RawMessage(nil), c.raw...), nil
}

// writeFileAtomic replaces path through a temp file in the same directory so
// a crash never leaves a truncated document behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
