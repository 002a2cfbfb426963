package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/psg-sentry/sentry/internal/monitor"
	"github.com/psg-sentry/sentry/pkg/core"
)

// Client calls a running sentry daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError is returned for unexpected HTTP status codes. Message carries
// the server's error text when it sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// Healthcheck checks if the daemon is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Status fetches the monitor snapshot.
func (c *Client) Status() (monitor.Status, error) {
	var st monitor.Status
	_, err := c.do(http.MethodGet, "/status", nil, &st)
	return st, err
}

// TurretPosition fetches the commanded position.
func (c *Client) TurretPosition() (core.Position, error) {
	var pos core.Position
	_, err := c.do(http.MethodGet, "/turret_position", nil, &pos)
	return pos, err
}

// Move points the turret.
func (c *Client) Move(pan, tilt int) error {
	_, err := c.do(http.MethodPost, "/move", map[string]int{"pan": pan, "tilt": tilt}, nil)
	return err
}

// Fire starts or stops firing.
func (c *Client) Fire(firing bool) error {
	_, err := c.do(http.MethodPost, "/fire", map[string]bool{"firing": firing}, nil)
	return err
}

// Aim converts a pixel to turret angles, optionally moving and firing.
func (c *Client) Aim(x, y int, moveAndFire bool) (core.Position, error) {
	body := map[string]any{"x": x, "y": y, "move_and_fire": moveAndFire}
	var pos core.Position
	_, err := c.do(http.MethodPost, "/aim", body, &pos)
	return pos, err
}

// TrackableColours lists colours eligible for targeting.
func (c *Client) TrackableColours() ([]core.Colour, error) {
	var out []core.Colour
	_, err := c.do(http.MethodGet, "/trackablecolours", nil, &out)
	return out, err
}

// Controls fetches the operator policy.
func (c *Client) Controls() (core.ControlsConfig, error) {
	var cfg core.ControlsConfig
	_, err := c.do(http.MethodGet, "/controls", nil, &cfg)
	return cfg, err
}

// SetControls replaces the operator policy.
func (c *Client) SetControls(cfg core.ControlsConfig) error {
	_, err := c.do(http.MethodPost, "/controls", cfg, nil)
	return err
}

// Calibration fetches the current grid. It returns nil when the daemon is
// not calibrated.
func (c *Client) Calibration() (*core.CalibrationGrid, error) {
	var grid core.CalibrationGrid
	code, err := c.do(http.MethodGet, "/calibration", nil, &grid)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNoContent {
		return nil, nil
	}
	return &grid, nil
}

// Calibrate installs a new grid.
func (c *Client) Calibrate(grid core.CalibrationGrid) error {
	_, err := c.do(http.MethodPost, "/calibrate", grid, nil)
	return err
}

// CameraConfiguration fetches the camera configuration, replacing it first
// when raw is non-empty.
func (c *Client) CameraConfiguration(raw json.RawMessage) (json.RawMessage, error) {
	method := http.MethodGet
	var body any
	if len(raw) > 0 {
		method, body = http.MethodPost, raw
	}
	var out json.RawMessage
	_, err := c.do(method, "/camera_configuration", body, &out)
	return out, err
}

// Engagements fetches up to limit recent engagements, newest first.
func (c *Client) Engagements(limit int) ([]core.Engagement, error) {
	var out []core.Engagement
	_, err := c.do(http.MethodGet, fmt.Sprintf("/engagements?limit=%d", limit), nil, &out)
	return out, err
}

// Statuses fetches up to limit recent status samples, newest first.
func (c *Client) Statuses(limit int) ([]core.TurretStatus, error) {
	var out []core.TurretStatus
	_, err := c.do(http.MethodGet, fmt.Sprintf("/statuses?limit=%d", limit), nil, &out)
	return out, err
}

// do sends body as JSON and decodes a 200 response into out.
func (c *Client) do(method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
		return resp.StatusCode, nil
	case http.StatusNoContent:
		return resp.StatusCode, nil
	default:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
}
