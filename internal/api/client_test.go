package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:5000")

	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:5000", c.baseURL)
	assert.NotNil(t, c.httpClient)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/")
	assert.Equal(t, "http://localhost:5000", c.baseURL)
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL).Healthcheck())
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://localhost:59999") // unlikely to be listening
	assert.Error(t, c.Healthcheck())
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	assert.Error(t, New(server.URL).Healthcheck())
}

func TestClient_AgainstServer(t *testing.T) {
	env := newTestEnv(t)
	c := New(env.http.URL)

	require.NoError(t, c.Healthcheck())

	grid, err := c.Calibration()
	require.NoError(t, err)
	assert.Nil(t, grid)

	_, err = c.Aim(150, 120, false)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Contains(t, se.Message, "not calibrated")

	require.NoError(t, c.Calibrate(testGrid()))
	grid, err = c.Calibration()
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.Equal(t, testGrid(), *grid)

	pos, err := c.Aim(150, 120, true)
	require.NoError(t, err)
	assert.Equal(t, core.Position{Pan: 120, Tilt: 70}, pos)

	require.NoError(t, c.Move(10, 20))
	pos, err = c.TurretPosition()
	require.NoError(t, err)
	assert.Equal(t, core.Position{Pan: 10, Tilt: 20}, pos)

	require.NoError(t, c.Fire(false))
	assert.False(t, env.turret.IsFiring())

	colours, err := c.TrackableColours()
	require.NoError(t, err)
	assert.NotContains(t, colours, core.Black)

	cfg := core.ControlsConfig{Autofire: true, ShootColours: []core.Colour{core.Green}, SafeColours: []core.Colour{}}
	require.NoError(t, c.SetControls(cfg))
	got, err := c.Controls()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	raw, err := c.CameraConfiguration(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"resolution":[640,480]}`, string(raw))
	raw, err = c.CameraConfiguration(json.RawMessage(`{"resolution":[800,600]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"resolution":[800,600]}`, string(raw))

	engagements, err := c.Engagements(5)
	require.NoError(t, err)
	assert.Len(t, engagements, 2)

	_, err = c.Statuses(5)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"uptime":"5s","turret":{"pan":90,"tilt":80,"firing":false},"scanner":"cooling","calibrated":true}`))
	}))
	defer server.Close()

	st, err := New(server.URL).Status()
	require.NoError(t, err)
	assert.Equal(t, "5s", st.Uptime)
	assert.Equal(t, 80, st.Turret.Tilt)
	assert.Equal(t, "cooling", st.Scanner)
	assert.True(t, st.Calibrated)
}
