package handlers

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/psg-sentry/sentry/internal/calibration"
	"github.com/psg-sentry/sentry/internal/controls"
	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurret struct {
	mu         sync.Mutex
	pos        core.Position
	firing     bool
	alwaysFire bool
	calls      []string
}

func (t *fakeTurret) Move(pan, tilt int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = core.Position{Pan: pan, Tilt: tilt}
	t.calls = append(t.calls, "move")
}

func (t *fakeTurret) Fire(firing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.alwaysFire {
		t.firing = firing
	}
	t.calls = append(t.calls, "fire")
}

func (t *fakeTurret) AlwaysFire(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alwaysFire = enabled
	t.firing = enabled
	t.calls = append(t.calls, "alwaysfire")
}

func (t *fakeTurret) Position() core.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

func (t *fakeTurret) IsFiring() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firing
}

type fakeScanner struct {
	enabled []bool
	active  int
}

func (s *fakeScanner) Enable(v bool) { s.enabled = append(s.enabled, v) }
func (s *fakeScanner) TurretActive() { s.active++ }

type fakeCamera struct {
	raw json.RawMessage
}

func (c *fakeCamera) Configure(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) > 0 {
		if !json.Valid(raw) {
			return nil, errors.New("invalid")
		}
		c.raw = raw
	}
	return c.raw, nil
}

type fakeRecorder struct {
	grids    []core.CalibrationGrid
	controls []core.ControlsConfig
}

func (r *fakeRecorder) RecordCalibration(g core.CalibrationGrid) { r.grids = append(r.grids, g) }
func (r *fakeRecorder) RecordControls(c core.ControlsConfig)     { r.controls = append(r.controls, c) }

type fakeHistory struct{}

func (fakeHistory) RecentEngagements(limit int) ([]core.Engagement, error) {
	return []core.Engagement{{Colour: core.Red, Pan: 1}}, nil
}

func (fakeHistory) RecentStatuses(limit int) ([]core.TurretStatus, error) {
	return make([]core.TurretStatus, limit), nil
}

func testGrid() core.CalibrationGrid {
	var g core.CalibrationGrid
	g.PanLeft, g.PanRight = 170, 10
	g.TiltUp, g.TiltDown = 40, 140
	for row := 0; row < core.GridRows; row++ {
		for col := 0; col < core.GridCols; col++ {
			g.Grid.X[row][col] = 50 + col*100
			g.Grid.Y[row][col] = 40 + row*80
		}
	}
	g.Grid.Pan = [core.GridCols]int{150, 120, 90, 60, 30}
	g.Grid.Tilt = [core.GridRows]int{50, 70, 90, 110, 130}
	return g
}

type fixture struct {
	svc      *Service
	turret   *fakeTurret
	scanner  *fakeScanner
	recorder *fakeRecorder
	camera   *fakeCamera
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		turret:   &fakeTurret{pos: core.Position{Pan: 90, Tilt: 90}},
		scanner:  &fakeScanner{},
		recorder: &fakeRecorder{},
		camera:   &fakeCamera{raw: json.RawMessage(`{"fps":30}`)},
	}
	f.svc = NewService(Dependencies{
		Calibration: calibration.NewStore(filepath.Join(t.TempDir(), "calibration.json"), nil),
		Controls:    controls.New(nil),
		Turret:      f.turret,
		Scanner:     f.scanner,
		Camera:      f.camera,
		Recorder:    f.recorder,
	})
	return f
}

func TestCalibrate_RecordsAndPersists(t *testing.T) {
	f := newFixture(t)

	_, ok := f.svc.Calibration()
	assert.False(t, ok)

	require.NoError(t, f.svc.Calibrate(testGrid()))
	g, ok := f.svc.Calibration()
	require.True(t, ok)
	assert.Equal(t, 170, g.PanLeft)
	assert.Len(t, f.recorder.grids, 1)
}

func TestCalibrate_Invalid(t *testing.T) {
	f := newFixture(t)
	g := testGrid()
	g.PanLeft = 200

	err := f.svc.Calibrate(g)
	assert.ErrorIs(t, err, core.ErrInvalidGrid)
	assert.Empty(t, f.recorder.grids)
}

func TestMoveAndFire_MarkScannerActive(t *testing.T) {
	f := newFixture(t)

	f.svc.Move(100, 80)
	f.svc.Fire(true)

	assert.Equal(t, 2, f.scanner.active)
	assert.Equal(t, core.Position{Pan: 100, Tilt: 80}, f.svc.TurretPosition())
	assert.True(t, f.turret.IsFiring())
}

func TestAim_Uncalibrated(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Aim(100, 100, true)
	assert.ErrorIs(t, err, calibration.ErrUncalibrated)
	assert.Empty(t, f.turret.calls)
}

func TestAim_ComputeOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Calibrate(testGrid()))

	pos, err := f.svc.Aim(150, 120, false)
	require.NoError(t, err)
	assert.Equal(t, core.Position{Pan: 120, Tilt: 70}, pos)
	assert.Empty(t, f.turret.calls)
	assert.Zero(t, f.scanner.active)
}

func TestAim_MoveAndFire(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Calibrate(testGrid()))

	pos, err := f.svc.Aim(150, 120, true)
	require.NoError(t, err)
	assert.Equal(t, pos, f.turret.Position())
	assert.True(t, f.turret.IsFiring())
	assert.Equal(t, []string{"move", "fire"}, f.turret.calls)
	assert.Equal(t, 1, f.scanner.active)
}

func TestTrackableColours(t *testing.T) {
	f := newFixture(t)
	colours := f.svc.TrackableColours()
	assert.NotContains(t, colours, core.Black)
	assert.Len(t, colours, len(core.AllColours())-1)
}

func TestSetControls_ScannerEnablement(t *testing.T) {
	tests := []struct {
		name string
		cfg  core.ControlsConfig
		want bool
	}{
		{"scan when idle", core.ControlsConfig{ScanWhenIdle: true}, true},
		{"autofire suppresses scan", core.ControlsConfig{ScanWhenIdle: true, Autofire: true}, false},
		{"alwaysfire suppresses scan", core.ControlsConfig{ScanWhenIdle: true, AlwaysFire: true}, false},
		{"no scan", core.ControlsConfig{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.SetControls(tt.cfg)
			require.NoError(t, err)
			require.Len(t, f.scanner.enabled, 1)
			assert.Equal(t, tt.want, f.scanner.enabled[0])
		})
	}
}

func TestSetControls_AutofireChangeCeasesFire(t *testing.T) {
	f := newFixture(t)
	f.turret.firing = true

	_, err := f.svc.SetControls(core.ControlsConfig{Autofire: true})
	require.NoError(t, err)
	assert.False(t, f.turret.IsFiring())
	assert.Equal(t, []string{"fire", "alwaysfire"}, f.turret.calls)
}

func TestSetControls_UnchangedAutofireKeepsFiring(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetControls(core.ControlsConfig{Autofire: true})
	require.NoError(t, err)

	f.turret.firing = true
	f.turret.calls = nil

	_, err = f.svc.SetControls(core.ControlsConfig{Autofire: true, ShootColours: []core.Colour{core.Red}})
	require.NoError(t, err)
	assert.Equal(t, []string{"alwaysfire"}, f.turret.calls)
}

func TestSetControls_AlwaysFireFollowsConfig(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetControls(core.ControlsConfig{AlwaysFire: true})
	require.NoError(t, err)
	assert.True(t, f.turret.alwaysFire)
	assert.True(t, f.turret.IsFiring())

	_, err = f.svc.SetControls(core.ControlsConfig{})
	require.NoError(t, err)
	assert.False(t, f.turret.alwaysFire)
	assert.False(t, f.turret.IsFiring())
	assert.Len(t, f.recorder.controls, 2)
}

func TestSetControls_InvalidColourRejectsWhole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetControls(core.ControlsConfig{Autofire: true, ShootColours: []core.Colour{core.Colour(42)}})
	assert.ErrorIs(t, err, core.ErrUnknownColour)
	assert.False(t, f.svc.Controls().Autofire)
	assert.Empty(t, f.scanner.enabled)
	assert.Empty(t, f.turret.calls)
	assert.Empty(t, f.recorder.controls)
}

func TestCameraConfiguration(t *testing.T) {
	f := newFixture(t)

	raw, err := f.svc.CameraConfiguration(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fps":30}`, string(raw))

	raw, err = f.svc.CameraConfiguration(json.RawMessage(`{"fps":15}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"fps":15}`, string(raw))
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecentEngagements(10)
	assert.ErrorIs(t, err, ErrNoHistory)

	f.svc.deps.History = fakeHistory{}
	got, err := f.svc.RecentEngagements(10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	statuses, err := f.svc.RecentStatuses(3)
	require.NoError(t, err)
	assert.Len(t, statuses, 3)
}
