package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/psg-sentry/sentry/internal/dispatcher"
	"github.com/psg-sentry/sentry/internal/events"
	"github.com/psg-sentry/sentry/internal/worker"
	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurret struct{}

func (fakeTurret) Status() core.TurretStatus {
	return core.TurretStatus{Pan: 120, Tilt: 60, Firing: true}
}

func (fakeTurret) IsAlwaysFire() bool { return true }

func fullDeps(path string) Dependencies {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	return Dependencies{
		Turret:     fakeTurret{},
		Scanner:    func() string { return "scanning" },
		Calibrated: func() bool { return true },
		Controls:   core.DefaultControls,
		Events:     func() events.Stats { return events.Stats{Published: 3, Delivered: 2} },
		Telemetry:  func() worker.Stats { return worker.Stats{StatusesWritten: 7} },
		Commands: func() map[string]dispatcher.CommandStats {
			return map[string]dispatcher.CommandStats{":TURRET:STATUS:": {Handled: 9, Dropped: 1}}
		},
		Frames:   func() uint64 { return 4 },
		Path:     path,
		Interval: 5 * time.Millisecond,
		Now: func() time.Time {
			calls++
			if calls == 1 {
				return start
			}
			return start.Add(90 * time.Second)
		},
	}
}

func TestSnapshot(t *testing.T) {
	s := NewService(fullDeps(""))

	st := s.Snapshot()
	assert.Equal(t, "1m30s", st.Uptime)
	assert.Equal(t, 120, st.Turret.Pan)
	assert.True(t, st.AlwaysFire)
	assert.Equal(t, "scanning", st.Scanner)
	assert.True(t, st.Calibrated)
	require.NotNil(t, st.Events)
	assert.Equal(t, uint64(3), st.Events.Published)
	require.NotNil(t, st.Telemetry)
	assert.Equal(t, uint64(7), st.Telemetry.StatusesWritten)
	assert.Equal(t, uint64(4), st.DroppedFrames)
	assert.Equal(t, uint64(1), st.Commands[":TURRET:STATUS:"].Dropped)
}

func TestSnapshot_OptionalSources(t *testing.T) {
	s := NewService(Dependencies{Turret: fakeTurret{}})
	st := s.Snapshot()
	assert.Nil(t, st.Controls)
	assert.Nil(t, st.Events)
	assert.Empty(t, st.Scanner)
}

func TestWriteStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	s := NewService(fullDeps(path))
	require.NoError(t, s.WriteStatus())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, map[string]any{"time": "0001-01-01T00:00:00Z", "pan": float64(120), "tilt": float64(60), "firing": true}, doc["turret"])
	assert.Equal(t, "scanning", doc["scanner"])
	assert.Contains(t, doc, "telemetry")
}

func TestStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "status.json")
	s := NewService(fullDeps(path))

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestStart_NoPath(t *testing.T) {
	s := NewService(Dependencies{Turret: fakeTurret{}})
	require.NoError(t, s.Start())
	assert.False(t, s.IsRunning())
}
