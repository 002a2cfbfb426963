package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psg-sentry/sentry/internal/dispatcher"
	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type mockBackend struct {
	mu           sync.Mutex
	statuses     []core.TurretStatus
	engagements  []core.Engagement
	calibrations []core.CalibrationChange
	controls     []core.ControlsChange
	failWrites   bool
}

func (b *mockBackend) Init() error  { return nil }
func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) RecordStatuses(batch []core.TurretStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return errors.New("disk full")
	}
	b.statuses = append(b.statuses, batch...)
	return nil
}

func (b *mockBackend) RecordEngagements(batch []core.Engagement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return errors.New("disk full")
	}
	b.engagements = append(b.engagements, batch...)
	return nil
}

func (b *mockBackend) RecordCalibration(c core.CalibrationChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calibrations = append(b.calibrations, c)
	return nil
}

func (b *mockBackend) RecordControls(c core.ControlsChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controls = append(b.controls, c)
	return nil
}

func (b *mockBackend) counts() (int, int, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.statuses), len(b.engagements), len(b.calibrations), len(b.controls)
}

type mockMetrics struct {
	mu          sync.Mutex
	statuses    int
	engagements int
}

func (m *mockMetrics) WriteStatus(core.TurretStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses++
	return nil
}

func (m *mockMetrics) WriteEngagement(core.Engagement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engagements++
	return nil
}

type mockBroadcaster struct {
	mu          sync.Mutex
	statuses    []core.TurretStatus
	engagements []core.Engagement
	controls    []core.ControlsConfig
}

func (b *mockBroadcaster) PublishStatus(s core.TurretStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, s)
	return nil
}

func (b *mockBroadcaster) PublishEngagement(e core.Engagement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engagements = append(b.engagements, e)
	return nil
}

func (b *mockBroadcaster) PublishControls(c core.ControlsConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controls = append(b.controls, c)
	return nil
}

type fixture struct {
	m         *Manager
	d         *dispatcher.Dispatcher
	backend   *mockBackend
	metrics   *mockMetrics
	broadcast *mockBroadcaster
}

var epoch = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)

	f := &fixture{
		d:         d,
		backend:   &mockBackend{},
		metrics:   &mockMetrics{},
		broadcast: &mockBroadcaster{},
	}
	f.m = NewManager(Dependencies{
		Metrics:     f.metrics,
		Broadcaster: f.broadcast,
		Now:         func() time.Time { return epoch },
	}, f.backend, NewQueues(100))
	f.m.RegisterHandlers(d, 10)
	return f
}

func TestRegisterHandlers(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{CmdStatus, CmdEngagement, CmdCalibration, CmdControls} {
		assert.True(t, f.d.HasHandler(cmd), cmd)
	}
}

func TestRecordStatus_QueuedAndBroadcast(t *testing.T) {
	f := newFixture(t)

	f.m.RecordStatus(core.TurretStatus{Time: epoch, Pan: 90, Tilt: 90})
	f.m.RecordStatus(core.TurretStatus{Time: epoch, Pan: 100, Tilt: 90, Firing: true})
	f.d.Close()

	assert.Equal(t, 2, f.m.Queues().Statuses.Len())
	assert.Len(t, f.broadcast.statuses, 2)

	require.NoError(t, f.m.Flush())
	statuses, _, _, _ := f.backend.counts()
	assert.Equal(t, 2, statuses)
	assert.Equal(t, 2, f.metrics.statuses)
	assert.True(t, f.m.Queues().Statuses.Empty())

	stats := f.m.Stats()
	assert.Equal(t, uint64(2), stats.StatusesWritten)
	assert.Equal(t, epoch, stats.LastFlush)
}

func TestRecordEngagement(t *testing.T) {
	f := newFixture(t)

	f.m.RecordEngagement(core.Engagement{Time: epoch, Colour: core.Red, Pan: 120})
	f.d.Close()
	require.NoError(t, f.m.Flush())

	_, engagements, _, _ := f.backend.counts()
	assert.Equal(t, 1, engagements)
	assert.Equal(t, 1, f.metrics.engagements)
	assert.Len(t, f.broadcast.engagements, 1)
}

func TestRecordOperatorChanges(t *testing.T) {
	f := newFixture(t)

	var grid core.CalibrationGrid
	grid.PanLeft = 150
	f.m.RecordCalibration(grid)

	cfg := core.DefaultControls()
	cfg.ShootColours = []core.Colour{core.Red}
	f.m.RecordControls(cfg)
	cfg.ShootColours[0] = core.Blue

	f.d.Close()

	_, _, calibrations, controls := f.backend.counts()
	require.Equal(t, 1, calibrations)
	require.Equal(t, 1, controls)
	assert.Equal(t, 150, f.backend.calibrations[0].Grid.PanLeft)
	assert.Equal(t, epoch, f.backend.controls[0].Time)
	assert.Equal(t, []core.Colour{core.Red}, f.backend.controls[0].Controls.ShootColours)
	assert.Len(t, f.broadcast.controls, 1)
}

func TestFlush_FailureRequeues(t *testing.T) {
	f := newFixture(t)
	f.backend.failWrites = true

	f.m.RecordStatus(core.TurretStatus{Time: epoch, Pan: 1})
	f.m.RecordEngagement(core.Engagement{Time: epoch})
	f.d.Close()

	err := f.m.Flush()
	require.Error(t, err)
	assert.ErrorContains(t, err, "statuses")
	assert.ErrorContains(t, err, "engagements")
	assert.Equal(t, 1, f.m.Queues().Statuses.Len())
	assert.Equal(t, 1, f.m.Queues().Engagements.Len())
	assert.Equal(t, uint64(1), f.m.Stats().FlushErrors)
	assert.Zero(t, f.metrics.statuses, "metrics only see stored records")

	f.backend.failWrites = false
	require.NoError(t, f.m.Flush())
	statuses, engagements, _, _ := f.backend.counts()
	assert.Equal(t, 1, statuses)
	assert.Equal(t, 1, engagements)
}

func TestRecord_WithoutDispatcherIsNoop(t *testing.T) {
	m := NewManager(Dependencies{}, &mockBackend{}, nil)
	m.RecordStatus(core.TurretStatus{})
	assert.True(t, m.Queues().Statuses.Empty())
	assert.Zero(t, m.Stats().Rejected)
}

func TestRecord_RejectedAfterDispatcherClosed(t *testing.T) {
	f := newFixture(t)
	f.d.Close()

	f.m.RecordStatus(core.TurretStatus{})
	assert.Equal(t, uint64(1), f.m.Stats().Rejected)
}

func TestStartStop_FlushLoop(t *testing.T) {
	f := newFixture(t)
	f.m.Start(context.Background(), 5*time.Millisecond)

	f.m.RecordStatus(core.TurretStatus{Time: epoch, Pan: 42})

	require.Eventually(t, func() bool {
		statuses, _, _, _ := f.backend.counts()
		return statuses == 1
	}, time.Second, 5*time.Millisecond)

	f.d.Close()
	require.NoError(t, f.m.Stop())
	require.NoError(t, f.m.Stop())

	// restarting after stop is ignored
	f.m.Start(context.Background(), time.Millisecond)
}

func TestStop_FlushesRemaining(t *testing.T) {
	f := newFixture(t)
	f.m.Start(context.Background(), time.Hour)

	f.m.RecordEngagement(core.Engagement{Time: epoch})
	f.d.Close()
	require.NoError(t, f.m.Stop())

	_, engagements, _, _ := f.backend.counts()
	assert.Equal(t, 1, engagements)
}
