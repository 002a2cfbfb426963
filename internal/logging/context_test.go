package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/stretchr/testify/assert"
)

func TestTurretContext(t *testing.T) {
	var buf bytes.Buffer
	status := core.TurretStatus{Pan: 45, Tilt: 120, Firing: true}

	h := NewContextHandler(slog.NewTextHandler(&buf, nil), TurretContext(func() core.TurretStatus { return status }))
	logger := slog.New(h)
	logger.Info("tick")

	out := buf.String()
	assert.Contains(t, out, "turret.pan=45")
	assert.Contains(t, out, "turret.tilt=120")
	assert.Contains(t, out, "turret.firing=true")

	// evaluated per record, not when the logger is built
	buf.Reset()
	status.Pan = 46
	logger.Info("tock")
	assert.Contains(t, buf.String(), "turret.pan=46")
}

func TestContextHandler_SkipsDisabledRecords(t *testing.T) {
	calls := 0
	provider := func() []slog.Attr {
		calls++
		return nil
	}
	h := NewContextHandler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}), provider)

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))

	logger := slog.New(h)
	logger.Info("filtered")
	logger.Warn("kept")
	assert.Equal(t, 1, calls)
}

func TestContextHandler_NilProvider(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	assert.Same(t, inner, NewContextHandler(inner, nil))
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("session", "abc")}
	})

	slog.New(h).With("component", "scanner").Info("sweep")
	assert.Contains(t, buf.String(), "component=scanner")
	assert.Contains(t, buf.String(), "session=abc")

	buf.Reset()
	slog.New(h).WithGroup("servo").Info("move", "pan", 10)
	assert.Contains(t, buf.String(), "servo.pan=10")

	assert.Equal(t, h, h.WithGroup(""))
}

func TestCombineContext(t *testing.T) {
	var buf bytes.Buffer
	combined := CombineContext(
		TurretContext(func() core.TurretStatus { return core.TurretStatus{Pan: 10} }),
		nil,
		func() []slog.Attr { return []slog.Attr{slog.String("scanner", "scanning")} },
	)
	slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), combined)).Info("tick")

	assert.Contains(t, buf.String(), "turret.pan=10")
	assert.Contains(t, buf.String(), "scanner=scanning")
}
