package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// captureStdout points the console sink at a pipe until the returned
// function is called, which restores it and returns what was written.
func captureStdout(t *testing.T) func() string {
	t.Helper()

	r, w, err := osPipe()
	require.NoError(t, err)
	orig := osStdout
	osStdout = w

	return func() string {
		w.Close()
		osStdout = orig
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		r.Close()
		return buf.String()
	}
}

func TestSetup_Console(t *testing.T) {
	t.Run("stdout without a file", func(t *testing.T) {
		restore := captureStdout(t)
		m := NewSlogManager()
		m.Setup(Options{Level: "info"})
		m.Logger().Info("turret homed")

		assert.Contains(t, restore(), "turret homed")
	})

	t.Run("file replaces stdout", func(t *testing.T) {
		restore := captureStdout(t)
		var file bytes.Buffer
		m := NewSlogManager()
		m.Setup(Options{File: &file, Level: "info"})
		m.Logger().Info("turret homed")

		assert.Empty(t, restore())
		assert.Contains(t, file.String(), "turret homed")
		assert.Contains(t, file.String(), "Logging initialized")
	})
}

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{"debug", []string{"step", "moved", "clamped"}, nil},
		{"info", []string{"moved", "clamped"}, []string{"step"}},
		{"WARN", []string{"clamped"}, []string{"step", "moved"}},
		{"bogus", []string{"moved"}, []string{"step"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(Options{File: &buf, Level: tt.level})

			m.Logger().Debug("step")
			m.Logger().Info("moved")
			m.Logger().Warn("clamped")

			for _, s := range tt.visible {
				assert.Contains(t, buf.String(), "msg="+s)
			}
			for _, s := range tt.hidden {
				assert.NotContains(t, buf.String(), "msg="+s)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "DEBUG": slog.LevelDebug,
		"info": slog.LevelInfo, "warn": slog.LevelWarn,
		"Error": slog.LevelError, "": slog.LevelInfo, "loud": slog.LevelInfo,
	} {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestSetup_TimestampsAreUTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info"})

	line := strings.SplitN(buf.String(), "\n", 2)[0]
	require.True(t, strings.HasPrefix(line, "time="))
	stamp := strings.Fields(line)[0]
	assert.True(t, strings.HasSuffix(stamp, "Z"), stamp)
}

func TestSetup_ReplacesOutputs(t *testing.T) {
	var boot, session bytes.Buffer
	m := NewSlogManager()

	m.Setup(Options{File: &boot, Level: "info"})
	m.Logger().Info("loading config")

	m.Setup(Options{File: &session, Level: "info"})
	m.Logger().Info("serial port open")

	assert.Contains(t, boot.String(), "loading config")
	assert.NotContains(t, boot.String(), "serial port open")
	assert.Contains(t, session.String(), "serial port open")
}

func TestSetup_WithContext(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{
		File:    &buf,
		Level:   "info",
		Context: func() []slog.Attr { return []slog.Attr{slog.String("session", "abc")} },
	})
	m.Logger().Info("hello")

	assert.Contains(t, buf.String(), "session=abc")
}

func TestSetup_OTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info", Provider: provider})
	m.Logger().Info("bridged")

	assert.Contains(t, buf.String(), "bridged")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}
