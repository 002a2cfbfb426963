package otel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/psg-sentry/sentry/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "sentry"})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "sentry",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))

	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_BridgedRecordsReachFile(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:        true,
		ServiceName:    "sentry",
		ServiceVersion: "1.2.3",
		BatchTimeout:   time.Second,
		LogWriter:      &buf,
	})
	require.NoError(t, err)

	logger := slog.New(otelslog.NewHandler("sentry", otelslog.WithLoggerProvider(p.LoggerProvider())))
	logger.Warn("servo clamped", "pan", 190)

	require.NoError(t, p.Flush(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "servo clamped")
	assert.Contains(t, out, "1.2.3")
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestFromConfig(t *testing.T) {
	var buf bytes.Buffer
	c := FromConfig(config.OTelConfig{
		Enabled:      true,
		ServiceName:  "turret-a",
		BatchTimeout: 2 * time.Second,
		Endpoint:     "collector:4318",
		Insecure:     true,
	}, &buf)

	assert.True(t, c.Enabled)
	assert.Equal(t, "turret-a", c.ServiceName)
	assert.Equal(t, 2*time.Second, c.BatchTimeout)
	assert.Equal(t, "collector:4318", c.Endpoint)
	assert.True(t, c.Insecure)
	assert.Same(t, &buf, c.LogWriter)
}
