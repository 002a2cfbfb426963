package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var session = time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

func TestLogFilePath(t *testing.T) {
	tests := []struct {
		name    string
		logsDir string
		service string
		want    string
	}{
		{"basic path", "sentrylogs", "sentry", filepath.Join("sentrylogs", "sentry.20260212_213836.log")},
		{"relative path with dot", "./sentrylogs", "sentry", filepath.Join(".", "sentrylogs", "sentry.20260212_213836.log")},
		{"absolute path", filepath.Join("/var", "log", "sentry"), "sentryctl", filepath.Join("/var", "log", "sentry", "sentryctl.20260212_213836.log")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, tt.service, session))
		})
	}
}

func TestOpenSessionLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	f, path, err := OpenSessionLog(dir, "sentry", session)
	require.NoError(t, err)
	_, err = f.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, LogFilePath(dir, "sentry", session), path)

	// reopening the same session appends
	f, _, err = OpenSessionLog(dir, "sentry", session)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestPruneSessionLogs(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 4; i++ {
		p := LogFilePath(dir, "sentry", session.Add(time.Duration(i)*time.Hour))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		paths = append(paths, p)
	}
	other := LogFilePath(dir, "sentryctl", session)
	require.NoError(t, os.WriteFile(other, nil, 0o644))

	removed, err := PruneSessionLogs(dir, "sentry", 2)
	require.NoError(t, err)
	assert.Equal(t, paths[:2], removed)
	assert.NoFileExists(t, paths[0])
	assert.FileExists(t, paths[3])
	assert.FileExists(t, other)

	removed, err = PruneSessionLogs(dir, "sentry", 0)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
