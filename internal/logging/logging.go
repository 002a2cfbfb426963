// Package logging wires the daemon's slog output: a text sink on the console
// or session file, optional Graylog and OTel sinks, and per-record turret
// context.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const sessionLayout = "20060102_150405"

// LogFilePath names the log file of one daemon session,
// <logsDir>/<name>.<YYYYMMDD_HHMMSS>.log.
func LogFilePath(logsDir, name string, sessionStart time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", name, sessionStart.Format(sessionLayout)))
}

// OpenSessionLog creates logsDir if needed and opens the session's log file
// for appending.
func OpenSessionLog(logsDir, name string, sessionStart time.Time) (*os.File, string, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating logs directory: %w", err)
	}
	path := LogFilePath(logsDir, name, sessionStart)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, path, fmt.Errorf("opening log file: %w", err)
	}
	return f, path, nil
}

// PruneSessionLogs removes all but the newest keep session logs of name.
// keep <= 0 keeps everything. The session stamp sorts chronologically, so
// names are compared rather than modification times.
func PruneSessionLogs(logsDir, name string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(logsDir, name+".*.log"))
	if err != nil {
		return nil, err
	}
	if len(matches) <= keep {
		return nil, nil
	}
	sort.Strings(matches)

	var removed []string
	for _, path := range matches[:len(matches)-keep] {
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
