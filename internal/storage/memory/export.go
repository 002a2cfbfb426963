// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/psg-sentry/sentry/pkg/core"
)

// SessionExport is the root JSON structure. Status samples are compact
// arrays: [unixMillis, pan, tilt, firing(0|1)].
type SessionExport struct {
	StartTime    string                   `json:"startTime"`
	EndTime      string                   `json:"endTime"`
	Discarded    int                      `json:"discardedStatuses"`
	Statuses     [][]any                  `json:"statuses"`
	Engagements  []core.Engagement        `json:"engagements"`
	Calibrations []core.CalibrationChange `json:"calibrations"`
	Controls     []core.ControlsChange    `json:"controls"`
}

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		StartTime:    b.started.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		EndTime:      b.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Discarded:    b.discarded,
		Statuses:     make([][]any, 0, len(b.statuses)),
		Engagements:  append([]core.Engagement{}, b.engagements...),
		Calibrations: append([]core.CalibrationChange{}, b.calibrations...),
		Controls:     append([]core.ControlsChange{}, b.controls...),
	}

	for _, s := range b.statuses {
		export.Statuses = append(export.Statuses, []any{
			s.Time.UnixMilli(),
			s.Pan,
			s.Tilt,
			boolToInt(s.Firing),
		})
	}
	return export
}

// exportJSON writes the session to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	filename := fmt.Sprintf("sentry_%s.json", b.started.Format("20060102_150405"))
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return f.Close()
}

func writeGzipJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	if err := json.NewEncoder(gw).Encode(v); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return f.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
