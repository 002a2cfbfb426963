// internal/storage/memory/memory.go
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/pkg/core"
)

// MaxStatuses bounds the status samples kept in memory; older samples are
// discarded first. Engagements and operator changes are kept in full.
const MaxStatuses = 100000

// Backend stores turret history in memory and exports it to JSON on Close.
type Backend struct {
	cfg     config.MemoryConfig
	started time.Time
	now     func() time.Time

	statuses     []core.TurretStatus
	engagements  []core.Engagement
	calibrations []core.CalibrationChange
	controls     []core.ControlsChange
	discarded    int

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg: cfg,
		now: time.Now,
	}
}

// Init marks the start of the recording session.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = b.now()
	return nil
}

// Close exports the session. Nothing is written when no output directory is
// configured.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON()
}

// RecordStatuses appends a batch of status samples.
func (b *Backend) RecordStatuses(batch []core.TurretStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.statuses = append(b.statuses, batch...)
	if over := len(b.statuses) - MaxStatuses; over > 0 {
		b.discarded += over
		b.statuses = append(b.statuses[:0], b.statuses[over:]...)
	}
	return nil
}

// RecordEngagements appends a batch of engagements.
func (b *Backend) RecordEngagements(batch []core.Engagement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engagements = append(b.engagements, batch...)
	return nil
}

// RecordCalibration records a calibration change.
func (b *Backend) RecordCalibration(c core.CalibrationChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calibrations = append(b.calibrations, c)
	return nil
}

// RecordControls records a controls change.
func (b *Backend) RecordControls(c core.ControlsChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.Controls = c.Controls.Clone()
	b.controls = append(b.controls, c)
	return nil
}

// RecentEngagements returns up to limit engagements, newest first.
func (b *Backend) RecentEngagements(limit int) ([]core.Engagement, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return newestFirst(b.engagements, limit, func(e core.Engagement) time.Time { return e.Time }), nil
}

// RecentStatuses returns up to limit status samples, newest first.
func (b *Backend) RecentStatuses(limit int) ([]core.TurretStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return newestFirst(b.statuses, limit, func(s core.TurretStatus) time.Time { return s.Time }), nil
}

// LastExportPath is the file written by the most recent Close.
func (b *Backend) LastExportPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

func newestFirst[T any](items []T, limit int, at func(T) time.Time) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return at(out[i]).After(at(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
