// Package storage defines where turret history is kept: status samples,
// engagements and operator changes to calibration and controls.
package storage

import "github.com/psg-sentry/sentry/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Time series, written in flush batches
	RecordStatuses(batch []core.TurretStatus) error
	RecordEngagements(batch []core.Engagement) error

	// Operator changes
	RecordCalibration(c core.CalibrationChange) error
	RecordControls(c core.ControlsChange) error
}

// Reader is implemented by backends that can answer history queries.
type Reader interface {
	RecentEngagements(limit int) ([]core.Engagement, error)
	RecentStatuses(limit int) ([]core.TurretStatus, error)
}
