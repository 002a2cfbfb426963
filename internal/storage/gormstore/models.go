package gormstore

import (
	"time"

	"github.com/psg-sentry/sentry/pkg/core"
	"gorm.io/datatypes"
)

// StatusRow is one turret status sample.
type StatusRow struct {
	ID     uint      `gorm:"primarykey"`
	Time   time.Time `gorm:"column:recorded_at;index;not null"`
	Pan    int16     `gorm:"not null"`
	Tilt   int16     `gorm:"not null"`
	Firing bool      `gorm:"not null"`
}

func (StatusRow) TableName() string { return "turret_statuses" }

// EngagementRow is one target the turret aimed and fired at.
type EngagementRow struct {
	ID     uint      `gorm:"primarykey"`
	Time   time.Time `gorm:"column:recorded_at;index;not null"`
	X      int       `gorm:"not null"`
	Y      int       `gorm:"not null"`
	Colour string    `gorm:"size:16;index"`
	Pan    int16     `gorm:"not null"`
	Tilt   int16     `gorm:"not null"`
	Cost   int       `gorm:"not null"`
}

func (EngagementRow) TableName() string { return "engagements" }

// CalibrationRow stores the whole grid document as JSON.
type CalibrationRow struct {
	ID   uint           `gorm:"primarykey"`
	Time time.Time      `gorm:"column:recorded_at;index;not null"`
	Grid datatypes.JSON `gorm:"not null"`
}

func (CalibrationRow) TableName() string { return "calibrations" }

// ControlsRow stores the policy document as typed JSON.
type ControlsRow struct {
	ID       uint                                    `gorm:"primarykey"`
	Time     time.Time                               `gorm:"column:recorded_at;index;not null"`
	Controls datatypes.JSONType[core.ControlsConfig] `gorm:"not null"`
}

func (ControlsRow) TableName() string { return "controls_changes" }

// Models lists every table for migration.
var Models = []any{
	&StatusRow{},
	&EngagementRow{},
	&CalibrationRow{},
	&ControlsRow{},
}

func statusRow(s core.TurretStatus) StatusRow {
	return StatusRow{Time: s.Time, Pan: int16(s.Pan), Tilt: int16(s.Tilt), Firing: s.Firing}
}

func (r StatusRow) status() core.TurretStatus {
	return core.TurretStatus{Time: r.Time, Pan: int(r.Pan), Tilt: int(r.Tilt), Firing: r.Firing}
}

func engagementRow(e core.Engagement) EngagementRow {
	return EngagementRow{
		Time:   e.Time,
		X:      e.PixelX,
		Y:      e.PixelY,
		Colour: e.Colour.String(),
		Pan:    int16(e.Pan),
		Tilt:   int16(e.Tilt),
		Cost:   e.Cost,
	}
}

func (r EngagementRow) engagement() (core.Engagement, error) {
	colour, err := core.ParseColour(r.Colour)
	if err != nil {
		return core.Engagement{}, err
	}
	return core.Engagement{
		Time:   r.Time,
		PixelX: r.X,
		PixelY: r.Y,
		Colour: colour,
		Pan:    int(r.Pan),
		Tilt:   int(r.Tilt),
		Cost:   r.Cost,
	}, nil
}
