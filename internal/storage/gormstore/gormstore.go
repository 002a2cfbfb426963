// Package gormstore keeps turret history in a SQL database through gorm.
package gormstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/psg-sentry/sentry/internal/database"
	"github.com/psg-sentry/sentry/pkg/core"
	"gorm.io/datatypes"
)

// Backend writes history rows through a connected database.Manager.
type Backend struct {
	mgr          *database.Manager
	dumpInterval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New wraps a connected manager. When the manager fell back to in-memory
// sqlite and dumpInterval is positive, Init starts periodic dumps to disk.
func New(mgr *database.Manager, dumpInterval time.Duration) *Backend {
	return &Backend{
		mgr:          mgr,
		dumpInterval: dumpInterval,
		stop:         make(chan struct{}),
	}
}

// Init migrates the schema and starts the dump loop if needed.
func (b *Backend) Init() error {
	if err := b.mgr.Setup(Models...); err != nil {
		return err
	}

	if b.mgr.ShouldSaveLocal && b.dumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

func (b *Backend) dumpLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.dumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.mgr.DumpMemoryToDisk(); err != nil {
				b.mgr.Logger.Error().Err(err).Msg("Periodic DB dump failed")
			}
		}
	}
}

// Close stops the dump loop, writes a final dump for in-memory databases and
// closes the connection.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stop)
		b.wg.Wait()

		if b.mgr.ShouldSaveLocal && b.mgr.SqliteFilePath != "" {
			if dumpErr := b.mgr.DumpMemoryToDisk(); dumpErr != nil {
				b.mgr.Logger.Error().Err(dumpErr).Msg("Final DB dump failed")
				err = dumpErr
			}
		}
		if closeErr := b.mgr.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

// RecordStatuses inserts a batch of status samples.
func (b *Backend) RecordStatuses(batch []core.TurretStatus) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]StatusRow, len(batch))
	for i, s := range batch {
		rows[i] = statusRow(s)
	}
	if err := b.mgr.DB.Create(&rows).Error; err != nil {
		return fmt.Errorf("inserting %d statuses: %w", len(rows), err)
	}
	return nil
}

// RecordEngagements inserts a batch of engagements.
func (b *Backend) RecordEngagements(batch []core.Engagement) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]EngagementRow, len(batch))
	for i, e := range batch {
		rows[i] = engagementRow(e)
	}
	if err := b.mgr.DB.Create(&rows).Error; err != nil {
		return fmt.Errorf("inserting %d engagements: %w", len(rows), err)
	}
	return nil
}

// RecordCalibration inserts a calibration change.
func (b *Backend) RecordCalibration(c core.CalibrationChange) error {
	raw, err := json.Marshal(c.Grid)
	if err != nil {
		return fmt.Errorf("encoding calibration: %w", err)
	}
	row := CalibrationRow{Time: c.Time, Grid: datatypes.JSON(raw)}
	if err := b.mgr.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("inserting calibration: %w", err)
	}
	return nil
}

// RecordControls inserts a controls change.
func (b *Backend) RecordControls(c core.ControlsChange) error {
	row := ControlsRow{Time: c.Time, Controls: datatypes.NewJSONType(c.Controls)}
	if err := b.mgr.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("inserting controls: %w", err)
	}
	return nil
}

// RecentEngagements returns up to limit engagements, newest first.
func (b *Backend) RecentEngagements(limit int) ([]core.Engagement, error) {
	var rows []EngagementRow
	q := b.mgr.DB.Order("recorded_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying engagements: %w", err)
	}

	out := make([]core.Engagement, 0, len(rows))
	for _, r := range rows {
		e, err := r.engagement()
		if err != nil {
			return nil, fmt.Errorf("engagement %d: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// RecentStatuses returns up to limit status samples, newest first.
func (b *Backend) RecentStatuses(limit int) ([]core.TurretStatus, error) {
	var rows []StatusRow
	q := b.mgr.DB.Order("recorded_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying statuses: %w", err)
	}

	out := make([]core.TurretStatus, len(rows))
	for i, r := range rows {
		out[i] = r.status()
	}
	return out, nil
}

// LatestControls returns the most recently recorded controls policy.
func (b *Backend) LatestControls() (core.ControlsConfig, bool, error) {
	var rows []ControlsRow
	if err := b.mgr.DB.Order("recorded_at desc, id desc").Limit(1).Find(&rows).Error; err != nil {
		return core.ControlsConfig{}, false, fmt.Errorf("querying controls: %w", err)
	}
	if len(rows) == 0 {
		return core.ControlsConfig{}, false, nil
	}
	return rows[0].Controls.Data(), true, nil
}
