// Package calibration maps pixel coordinates onto turret pan/tilt angles using
// a 5x5 grid of sample points recorded by the operator.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/psg-sentry/sentry/pkg/core"
)

// DefaultFile is the calibration document name used when no path is configured.
const DefaultFile = "calibration.json"

// ErrUncalibrated is returned by lookups made before any grid was loaded or set.
var ErrUncalibrated = errors.New("turret is not calibrated")

// centre is the grid index used when a point falls outside the calibrated interior.
const centre = 2

// Store owns the calibration grid. The grid is replaced wholesale, never patched.
type Store struct {
	mu     sync.Mutex
	path   string
	data   *core.CalibrationGrid
	logger *slog.Logger
}

// NewStore creates an empty store persisting to path.
func NewStore(path string, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "calibration"),
	}
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Load reads the calibration file. A missing file is not an error; the store
// simply stays uncalibrated.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Calibration file not found", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading calibration file: %w", err)
	}

	var grid core.CalibrationGrid
	if err := json.Unmarshal(raw, &grid); err != nil {
		return fmt.Errorf("parsing calibration file %s: %w", s.path, err)
	}
	if err := grid.Validate(); err != nil {
		return fmt.Errorf("calibration file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.data = &grid
	s.mu.Unlock()

	s.logger.Info("Loaded calibration", "path", s.path)
	return nil
}

// Calibrate validates and persists a new grid, then makes it current. The file
// is written before the call returns; if writing fails the previous grid stays.
func (s *Store) Calibrate(grid core.CalibrationGrid) error {
	if err := grid.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.save(&grid); err != nil {
		s.mu.Unlock()
		return err
	}
	s.data = &grid
	s.mu.Unlock()

	s.logger.Info("Calibration updated", "path", s.path,
		"pan_left", grid.PanLeft, "pan_right", grid.PanRight,
		"tilt_up", grid.TiltUp, "tilt_down", grid.TiltDown)
	return nil
}

func (s *Store) save(grid *core.CalibrationGrid) error {
	raw, err := json.MarshalIndent(grid, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding calibration: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.json")
	if err != nil {
		return fmt.Errorf("creating calibration temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing calibration: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing calibration temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing calibration file: %w", err)
	}
	return nil
}

// Calibration returns a copy of the current grid, or nil when uncalibrated.
func (s *Store) Calibration() *core.CalibrationGrid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// IsCalibrated reports whether a grid is loaded.
func (s *Store) IsCalibrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data != nil
}

// PanLimits returns (pan_left, pan_right).
func (s *Store) PanLimits() (left, right int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0, 0, ErrUncalibrated
	}
	return s.data.PanLeft, s.data.PanRight, nil
}

// TiltLimits returns (tilt_up, tilt_down).
func (s *Store) TiltLimits() (up, down int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0, 0, ErrUncalibrated
	}
	return s.data.TiltUp, s.data.TiltDown, nil
}

// CalculateTurretPosition converts a pixel coordinate into pan/tilt angles.
//
// The containing cell is found by walking from (0,0): first down the rows
// while y lies past the next row's boundary, then across the columns while x
// lies past the next column's boundary. Points beyond the last row or column
// fall back to the centre sample point. Inside a cell both axes are linearly
// interpolated independently.
func (s *Store) CalculateTurretPosition(x, y int) (pan, tilt int, err error) {
	s.mu.Lock()
	if s.data == nil {
		s.mu.Unlock()
		return 0, 0, ErrUncalibrated
	}
	grid := s.data.Grid
	s.mu.Unlock()
	g := &grid

	// exact sample points need no arithmetic
	for row := 0; row < core.GridRows; row++ {
		for col := 0; col < core.GridCols; col++ {
			if g.X[row][col] == x && g.Y[row][col] == y {
				return g.Pan[col], g.Tilt[row], nil
			}
		}
	}

	row, col := locate(g, x, y)
	if row == core.GridRows-1 || col == core.GridCols-1 {
		s.logger.Warn("Could not find grid square, using centre", "x", x, "y", y, "row", row, "col", col)
		return g.Pan[centre], g.Tilt[centre], nil
	}

	panRatio := float64(x-g.X[row][col]) / float64(g.X[row][col+1]-g.X[row][col])
	panDelta := g.Pan[col] - g.Pan[col+1]
	pan = g.Pan[col] - roundInt(panRatio*float64(panDelta))

	tiltRatio := float64(y-g.Y[row][col]) / float64(g.Y[row+1][col]-g.Y[row][col])
	tiltDelta := g.Tilt[row+1] - g.Tilt[row]
	tilt = g.Tilt[row] + roundInt(tiltRatio*float64(tiltDelta))

	s.logger.Debug("Calculated turret position",
		"x", x, "y", y, "row", row, "col", col,
		"pan_ratio", panRatio, "tilt_ratio", tiltRatio,
		"pan", pan, "tilt", tilt)

	return pan, tilt, nil
}

// locate walks the grid and returns the top-left index of the cell containing
// (x, y). A returned row or column equal to the last index means the point lies
// past the final grid line on that axis.
func locate(g *core.Grid, x, y int) (row, col int) {
	for {
		if row < core.GridRows-1 && y > g.Y[row+1][col] {
			row++
			continue
		}
		if col < core.GridCols-1 && x > g.X[row][col+1] {
			col++
			continue
		}
		return row, col
	}
}

// roundInt rounds half to even, matching the rounding the grid was tuned with.
func roundInt(v float64) int {
	return int(math.RoundToEven(v))
}
