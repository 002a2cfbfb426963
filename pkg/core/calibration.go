// pkg/core/calibration.go
package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Grid dimensions. Cells are indexed x[row][col].
const (
	GridRows = 5
	GridCols = 5
)

// ErrInvalidGrid is returned when a calibration grid cannot be interpolated.
var ErrInvalidGrid = errors.New("invalid calibration grid")

// Grid holds the sampled pixel coordinates and the servo angles recorded at them.
//
//	x[row][col], y[row][col]: pixel coordinates of each sample point
//	pan[col]:                 pan angle shared by every point in a column
//	tilt[row]:                tilt angle shared by every point in a row
type Grid struct {
	X    [GridRows][GridCols]int `json:"x"`
	Y    [GridRows][GridCols]int `json:"y"`
	Pan  [GridCols]int           `json:"pan"`
	Tilt [GridRows]int           `json:"tilt"`
}

// UnmarshalJSON decodes through slices so a document with the wrong number of
// samples is rejected instead of being zero-padded or truncated.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var aux struct {
		X    [][]int `json:"x"`
		Y    [][]int `json:"y"`
		Pan  []int   `json:"pan"`
		Tilt []int   `json:"tilt"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Pan) != GridCols {
		return fmt.Errorf("%w: pan has %d samples, want %d", ErrInvalidGrid, len(aux.Pan), GridCols)
	}
	if len(aux.Tilt) != GridRows {
		return fmt.Errorf("%w: tilt has %d samples, want %d", ErrInvalidGrid, len(aux.Tilt), GridRows)
	}
	if err := decodeCells("x", aux.X, &g.X); err != nil {
		return err
	}
	if err := decodeCells("y", aux.Y, &g.Y); err != nil {
		return err
	}
	copy(g.Pan[:], aux.Pan)
	copy(g.Tilt[:], aux.Tilt)
	return nil
}

func decodeCells(name string, rows [][]int, dst *[GridRows][GridCols]int) error {
	if len(rows) != GridRows {
		return fmt.Errorf("%w: %s has %d rows, want %d", ErrInvalidGrid, name, len(rows), GridRows)
	}
	for row, cells := range rows {
		if len(cells) != GridCols {
			return fmt.Errorf("%w: %s[%d] has %d columns, want %d", ErrInvalidGrid, name, row, len(cells), GridCols)
		}
		copy(dst[row][:], cells)
	}
	return nil
}

// CalibrationGrid is the persisted calibration document.
type CalibrationGrid struct {
	PanLeft  int  `json:"pan_left"`
	PanRight int  `json:"pan_right"`
	TiltUp   int  `json:"tilt_up"`
	TiltDown int  `json:"tilt_down"`
	Grid     Grid `json:"grid"`
}

// Validate checks the invariants interpolation depends on: every angle is in
// servo range, pan is strictly monotonic, tilt strictly increases and the
// pixel axes strictly increase along each traversal axis.
func (c *CalibrationGrid) Validate() error {
	limits := map[string]int{
		"pan_left":  c.PanLeft,
		"pan_right": c.PanRight,
		"tilt_up":   c.TiltUp,
		"tilt_down": c.TiltDown,
	}
	for name, v := range limits {
		if v < MinAngle || v > MaxAngle {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidGrid, name, v)
		}
	}

	for col, v := range c.Grid.Pan {
		if v < MinAngle || v > MaxAngle {
			return fmt.Errorf("%w: pan[%d] %d out of range", ErrInvalidGrid, col, v)
		}
	}
	for row, v := range c.Grid.Tilt {
		if v < MinAngle || v > MaxAngle {
			return fmt.Errorf("%w: tilt[%d] %d out of range", ErrInvalidGrid, row, v)
		}
	}

	increasing := c.Grid.Pan[1] > c.Grid.Pan[0]
	for col := 1; col < GridCols; col++ {
		prev, cur := c.Grid.Pan[col-1], c.Grid.Pan[col]
		if cur == prev || (cur > prev) != increasing {
			return fmt.Errorf("%w: pan[%d]=%d breaks the direction of pan[%d]=%d",
				ErrInvalidGrid, col, cur, col-1, prev)
		}
	}
	for row := 1; row < GridRows; row++ {
		if c.Grid.Tilt[row] <= c.Grid.Tilt[row-1] {
			return fmt.Errorf("%w: tilt[%d]=%d not above tilt[%d]=%d",
				ErrInvalidGrid, row, c.Grid.Tilt[row], row-1, c.Grid.Tilt[row-1])
		}
	}

	for row := 0; row < GridRows; row++ {
		for col := 0; col < GridCols; col++ {
			if col+1 < GridCols && c.Grid.X[row][col+1] <= c.Grid.X[row][col] {
				return fmt.Errorf("%w: x[%d][%d]=%d not left of x[%d][%d]=%d",
					ErrInvalidGrid, row, col, c.Grid.X[row][col], row, col+1, c.Grid.X[row][col+1])
			}
			if row+1 < GridRows && c.Grid.Y[row+1][col] <= c.Grid.Y[row][col] {
				return fmt.Errorf("%w: y[%d][%d]=%d not above y[%d][%d]=%d",
					ErrInvalidGrid, row, col, c.Grid.Y[row][col], row+1, col, c.Grid.Y[row+1][col])
			}
		}
	}

	return nil
}

// Clone returns a deep copy. Grid is made of arrays, so a value copy suffices.
func (c *CalibrationGrid) Clone() *CalibrationGrid {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
