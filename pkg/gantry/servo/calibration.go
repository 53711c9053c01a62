package servo

import (
	"fmt"

	"github.com/photogrammetry/gantry/pkg/gantry"
)

// AxisCalibration holds the servo behind one gantry axis and its travel in
// raw servo steps.
type AxisCalibration struct {
	ID       int `json:"id"`
	RangeMin int `json:"range_min"`
	RangeMax int `json:"range_max"`
}

// Span returns the usable travel in steps.
func (c AxisCalibration) Span() int {
	return c.RangeMax - c.RangeMin
}

// Clamp limits a raw target to the calibrated travel.
func (c AxisCalibration) Clamp(raw int) int {
	return min(max(raw, c.RangeMin), c.RangeMax)
}

// Calibration maps axis names (x, y, z, phi, theta) to their servo.
type Calibration map[string]AxisCalibration

// DefaultCalibration is a five-servo rig on IDs 1-5 with full single-turn travel.
func DefaultCalibration() Calibration {
	cal := make(Calibration, gantry.NumAxes)
	for _, a := range gantry.AllAxes() {
		cal[a.String()] = AxisCalibration{ID: int(a) + 1, RangeMin: 0, RangeMax: 4095}
	}
	return cal
}

// Axis returns the calibration for a.
func (c Calibration) Axis(a gantry.Axis) (AxisCalibration, bool) {
	ac, ok := c[a.String()]
	return ac, ok
}

// IDs returns the servo IDs in axis order.
func (c Calibration) IDs() []int {
	ids := make([]int, 0, len(c))
	for _, a := range gantry.AllAxes() {
		if ac, ok := c.Axis(a); ok {
			ids = append(ids, ac.ID)
		}
	}
	return ids
}

// ByID returns the axis driven by a servo ID.
func (c Calibration) ByID(id int) (gantry.Axis, AxisCalibration, bool) {
	for _, a := range gantry.AllAxes() {
		if ac, ok := c.Axis(a); ok && ac.ID == id {
			return a, ac, true
		}
	}
	return 0, AxisCalibration{}, false
}

// Validate checks that every axis has a servo, IDs are unique and ranges
// are non-empty.
func (c Calibration) Validate() error {
	seen := map[int]gantry.Axis{}
	for _, a := range gantry.AllAxes() {
		ac, ok := c.Axis(a)
		if !ok {
			return fmt.Errorf("axis %s: no servo", a)
		}
		if prev, dup := seen[ac.ID]; dup {
			return fmt.Errorf("axis %s: servo %d already drives %s", a, ac.ID, prev)
		}
		seen[ac.ID] = a
		if ac.Span() <= 0 {
			return fmt.Errorf("axis %s: empty range %d..%d", a, ac.RangeMin, ac.RangeMax)
		}
	}
	return nil
}
