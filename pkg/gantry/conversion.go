package gantry

import (
	"fmt"
	"math"
)

// AxisScale converts one axis between physical units and counts.
type AxisScale struct {
	// UnitsPerCount is mm (linear) or degrees (rotational) per count.
	UnitsPerCount float64 `json:"units_per_count"`

	// Invert flips the sign, e.g. z counts grow downwards on the tank
	// gantry while physical z grows upwards.
	Invert bool `json:"invert,omitempty"`
}

// ConversionTable holds the calibration of every axis.
type ConversionTable [NumAxes]AxisScale

// DefaultConversion is the calibration of the tank gantry.
var DefaultConversion = ConversionTable{
	X:     {UnitsPerCount: 0.01113},
	Y:     {UnitsPerCount: 0.009382},
	Z:     {UnitsPerCount: 0.009355, Invert: true},
	Phi:   {UnitsPerCount: 0.0226},
	Theta: {UnitsPerCount: 180.0 / 1000, Invert: true},
}

func (s AxisScale) sign() float64 {
	if s.Invert {
		return -1
	}
	return 1
}

// ToCounts converts a physical value to the nearest count.
func (s AxisScale) ToCounts(v float64) int {
	return int(math.Round(s.sign() * v / s.UnitsPerCount))
}

// ToPhysical converts counts to physical units.
func (s AxisScale) ToPhysical(c int) float64 {
	return s.sign() * float64(c) * s.UnitsPerCount
}

// Validate checks every scale is finite and non-zero.
func (t ConversionTable) Validate() error {
	for _, a := range AllAxes() {
		upc := t[a].UnitsPerCount
		if upc == 0 || math.IsNaN(upc) || math.IsInf(upc, 0) {
			return fmt.Errorf("axis %s: invalid units per count %g", a, upc)
		}
	}
	return nil
}

// ToCounts converts a full physical pose.
func (t ConversionTable) ToCounts(v [NumAxes]float64) Counts {
	var c Counts
	for i := range c {
		c[i] = t[i].ToCounts(v[i])
	}
	return c
}

// ToPhysical converts a full pose in counts.
func (t ConversionTable) ToPhysical(c Counts) [NumAxes]float64 {
	var v [NumAxes]float64
	for i := range v {
		v[i] = t[i].ToPhysical(c[i])
	}
	return v
}
