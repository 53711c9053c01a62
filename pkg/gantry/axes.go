// Package gantry owns the 5-axis gantry: the persisted pose, conversion
// between physical units and controller counts, and blocking point-to-point
// moves with fail-safe fault handling.
package gantry

import (
	"fmt"
	"log"
	"strings"
)

// Logf is the package logger. Replace it with SetLogger.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Axis identifies one gantry axis.
type Axis int

// Axes in controller order (A..E on the motion controller).
const (
	X Axis = iota
	Y
	Z
	Phi
	Theta
)

// NumAxes is the number of gantry axes.
const NumAxes = 5

// AllAxes returns all axes in controller order.
func AllAxes() []Axis {
	return []Axis{X, Y, Z, Phi, Theta}
}

// LinearAxes returns the translation axes, the ones with limit switches.
func LinearAxes() []Axis {
	return []Axis{X, Y, Z}
}

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	case Phi:
		return "phi"
	case Theta:
		return "theta"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Letter is the controller's name for the axis.
func (a Axis) Letter() string {
	return string(rune('A' + int(a)))
}

// Unit is the physical unit of the axis.
func (a Axis) Unit() string {
	if a == Phi || a == Theta {
		return "deg"
	}
	return "mm"
}

// Counts is a position or speed per axis in controller counts.
type Counts [NumAxes]int

// Speeds is a speed per axis in counts per second.
type Speeds [NumAxes]float64

// DefaultSpeeds are the controller defaults for scan moves.
var DefaultSpeeds = Speeds{1000, 1000, 1000, 250, 250}

// Mask is a set of axes.
type Mask uint8

// MaskOf builds a mask from axes.
func MaskOf(axes ...Axis) Mask {
	var m Mask
	for _, a := range axes {
		m |= 1 << uint(a)
	}
	return m
}

// Has reports whether a is in the mask.
func (m Mask) Has(a Axis) bool {
	return m&(1<<uint(a)) != 0
}

// Empty reports whether no axis is set.
func (m Mask) Empty() bool {
	return m == 0
}

// Axes lists the axes in the mask in controller order.
func (m Mask) Axes() []Axis {
	var axes []Axis
	for _, a := range AllAxes() {
		if m.Has(a) {
			axes = append(axes, a)
		}
	}
	return axes
}

// String returns the controller letters, e.g. "ABD".
func (m Mask) String() string {
	var sb strings.Builder
	for _, a := range m.Axes() {
		sb.WriteString(a.Letter())
	}
	return sb.String()
}
