package gantry

import "fmt"

// Target is the commanded value for one axis of an absolute move: either
// hold the axis where it is, or go to a physical value. The zero value holds.
type Target struct {
	value float64
	set   bool
}

// Hold leaves the axis where it is.
func Hold() Target {
	return Target{}
}

// To moves the axis to v (mm or degrees).
func To(v float64) Target {
	return Target{value: v, set: true}
}

// Value returns the physical target and whether the axis moves at all.
func (t Target) Value() (float64, bool) {
	return t.value, t.set
}

// IsHold reports whether the axis is held.
func (t Target) IsHold() bool {
	return !t.set
}

func (t Target) String() string {
	if !t.set {
		return "hold"
	}
	return fmt.Sprintf("%g", t.value)
}

// Targets is a per-axis absolute move request.
type Targets [NumAxes]Target

// HoldAll returns a request that holds every axis.
func HoldAll() Targets {
	return Targets{}
}

// With returns a copy with axis a set to v.
func (t Targets) With(a Axis, v float64) Targets {
	t[a] = To(v)
	return t
}
