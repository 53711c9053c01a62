package gantry

import (
	"math"
	"testing"
)

func TestAxisScale_ToCounts(t *testing.T) {
	tests := []struct {
		axis     Axis
		value    float64
		expected int
	}{
		{X, 100, 8985},    // 100 / 0.01113
		{X, 0, 0},         // zero stays zero
		{Y, 10, 1066},     // 10 / 0.009382
		{Z, 10, -1069},    // z counts run opposite to z mm
		{Phi, -90, -3982}, // -90 / 0.0226
		{Theta, 45, -250}, // tilt counts run opposite to degrees
	}

	for _, tt := range tests {
		got := DefaultConversion[tt.axis].ToCounts(tt.value)
		if got != tt.expected {
			t.Errorf("%s.ToCounts(%g) = %d, want %d", tt.axis, tt.value, got, tt.expected)
		}
	}
}

func TestConversionTable_RoundTrip(t *testing.T) {
	// counts -> physical -> counts is exact for every axis
	for _, a := range AllAxes() {
		for c := -20000; c <= 20000; c += 137 {
			v := DefaultConversion[a].ToPhysical(c)
			back := DefaultConversion[a].ToCounts(v)
			if back != c {
				t.Errorf("%s round-trip failed: %d -> %f -> %d", a, c, v, back)
			}
		}
	}

	// physical -> counts -> physical is within half a count
	pose := [NumAxes]float64{812.4, 333.3, 612.9, -47.5, 91}
	back := DefaultConversion.ToPhysical(DefaultConversion.ToCounts(pose))
	for i := range pose {
		if math.Abs(back[i]-pose[i]) > DefaultConversion[i].UnitsPerCount/2 {
			t.Errorf("axis %s: %f -> %f", Axis(i), pose[i], back[i])
		}
	}
}

func TestConversionTable_Validate(t *testing.T) {
	if err := DefaultConversion.Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}

	bad := DefaultConversion
	bad[Phi].UnitsPerCount = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero scale accepted")
	}

	bad = DefaultConversion
	bad[X].UnitsPerCount = math.NaN()
	if err := bad.Validate(); err == nil {
		t.Error("NaN scale accepted")
	}
}

func TestMask(t *testing.T) {
	m := MaskOf(X, Z, Theta)
	if m.String() != "ACE" {
		t.Errorf("String() = %q, want ACE", m.String())
	}
	if !m.Has(Z) || m.Has(Y) {
		t.Errorf("Has mismatch for %s", m)
	}
	if got := len(m.Axes()); got != 3 {
		t.Errorf("Axes() has %d entries, want 3", got)
	}
	if !Mask(0).Empty() || m.Empty() {
		t.Error("Empty mismatch")
	}
}

func TestTargets(t *testing.T) {
	tgt := HoldAll().With(Y, 0)
	if !tgt[X].IsHold() {
		t.Error("x should hold")
	}
	v, ok := tgt[Y].Value()
	if !ok || v != 0 {
		t.Errorf("y = %g,%v, want 0,true", v, ok)
	}
	if tgt[Y].String() != "0" || tgt[X].String() != "hold" {
		t.Errorf("String() = %q, %q", tgt[Y], tgt[X])
	}
}
