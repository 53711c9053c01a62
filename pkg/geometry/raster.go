package geometry

import (
	"fmt"
	"math"
)

// ArcSpec describes rings of points on a horizontal arc around a camera, one
// ring per z level. Phi angles are degrees in the scan-file convention; the
// offset rotates them into gantry azimuth (the default -90 puts phi=0 on -y,
// towards the y limit switch).
type ArcSpec struct {
	CentreX, CentreY float64 // camera position, mm
	RadiusMM         float64

	PhiInitDeg, PhiFinalDeg float64
	NPhi                    int
	OffsetDeg               float64

	ZInit, ZFinal float64 // mm
	NZ            int
}

// ArcPoint is one stop of an arc scan.
type ArcPoint struct {
	X, Y, Z float64 // mm

	// TangentRad is the pan angle that keeps the target tangent to the arc.
	TangentRad float64

	Ring int
}

// Validate checks the counts and radius.
func (s ArcSpec) Validate() error {
	switch {
	case s.NPhi <= 0:
		return fmt.Errorf("%w: N_phi %d must be positive", ErrInvalidSpec, s.NPhi)
	case s.NZ <= 0:
		return fmt.Errorf("%w: N_z %d must be positive", ErrInvalidSpec, s.NZ)
	case !(s.RadiusMM > 0):
		return fmt.Errorf("%w: scan_rad %g must be positive", ErrInvalidSpec, s.RadiusMM)
	}
	return nil
}

// ArcPoints lays out the arc scan. Each ring walks the arc in the opposite
// direction to the previous one.
func ArcPoints(spec ArcSpec) ([]ArcPoint, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	phiMin := (spec.PhiInitDeg + spec.OffsetDeg) * math.Pi / 180
	phiMax := (spec.PhiFinalDeg + spec.OffsetDeg) * math.Pi / 180
	phiStep := stepFor(phiMin, phiMax, spec.NPhi)
	zStep := stepFor(spec.ZInit, spec.ZFinal, spec.NZ)

	points := make([]ArcPoint, 0, spec.NPhi*spec.NZ)
	for i := range spec.NZ {
		z := spec.ZInit + zStep*float64(i)
		for j := range spec.NPhi {
			k := j
			if i%2 == 1 {
				k = spec.NPhi - 1 - j
			}
			phi := phiMin + phiStep*float64(k)
			rx := spec.RadiusMM * math.Cos(phi)
			ry := spec.RadiusMM * math.Sin(phi)
			points = append(points, ArcPoint{
				X:          spec.CentreX + rx,
				Y:          spec.CentreY + ry,
				Z:          z,
				TangentRad: math.Atan2(ry, rx) - math.Pi/2,
				Ring:       i,
			})
		}
	}
	return points, nil
}

// YZSpec describes a vertical y/z raster with x and the rotations parked.
type YZSpec struct {
	YInit, YFinal float64 // mm
	NY            int
	ZInit, ZFinal float64 // mm
	NZ            int
}

// YZPoint is one stop of a y/z raster.
type YZPoint struct {
	Y, Z float64
	Row  int
}

// Validate checks the counts.
func (s YZSpec) Validate() error {
	if s.NY <= 0 || s.NZ <= 0 {
		return fmt.Errorf("%w: N_y=%d N_z=%d must be positive", ErrInvalidSpec, s.NY, s.NZ)
	}
	return nil
}

// YZPoints lays out the raster row by row in z, reversing y on odd rows.
func YZPoints(spec YZSpec) ([]YZPoint, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	yStep := stepFor(spec.YInit, spec.YFinal, spec.NY)
	zStep := stepFor(spec.ZInit, spec.ZFinal, spec.NZ)

	points := make([]YZPoint, 0, spec.NY*spec.NZ)
	for i := range spec.NZ {
		z := spec.ZInit + zStep*float64(i)
		for j := range spec.NY {
			k := j
			if i%2 == 1 {
				k = spec.NY - 1 - j
			}
			points = append(points, YZPoint{Y: spec.YInit + yStep*float64(k), Z: z, Row: i})
		}
	}
	return points, nil
}

// stepFor spaces n stops from lo to hi inclusive.
func stepFor(lo, hi float64, n int) float64 {
	if n <= 1 {
		return 0
	}
	return (hi - lo) / float64(n-1)
}
