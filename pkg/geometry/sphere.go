// Package geometry plans where the gantry must go: it spreads scan points
// over a patch of a sphere around a camera or light source and converts each
// point into a gantry pose and a target facing.
//
// Coordinates are gantry coordinates: x is the long horizontal axis, y the
// other horizontal axis and z vertical. Lengths are millimetres and angles
// are radians unless a name says otherwise.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ErrInvalidSpec is returned when a ScanSpec violates its invariants.
var ErrInvalidSpec = errors.New("geometry: invalid scan spec")

// SourceFrame is the position and facing of the camera or light source in
// gantry coordinates.
type SourceFrame struct {
	Position r3.Vector
	Facing   r3.Vector
}

// AzimuthOffset is the source's own azimuth, atan2(facing.y, facing.x),
// in radians.
func (f SourceFrame) AzimuthOffset() float64 {
	return math.Atan2(f.Facing.Y, f.Facing.X)
}

// ScanSpec is the requested angular coverage around the source.
type ScanSpec struct {
	N      int     // requested number of points
	Radius float64 // distance from source to target, mm

	// Azimuth window measured from the source facing, radians.
	Phi1, Phi2 float64

	// Polar window measured from +z, radians.
	Theta1, Theta2 float64
}

// Validate checks N>0, r>0, phi2>phi1 and theta2>theta1.
func (s ScanSpec) Validate() error {
	switch {
	case s.N <= 0:
		return fmt.Errorf("%w: point count %d must be positive", ErrInvalidSpec, s.N)
	case !(s.Radius > 0):
		return fmt.Errorf("%w: radius %g must be positive", ErrInvalidSpec, s.Radius)
	case !(s.Phi2 > s.Phi1):
		return fmt.Errorf("%w: phi range [%g, %g] is empty", ErrInvalidSpec, s.Phi1, s.Phi2)
	case !(s.Theta2 > s.Theta1):
		return fmt.Errorf("%w: theta range [%g, %g] is empty", ErrInvalidSpec, s.Theta1, s.Theta2)
	}
	return nil
}

// GeneratePoints spreads approximately spec.N points over the requested patch
// so that each covers about the same solid angle. Points are returned as
// vectors from the source, each of length spec.Radius, in raster order: rings
// of constant theta, with the azimuth direction reversed on every other ring.
func GeneratePoints(frame SourceFrame, spec ScanSpec) ([]r3.Vector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	dPhi := spec.Phi2 - spec.Phi1
	dTheta := spec.Theta2 - spec.Theta1

	area := dPhi * (math.Cos(spec.Theta1) - math.Cos(spec.Theta2)) / float64(spec.N)
	d := math.Sqrt(math.Abs(area))

	mTheta := 1
	if d > 0 {
		mTheta = max(1, int(math.Round(dTheta/d)))
	}
	ringStep := dTheta / float64(mTheta)
	phiOffset := frame.AzimuthOffset()

	points := make([]r3.Vector, 0, spec.N)
	for m := range mTheta {
		theta := spec.Theta1 + dTheta*(float64(m)+0.5)/float64(mTheta)
		mPhi := max(1, int(math.Round(math.Abs(dPhi*math.Sin(theta)/ringStep))))

		for n := range mPhi {
			step := dPhi * (float64(n) + 0.5) / float64(mPhi)
			phi := spec.Phi1 + step
			if m%2 == 1 {
				phi = spec.Phi2 - step
			}
			phi += phiOffset

			points = append(points, r3.Vector{
				X: spec.Radius * math.Sin(theta) * math.Cos(phi),
				Y: spec.Radius * math.Sin(theta) * math.Sin(phi),
				Z: spec.Radius * math.Cos(theta),
			})
		}
	}
	return points, nil
}

// Azimuth returns atan2(v.y, v.x) in radians.
func Azimuth(v r3.Vector) float64 {
	return math.Atan2(v.Y, v.X)
}

// Polar returns the angle between v and +z in radians.
func Polar(v r3.Vector) float64 {
	return math.Atan2(math.Hypot(v.X, v.Y), v.Z)
}
