package geometry

import (
	"math"
	"strconv"

	"github.com/golang/geo/r3"

	"github.com/photogrammetry/gantry/pkg/faults"
)

// DefaultStandoff is the lever arm between the gantry end effector and the
// mounted target, mm.
const DefaultStandoff = 250.0

// degenerateEpsilon bounds |r̂ × ẑ| below which the mount offset direction is
// undefined.
const degenerateEpsilon = 1e-9

var zAxis = r3.Vector{Z: 1}

// GantrySetting is the commanded pose for one scan point.
type GantrySetting struct {
	X, Y, Z  float64 // end effector position, mm
	PhiRad   float64 // pan, radians from +x
	ThetaRad float64 // tilt, radians above the horizontal plane
}

// TargetLocation is where the mounted target ends up relative to the end
// effector, and which way it faces.
type TargetLocation struct {
	Offset r3.Vector // from end effector to target, mm
	Normal r3.Vector // unit normal of the target surface
}

// Position returns the end effector position as a vector.
func (g GantrySetting) Position() r3.Vector {
	return r3.Vector{X: g.X, Y: g.Y, Z: g.Z}
}

// ToGantrySetting converts a direction from the source (length = distance to
// the target) into the gantry pose that puts a target at the end of that
// direction, facing back at the source.
//
// A direction parallel to the vertical axis has no defined mount offset and
// fails with faults.KindDegenerateGeometry.
func ToGantrySetting(direction, sourcePos r3.Vector, standoff float64) (GantrySetting, TargetLocation, error) {
	length := direction.Norm()
	if length == 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return GantrySetting{}, TargetLocation{}, faults.Newf(faults.KindDegenerateGeometry,
			"to_gantry_setting", "direction %v has no usable length", direction)
	}

	rHat := direction.Mul(1 / length)
	normal := rHat.Mul(-1)

	phi := math.Atan2(normal.Y, normal.X)
	theta := math.Atan2(normal.Z, math.Hypot(normal.X, normal.Y))

	mount := rHat.Cross(zAxis)
	mountLen := mount.Norm()
	if mountLen < degenerateEpsilon {
		return GantrySetting{}, TargetLocation{}, faults.Newf(faults.KindDegenerateGeometry,
			"to_gantry_setting", "direction %v is parallel to the vertical axis", direction)
	}
	offset := mount.Mul(standoff / mountLen)

	rg := sourcePos.Add(direction).Sub(offset)

	return GantrySetting{X: rg.X, Y: rg.Y, Z: rg.Z, PhiRad: phi, ThetaRad: theta},
		TargetLocation{Offset: offset, Normal: normal}, nil
}

// ToGantrySettings converts every point in order. The first degenerate point
// aborts the whole conversion so nothing is commanded for a partial plan.
func ToGantrySettings(frame SourceFrame, points []r3.Vector, standoff float64) ([]GantrySetting, []TargetLocation, error) {
	settings := make([]GantrySetting, 0, len(points))
	targets := make([]TargetLocation, 0, len(points))
	for i, p := range points {
		gs, tl, err := ToGantrySetting(p, frame.Position, standoff)
		if err != nil {
			if fe, ok := err.(*faults.Error); ok {
				fe.Op = "to_gantry_setting point " + strconv.Itoa(i)
			}
			return nil, nil, err
		}
		settings = append(settings, gs)
		targets = append(targets, tl)
	}
	return settings, targets, nil
}
