// Package scan turns scan descriptions into a list of gantry waypoints and
// drives the gantry through them, capturing at every stop.
package scan

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"

	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/geometry"
)

// Mode is the kind of scan. Each mode carries its own angle convention when
// geometry is turned into gantry targets.
type Mode int

const (
	// CameraSphere moves a target over a sphere around a fixed camera.
	// Tilt is sent to the gantry with its sign flipped.
	CameraSphere Mode = iota
	// LEDSphere moves a camera over a sphere around a fixed LED. Tilt is
	// sent as computed.
	LEDSphere
	// Arc moves a pattern around a horizontal arc, kept tangent to it.
	Arc
	// YZ rasters the y and z axes only.
	YZ
)

func (m Mode) String() string {
	switch m {
	case CameraSphere:
		return "camera-sphere"
	case LEDSphere:
		return "led-sphere"
	case Arc:
		return "arc"
	case YZ:
		return "yz"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Waypoint is one stop of a plan. Targets are in mm and degrees.
type Waypoint struct {
	Index   int
	Targets gantry.Targets

	// Ring is the ring or row of the raster the stop belongs to.
	Ring int

	// Location is set for sphere scans: where the mounted target sits and
	// which way it faces, relative to the end effector.
	Location *geometry.TargetLocation
}

// Value returns the target for a, or NaN when the axis is held.
func (w Waypoint) Value(a gantry.Axis) float64 {
	if v, ok := w.Targets[a].Value(); ok {
		return v
	}
	return math.NaN()
}

// Plan is a fully validated scan. Building a plan issues no hardware command.
type Plan struct {
	Mode      Mode
	Waypoints []Waypoint

	// Source is the fixed camera or LED for sphere scans.
	Source *geometry.SourceFrame
}

// Len returns the number of waypoints.
func (p *Plan) Len() int {
	return len(p.Waypoints)
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// PlanSphere builds a camera or LED sphere scan. Every point is transformed
// before the plan is returned; a degenerate point fails the whole plan.
func PlanSphere(mode Mode, frame geometry.SourceFrame, spec geometry.ScanSpec, standoff float64) (*Plan, error) {
	if mode != CameraSphere && mode != LEDSphere {
		return nil, fmt.Errorf("plan sphere: mode %s is not a sphere scan", mode)
	}
	points, err := geometry.GeneratePoints(frame, spec)
	if err != nil {
		return nil, fmt.Errorf("generate points: %w", err)
	}
	settings, locations, err := geometry.ToGantrySettings(frame, points, standoff)
	if err != nil {
		return nil, err
	}

	tiltSign := 1.0
	if mode == CameraSphere {
		tiltSign = -1
	}
	rings := ringsOf(points)
	plan := &Plan{Mode: mode, Source: &frame, Waypoints: make([]Waypoint, len(settings))}
	for i, s := range settings {
		loc := locations[i]
		plan.Waypoints[i] = Waypoint{
			Index: i,
			Targets: gantry.Targets{
				gantry.X:     gantry.To(s.X),
				gantry.Y:     gantry.To(s.Y),
				gantry.Z:     gantry.To(s.Z),
				gantry.Phi:   gantry.To(degrees(s.PhiRad)),
				gantry.Theta: gantry.To(tiltSign * degrees(s.ThetaRad)),
			},
			Ring:     rings[i],
			Location: &loc,
		}
	}
	return plan, nil
}

// ringsOf numbers rings by polar angle, in generation order.
func ringsOf(points []r3.Vector) []int {
	rings := make([]int, len(points))
	ring := 0
	for i := 1; i < len(points); i++ {
		if math.Abs(geometry.Polar(points[i])-geometry.Polar(points[i-1])) > 1e-9 {
			ring++
		}
		rings[i] = ring
	}
	return rings
}

// PlanArc builds an arc scan. Pan keeps the pattern tangent to the arc and
// tilt is held level.
func PlanArc(spec geometry.ArcSpec) (*Plan, error) {
	points, err := geometry.ArcPoints(spec)
	if err != nil {
		return nil, fmt.Errorf("arc points: %w", err)
	}
	plan := &Plan{Mode: Arc, Waypoints: make([]Waypoint, len(points))}
	for i, p := range points {
		plan.Waypoints[i] = Waypoint{
			Index: i,
			Targets: gantry.Targets{
				gantry.X:     gantry.To(p.X),
				gantry.Y:     gantry.To(p.Y),
				gantry.Z:     gantry.To(p.Z),
				gantry.Phi:   gantry.To(degrees(p.TangentRad)),
				gantry.Theta: gantry.To(0),
			},
			Ring: p.Ring,
		}
	}
	return plan, nil
}

// PlanYZ builds a y/z raster. X and the rotations are held.
func PlanYZ(spec geometry.YZSpec) (*Plan, error) {
	points, err := geometry.YZPoints(spec)
	if err != nil {
		return nil, fmt.Errorf("yz points: %w", err)
	}
	plan := &Plan{Mode: YZ, Waypoints: make([]Waypoint, len(points))}
	for i, p := range points {
		plan.Waypoints[i] = Waypoint{
			Index:   i,
			Targets: gantry.HoldAll().With(gantry.Y, p.Y).With(gantry.Z, p.Z),
			Ring:    p.Row,
		}
	}
	return plan, nil
}

// Label names the images of a waypoint: "<n>_<label>_z<z>_y<y>_x<x>" with
// positions rounded to 0.1 mm. Held axes are left out.
func Label(w Waypoint, label string) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(w.Index))
	if label != "" {
		sb.WriteByte('_')
		sb.WriteString(label)
	}
	for _, a := range []gantry.Axis{gantry.Z, gantry.Y, gantry.X} {
		v, ok := w.Targets[a].Value()
		if !ok {
			continue
		}
		sb.WriteByte('_')
		r := math.Round(v*10) / 10
		if r == 0 {
			r = 0 // no "-0"
		}
		sb.WriteString(a.String())
		sb.WriteString(strconv.FormatFloat(r, 'f', -1, 64))
	}
	return sb.String()
}
