package scan

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/photogrammetry/gantry/pkg/gantry"
)

// AxisRange is the span of targets on one axis. Held axes have Used false.
type AxisRange struct {
	Used     bool
	Min, Max float64
}

// Summary is the dry-run report of a plan.
type Summary struct {
	Mode      Mode
	Waypoints int
	Axes      [gantry.NumAxes]AxisRange
}

// Summarize returns the per-axis range of a plan without touching hardware.
func Summarize(p *Plan) Summary {
	s := Summary{Mode: p.Mode, Waypoints: p.Len()}
	for _, a := range gantry.AllAxes() {
		var vals []float64
		for _, w := range p.Waypoints {
			if v, ok := w.Targets[a].Value(); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		s.Axes[a] = AxisRange{Used: true, Min: floats.Min(vals), Max: floats.Max(vals)}
	}
	return s
}

// CheckTravel reports every linear axis whose range leaves the span between
// zero and its limit. Limits are in mm, x, y, z.
func (s Summary) CheckTravel(limits [3]float64) error {
	var bad []string
	for i, a := range gantry.LinearAxes() {
		r := s.Axes[a]
		if !r.Used {
			continue
		}
		// z counts down from its home switch, so its travel is negative.
		lo, hi := min(0, limits[i]), max(0, limits[i])
		if r.Min < lo || r.Max > hi {
			bad = append(bad, fmt.Sprintf("%s %.1f..%.1f outside %.1f..%.1f mm", a, r.Min, r.Max, lo, hi))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("plan exceeds travel: %s", strings.Join(bad, "; "))
	}
	return nil
}

func (s Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s scan, %d waypoints\n", s.Mode, s.Waypoints)
	for _, a := range gantry.AllAxes() {
		r := s.Axes[a]
		if !r.Used {
			fmt.Fprintf(&sb, "  %-5s held\n", a)
			continue
		}
		fmt.Fprintf(&sb, "  %-5s %10.2f .. %10.2f %s\n", a, r.Min, r.Max, a.Unit())
	}
	return sb.String()
}
