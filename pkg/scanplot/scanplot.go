// Package scanplot renders a plan as PNG images for a quick visual check
// before the gantry is moved: the end effector path, and where the target
// ends up and which way it faces.
package scanplot

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/scan"
)

// NormalLength is the drawn length of a target normal, mm.
const NormalLength = 50.0

var (
	pathColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	sourceColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	normalColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// view is a projection onto two gantry axes.
type view struct {
	name string
	h, v gantry.Axis
}

var views = []view{
	{"top", gantry.X, gantry.Y},
	{"side", gantry.X, gantry.Z},
}

// Files returns the two image paths written for label under dir.
func Files(dir, label string) (path, pointing string) {
	return filepath.Join(dir, "gantrypos_"+label+".png"),
		filepath.Join(dir, "gantrypospnt_"+label+".png")
}

// Write renders the gantry path and, for sphere scans, the target positions
// and normals. It returns the files written.
func Write(p *scan.Plan, dir, label string) ([]string, error) {
	if p.Len() == 0 {
		return nil, fmt.Errorf("scanplot: empty plan")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	pathFile, pointFile := Files(dir, label)

	var row []*plot.Plot
	for _, v := range views {
		pl, err := gantryPath(p, v)
		if err != nil {
			return nil, err
		}
		row = append(row, pl)
	}
	if err := save(row, pathFile); err != nil {
		return nil, err
	}
	written := []string{pathFile}

	if p.Source == nil {
		return written, nil
	}
	row = row[:0]
	for _, v := range views {
		pl, err := targetPointing(p, v)
		if err != nil {
			return nil, err
		}
		row = append(row, pl)
	}
	if err := save(row, pointFile); err != nil {
		return nil, err
	}
	return append(written, pointFile), nil
}

func newPlot(title string, v view) *plot.Plot {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s (%s view)", title, v.name)
	pl.X.Label.Text = v.h.String() + " (mm)"
	pl.Y.Label.Text = v.v.String() + " (mm)"
	pl.Add(plotter.NewGrid())
	pl.Legend.Top = true
	return pl
}

// coord returns the planned value of a, falling back to 0 for held axes.
func coord(w scan.Waypoint, a gantry.Axis) float64 {
	if v, ok := w.Targets[a].Value(); ok {
		return v
	}
	return 0
}

func gantryPath(p *scan.Plan, v view) (*plot.Plot, error) {
	pl := newPlot("Gantry position", v)

	pts := make(plotter.XYs, p.Len())
	for i, w := range p.Waypoints {
		pts[i] = plotter.XY{X: coord(w, v.h), Y: coord(w, v.v)}
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = pathColor
	line.Width = vg.Points(1)
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(1.5)
	points.Color = pathColor
	pl.Add(line, points)
	pl.Legend.Add("path", line, points)

	if err := addSource(pl, p, v); err != nil {
		return nil, err
	}
	return pl, nil
}

func targetPointing(p *scan.Plan, v view) (*plot.Plot, error) {
	pl := newPlot("Target position and pointing", v)

	var targets plotter.XYs
	for _, w := range p.Waypoints {
		if w.Location == nil {
			continue
		}
		tx := coord(w, v.h) + component(w.Location.Offset.X, w.Location.Offset.Y, w.Location.Offset.Z, v.h)
		ty := coord(w, v.v) + component(w.Location.Offset.X, w.Location.Offset.Y, w.Location.Offset.Z, v.v)
		targets = append(targets, plotter.XY{X: tx, Y: ty})

		n := w.Location.Normal
		seg := plotter.XYs{
			{X: tx, Y: ty},
			{X: tx + NormalLength*component(n.X, n.Y, n.Z, v.h), Y: ty + NormalLength*component(n.X, n.Y, n.Z, v.v)},
		}
		l, err := plotter.NewLine(seg)
		if err != nil {
			return nil, err
		}
		l.Color = normalColor
		l.Width = vg.Points(0.75)
		pl.Add(l)
	}

	sc, err := plotter.NewScatter(targets)
	if err != nil {
		return nil, err
	}
	sc.Shape = draw.CircleGlyph{}
	sc.Radius = vg.Points(1.5)
	sc.Color = normalColor
	pl.Add(sc)
	pl.Legend.Add("target", sc)

	if err := addSource(pl, p, v); err != nil {
		return nil, err
	}
	return pl, nil
}

func component(x, y, z float64, a gantry.Axis) float64 {
	switch a {
	case gantry.X:
		return x
	case gantry.Y:
		return y
	default:
		return z
	}
}

func addSource(pl *plot.Plot, p *scan.Plan, v view) error {
	if p.Source == nil {
		return nil
	}
	src := p.Source.Position
	sc, err := plotter.NewScatter(plotter.XYs{{
		X: component(src.X, src.Y, src.Z, v.h),
		Y: component(src.X, src.Y, src.Z, v.v),
	}})
	if err != nil {
		return err
	}
	sc.Shape = draw.RingGlyph{}
	sc.Radius = vg.Points(4)
	sc.Color = sourceColor
	pl.Add(sc)
	pl.Legend.Add("source", sc)
	return nil
}

// save lays the plots out side by side in one PNG.
func save(row []*plot.Plot, file string) error {
	img := vgimg.New(vg.Length(len(row))*7*vg.Inch, 6*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: len(row),
		PadX:      4 * vg.Millimeter,
		PadY:      4 * vg.Millimeter,
		PadTop:    2 * vg.Millimeter,
		PadBottom: 2 * vg.Millimeter,
		PadLeft:   2 * vg.Millimeter,
		PadRight:  2 * vg.Millimeter,
	}
	canvases := plot.Align([][]*plot.Plot{row}, tiles, dc)
	for j, pl := range row {
		pl.Draw(canvases[0][j])
	}

	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", file, err)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to save %s: %w", file, err)
	}
	return f.Close()
}
