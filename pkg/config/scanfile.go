package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"

	"github.com/photogrammetry/gantry/pkg/faults"
	"github.com/photogrammetry/gantry/pkg/geometry"
)

// Default scan-file names.
const (
	DefaultSphereFile = "parameters_sphere.txt"
	DefaultLEDFile    = "parameters_led.txt"
	DefaultArcFile    = "parameters_arc.txt"
	DefaultYZFile     = "parameters_yz.txt"
)

// SourceKind selects which keys a spherical scan file uses for the source.
type SourceKind int

const (
	// Camera files name the source campos/camfacing.
	Camera SourceKind = iota
	// LED files name it ledpos/ledfacing and may set a time-lapse interval.
	LED
)

func (k SourceKind) String() string {
	if k == LED {
		return "led"
	}
	return "camera"
}

// Sphere holds a spherical scan file. Angles are degrees as written.
type Sphere struct {
	Kind SourceKind

	Position r3.Vector // mm
	Facing   r3.Vector

	PhiMinDeg, PhiMaxDeg     float64
	ThetaMinDeg, ThetaMaxDeg float64

	N        int
	RadiusMM float64

	// Interval is the time-lapse cadence; LED files only.
	Interval time.Duration
}

// DefaultSphere returns the built-in spherical scan.
func DefaultSphere(kind SourceKind) Sphere {
	s := Sphere{
		Kind:        kind,
		Position:    r3.Vector{X: 800, Y: 650, Z: -600},
		Facing:      r3.Vector{X: 0, Y: -1, Z: 0},
		PhiMinDeg:   -70,
		PhiMaxDeg:   70,
		ThetaMinDeg: 20,
		ThetaMaxDeg: 85,
		N:           200,
		RadiusMM:    450,
	}
	if kind == LED {
		s.Interval = 30 * time.Second
	}
	return s
}

// Frame returns the source frame.
func (s Sphere) Frame() geometry.SourceFrame {
	return geometry.SourceFrame{Position: s.Position, Facing: s.Facing}
}

// Spec returns the scan window with angles in radians.
func (s Sphere) Spec() geometry.ScanSpec {
	return geometry.ScanSpec{
		N:      s.N,
		Radius: s.RadiusMM,
		Phi1:   s.PhiMinDeg * math.Pi / 180,
		Phi2:   s.PhiMaxDeg * math.Pi / 180,
		Theta1: s.ThetaMinDeg * math.Pi / 180,
		Theta2: s.ThetaMaxDeg * math.Pi / 180,
	}
}

// Arc holds an arc scan file.
type Arc struct {
	CentreX, CentreY        float64
	PhiInitDeg, PhiFinalDeg float64
	NPhi                    int
	ZInit, ZFinal           float64
	NZ                      int
	RadiusMM                float64

	// OffsetDeg rotates file angles into gantry azimuth. It is not read
	// from the file.
	OffsetDeg float64
}

// DefaultArc returns the built-in arc scan: a single ring, half circle.
func DefaultArc() Arc {
	return Arc{
		PhiInitDeg:  0,
		PhiFinalDeg: 180,
		NPhi:        19,
		NZ:          1,
		RadiusMM:    300,
		OffsetDeg:   -90,
	}
}

// Spec returns the geometry for the arc.
func (a Arc) Spec() geometry.ArcSpec {
	return geometry.ArcSpec{
		CentreX:     a.CentreX,
		CentreY:     a.CentreY,
		RadiusMM:    a.RadiusMM,
		PhiInitDeg:  a.PhiInitDeg,
		PhiFinalDeg: a.PhiFinalDeg,
		NPhi:        a.NPhi,
		OffsetDeg:   a.OffsetDeg,
		ZInit:       a.ZInit,
		ZFinal:      a.ZFinal,
		NZ:          a.NZ,
	}
}

// YZ holds a y/z raster file.
type YZ struct {
	YInit, YFinal float64
	NY            int
	ZInit, ZFinal float64
	NZ            int
}

// DefaultYZ returns a single stop at the origin.
func DefaultYZ() YZ {
	return YZ{NY: 1, NZ: 1}
}

// Spec returns the geometry for the raster.
func (y YZ) Spec() geometry.YZSpec {
	return geometry.YZSpec{
		YInit: y.YInit, YFinal: y.YFinal, NY: y.NY,
		ZInit: y.ZInit, ZFinal: y.ZFinal, NZ: y.NZ,
	}
}

// setter parses one value into its field.
type setter func(value string) error

func floatField(dst *float64) setter {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%q is not finite", v)
		}
		*dst = f
		return nil
	}
}

func intField(dst *int) setter {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func vectorField(dst *r3.Vector) setter {
	return func(v string) error {
		parts := strings.Split(v, ",")
		if len(parts) != 3 {
			return fmt.Errorf("want 3 comma-separated values, got %d", len(parts))
		}
		var xyz [3]float64
		for i, p := range parts {
			if err := floatField(&xyz[i])(strings.TrimSpace(p)); err != nil {
				return err
			}
		}
		*dst = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		return nil
	}
}

func pairField(x, y *float64) setter {
	return func(v string) error {
		parts := strings.Split(v, ",")
		if len(parts) < 2 || len(parts) > 3 {
			return fmt.Errorf("want 2 comma-separated values, got %d", len(parts))
		}
		var a, b float64
		if err := floatField(&a)(strings.TrimSpace(parts[0])); err != nil {
			return err
		}
		if err := floatField(&b)(strings.TrimSpace(parts[1])); err != nil {
			return err
		}
		*x, *y = a, b
		return nil
	}
}

func secondsField(dst *time.Duration) setter {
	return func(v string) error {
		var s float64
		if err := floatField(&s)(v); err != nil {
			return err
		}
		if s <= 0 {
			return fmt.Errorf("interval %g must be positive", s)
		}
		*dst = time.Duration(s * float64(time.Second))
		return nil
	}
}

// parse applies every key=value line of r to fields. Lines starting with
// '#' and anything after a '#' are comments. Unknown keys are returned as
// warnings. The first malformed line stops parsing.
func parse(r io.Reader, name string, fields map[string]setter) ([]string, error) {
	var warnings []string
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" {
			return warnings, faults.Newf(faults.KindConfigParse, "load "+name,
				"line %d: expected key=value, got %q", line, text)
		}
		set, known := fields[key]
		if !known {
			warnings = append(warnings, fmt.Sprintf("%s:%d: unknown key %q ignored", name, line, key))
			continue
		}
		if err := set(value); err != nil {
			return warnings, faults.New(faults.KindConfigParse, "load "+name,
				fmt.Errorf("line %d: %s: %w", line, key, err))
		}
	}
	if err := sc.Err(); err != nil {
		return warnings, faults.New(faults.KindConfigParse, "load "+name, err)
	}
	return warnings, nil
}

// load opens path and parses it into a copy of defaults. On any error the
// defaults are returned untouched.
func load[T any](path string, defaults T, fields func(*T) map[string]setter) (T, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return defaults, nil, faults.New(faults.KindConfigParse, "load "+path, err)
	}
	defer f.Close()

	out := defaults
	warnings, err := parse(f, path, fields(&out))
	if err != nil {
		return defaults, warnings, err
	}
	return out, warnings, nil
}

func sphereFields(s *Sphere) map[string]setter {
	m := map[string]setter{
		"phimin":   floatField(&s.PhiMinDeg),
		"phimax":   floatField(&s.PhiMaxDeg),
		"thetamin": floatField(&s.ThetaMinDeg),
		"thetamax": floatField(&s.ThetaMaxDeg),
		"Nscan":    intField(&s.N),
		"Rscan":    floatField(&s.RadiusMM),
	}
	if s.Kind == LED {
		m["ledpos"] = vectorField(&s.Position)
		m["ledfacing"] = vectorField(&s.Facing)
		m["interval"] = secondsField(&s.Interval)
	} else {
		m["campos"] = vectorField(&s.Position)
		m["camfacing"] = vectorField(&s.Facing)
	}
	return m
}

// LoadSphere reads a spherical scan file for a camera or LED source. It
// returns the parsed scan and warnings for unknown keys. A malformed value
// is a faults.KindConfigParse error and the defaults are returned.
func LoadSphere(path string, kind SourceKind) (Sphere, []string, error) {
	return load(path, DefaultSphere(kind), sphereFields)
}

// ParseSphere is LoadSphere over a reader.
func ParseSphere(r io.Reader, name string, kind SourceKind) (Sphere, []string, error) {
	out := DefaultSphere(kind)
	warnings, err := parse(r, name, sphereFields(&out))
	if err != nil {
		return DefaultSphere(kind), warnings, err
	}
	return out, warnings, nil
}

func arcFields(a *Arc) map[string]setter {
	return map[string]setter{
		"r_c":       pairField(&a.CentreX, &a.CentreY),
		"phi_init":  floatField(&a.PhiInitDeg),
		"phi_final": floatField(&a.PhiFinalDeg),
		"N_phi":     intField(&a.NPhi),
		"z_init":    floatField(&a.ZInit),
		"z_final":   floatField(&a.ZFinal),
		"N_z":       intField(&a.NZ),
		"scan_rad":  floatField(&a.RadiusMM),
	}
}

// LoadArc reads an arc scan file. r_c may carry a third value, which is
// ignored: the arc is horizontal and z comes from z_init/z_final.
func LoadArc(path string) (Arc, []string, error) {
	return load(path, DefaultArc(), arcFields)
}

func yzFields(y *YZ) map[string]setter {
	return map[string]setter{
		"y_init":  floatField(&y.YInit),
		"y_final": floatField(&y.YFinal),
		"N_y":     intField(&y.NY),
		"z_init":  floatField(&y.ZInit),
		"z_final": floatField(&y.ZFinal),
		"N_z":     intField(&y.NZ),
	}
}

// LoadYZ reads a y/z raster file.
func LoadYZ(path string) (YZ, []string, error) {
	return load(path, DefaultYZ(), yzFields)
}
