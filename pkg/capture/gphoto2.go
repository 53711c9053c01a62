package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/photogrammetry/gantry/pkg/faults"
)

// DefaultCameraFile maps camera numbers to serial numbers.
const DefaultCameraFile = "pgcamera_cameras.txt"

// Camera is a connected camera.
type Camera struct {
	Number int
	Serial string
	Port   string
	Model  string
}

func (c Camera) String() string {
	return fmt.Sprintf("camera %d: serial %s, port %s, %s", c.Number, c.Serial, c.Port, c.Model)
}

var (
	detectLine = regexp.MustCompile(`^(.*\S)\s+(usb:\S+)\s*$`)
	serialLine = regexp.MustCompile(`^Current:\s*(\S+)`)
)

// Gphoto2 captures through the gphoto2 command line tool on every selected
// camera. USB ports change between plug events, so cameras are identified
// by serial number and their port is looked up again on Refresh.
type Gphoto2 struct {
	CameraFile string
	OutputDir  string
	AppendDate bool

	// Select limits capture to these camera numbers; empty means all.
	Select []int

	Run Runner
	Now func() time.Time

	cameras []Camera
}

// NewGphoto2 returns a capturer for the cameras listed in cameraFile.
func NewGphoto2(cameraFile, outputDir string) *Gphoto2 {
	return &Gphoto2{
		CameraFile: cameraFile,
		OutputDir:  outputDir,
		Run:        ExecRunner,
		Now:        time.Now,
	}
}

// Cameras returns the resolved cameras.
func (g *Gphoto2) Cameras() []Camera {
	return slices.Clone(g.cameras)
}

// Detect lists connected cameras with their serial numbers. Numbers are
// not assigned.
func (g *Gphoto2) Detect(ctx context.Context) ([]Camera, error) {
	stdout, stderr, err := g.Run(ctx, "gphoto2", "--auto-detect")
	if err != nil {
		return nil, fmt.Errorf("gphoto2 --auto-detect: %w: %s", err, strings.TrimSpace(stderr))
	}
	var cams []Camera
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		m := detectLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		cam := Camera{Model: strings.TrimSpace(m[1]), Port: m[2]}
		cam.Serial = g.serial(ctx, cam.Port)
		cams = append(cams, cam)
	}
	return cams, nil
}

// serial reads a camera's serial number, or "-1" if it does not answer.
func (g *Gphoto2) serial(ctx context.Context, port string) string {
	stdout, _, err := g.Run(ctx, "gphoto2", "--port="+port, "--wait-event=3s", "--get-config=serialnumber")
	if err != nil {
		Logf("serial number on %s: %v", port, err)
	}
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		if m := serialLine.FindStringSubmatch(strings.TrimSpace(sc.Text())); m != nil {
			return m[1]
		}
	}
	return "-1"
}

// BuildCameraFile numbers the connected cameras in serial-number order and
// writes the mapping to the camera file.
func (g *Gphoto2) BuildCameraFile(ctx context.Context) ([]Camera, error) {
	cams, err := g.Detect(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(cams, func(a, b Camera) int { return strings.Compare(a.Serial, b.Serial) })

	var sb strings.Builder
	for i := range cams {
		cams[i].Number = i + 1
		fmt.Fprintf(&sb, "%d %s\n", cams[i].Number, cams[i].Serial)
	}
	if err := os.WriteFile(g.CameraFile, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write camera file: %w", err)
	}
	g.cameras = cams
	return cams, nil
}

// ReadCameraFile parses "<number> <serial>" lines.
func ReadCameraFile(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[int]string{}
	for i, line := range strings.Split(string(data), "\n") {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if len(f) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"<number> <serial>\"", path, i+1)
		}
		n, err := strconv.Atoi(f[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: camera number: %w", path, i+1, err)
		}
		out[n] = f[1]
	}
	return out, nil
}

// Refresh reads the camera file and looks up the current port of every
// listed camera that is connected.
func (g *Gphoto2) Refresh(ctx context.Context) error {
	known, err := ReadCameraFile(g.CameraFile)
	if err != nil {
		return fmt.Errorf("read camera file: %w", err)
	}
	connected, err := g.Detect(ctx)
	if err != nil {
		return err
	}

	var cams []Camera
	for n, serial := range known {
		if len(g.Select) > 0 && !slices.Contains(g.Select, n) {
			continue
		}
		i := slices.IndexFunc(connected, func(c Camera) bool { return c.Serial == serial })
		if i < 0 {
			Logf("camera %d (serial %s) not connected", n, serial)
			continue
		}
		cam := connected[i]
		cam.Number = n
		cams = append(cams, cam)
	}
	slices.SortFunc(cams, func(a, b Camera) int { return a.Number - b.Number })
	g.cameras = cams
	if len(cams) == 0 {
		return errors.New("no listed camera is connected")
	}
	return nil
}

// Capture takes one image on every resolved camera and saves each camera's
// settings next to its image. Any camera failing fails the capture.
func (g *Gphoto2) Capture(ctx context.Context, label string) (Result, error) {
	const op = "gphoto2_capture"
	if len(g.cameras) == 0 {
		if err := g.Refresh(ctx); err != nil {
			return Result{}, faults.New(faults.KindCaptureFailure, op, err)
		}
	}

	res := Result{Time: g.Now()}
	var errs []error
	var texts []string
	for _, cam := range g.cameras {
		base := g.baseName(cam, label, res.Time)
		img := base + ".jpg"
		_, stderr, err := g.Run(ctx, "gphoto2",
			"--port="+cam.Port,
			"--wait-event=4s",
			"--capture-image-and-download",
			"--filename="+img)
		stderr = strings.TrimSpace(stderr)
		if err == nil && stderr != "" {
			err = errors.New("gphoto2 reported an error")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("camera %d: %w", cam.Number, err))
			texts = append(texts, stderr)
			continue
		}
		res.Files = append(res.Files, img)

		meta := base + ".txt"
		if err := g.saveSummary(ctx, cam.Port, meta); err != nil {
			Logf("camera %d settings: %v", cam.Number, err)
			continue
		}
		res.Files = append(res.Files, meta)
	}
	if len(errs) > 0 {
		return res, &faults.Error{
			Kind: faults.KindCaptureFailure,
			Op:   op,
			Text: strings.Join(texts, "; "),
			Err:  errors.Join(errs...),
		}
	}
	return res, nil
}

func (g *Gphoto2) baseName(cam Camera, label string, at time.Time) string {
	name := fmt.Sprintf("c%d_%s", cam.Number, label)
	if g.AppendDate {
		name += at.Format("20060102-15:04:05MST")
	}
	if g.OutputDir == "" {
		return name
	}
	return filepath.Join(g.OutputDir, name)
}

// saveSummary writes the camera's settings to path. The header lines are
// kept as is; numbered generic properties are dropped.
func (g *Gphoto2) saveSummary(ctx context.Context, port, path string) error {
	stdout, stderr, err := g.Run(ctx, "gphoto2", "--port="+port, "--summary")
	if err != nil || strings.TrimSpace(stderr) != "" {
		return fmt.Errorf("gphoto2 --summary: %v %s", err, strings.TrimSpace(stderr))
	}
	return os.WriteFile(path, []byte(FilterSummary(stdout)), 0o644)
}

// FilterSummary reduces gphoto2 --summary output to the header and one
// "name, value: v" line per named property.
func FilterSummary(summary string) string {
	const header = 5
	lines := strings.Split(strings.TrimRight(summary, "\n"), "\n")
	var sb strings.Builder
	for i, line := range lines {
		if i < header {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}
		name, _, ok := strings.Cut(line, "(")
		if !ok {
			continue
		}
		name = strings.Trim(name, ": ()")
		if name == "" || strings.HasPrefix(name, "Property") {
			continue
		}
		fields := strings.Fields(line)
		value := strings.Trim(fields[len(fields)-1], " ()")
		fmt.Fprintf(&sb, "%s, value: %s\n", name, value)
	}
	return sb.String()
}
