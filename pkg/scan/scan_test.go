package scan

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photogrammetry/gantry/pkg/capture"
	"github.com/photogrammetry/gantry/pkg/faults"
	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/geometry"
)

func init() {
	SetLogger(nil)
	gantry.SetLogger(nil)
}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func deg(d float64) float64 { return d * math.Pi / 180 }

func cameraFrame() geometry.SourceFrame {
	return geometry.SourceFrame{Position: r3.Vector{X: 800, Y: 650, Z: -600}, Facing: r3.Vector{Y: -1}}
}

func smallSpec() geometry.ScanSpec {
	return geometry.ScanSpec{N: 12, Radius: 450, Phi1: deg(-40), Phi2: deg(40), Theta1: deg(30), Theta2: deg(70)}
}

// fakeCapturer fails the first failures captures.
type fakeCapturer struct {
	failures  int
	captures  []string
	refreshes int
	clock     Clock
}

func (f *fakeCapturer) Capture(ctx context.Context, label string) (capture.Result, error) {
	f.captures = append(f.captures, label)
	if f.failures > 0 {
		f.failures--
		return capture.Result{}, faults.Newf(faults.KindCaptureFailure, "fake", "camera busy")
	}
	res := capture.Result{Files: []string{label + ".jpg"}}
	if f.clock != nil {
		res.Time = f.clock.Now()
	}
	return res, nil
}

func (f *fakeCapturer) Refresh(ctx context.Context) error {
	f.refreshes++
	return nil
}

type memRecorder struct {
	visits []Visit
}

func (m *memRecorder) RecordVisit(ctx context.Context, v Visit) error {
	m.visits = append(m.visits, v)
	return nil
}

func openSim(t *testing.T) (*gantry.Controller, *gantry.SimLink) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pose.txt")
	require.NoError(t, gantry.SavePose(path, gantry.PoseRecord{}))
	link := gantry.NewSimLink(gantry.Counts{}, gantry.Counts{150000, 150000, 150000})
	c, err := gantry.Open(context.Background(), link, gantry.Options{PoseFile: path, Sleep: func(time.Duration) {}})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, link
}

func TestPlanSphere_AngleConventions(t *testing.T) {
	t.Parallel()
	cam, err := PlanSphere(CameraSphere, cameraFrame(), smallSpec(), geometry.DefaultStandoff)
	require.NoError(t, err)
	led, err := PlanSphere(LEDSphere, cameraFrame(), smallSpec(), geometry.DefaultStandoff)
	require.NoError(t, err)
	require.Equal(t, cam.Len(), led.Len())
	require.NotZero(t, cam.Len())

	for i := range cam.Waypoints {
		c, l := cam.Waypoints[i], led.Waypoints[i]
		assert.InDelta(t, -l.Value(gantry.Theta), c.Value(gantry.Theta), 1e-9)
		assert.InDelta(t, l.Value(gantry.Phi), c.Value(gantry.Phi), 1e-9)
		assert.InDelta(t, l.Value(gantry.X), c.Value(gantry.X), 1e-9)
		require.NotNil(t, c.Location)
		assert.InDelta(t, 1, c.Location.Normal.Norm(), 1e-9)
	}
	assert.NotNil(t, cam.Source)
	assert.Zero(t, cam.Waypoints[0].Ring)
	assert.Positive(t, cam.Waypoints[cam.Len()-1].Ring)
}

func TestPlanSphere_Invalid(t *testing.T) {
	t.Parallel()
	spec := smallSpec()
	spec.Radius = 0
	_, err := PlanSphere(CameraSphere, cameraFrame(), spec, geometry.DefaultStandoff)
	assert.ErrorIs(t, err, geometry.ErrInvalidSpec)

	_, err = PlanSphere(Arc, cameraFrame(), smallSpec(), geometry.DefaultStandoff)
	assert.Error(t, err)
}

func TestPlanArc(t *testing.T) {
	t.Parallel()
	p, err := PlanArc(geometry.ArcSpec{
		CentreX: 500, CentreY: 400, RadiusMM: 200,
		PhiInitDeg: 0, PhiFinalDeg: 180, NPhi: 3, OffsetDeg: -90,
		ZInit: -100, ZFinal: -200, NZ: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 6, p.Len())

	first := p.Waypoints[0]
	// phi 0 with -90 offset points along -y; the tangent is -180 degrees.
	assert.InDelta(t, 500, first.Value(gantry.X), 1e-9)
	assert.InDelta(t, 200, first.Value(gantry.Y), 1e-9)
	assert.InDelta(t, -180, first.Value(gantry.Phi), 1e-9)
	assert.Equal(t, 0.0, first.Value(gantry.Theta))
	assert.Equal(t, 1, p.Waypoints[3].Ring)
}

func TestPlanYZ_HoldsOtherAxes(t *testing.T) {
	t.Parallel()
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 300, NY: 3, ZInit: 0, ZFinal: -50, NZ: 2})
	require.NoError(t, err)
	require.Equal(t, 6, p.Len())
	for _, w := range p.Waypoints {
		assert.True(t, w.Targets[gantry.X].IsHold())
		assert.True(t, w.Targets[gantry.Phi].IsHold())
		assert.True(t, w.Targets[gantry.Theta].IsHold())
	}
	assert.Equal(t, "3_run_z-50_y300", Label(p.Waypoints[3], "run"))
}

func TestLabel(t *testing.T) {
	t.Parallel()
	w := Waypoint{Index: 7, Targets: gantry.HoldAll().With(gantry.X, 812.345).With(gantry.Y, 10).With(gantry.Z, -99.96)}
	assert.Equal(t, "7_tank_z-100_y10_x812.3", Label(w, "tank"))
	assert.Equal(t, "7_z-100_y10_x812.3", Label(w, ""))

	near := Waypoint{Index: 2, Targets: gantry.HoldAll().With(gantry.Z, -0.04).With(gantry.Y, -0.0)}
	assert.Equal(t, "2_z0_y0", Label(near, ""))
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 300, NY: 3, ZInit: 0, ZFinal: -50, NZ: 2})
	require.NoError(t, err)

	s := DryRun(p)
	assert.Equal(t, 6, s.Waypoints)
	assert.False(t, s.Axes[gantry.X].Used)
	assert.Equal(t, AxisRange{Used: true, Min: 100, Max: 300}, s.Axes[gantry.Y])
	assert.Equal(t, AxisRange{Used: true, Min: -50, Max: 0}, s.Axes[gantry.Z])
	assert.Contains(t, s.String(), "held")

	assert.NoError(t, s.CheckTravel([3]float64{1000, 1000, -1000}))
	err = s.CheckTravel([3]float64{1000, 250, 1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "y 100.0..300.0")
	assert.Contains(t, err.Error(), "z -50.0..0.0")
}

func TestDryRun_IssuesNoHardwareCommand(t *testing.T) {
	t.Parallel()
	_, link := openSim(t)
	before := len(link.Calls())

	p, err := PlanSphere(CameraSphere, cameraFrame(), smallSpec(), geometry.DefaultStandoff)
	require.NoError(t, err)
	s := DryRun(p)
	assert.Equal(t, p.Len(), s.Waypoints)
	assert.Len(t, link.Calls(), before)
}

func TestRun_VisitsEveryWaypoint(t *testing.T) {
	t.Parallel()
	ctrl, link := openSim(t)
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 200, NY: 2, ZInit: 50, ZFinal: 80, NZ: 2})
	require.NoError(t, err)

	clock := NewMockClock(t0)
	cam := &fakeCapturer{}
	rec := &memRecorder{}
	r := NewRunner(ctrl, cam, Options{Label: "yz", Clock: clock})
	r.SetRecorder(rec)

	rep, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Visited)
	assert.Zero(t, rep.CaptureFailures)
	assert.Equal(t, []string{"0_yz_z50_y100", "1_yz_z50_y200", "2_yz_z80_y200", "3_yz_z80_y100"}, cam.captures)

	// One home jog, then per waypoint a z move when z changes and a y move
	// when y changes.
	begins := link.CallsNamed("Begin")
	require.NotEmpty(t, begins)
	assert.Equal(t, gantry.MaskOf(gantry.X, gantry.Y, gantry.Z), begins[0].Mask)
	var masks []string
	for _, b := range begins[1:] {
		masks = append(masks, b.Mask.String())
	}
	assert.Equal(t, []string{"C", "B", "B", "C", "B"}, masks)

	require.Len(t, rec.visits, 4)
	last := rec.visits[3]
	assert.Equal(t, ctrl.Pose(), last.Pose)
	assert.InDelta(t, 100, last.Physical[gantry.Y], 0.01)
	assert.InDelta(t, 80, last.Physical[gantry.Z], 0.01)
	assert.Equal(t, 1, last.Attempts)

	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second, time.Second}, clock.Sleeps())
}

func TestRun_CaptureRetriedOnceThenSkipped(t *testing.T) {
	t.Parallel()
	ctrl, _ := openSim(t)
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 200, NY: 3, NZ: 1})
	require.NoError(t, err)

	// First waypoint: fails twice, skipped. Second: fails once, then works.
	cam := &fakeCapturer{failures: 3}
	rec := &memRecorder{}
	r := NewRunner(ctrl, cam, Options{Clock: NewMockClock(t0)})
	r.SetRecorder(rec)

	rep, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Visited)
	assert.Equal(t, 1, rep.CaptureFailures)
	assert.Equal(t, 2, cam.refreshes)
	assert.Len(t, cam.captures, 5)

	require.Len(t, rec.visits, 3)
	assert.Equal(t, faults.KindCaptureFailure, faults.KindOf(rec.visits[0].CaptureErr))
	assert.Equal(t, 2, rec.visits[0].Attempts)
	assert.NoError(t, rec.visits[1].CaptureErr)
	assert.Equal(t, 2, rec.visits[1].Attempts)
	assert.Equal(t, 1, rec.visits[2].Attempts)
}

func TestRun_HardwareFaultStopsRun(t *testing.T) {
	t.Parallel()
	ctrl, link := openSim(t)
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 200, NY: 3, NZ: 1})
	require.NoError(t, err)

	cam := &fakeCapturer{}
	r := NewRunner(ctrl, cam, Options{Clock: NewMockClock(t0), SkipHome: true})
	link.FailOn("WaitMotionComplete", errors.New("Abort input"))

	rep, err := r.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.HardwareFault))
	assert.Zero(t, rep.Visited)
	assert.Empty(t, cam.captures)
	assert.False(t, link.Enabled())
}

func TestRun_CancelBetweenWaypoints(t *testing.T) {
	t.Parallel()
	ctrl, _ := openSim(t)
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 200, NY: 3, NZ: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cam := &cancelAfterCapture{cancel: cancel}
	r := NewRunner(ctrl, cam, Options{Clock: NewMockClock(t0)})

	rep, err := r.Run(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rep.Visited)
}

func TestRun_CancelDuringMoveFinishesWaypoint(t *testing.T) {
	t.Parallel()
	ctrl, link := openSim(t)
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 200, NY: 3, ZInit: 20, ZFinal: 20, NZ: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &cancellingMotion{Motion: ctrl, cancel: cancel}
	cam := &fakeCapturer{}
	rec := &memRecorder{}
	r := NewRunner(m, cam, Options{Clock: NewMockClock(t0), SkipHome: true})
	r.SetRecorder(rec)

	rep, err := r.Run(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, faults.HardwareFault))
	assert.Equal(t, 1, rep.Visited)

	// Both moves of the first waypoint ran, then it was captured.
	assert.Equal(t, 2, m.moves)
	assert.InDelta(t, 20, ctrl.PosePhysical()[gantry.Z], 0.1)
	assert.InDelta(t, 100, ctrl.PosePhysical()[gantry.Y], 0.1)
	assert.Len(t, cam.captures, 1)
	assert.Len(t, rec.visits, 1)
	assert.False(t, ctrl.Stale())
	assert.True(t, link.Enabled())
	assert.Empty(t, link.CallsNamed("Stop"))
}

// cancellingMotion cancels the run as soon as the first move is issued.
type cancellingMotion struct {
	Motion
	cancel context.CancelFunc
	moves  int
}

func (m *cancellingMotion) MoveAbsolute(ctx context.Context, target gantry.Targets, speed gantry.Speeds) error {
	m.moves++
	m.cancel()
	return m.Motion.MoveAbsolute(ctx, target, speed)
}

type cancelAfterCapture struct {
	cancel context.CancelFunc
}

func (c *cancelAfterCapture) Capture(ctx context.Context, label string) (capture.Result, error) {
	c.cancel()
	return capture.Result{}, nil
}

func (c *cancelAfterCapture) Refresh(ctx context.Context) error { return nil }

func TestRun_EmptyPlan(t *testing.T) {
	t.Parallel()
	ctrl, link := openSim(t)
	before := len(link.Calls())
	r := NewRunner(ctrl, &fakeCapturer{}, Options{Clock: NewMockClock(t0)})
	_, err := r.Run(context.Background(), &Plan{})
	assert.Error(t, err)
	assert.Len(t, link.Calls(), before)
}

func TestRun_Events(t *testing.T) {
	t.Parallel()
	ctrl, _ := openSim(t)
	p, err := PlanYZ(geometry.YZSpec{YInit: 100, YFinal: 200, NY: 2, NZ: 1})
	require.NoError(t, err)

	r := NewRunner(ctrl, &fakeCapturer{}, Options{Clock: NewMockClock(t0)})
	_, err = r.Run(context.Background(), p)
	require.NoError(t, err)

	var kinds []EventKind
	for len(r.Events()) > 0 {
		kinds = append(kinds, (<-r.Events()).Kind)
	}
	assert.Equal(t, []EventKind{EventHomed, EventMoved, EventCaptured, EventMoved, EventCaptured, EventDone}, kinds)
	assert.NotEmpty(t, r.Logs())
}

// slowMotion advances the clock by a per-waypoint move time.
type slowMotion struct {
	clock *MockClock
	moves []time.Duration
	n     int
	pose  gantry.Counts
}

func (m *slowMotion) Home(ctx context.Context) error { return nil }

func (m *slowMotion) MoveAbsolute(ctx context.Context, target gantry.Targets, speed gantry.Speeds) error {
	// Only the four-axis move takes time.
	if target[gantry.Z].IsHold() {
		m.clock.Advance(m.moves[m.n])
		m.n++
	}
	return nil
}

func (m *slowMotion) Pose() gantry.Counts { return m.pose }

func (m *slowMotion) PosePhysical() [gantry.NumAxes]float64 { return [gantry.NumAxes]float64{} }

func TestRun_TimelapseCadence(t *testing.T) {
	t.Parallel()
	clock := NewMockClock(t0)
	p, err := PlanYZ(geometry.YZSpec{YInit: 0, YFinal: 300, NY: 4, NZ: 1})
	require.NoError(t, err)

	// Move times: fits, overruns by 15 s, fits, fits. Settle is 1 s.
	m := &slowMotion{clock: clock, moves: []time.Duration{
		10 * time.Second, 44 * time.Second, 5 * time.Second, 28 * time.Second,
	}}
	cam := &fakeCapturer{clock: clock}
	rec := &memRecorder{}
	r := NewRunner(m, cam, Options{
		Clock:     clock,
		Timelapse: &Timelapse{Interval: 30 * time.Second, SetupDelay: 5 * time.Minute},
	})
	r.SetRecorder(rec)

	rep, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Slips)

	start := t0.Add(5 * time.Minute)
	var at []time.Duration
	for _, v := range rec.visits {
		at = append(at, v.CapturedAt.Sub(start))
	}
	// 30 s cadence; the slip at the second pose re-anchors the schedule at
	// 30+44+1-ish without trying to catch up.
	assert.Equal(t, []time.Duration{
		30 * time.Second,
		30*time.Second + 44*time.Second + time.Second,
		105 * time.Second,
		135 * time.Second,
	}, at)
	assert.Equal(t, 15*time.Second, rec.visits[1].Slip)
	assert.Zero(t, rec.visits[2].Slip)
}

func TestRun_TimelapseNeedsInterval(t *testing.T) {
	t.Parallel()
	r := NewRunner(&slowMotion{}, &fakeCapturer{}, Options{Clock: NewMockClock(t0), Timelapse: &Timelapse{}})
	_, err := r.Run(context.Background(), &Plan{Waypoints: []Waypoint{{}}})
	assert.Error(t, err)
}
