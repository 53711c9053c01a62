package gantry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photogrammetry/gantry/pkg/faults"
)

func init() {
	SetLogger(nil)
}

type fixture struct {
	link *SimLink
	ctrl *Controller
	path string
}

func newFixture(t *testing.T, start Counts) fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pose.txt")
	require.NoError(t, SavePose(path, PoseRecord{Pose: start}))

	link := NewSimLink(Counts{}, Counts{90000, 80000, 70000})
	ctrl, err := Open(context.Background(), link, Options{
		PoseFile: path,
		Sleep:    func(time.Duration) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	return fixture{link: link, ctrl: ctrl, path: path}
}

func (f fixture) persisted(t *testing.T) PoseRecord {
	t.Helper()
	rec, err := LoadPose(f.path)
	require.NoError(t, err)
	return rec
}

func TestOpen_LoadsPoseAndPreparesDrive(t *testing.T) {
	start := Counts{10, 20, 30, 40, 50}
	f := newFixture(t, start)

	assert.Equal(t, start, f.ctrl.Pose())
	assert.Equal(t, start, f.link.HardwarePosition(), "hardware is told the persisted pose")
	assert.True(t, f.link.Enabled())

	smoothing := f.link.CallsNamed("SetSmoothing")
	require.Len(t, smoothing, 1)
	assert.Equal(t, MaskOf(Phi, Theta), smoothing[0].Mask)
	assert.Equal(t, Counts{0, 0, 0, 50, 50}, smoothing[0].Args)

	accel := f.link.CallsNamed("SetAcceleration")
	require.Len(t, accel, 1)
	assert.Equal(t, Counts{0, 0, 0, 2048, 1024}, accel[0].Args)

	assert.Empty(t, f.link.CallsNamed("Position"), "hardware is never queried at open")
}

func TestOpen_InvalidPoseFile(t *testing.T) {
	t.Parallel()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		link := NewSimLink(Counts{}, Counts{})
		_, err := Open(context.Background(), link, Options{PoseFile: filepath.Join(t.TempDir(), "nope.txt")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, faults.PersistedPoseInvalid))
		assert.True(t, link.Closed(), "link released on failure")
	})

	t.Run("recover", func(t *testing.T) {
		t.Parallel()
		link := NewSimLink(Counts{}, Counts{})
		c, err := Open(context.Background(), link, Options{
			PoseFile:    filepath.Join(t.TempDir(), "nope.txt"),
			RecoverPose: true,
			Sleep:       func(time.Duration) {},
		})
		require.NoError(t, err)
		defer c.Close()
		assert.True(t, c.Stale())

		err = c.MoveAbsolute(context.Background(), HoldAll().With(X, 5), DefaultSpeeds)
		assert.True(t, errors.Is(err, ErrNeedsHome))

		require.NoError(t, c.Home(context.Background()))
		assert.False(t, c.Stale())
		require.NoError(t, c.MoveAbsolute(context.Background(), HoldAll().With(X, 5), DefaultSpeeds))
	})

	t.Run("close fails too", func(t *testing.T) {
		t.Parallel()
		link := NewSimLink(Counts{}, Counts{})
		link.FailOn("Close", errors.New("port busy"))
		_, err := Open(context.Background(), link, Options{PoseFile: filepath.Join(t.TempDir(), "nope.txt")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, faults.PersistedPoseInvalid))
		assert.ErrorContains(t, err, "port busy")
	})

	t.Run("enable fails", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "pose.txt")
		require.NoError(t, SavePose(path, PoseRecord{}))
		link := NewSimLink(Counts{}, Counts{})
		link.FailOn("Enable", errors.New("no reply"))
		_, err := Open(context.Background(), link, Options{PoseFile: path})
		assert.True(t, errors.Is(err, faults.HardwareFault))
		assert.True(t, link.Closed())
	})
}

func TestMoveAbsolute_AllHold(t *testing.T) {
	start := Counts{100, 200, 300, 400, 500}
	f := newFixture(t, start)

	require.NoError(t, f.ctrl.MoveAbsolute(context.Background(), HoldAll(), DefaultSpeeds))

	assert.Empty(t, f.link.CallsNamed("Begin"))
	assert.Equal(t, start, f.ctrl.Pose())
	assert.Equal(t, start, f.persisted(t).Pose)
}

func TestMoveAbsolute_SingleAxis(t *testing.T) {
	f := newFixture(t, Counts{})

	target := HoldAll().With(X, 100)
	require.NoError(t, f.ctrl.MoveAbsolute(context.Background(), target, DefaultSpeeds))

	begins := f.link.CallsNamed("Begin")
	require.Len(t, begins, 1)
	assert.Equal(t, MaskOf(X), begins[0].Mask)

	want := DefaultConversion.ToCounts([NumAxes]float64{100, 0, 0, 0, 0})
	assert.Equal(t, Counts{8985, 0, 0, 0, 0}, want)
	assert.Equal(t, want, f.ctrl.Pose())
	assert.Equal(t, want, f.persisted(t).Pose)
	assert.InDelta(t, 100, f.ctrl.PosePhysical()[X], DefaultConversion[X].UnitsPerCount)

	// Speed and position go out for the full axis set, before begin.
	calls := f.link.Calls()
	var order []string
	for _, c := range calls {
		switch c.Name {
		case "SetSpeed", "SetAbsolute", "Begin", "WaitMotionComplete", "Position":
			order = append(order, c.Name)
		}
	}
	assert.Equal(t, []string{"SetSpeed", "SetAbsolute", "Begin", "WaitMotionComplete", "Position"}, order)
	assert.Equal(t, Counts{1000, 1000, 1000, 250, 250}, f.link.CallsNamed("SetSpeed")[0].Args)
}

func TestMoveAbsolute_SkipsAxesAlreadyThere(t *testing.T) {
	start := DefaultConversion.ToCounts([NumAxes]float64{50, 60, 70, 10, 20})
	f := newFixture(t, start)

	// y and phi already at their targets, z held.
	target := Targets{To(55), To(60), Hold(), To(10), To(25)}
	require.NoError(t, f.ctrl.MoveAbsolute(context.Background(), target, DefaultSpeeds))

	begins := f.link.CallsNamed("Begin")
	require.Len(t, begins, 1)
	assert.Equal(t, MaskOf(X, Theta), begins[0].Mask)
	assert.Equal(t, "AE", begins[0].Mask.String())

	pose := f.ctrl.Pose()
	assert.Equal(t, start[Y], pose[Y])
	assert.Equal(t, start[Z], pose[Z])
	assert.Equal(t, DefaultConversion[X].ToCounts(55), pose[X])
}

func TestMoveAbsolute_ZeroIsATarget(t *testing.T) {
	f := newFixture(t, Counts{500, 0, 0, 0, 0})

	require.NoError(t, f.ctrl.MoveAbsolute(context.Background(), HoldAll().With(X, 0), DefaultSpeeds))
	assert.Equal(t, 0, f.ctrl.Pose()[X])
	require.Len(t, f.link.CallsNamed("Begin"), 1)
}

func TestMoveRelative(t *testing.T) {
	start := Counts{1000, 1000, 1000, 1000, 1000}
	f := newFixture(t, start)

	require.NoError(t, f.ctrl.MoveRelative(context.Background(), [NumAxes]float64{0, 10, 0, -5, 0.001}, DefaultSpeeds))

	begins := f.link.CallsNamed("Begin")
	require.Len(t, begins, 1)
	assert.Equal(t, MaskOf(Y, Phi), begins[0].Mask, "theta delta rounds to zero counts")

	pose := f.ctrl.Pose()
	assert.Equal(t, start[Y]+DefaultConversion[Y].ToCounts(10), pose[Y])
	assert.Equal(t, start[Phi]+DefaultConversion[Phi].ToCounts(-5), pose[Phi])
	assert.Equal(t, start[X], pose[X])
	assert.Equal(t, pose, f.persisted(t).Pose)

	require.NoError(t, f.ctrl.MoveRelative(context.Background(), [NumAxes]float64{}, DefaultSpeeds))
	assert.Len(t, f.link.CallsNamed("Begin"), 1, "zero delta begins nothing")
}

func TestMove_FaultLeavesPoseAndDisablesDrive(t *testing.T) {
	start := Counts{10, 10, 10, 10, 10}
	f := newFixture(t, start)
	f.link.FailOn("WaitMotionComplete", errors.New("Limit switch"))

	err := f.ctrl.MoveAbsolute(context.Background(), HoldAll().With(X, 200), DefaultSpeeds)
	require.Error(t, err)
	assert.Equal(t, faults.KindHardwareFault, faults.KindOf(err))

	var fe *faults.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Limit switch", fe.Text)
	assert.Equal(t, "move_absolute", fe.Op)

	assert.Len(t, f.link.CallsNamed("Stop"), 1)
	assert.False(t, f.link.Enabled())
	assert.Equal(t, start, f.ctrl.Pose())

	rec := f.persisted(t)
	assert.Equal(t, start, rec.Pose)
	assert.True(t, rec.Stale)
	assert.True(t, f.ctrl.Stale())

	// No auto-retry, and no further motion until homed.
	begins := len(f.link.CallsNamed("Begin"))
	err = f.ctrl.MoveRelative(context.Background(), [NumAxes]float64{1}, DefaultSpeeds)
	assert.True(t, errors.Is(err, ErrNeedsHome))
	assert.Len(t, f.link.CallsNamed("Begin"), begins)

	f.link.FailOn("WaitMotionComplete", nil)
	require.NoError(t, f.ctrl.Home(context.Background()))
	assert.False(t, f.persisted(t).Stale)
	require.NoError(t, f.ctrl.MoveRelative(context.Background(), [NumAxes]float64{1}, DefaultSpeeds))
}

func TestMove_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Counts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ctrl.MoveAbsolute(ctx, HoldAll().With(X, 10), DefaultSpeeds)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, faults.KindUnknown, faults.KindOf(err))
	assert.Empty(t, f.link.CallsNamed("Begin"))
	assert.False(t, f.ctrl.Stale())
	assert.True(t, f.link.Enabled())
}

func TestHome(t *testing.T) {
	start := Counts{5000, 6000, 7000, 80, 90}
	f := newFixture(t, start)
	f.link.SetAtLimit(X, true)

	require.NoError(t, f.ctrl.Home(context.Background()))

	begins := f.link.CallsNamed("Begin")
	require.Len(t, begins, 1)
	assert.Equal(t, MaskOf(Y, Z), begins[0].Mask)

	jogs := f.link.CallsNamed("Jog")
	require.Len(t, jogs, 1)
	assert.Equal(t, Counts{0, -1000, -1000, 0, 0}, jogs[0].Args)

	want := Counts{5000, 0, 0, 80, 90}
	assert.Equal(t, want, f.ctrl.Pose())
	assert.Equal(t, want, f.persisted(t).Pose)
	hw := f.link.HardwarePosition()
	assert.Equal(t, 0, hw[Y])
	assert.Equal(t, 0, hw[Z])
}

func TestHome_AllAtLimit(t *testing.T) {
	start := Counts{1, 2, 3, 4, 5}
	f := newFixture(t, start)
	for _, a := range LinearAxes() {
		f.link.SetAtLimit(a, true)
	}

	require.NoError(t, f.ctrl.Home(context.Background()))
	assert.Empty(t, f.link.CallsNamed("Begin"))
	assert.Empty(t, f.link.CallsNamed("Jog"))
	assert.Equal(t, start, f.ctrl.Pose())
}

func TestHome_FaultDisablesDrive(t *testing.T) {
	f := newFixture(t, Counts{1, 2, 3, 4, 5})
	f.link.FailOn("AtReverseLimit", errors.New("timeout"))

	err := f.ctrl.Home(context.Background())
	assert.True(t, errors.Is(err, faults.HardwareFault))
	assert.False(t, f.link.Enabled())
	assert.Len(t, f.link.CallsNamed("Stop"), 1)
	assert.Empty(t, f.link.CallsNamed("Begin"))
}

func TestSetRotationOrigin(t *testing.T) {
	f := newFixture(t, Counts{1, 2, 3, 4, 5})
	require.NoError(t, f.ctrl.SetRotationOrigin(context.Background()))
	assert.Equal(t, Counts{1, 2, 3, 0, 0}, f.ctrl.Pose())
	assert.Equal(t, Counts{1, 2, 3, 0, 0}, f.persisted(t).Pose)
}

func TestMoveToCentre(t *testing.T) {
	f := newFixture(t, Counts{})
	require.NoError(t, f.ctrl.MoveToCentre(context.Background(), DefaultSpeeds))

	lim, err := f.ctrl.SoftLimits(context.Background())
	require.NoError(t, err)
	phys := f.ctrl.PosePhysical()
	for i := range lim {
		assert.InDelta(t, lim[i]/2, phys[i], 0.01)
	}
	assert.Equal(t, 45000, f.ctrl.Pose()[X])
}

func TestWithController_ClosesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pose.txt")
	require.NoError(t, SavePose(path, PoseRecord{}))
	link := NewSimLink(Counts{}, Counts{})

	boom := errors.New("boom")
	err := WithController(context.Background(), link, Options{PoseFile: path}, func(c *Controller) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, link.Closed())
}

func TestClosedController(t *testing.T) {
	f := newFixture(t, Counts{})
	require.NoError(t, f.ctrl.Close())
	require.NoError(t, f.ctrl.Close())

	assert.ErrorIs(t, f.ctrl.MoveAbsolute(context.Background(), HoldAll(), DefaultSpeeds), ErrClosed)
	assert.ErrorIs(t, f.ctrl.Home(context.Background()), ErrClosed)
	assert.Len(t, f.link.CallsNamed("Close"), 1)
}
