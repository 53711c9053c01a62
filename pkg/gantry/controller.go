package gantry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/photogrammetry/gantry/pkg/faults"
)

// Errors returned before any hardware command is issued.
var (
	ErrClosed    = errors.New("gantry: controller closed")
	ErrNeedsHome = errors.New("gantry: pose is stale after a fault, home before moving")
)

// Rotational axis profile applied at open.
var (
	rotationSmoothing    = [NumAxes]float64{Phi: 50, Theta: 50}
	rotationAcceleration = Counts{Phi: 2048, Theta: 1024}
)

// Options configure a Controller.
type Options struct {
	PoseFile   string
	Conversion ConversionTable

	// HomeJogSpeed is the homing jog speed, counts per second. Axes jog in
	// the negative direction.
	HomeJogSpeed int

	// HomeSettle is the pause after homing motion completes.
	HomeSettle time.Duration

	// RecoverPose lets Open start from an all-zero stale pose when the pose
	// file is missing or corrupt. Only Home is accepted until it succeeds.
	RecoverPose bool

	// Sleep replaces time.Sleep, for tests.
	Sleep func(time.Duration)
}

func (o *Options) setDefaults() {
	if o.PoseFile == "" {
		o.PoseFile = DefaultPoseFile
	}
	if o.Conversion == (ConversionTable{}) {
		o.Conversion = DefaultConversion
	}
	if o.HomeJogSpeed == 0 {
		o.HomeJogSpeed = 1000
	}
	if o.HomeSettle == 0 {
		o.HomeSettle = time.Second
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
}

// Controller is the only owner of the gantry position. The persisted pose is
// updated only after the hardware confirms a move completed.
type Controller struct {
	link   Link
	opts   Options
	pose   Counts
	stale  bool
	closed bool
}

// Open takes ownership of link, loads the persisted pose as ground truth,
// enables the drive and applies the rotational axis profile. The link is
// closed on every failure path.
func Open(ctx context.Context, link Link, opts Options) (*Controller, error) {
	opts.setDefaults()
	if err := opts.Conversion.Validate(); err != nil {
		return nil, closeOnError(link, fmt.Errorf("conversion table: %w", err))
	}

	c := &Controller{link: link, opts: opts}

	rec, err := LoadPose(opts.PoseFile)
	switch {
	case err != nil && opts.RecoverPose:
		Logf("pose file unusable (%v); starting from zero, home before moving", err)
		rec = PoseRecord{Stale: true}
	case err != nil:
		return nil, closeOnError(link, err)
	case rec.Legacy:
		Logf("pose file %s has no checksum; trusting it", opts.PoseFile)
	}
	c.pose = rec.Pose
	c.stale = rec.Stale
	if c.stale {
		Logf("pose file %s is marked stale; home before moving", opts.PoseFile)
	}

	Logf("loading position %v from %s", c.pose, opts.PoseFile)
	steps := []struct {
		name string
		fn   func() error
	}{
		{"define position", func() error { return link.DefinePosition(ctx, MaskOf(AllAxes()...), c.pose) }},
		{"enable drive", func() error { return link.Enable(ctx) }},
		{"set smoothing", func() error { return link.SetSmoothing(ctx, MaskOf(Phi, Theta), rotationSmoothing) }},
		{"set acceleration", func() error { return link.SetAcceleration(ctx, MaskOf(Phi, Theta), rotationAcceleration) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, closeOnError(link, faults.New(faults.KindHardwareFault, "open", fmt.Errorf("%s: %w", s.name, err)))
		}
	}
	return c, nil
}

// closeOnError closes link after a failed Open, keeping both errors.
func closeOnError(link Link, err error) error {
	if cerr := link.Close(); cerr != nil {
		return errors.Join(err, fmt.Errorf("close link: %w", cerr))
	}
	return err
}

// WithController opens a controller, runs fn and closes the controller on
// every exit path.
func WithController(ctx context.Context, link Link, opts Options, fn func(*Controller) error) (err error) {
	c, err := Open(ctx, link, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}

// Close releases the hardware link.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.link.Close(); err != nil {
		return fmt.Errorf("close link: %w", err)
	}
	return nil
}

// Pose returns the last confirmed position in counts.
func (c *Controller) Pose() Counts {
	return c.pose
}

// PosePhysical returns the last confirmed position in mm and degrees.
func (c *Controller) PosePhysical() [NumAxes]float64 {
	return c.opts.Conversion.ToPhysical(c.pose)
}

// Stale reports whether the pose needs re-homing before it can be trusted.
func (c *Controller) Stale() bool {
	return c.stale
}

// Conversion returns the calibration in use.
func (c *Controller) Conversion() ConversionTable {
	return c.opts.Conversion
}

func (c *Controller) ready(op string) error {
	if c.closed {
		return ErrClosed
	}
	if c.stale {
		return faults.New(faults.KindPersistedPoseInvalid, op, ErrNeedsHome)
	}
	return nil
}

// MoveAbsolute moves to target. Held axes keep their current position; an
// axis is started only if its target in counts differs from the pose. Blocks
// until the started axes report completion, then records the achieved pose.
func (c *Controller) MoveAbsolute(ctx context.Context, target Targets, speed Speeds) error {
	const op = "move_absolute"
	if err := c.ready(op); err != nil {
		return err
	}
	ctx, err := uncancelled(ctx)
	if err != nil {
		return err
	}

	resolved := c.pose
	for _, a := range AllAxes() {
		if v, ok := target[a].Value(); ok {
			resolved[a] = c.opts.Conversion[a].ToCounts(v)
		}
	}
	var mask Mask
	for _, a := range AllAxes() {
		if resolved[a] != c.pose[a] {
			mask |= MaskOf(a)
		}
	}

	if err := c.link.SetSpeed(ctx, speed); err != nil {
		return c.fault(ctx, op, err)
	}
	if err := c.link.SetAbsolute(ctx, resolved); err != nil {
		return c.fault(ctx, op, err)
	}
	return c.run(ctx, op, mask)
}

// MoveRelative moves each axis by delta (mm or degrees). Axes whose delta
// rounds to zero counts are not started.
func (c *Controller) MoveRelative(ctx context.Context, delta [NumAxes]float64, speed Speeds) error {
	const op = "move_relative"
	if err := c.ready(op); err != nil {
		return err
	}
	ctx, err := uncancelled(ctx)
	if err != nil {
		return err
	}

	var counts Counts
	var mask Mask
	for _, a := range AllAxes() {
		counts[a] = c.opts.Conversion[a].ToCounts(delta[a])
		if counts[a] != 0 {
			mask |= MaskOf(a)
		}
	}

	if err := c.link.SetSpeed(ctx, speed); err != nil {
		return c.fault(ctx, op, err)
	}
	if err := c.link.SetRelative(ctx, counts); err != nil {
		return c.fault(ctx, op, err)
	}
	return c.run(ctx, op, mask)
}

// uncancelled gates the start of a motion on ctx. The returned context
// ignores later cancellation so an issued move always runs to completion;
// the link's own timeouts still bound it.
func uncancelled(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return context.WithoutCancel(ctx), nil
}

// run begins the masked axes, waits for them and persists the result.
func (c *Controller) run(ctx context.Context, op string, mask Mask) error {
	if mask.Empty() {
		return nil
	}
	if err := c.link.Begin(ctx, mask); err != nil {
		return c.fault(ctx, op, err)
	}
	if err := c.link.WaitMotionComplete(ctx, mask); err != nil {
		return c.fault(ctx, op, err)
	}
	achieved, err := c.link.Position(ctx)
	if err != nil {
		return c.fault(ctx, op, err)
	}
	return c.commit(achieved)
}

// Home jogs every linear axis that is not already on its reverse limit
// switch onto it and zeroes those axes. Axes already on their switch are not
// moved and keep their recorded value. A fault disables the drive.
func (c *Controller) Home(ctx context.Context) error {
	const op = "home"
	if c.closed {
		return ErrClosed
	}
	ctx, err := uncancelled(ctx)
	if err != nil {
		return err
	}
	Logf("before homing: %v", c.pose)

	// A previous fault leaves the drive disabled.
	if err := c.link.Enable(ctx); err != nil {
		return c.fault(ctx, op, err)
	}

	var jog Counts
	var mask Mask
	for _, a := range LinearAxes() {
		atLimit, err := c.link.AtReverseLimit(ctx, a)
		if err != nil {
			return c.fault(ctx, op, err)
		}
		if !atLimit {
			jog[a] = -c.opts.HomeJogSpeed
			mask |= MaskOf(a)
		}
	}
	Logf("homing axes %q", mask.String())

	homed := c.pose
	if !mask.Empty() {
		if err := c.link.Jog(ctx, jog); err != nil {
			return c.fault(ctx, op, err)
		}
		if err := c.link.Begin(ctx, mask); err != nil {
			return c.fault(ctx, op, err)
		}
		if err := c.link.WaitMotionComplete(ctx, mask); err != nil {
			return c.fault(ctx, op, err)
		}
		c.opts.Sleep(c.opts.HomeSettle)

		for _, a := range mask.Axes() {
			homed[a] = 0
		}
		if err := c.link.DefinePosition(ctx, mask, homed); err != nil {
			return c.fault(ctx, op, err)
		}
	}

	c.stale = false
	if err := c.commit(homed); err != nil {
		return err
	}
	Logf("after homing: %v", c.pose)
	return nil
}

// SetRotationOrigin declares the current pan and tilt as zero.
func (c *Controller) SetRotationOrigin(ctx context.Context) error {
	const op = "set_rotation_origin"
	if err := c.ready(op); err != nil {
		return err
	}
	next := c.pose
	next[Phi], next[Theta] = 0, 0
	if err := c.link.DefinePosition(ctx, MaskOf(Phi, Theta), next); err != nil {
		return c.fault(ctx, op, err)
	}
	return c.commit(next)
}

// SoftLimits returns the forward software limits of x, y and z in mm.
func (c *Controller) SoftLimits(ctx context.Context) ([3]float64, error) {
	var out [3]float64
	if c.closed {
		return out, ErrClosed
	}
	lim, err := c.link.ForwardLimits(ctx)
	if err != nil {
		return out, faults.New(faults.KindHardwareFault, "soft_limits", err)
	}
	for i, a := range LinearAxes() {
		out[i] = c.opts.Conversion[a].ToPhysical(lim[a])
	}
	return out, nil
}

// MoveToCentre moves x, y and z to the middle of their software limits.
func (c *Controller) MoveToCentre(ctx context.Context, speed Speeds) error {
	lim, err := c.SoftLimits(ctx)
	if err != nil {
		return err
	}
	target := HoldAll().With(X, lim[0]/2).With(Y, lim[1]/2).With(Z, lim[2]/2)
	return c.MoveAbsolute(ctx, target, speed)
}

func (c *Controller) commit(pose Counts) error {
	if err := SavePose(c.opts.PoseFile, PoseRecord{Pose: pose}); err != nil {
		return faults.New(faults.KindPersistedPoseInvalid, "save_pose", err)
	}
	c.pose = pose
	return nil
}

// fault stops all motion, disables the drive and classifies err. The pose
// keeps its last confirmed value and is marked stale on disk.
func (c *Controller) fault(ctx context.Context, op string, err error) error {
	cleanup := context.WithoutCancel(ctx)
	Logf("%s failed: %v; stopping and disabling drive", op, err)
	if serr := c.link.Stop(cleanup); serr != nil {
		Logf("stop: %v", serr)
	}
	if derr := c.link.Disable(cleanup); derr != nil {
		Logf("disable drive: %v", derr)
	}
	text, terr := c.link.FaultText(cleanup)
	if terr != nil {
		Logf("read fault text: %v", terr)
	}

	c.stale = true
	if serr := SavePose(c.opts.PoseFile, PoseRecord{Pose: c.pose, Stale: true}); serr != nil {
		Logf("mark pose stale: %v", serr)
	}
	return &faults.Error{Kind: faults.KindHardwareFault, Op: op, Text: text, Err: err}
}
