// Package servo drives a bench-top gantry built from Feetech STS serial bus
// servos, one per axis. Servo steps are used as controller counts; the
// position the controller declares is kept as a per-axis software offset
// from the raw servo reading.
package servo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/photogrammetry/gantry/pkg/gantry"
)

// Logf is the package logger.
var Logf = log.Printf

// SetLogger replaces the package logger. A nil f silences it.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Bus is the subset of the servo bus the link needs.
type Bus interface {
	Positions(ctx context.Context) (map[int]int, error)
	MoveTo(ctx context.Context, id, raw int, d time.Duration) error
	EnableAll(ctx context.Context) error
	DisableAll(ctx context.Context) error
	Close() error
}

// feetechBus adapts a feetech bus and servo group.
type feetechBus struct {
	bus    *feetech.Bus
	group  *feetech.ServoGroup
	servos map[int]*feetech.Servo
}

// OpenBus opens the serial bus and checks every calibrated servo answers.
func OpenBus(ctx context.Context, port string, cal Calibration) (Bus, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	ids := cal.IDs()
	lo, hi := ids[0], ids[0]
	for _, id := range ids {
		lo, hi = min(lo, id), max(hi, id)
	}
	found, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan bus: %w", err)
	}

	servos := make(map[int]*feetech.Servo, len(found))
	for _, s := range found {
		servos[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}
	for _, id := range ids {
		if _, ok := servos[id]; !ok {
			bus.Close()
			return nil, fmt.Errorf("servo %d not found on %s", id, port)
		}
	}

	return &feetechBus{
		bus:    bus,
		group:  feetech.NewServoGroupByIDs(bus, ids...),
		servos: servos,
	}, nil
}

func (b *feetechBus) Positions(ctx context.Context) (map[int]int, error) {
	raw, err := b.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	out := make(map[int]int, len(raw))
	for id, pos := range raw {
		out[id] = pos
	}
	return out, nil
}

func (b *feetechBus) MoveTo(ctx context.Context, id, raw int, d time.Duration) error {
	s, ok := b.servos[id]
	if !ok {
		return fmt.Errorf("servo %d not on bus", id)
	}
	return s.SetPositionWithTime(ctx, raw, int(d.Milliseconds()))
}

func (b *feetechBus) EnableAll(ctx context.Context) error  { return b.group.EnableAll(ctx) }
func (b *feetechBus) DisableAll(ctx context.Context) error { return b.group.DisableAll(ctx) }
func (b *feetechBus) Close() error                         { return b.bus.Close() }

const (
	defaultTolerance = 8
	defaultPoll      = 20 * time.Millisecond
	stallGrace       = 2 * time.Second
)

type moveMode int

const (
	modeNone moveMode = iota
	modeAbsolute
	modeRelative
	modeJog
)

// Link is a gantry.Link over a servo bus.
type Link struct {
	mu  sync.Mutex
	bus Bus
	cal Calibration

	// Tolerance is how close, in steps, an axis must be to its target to
	// count as arrived.
	Tolerance int

	// PollInterval is the arrival polling period.
	PollInterval time.Duration

	offset  gantry.Counts
	speed   gantry.Speeds
	mode    moveMode
	pending gantry.Counts
	target  gantry.Counts
	due     time.Time
	lastErr string
}

var _ gantry.Link = (*Link)(nil)

// New returns a link over bus. The calibration must name a servo for every axis.
func New(bus Bus, cal Calibration) (*Link, error) {
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("servo calibration: %w", err)
	}
	return &Link{
		bus:          bus,
		cal:          cal,
		Tolerance:    defaultTolerance,
		PollInterval: defaultPoll,
		speed:        gantry.DefaultSpeeds,
	}, nil
}

// Open opens the serial port and returns a link to the rig.
func Open(ctx context.Context, port string, cal Calibration) (*Link, error) {
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("servo calibration: %w", err)
	}
	bus, err := OpenBus(ctx, port, cal)
	if err != nil {
		return nil, err
	}
	return New(bus, cal)
}

func (l *Link) fail(err error) error {
	l.lastErr = err.Error()
	return err
}

func (l *Link) axisCal(a gantry.Axis) AxisCalibration {
	ac, _ := l.cal.Axis(a)
	return ac
}

// raw reads every axis in raw steps.
func (l *Link) raw(ctx context.Context) (gantry.Counts, error) {
	var c gantry.Counts
	pos, err := l.bus.Positions(ctx)
	if err != nil {
		return c, l.fail(err)
	}
	for _, a := range gantry.AllAxes() {
		id := l.axisCal(a).ID
		p, ok := pos[id]
		if !ok {
			return c, l.fail(fmt.Errorf("servo %d (%s) did not report", id, a))
		}
		c[a] = p
	}
	return c, nil
}

func (l *Link) Enable(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bus.EnableAll(ctx); err != nil {
		return l.fail(fmt.Errorf("enable torque: %w", err))
	}
	return nil
}

func (l *Link) Disable(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bus.DisableAll(ctx); err != nil {
		return l.fail(fmt.Errorf("disable torque: %w", err))
	}
	return nil
}

// Stop commands every servo to hold where it is.
func (l *Link) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, err := l.raw(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range gantry.AllAxes() {
		if err := l.bus.MoveTo(ctx, l.axisCal(a).ID, cur[a], 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a, err))
		}
	}
	l.mode = modeNone
	return errors.Join(errs...)
}

func (l *Link) FaultText(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr, nil
}

// SetSmoothing is accepted and ignored; STS servos use a fixed profile.
func (l *Link) SetSmoothing(ctx context.Context, axes gantry.Mask, v [gantry.NumAxes]float64) error {
	return nil
}

// SetAcceleration is accepted and ignored; STS servos use a fixed profile.
func (l *Link) SetAcceleration(ctx context.Context, axes gantry.Mask, v gantry.Counts) error {
	return nil
}

func (l *Link) SetSpeed(ctx context.Context, v gantry.Speeds) error {
	for _, a := range gantry.AllAxes() {
		if v[a] <= 0 {
			return l.fail(fmt.Errorf("axis %s: speed must be positive, got %g", a, v[a]))
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speed = v
	return nil
}

func (l *Link) load(mode moveMode, v gantry.Counts) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode, l.pending = mode, v
	return nil
}

func (l *Link) SetAbsolute(ctx context.Context, target gantry.Counts) error {
	return l.load(modeAbsolute, target)
}

func (l *Link) SetRelative(ctx context.Context, delta gantry.Counts) error {
	return l.load(modeRelative, delta)
}

// Jog runs the axes to the end of their calibrated travel in the sign of
// speed. Reverse travel ends on the virtual limit switch.
func (l *Link) Jog(ctx context.Context, speed gantry.Counts) error {
	return l.load(modeJog, speed)
}

// Begin starts the loaded move on the masked axes. Targets beyond the
// calibrated travel are refused.
func (l *Link) Begin(ctx context.Context, axes gantry.Mask) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if axes.Empty() {
		return nil
	}
	if l.mode == modeNone {
		return l.fail(errors.New("begin with no move loaded"))
	}
	cur, err := l.raw(ctx)
	if err != nil {
		return err
	}

	var longest time.Duration
	for _, a := range axes.Axes() {
		ac := l.axisCal(a)
		speed := l.speed[a]
		var goal int
		switch l.mode {
		case modeAbsolute:
			goal = l.pending[a] + l.offset[a]
		case modeRelative:
			goal = cur[a] + l.pending[a]
		case modeJog:
			switch {
			case l.pending[a] < 0:
				goal = ac.RangeMin
			case l.pending[a] > 0:
				goal = ac.RangeMax
			default:
				goal = cur[a]
			}
			speed = math.Abs(float64(l.pending[a]))
		}
		if goal != ac.Clamp(goal) {
			return l.fail(fmt.Errorf("axis %s: target %d outside travel %d..%d",
				a, goal-l.offset[a], ac.RangeMin-l.offset[a], ac.RangeMax-l.offset[a]))
		}

		d := time.Duration(0)
		if speed > 0 {
			d = time.Duration(math.Abs(float64(goal-cur[a])) / speed * float64(time.Second))
		}
		longest = max(longest, d)
		if err := l.bus.MoveTo(ctx, ac.ID, goal, d); err != nil {
			return l.fail(fmt.Errorf("axis %s: %w", a, err))
		}
		l.target[a] = goal
	}
	l.due = time.Now().Add(longest + stallGrace)
	return nil
}

// WaitMotionComplete polls until every masked axis is within Tolerance of
// its target. An axis that has not arrived well after its planned move time
// is reported as stalled.
func (l *Link) WaitMotionComplete(ctx context.Context, axes gantry.Mask) error {
	for {
		l.mu.Lock()
		cur, err := l.raw(ctx)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		var moving []gantry.Axis
		for _, a := range axes.Axes() {
			if abs(cur[a]-l.target[a]) > l.Tolerance {
				moving = append(moving, a)
			}
		}
		due := l.due
		if len(moving) == 0 {
			l.mu.Unlock()
			return nil
		}
		if !due.IsZero() && time.Now().After(due) {
			a := moving[0]
			err := l.fail(fmt.Errorf("axis %s stalled at %d, target %d", a, cur[a], l.target[a]))
			l.mu.Unlock()
			return err
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.PollInterval):
		}
	}
}

func (l *Link) Position(ctx context.Context) (gantry.Counts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, err := l.raw(ctx)
	if err != nil {
		return cur, err
	}
	for i := range cur {
		cur[i] -= l.offset[i]
	}
	return cur, nil
}

// DefinePosition moves the software origin so the masked axes read v.
func (l *Link) DefinePosition(ctx context.Context, axes gantry.Mask, v gantry.Counts) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, err := l.raw(ctx)
	if err != nil {
		return err
	}
	for _, a := range axes.Axes() {
		l.offset[a] = cur[a] - v[a]
	}
	return nil
}

// AtReverseLimit reports whether the axis is at the low end of its travel.
func (l *Link) AtReverseLimit(ctx context.Context, axis gantry.Axis) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, err := l.raw(ctx)
	if err != nil {
		return false, err
	}
	return cur[axis] <= l.axisCal(axis).RangeMin+l.Tolerance, nil
}

// ForwardLimits returns the high end of x, y and z travel in controller counts.
func (l *Link) ForwardLimits(ctx context.Context) (gantry.Counts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var c gantry.Counts
	for _, a := range gantry.LinearAxes() {
		c[a] = l.axisCal(a).RangeMax - l.offset[a]
	}
	return c, nil
}

func (l *Link) Close() error {
	return l.bus.Close()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
