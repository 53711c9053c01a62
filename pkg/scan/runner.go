package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/photogrammetry/gantry/pkg/capture"
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

// Motion is the part of gantry.Controller a run needs.
type Motion interface {
	Home(ctx context.Context) error
	MoveAbsolute(ctx context.Context, target gantry.Targets, speed gantry.Speeds) error
	Pose() gantry.Counts
	PosePhysical() [gantry.NumAxes]float64
}

var _ Motion = (*gantry.Controller)(nil)

// Visit is the outcome of one waypoint.
type Visit struct {
	Waypoint Waypoint
	Label    string
	Pose     gantry.Counts
	Physical [gantry.NumAxes]float64

	CapturedAt time.Time
	Files      []string
	Attempts   int
	CaptureErr error

	// Slip is how late the capture was against the time-lapse cadence.
	Slip time.Duration
}

// Recorder stores visits as they happen.
type Recorder interface {
	RecordVisit(ctx context.Context, v Visit) error
}

// EventKind identifies a progress event.
type EventKind int

const (
	EventHomed EventKind = iota
	EventMoved
	EventCaptured
	EventCaptureFailed
	EventSlip
	EventDone
)

// Event reports run progress to a UI.
type Event struct {
	Kind     EventKind
	Index    int
	Total    int
	Physical [gantry.NumAxes]float64
	Err      error
	Time     time.Time
}

// Timelapse aligns poses to a camera shooting on its own interval timer.
type Timelapse struct {
	Interval time.Duration

	// SetupDelay is waited once before homing, to let the camera's timer
	// be started by hand.
	SetupDelay time.Duration
}

// Options configure a Runner.
type Options struct {
	// Label is included in every image name.
	Label string

	// Speeds is the profile used for every scan move, counts per second.
	Speeds gantry.Speeds

	// Settle is the pause after a move before capture.
	Settle time.Duration

	// SkipHome starts from the persisted pose without homing.
	SkipHome bool

	// Timelapse switches to cadence-driven capture when set.
	Timelapse *Timelapse

	Clock Clock
}

// Report summarises a run.
type Report struct {
	Visited         int
	CaptureFailures int
	Slips           int
	Started         time.Time
	Finished        time.Time
}

// Runner drives a gantry through a plan. A Runner runs one plan at a time.
type Runner struct {
	motion   Motion
	capturer capture.Capturer
	recorder Recorder
	opts     Options

	mu      sync.Mutex
	running bool
	eventCh chan Event
	logCh   chan string
}

// NewRunner returns a runner. Progress is published on Events and Logs;
// slow readers lose older messages, never the latest.
func NewRunner(m Motion, c capture.Capturer, opts Options) *Runner {
	if opts.Speeds == (gantry.Speeds{}) {
		opts.Speeds = gantry.Speeds{1000, 1000, 1000, 200, 200}
	}
	if opts.Settle == 0 {
		opts.Settle = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	return &Runner{
		motion:   m,
		capturer: c,
		opts:     opts,
		eventCh:  make(chan Event, 16),
		logCh:    make(chan string, 64),
	}
}

// SetRecorder stores every visit in rec.
func (r *Runner) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Events returns a channel that receives progress events.
func (r *Runner) Events() <-chan Event {
	return r.eventCh
}

// Logs returns a channel that receives log messages.
func (r *Runner) Logs() <-chan string {
	return r.logCh
}

func (r *Runner) log(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Logf("%s", msg)
	stamped := fmt.Sprintf("[%s] %s", r.opts.Clock.Now().Format("15:04:05"), msg)
	select {
	case r.logCh <- stamped:
	default:
		// Drop if channel full
	}
}

func (r *Runner) send(e Event) {
	e.Time = r.opts.Clock.Now()
	for {
		select {
		case r.eventCh <- e:
			return
		default:
		}
		select {
		case <-r.eventCh:
		default:
		}
	}
}

// DryRun validates and summarises a plan. It issues no hardware command.
func DryRun(p *Plan) Summary {
	return Summarize(p)
}

// Run homes once, then visits every waypoint: vertical axis first, then the
// other four together, settle, capture. A hardware fault ends the run; a
// failed capture is retried once after a refresh and then skipped. The
// context is checked between waypoints only: cancelling it lets the current
// waypoint finish its moves and capture, then stops the run.
func (r *Runner) Run(ctx context.Context, plan *Plan) (rep Report, err error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Report{}, errors.New("scan: already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	clock := r.opts.Clock
	rep.Started = clock.Now()
	defer func() {
		rep.Finished = clock.Now()
		r.send(Event{Kind: EventDone, Index: rep.Visited, Total: plan.Len()})
	}()

	if plan.Len() == 0 {
		return rep, errors.New("scan: plan has no waypoints")
	}
	tl := r.opts.Timelapse
	if tl != nil && tl.Interval <= 0 {
		return rep, errors.New("scan: time-lapse interval must be positive")
	}

	if tl != nil && tl.SetupDelay > 0 {
		r.log("waiting %s for camera setup", tl.SetupDelay)
		clock.Sleep(tl.SetupDelay)
	}

	if !r.opts.SkipHome {
		r.log("homing")
		if err := r.motion.Home(context.WithoutCancel(ctx)); err != nil {
			return rep, fmt.Errorf("home: %w", err)
		}
		r.send(Event{Kind: EventHomed, Total: plan.Len(), Physical: r.motion.PosePhysical()})
	}

	var deadline time.Time
	if tl != nil {
		deadline = clock.Now().Add(tl.Interval)
	}

	for _, w := range plan.Waypoints {
		if err := ctx.Err(); err != nil {
			r.log("stopped before waypoint %d: %v", w.Index, err)
			return rep, err
		}
		wctx := context.WithoutCancel(ctx)

		if err := r.moveTo(wctx, w); err != nil {
			return rep, fmt.Errorf("waypoint %d: %w", w.Index, err)
		}
		r.send(Event{Kind: EventMoved, Index: w.Index, Total: plan.Len(), Physical: r.motion.PosePhysical()})
		clock.Sleep(r.opts.Settle)

		v := Visit{
			Waypoint: w,
			Label:    Label(w, r.opts.Label),
			Pose:     r.motion.Pose(),
			Physical: r.motion.PosePhysical(),
		}

		if tl != nil {
			now := clock.Now()
			if now.After(deadline) {
				v.Slip = now.Sub(deadline)
				rep.Slips++
				r.log("schedule slip at waypoint %d: %s late; increase the interval", w.Index, v.Slip.Round(time.Millisecond))
				r.send(Event{Kind: EventSlip, Index: w.Index, Total: plan.Len()})
				deadline = now
			} else {
				clock.Sleep(deadline.Sub(now))
			}
			deadline = deadline.Add(tl.Interval)
		}

		r.capture(wctx, &v)
		rep.Visited++
		if v.CaptureErr != nil {
			rep.CaptureFailures++
			r.send(Event{Kind: EventCaptureFailed, Index: w.Index, Total: plan.Len(), Physical: v.Physical, Err: v.CaptureErr})
		} else {
			r.send(Event{Kind: EventCaptured, Index: w.Index, Total: plan.Len(), Physical: v.Physical})
		}

		if r.recorder != nil {
			if err := r.recorder.RecordVisit(wctx, v); err != nil {
				r.log("record waypoint %d: %v", w.Index, err)
			}
		}
	}
	r.log("done: %d waypoints, %d capture failures", rep.Visited, rep.CaptureFailures)
	return rep, nil
}

// moveTo repositions the vertical axis on its own, then the rest.
func (r *Runner) moveTo(ctx context.Context, w Waypoint) error {
	if z, ok := w.Targets[gantry.Z].Value(); ok {
		if err := r.motion.MoveAbsolute(ctx, gantry.HoldAll().With(gantry.Z, z), r.opts.Speeds); err != nil {
			return err
		}
	}
	rest := w.Targets
	rest[gantry.Z] = gantry.Hold()
	return r.motion.MoveAbsolute(ctx, rest, r.opts.Speeds)
}

// capture triggers the capturer, refreshing and retrying once on failure.
func (r *Runner) capture(ctx context.Context, v *Visit) {
	for attempt := 1; attempt <= 2; attempt++ {
		v.Attempts = attempt
		res, err := r.capturer.Capture(ctx, v.Label)
		if err == nil {
			v.CapturedAt, v.Files, v.CaptureErr = res.Time, res.Files, nil
			return
		}
		v.CaptureErr = err
		if attempt == 1 {
			r.log("capture %s failed: %v; refreshing", v.Label, err)
			if rerr := r.capturer.Refresh(ctx); rerr != nil {
				r.log("refresh: %v", rerr)
			}
		}
	}
	r.log("capture %s failed again, skipping: %v", v.Label, v.CaptureErr)
}
