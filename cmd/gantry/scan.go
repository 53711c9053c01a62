package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/photogrammetry/gantry/pkg/capture"
	"github.com/photogrammetry/gantry/pkg/config"
	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/gantry/galil"
	"github.com/photogrammetry/gantry/pkg/gantry/servo"
	"github.com/photogrammetry/gantry/pkg/runlog"
	"github.com/photogrammetry/gantry/pkg/scan"
	"github.com/photogrammetry/gantry/pkg/scanplot"
)

// RunOptions are shared by the scan commands.
type RunOptions struct {
	Label    string  `short:"l" long:"label" description:"Label to include in image names"`
	Live     bool    `long:"live" description:"Move the gantry and capture; without it only the summary is printed"`
	Plot     bool    `long:"plot" description:"Write PNG plots of the planned scan"`
	Yes      bool    `short:"y" long:"yes" description:"Do not ask for confirmation before moving"`
	NoHome   bool    `long:"no-home" description:"Start from the recorded pose without homing"`
	NoTUI    bool    `long:"no-tui" description:"Print progress as plain log lines"`
	Cameras  []int   `long:"camera" description:"Camera number to capture with (repeatable)"`
	List     bool    `long:"list" description:"Print every waypoint"`
	Standoff float64 `long:"standoff" default:"250" description:"Distance from end effector to target surface, mm"`
}

type ScanCommand struct {
	RunOptions

	LED        bool          `long:"led" description:"LED sphere: camera on the gantry, LED fixed"`
	ParamFile  string        `short:"p" long:"param-file" description:"Parameter file (default parameters_sphere.txt, or parameters_led.txt with --led)"`
	SetupDelay time.Duration `long:"setup-delay" default:"5m" description:"LED scans: wait before homing, to start the camera timer"`
}

func (c *ScanCommand) Execute(args []string) error {
	kind, path := config.Camera, c.ParamFile
	mode := scan.CameraSphere
	if c.LED {
		kind, mode = config.LED, scan.LEDSphere
	}
	if path == "" {
		path = config.DefaultSphereFile
		if c.LED {
			path = config.DefaultLEDFile
		}
	}

	sphere, warnings, err := config.LoadSphere(path, kind)
	printWarnings(warnings)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %s scan from %s\n", kind, path)

	standoff := c.Standoff
	if c.LED {
		// The LED sphere is centred on the camera itself.
		standoff = 0
	}
	plan, err := scan.PlanSphere(mode, sphere.Frame(), sphere.Spec(), standoff)
	if err != nil {
		return err
	}

	var tl *scan.Timelapse
	if c.LED {
		tl = &scan.Timelapse{Interval: sphere.Interval, SetupDelay: c.SetupDelay}
	}
	return runPlan(plan, c.RunOptions, tl)
}

type ArcCommand struct {
	RunOptions
	ParamFile string `short:"p" long:"param-file" default:"parameters_arc.txt" description:"Parameter file"`
}

func (c *ArcCommand) Execute(args []string) error {
	arc, warnings, err := config.LoadArc(c.ParamFile)
	printWarnings(warnings)
	if err != nil {
		return err
	}
	plan, err := scan.PlanArc(arc.Spec())
	if err != nil {
		return err
	}
	return runPlan(plan, c.RunOptions, nil)
}

type YZCommand struct {
	RunOptions
	ParamFile string `short:"p" long:"param-file" default:"parameters_yz.txt" description:"Parameter file"`
}

func (c *YZCommand) Execute(args []string) error {
	yz, warnings, err := config.LoadYZ(c.ParamFile)
	printWarnings(warnings)
	if err != nil {
		return err
	}
	plan, err := scan.PlanYZ(yz.Spec())
	if err != nil {
		return err
	}
	return runPlan(plan, c.RunOptions, nil)
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, warnStyle.Render("warning: "+w))
	}
}

func printWaypoints(plan *scan.Plan) {
	for _, w := range plan.Waypoints {
		fmt.Printf("%4d  ring %2d", w.Index, w.Ring)
		for _, a := range gantry.AllAxes() {
			fmt.Printf("  %s=%s", a, w.Targets[a])
		}
		fmt.Println()
	}
}

// runPlan prints the dry-run summary and, with --live, drives the gantry
// through the plan.
func runPlan(plan *scan.Plan, ro RunOptions, tl *scan.Timelapse) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}

	summary := scan.DryRun(plan)
	fmt.Println()
	fmt.Print(summary.String())
	if ro.List {
		printWaypoints(plan)
	}
	if tl != nil {
		fmt.Printf("time-lapse every %s, setup delay %s\n", tl.Interval, tl.SetupDelay)
	}

	if ro.Plot {
		files, err := scanplot.Write(plan, rig.Capture.OutputDir, plotLabel(plan, ro.Label))
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println("wrote " + f)
		}
	}
	if !ro.Live {
		fmt.Println(dimStyle.Render("Dry run; pass --live to move the gantry."))
		return nil
	}

	return withController(rig, false, func(ctx context.Context, ctrl *gantry.Controller) error {
		limits, err := ctrl.SoftLimits(ctx)
		if err != nil {
			return err
		}
		if err := summary.CheckTravel(limits); err != nil {
			return err
		}
		if !ro.Yes && !confirm(fmt.Sprintf("Run %d waypoints on the %s gantry?", plan.Len(), rig.Link.Kind)) {
			return nil
		}

		capturer, err := newCapturer(ctx, rig, ro.Cameras)
		if err != nil {
			return err
		}
		runner := scan.NewRunner(ctrl, capturer, scan.Options{
			Label:     ro.Label,
			Speeds:    rig.Speeds.Scan,
			Settle:    settle(rig),
			SkipHome:  ro.NoHome,
			Timelapse: tl,
		})

		var run *runlog.Run
		if rig.RunLog != "" {
			store, err := runlog.Open(rig.RunLog)
			if err != nil {
				return err
			}
			defer store.Close()
			if run, err = store.StartRun(ctx, plan, ro.Label); err != nil {
				return err
			}
			runner.SetRecorder(run)
		}

		rep, runErr := execute(ctx, runner, plan, summary, ro.NoTUI)
		if run != nil {
			if err := run.Finish(context.Background(), rep, runErr); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		fmt.Printf("\nVisited %d of %d waypoints, %d capture failures, %d schedule slips in %s\n",
			rep.Visited, plan.Len(), rep.CaptureFailures, rep.Slips, rep.Finished.Sub(rep.Started).Round(time.Second))
		fmt.Println("Final position: " + formatPose(ctrl))
		if runErr != nil {
			return runErr
		}
		fmt.Println(successStyle.Render("Scan complete."))
		return nil
	})
}

// execute runs the plan in the background while the terminal shows
// progress. Ctrl-C stops the run at the next waypoint.
func execute(ctx context.Context, runner *scan.Runner, plan *scan.Plan, summary scan.Summary, plain bool) (scan.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		rep scan.Report
		err error
	}
	done := make(chan result, 1)

	// The runner's own messages arrive on its log channel.
	scan.SetLogger(nil)

	if plain {
		go func() {
			rep, err := runner.Run(ctx, plan)
			done <- result{rep, err}
		}()
		for {
			select {
			case msg := <-runner.Logs():
				fmt.Println(msg)
			case <-runner.Events():
			case r := <-done:
				// Flush what the runner logged last.
				for len(runner.Logs()) > 0 {
					fmt.Println(<-runner.Logs())
				}
				return r.rep, r.err
			}
		}
	}

	p := tea.NewProgram(newScanModel(runner, plan, summary, cancel), tea.WithAltScreen())
	toTUI := func(format string, v ...any) { p.Send(logMsg(fmt.Sprintf(format, v...))) }
	setLoggers(toTUI)
	defer setLoggers(log.Printf)
	go func() {
		rep, err := runner.Run(ctx, plan)
		done <- result{rep, err}
		p.Send(runDoneMsg{err: err})
	}()
	if _, err := p.Run(); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Error running display: %v\n", err)
	}
	r := <-done
	return r.rep, r.err
}

// setLoggers points the hardware and capture packages at f.
func setLoggers(f func(format string, v ...any)) {
	gantry.SetLogger(f)
	galil.SetLogger(f)
	servo.SetLogger(f)
	capture.SetLogger(f)
	runlog.SetLogger(f)
}

func confirm(title string) bool {
	ok := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Go").
				Negative("Cancel").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return ok
}

func plotLabel(plan *scan.Plan, label string) string {
	if label == "" {
		return plan.Mode.String()
	}
	return label
}
