package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/photogrammetry/gantry/pkg/capture"
	"github.com/photogrammetry/gantry/pkg/config"
	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/gantry/galil"
	"github.com/photogrammetry/gantry/pkg/gantry/servo"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// loadRig reads the config file. A missing file means the simulated rig.
func loadRig() (*config.Rig, error) {
	rig, err := config.LoadRigFrom(opts.Config)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("No %s found; using the simulated gantry. Run 'gantry setup' to configure hardware.", opts.Config)))
		rig = config.Default()
	case err != nil:
		return nil, err
	}
	if err := rig.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", opts.Config, err)
	}
	if rig.Link.Kind != config.LinkSim && !rig.IsConfigured() {
		return nil, fmt.Errorf("%s: no %s address set; run 'gantry setup'", opts.Config, rig.Link.Kind)
	}
	return rig, nil
}

// openLink connects to the motion hardware named by the rig.
func openLink(ctx context.Context, rig *config.Rig) (gantry.Link, error) {
	switch rig.Link.Kind {
	case config.LinkGalil:
		l, err := galil.Dial(ctx, rig.Link.Address)
		if err != nil {
			return nil, err
		}
		if rig.Link.MotionTimeout > 0 {
			l.MotionTimeout = time.Duration(rig.Link.MotionTimeout * float64(time.Second))
		}
		return l, nil
	case config.LinkServo:
		return servo.Open(ctx, rig.Link.Address, rig.Link.Servos)
	case config.LinkSim:
		// Start the simulation from the recorded pose so it agrees with the
		// pose file.
		var pos gantry.Counts
		if rec, err := gantry.LoadPose(rig.PoseFile); err == nil {
			pos = rec.Pose
		}
		return gantry.NewSimLink(pos, rig.ConversionTable().ToCounts([gantry.NumAxes]float64{1800, 1000, -900})), nil
	}
	return nil, fmt.Errorf("unknown link kind %q", rig.Link.Kind)
}

// withController opens the rig's gantry, runs fn and closes it again.
func withController(rig *config.Rig, recoverPose bool, fn func(ctx context.Context, c *gantry.Controller) error) error {
	ctx := context.Background()
	if !config.Exists(rig.PoseFile) && rig.Link.Kind == config.LinkSim {
		// A fresh simulated rig starts at zero.
		if err := gantry.SavePose(rig.PoseFile, gantry.PoseRecord{}); err != nil {
			return err
		}
	}
	link, err := openLink(ctx, rig)
	if err != nil {
		return err
	}
	o := gantry.Options{
		PoseFile:    rig.PoseFile,
		Conversion:  rig.ConversionTable(),
		RecoverPose: recoverPose,
	}
	return gantry.WithController(ctx, link, o, func(c *gantry.Controller) error {
		return fn(ctx, c)
	})
}

// newCapturer builds the capture service named by the rig.
func newCapturer(ctx context.Context, rig *config.Rig, cameras []int) (capture.Capturer, error) {
	switch rig.Capture.Kind {
	case config.CaptureGphoto2:
		g := capture.NewGphoto2(rig.Capture.CameraFile, rig.Capture.OutputDir)
		g.Select = rig.Capture.Cameras
		if len(cameras) > 0 {
			g.Select = cameras
		}
		if err := g.Refresh(ctx); err != nil {
			return nil, err
		}
		for _, cam := range g.Cameras() {
			fmt.Printf("  %s\n", cam)
		}
		return g, nil
	case config.CaptureRemote:
		return capture.NewRemote(rig.Capture.RemoteCommand), nil
	case config.CaptureNone:
		return capture.Timelapse{}, nil
	}
	return nil, fmt.Errorf("unknown capture kind %q", rig.Capture.Kind)
}

func settle(rig *config.Rig) time.Duration {
	return time.Duration(rig.Capture.SettleSeconds * float64(time.Second))
}

func formatPose(c *gantry.Controller) string {
	p := c.PosePhysical()
	return fmt.Sprintf("x=%.2f mm  y=%.2f mm  z=%.2f mm  phi=%.2f deg  theta=%.2f deg", p[gantry.X], p[gantry.Y], p[gantry.Z], p[gantry.Phi], p[gantry.Theta])
}
