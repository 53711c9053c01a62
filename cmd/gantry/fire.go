package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/photogrammetry/gantry/pkg/capture"
	"github.com/photogrammetry/gantry/pkg/config"
)

type FireCommand struct {
	Images       int           `short:"n" long:"images" default:"1" description:"Number of images; -1 fires until interrupted"`
	Interval     time.Duration `long:"interval" default:"1s" description:"Time between images"`
	Label        string        `short:"l" long:"label" default:"img" description:"Label to add to image names"`
	Dir          string        `long:"dir" description:"Directory for images (default from config)"`
	NoDate       bool          `long:"no-date" description:"Do not append the date to image names"`
	Cameras      []int         `long:"camera" description:"Camera number to fire (repeatable)"`
	BuildCamFile bool          `long:"build-camera-file" description:"Rebuild the camera file from the connected cameras first"`
}

func (c *FireCommand) Execute(args []string) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}
	if rig.Capture.Kind == config.CaptureNone {
		return fmt.Errorf("no capture configured in %s", opts.Config)
	}
	if c.Dir != "" {
		rig.Capture.OutputDir = c.Dir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if c.BuildCamFile && rig.Capture.Kind == config.CaptureGphoto2 {
		g := capture.NewGphoto2(rig.Capture.CameraFile, rig.Capture.OutputDir)
		if _, err := g.BuildCameraFile(ctx); err != nil {
			return err
		}
	}

	capturer, err := newCapturer(ctx, rig, c.Cameras)
	if err != nil {
		return err
	}
	if g, ok := capturer.(*capture.Gphoto2); ok {
		g.AppendDate = !c.NoDate
	}

	for i := 0; c.Images < 0 || i < c.Images; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.Interval):
			}
		}
		label := fmt.Sprintf("%s_%d", c.Label, i)
		res, err := capturer.Capture(ctx, label)
		if err != nil {
			fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("%s: %v", label, err)))
			if rerr := capturer.Refresh(ctx); rerr != nil {
				return rerr
			}
			continue
		}
		fmt.Printf("%s %s %v\n", res.Time.Format("15:04:05"), label, res.Files)
	}
	return nil
}
