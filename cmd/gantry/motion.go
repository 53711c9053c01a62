package main

import (
	"context"
	"fmt"

	"github.com/photogrammetry/gantry/pkg/gantry"
)

type HomeCommand struct {
	Recover bool `long:"recover" description:"Start from zero if the pose file is missing or corrupt"`
}

func (c *HomeCommand) Execute(args []string) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}
	return withController(rig, c.Recover, func(ctx context.Context, ctrl *gantry.Controller) error {
		fmt.Println("Before homing: " + formatPose(ctrl))
		if err := ctrl.Home(ctx); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Homed. ") + formatPose(ctrl))
		return nil
	})
}

type MoveCommand struct {
	X        *float64 `short:"x" description:"x position, mm"`
	Y        *float64 `short:"y" description:"y position, mm"`
	Z        *float64 `short:"z" description:"z position, mm"`
	Phi      *float64 `long:"phi" description:"Pan angle, degrees"`
	Theta    *float64 `long:"theta" description:"Tilt angle, degrees"`
	Relative bool     `short:"r" long:"relative" description:"Move by the given amounts instead of to them"`
	Fast     bool     `long:"fast" description:"Use the move speed profile instead of the scan profile"`
}

func (c *MoveCommand) values() [gantry.NumAxes]*float64 {
	return [gantry.NumAxes]*float64{c.X, c.Y, c.Z, c.Phi, c.Theta}
}

func (c *MoveCommand) Execute(args []string) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}
	speed := rig.Speeds.Scan
	if c.Fast {
		speed = rig.Speeds.Move
	}

	target := gantry.HoldAll()
	var delta [gantry.NumAxes]float64
	given := false
	for a, v := range c.values() {
		if v == nil {
			continue
		}
		given = true
		target[a] = gantry.To(*v)
		delta[a] = *v
	}
	if !given {
		return fmt.Errorf("nothing to move: give at least one of -x, -y, -z, --phi, --theta")
	}

	return withController(rig, false, func(ctx context.Context, ctrl *gantry.Controller) error {
		fmt.Println("From: " + formatPose(ctrl))
		if c.Relative {
			err = ctrl.MoveRelative(ctx, delta, speed)
		} else {
			err = ctrl.MoveAbsolute(ctx, target, speed)
		}
		if err != nil {
			return err
		}
		fmt.Println("To:   " + formatPose(ctrl))
		return nil
	})
}

type PositionCommand struct {
	Counts bool `long:"counts" description:"Also show controller counts"`
}

func (c *PositionCommand) Execute(args []string) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}
	rec, err := gantry.LoadPose(rig.PoseFile)
	if err != nil {
		return err
	}
	p := rig.ConversionTable().ToPhysical(rec.Pose)
	fmt.Println(headerStyle.Render("Recorded position") + dimStyle.Render(" ("+rig.PoseFile+")"))
	for _, a := range gantry.AllAxes() {
		line := fmt.Sprintf("  %-5s %10.2f %s", a, p[a], a.Unit())
		if c.Counts {
			line += dimStyle.Render(fmt.Sprintf("  %8d counts", rec.Pose[a]))
		}
		fmt.Println(line)
	}
	if rec.Stale {
		fmt.Println(warnStyle.Render("Pose is stale after a hardware fault; run 'gantry home'."))
	}
	if rec.Legacy {
		fmt.Println(dimStyle.Render("Pose file has no checksum line."))
	}
	return nil
}

type CentreCommand struct{}

func (c *CentreCommand) Execute(args []string) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}
	return withController(rig, false, func(ctx context.Context, ctrl *gantry.Controller) error {
		limits, err := ctrl.SoftLimits(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Travel: x %.1f  y %.1f  z %.1f mm\n", limits[0], limits[1], limits[2])
		if err := ctrl.MoveToCentre(ctx, rig.Speeds.Move); err != nil {
			return err
		}
		fmt.Println("At centre: " + formatPose(ctrl))
		return nil
	})
}
