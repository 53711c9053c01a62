package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config string `short:"c" long:"config" default:"gantry.json" description:"Rig configuration file"`

	Scan     ScanCommand     `command:"scan" description:"Spherical scan around a camera or LED"`
	Arc      ArcCommand      `command:"arc" description:"Arc scan around a camera"`
	YZ       YZCommand       `command:"yz" description:"Raster scan on the y and z axes"`
	Home     HomeCommand     `command:"home" description:"Home x, y and z on their reverse limit switches"`
	Move     MoveCommand     `command:"move" description:"Move to an absolute or relative position"`
	Jog      JogCommand      `command:"jog" description:"Move the gantry interactively from the keyboard"`
	Origin   OriginCommand   `command:"origin" description:"Set pan and tilt zero interactively"`
	Position PositionCommand `command:"position" alias:"pos" description:"Show the recorded position"`
	Centre   CentreCommand   `command:"centre" alias:"center" description:"Move x, y and z to the middle of their travel"`
	Ports    PortsCommand    `command:"ports" description:"List serial ports"`
	Setup    SetupCommand    `command:"setup" description:"Configure the rig and write the config file"`
	Fire     FireCommand     `command:"fire" description:"Capture repeatedly without moving"`
	Runs     RunsCommand     `command:"runs" description:"List recorded scan runs"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "gantry - scan controller for the 5-axis test-tank gantry"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
