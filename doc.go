// Package gantry drives a 5-axis photogrammetry gantry through scans of a
// target in a test tank.
//
// The gantry has three linear axes (x, y, z) and a pan/tilt head (phi,
// theta). A scan visits a planned list of waypoints, waits for the rig to
// settle and triggers the cameras at each one.
//
// # Installation
//
//	go install github.com/photogrammetry/gantry/cmd/gantry@latest
//
// # Usage
//
// Configure the motion hardware and cameras:
//
//	gantry setup
//
// Home the linear axes, then check a scan without moving:
//
//	gantry home
//	gantry scan --plot
//
// Run it:
//
//	gantry scan --live -l tank1
//
// # Packages
//
//   - cmd/gantry: CLI with scan, motion, setup and capture commands
//   - pkg/gantry: motion controller, pose file and unit conversion
//   - pkg/gantry/galil: Galil DMC command link
//   - pkg/gantry/servo: Feetech servo bench link
//   - pkg/geometry: sphere, arc and raster waypoint geometry
//   - pkg/config: rig config and scan parameter files
//   - pkg/capture: gphoto2 and remote camera triggers
//   - pkg/scan: scan plans, dry-run summary and the scan runner
//   - pkg/runlog: SQLite record of scan runs
//   - pkg/scanplot: PNG plots of planned scans
//   - pkg/faults: error kinds shared by the packages
package gantry
