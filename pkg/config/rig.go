// Package config holds the rig configuration file and the loaders for the
// line-oriented scan parameter files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/photogrammetry/gantry/pkg/capture"
	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/gantry/servo"
)

// Link kinds.
const (
	LinkGalil = "galil"
	LinkServo = "servo"
	LinkSim   = "sim"
)

// Capture kinds.
const (
	CaptureGphoto2 = "gphoto2"
	CaptureRemote  = "remote"
	CaptureNone    = "none"
)

// Rig holds the configuration of one gantry installation.
type Rig struct {
	Link       LinkConfig              `json:"link"`
	PoseFile   string                  `json:"pose_file,omitempty"`
	Conversion *gantry.ConversionTable `json:"conversion,omitempty"`
	Speeds     SpeedConfig             `json:"speeds"`
	Capture    CaptureConfig           `json:"capture"`
	RunLog     string                  `json:"run_log,omitempty"`
}

// LinkConfig selects the motion hardware.
type LinkConfig struct {
	Kind string `json:"kind"`

	// Address is host[:port] or a serial device for galil, the serial
	// device for servo.
	Address string `json:"address,omitempty"`

	Servos servo.Calibration `json:"servos,omitempty"`

	// MotionTimeout bounds a single galil move, in seconds. Zero keeps the
	// link default.
	MotionTimeout float64 `json:"motion_timeout_s,omitempty"`
}

// SpeedConfig holds speed profiles in counts per second.
type SpeedConfig struct {
	Move gantry.Speeds `json:"move"`
	Scan gantry.Speeds `json:"scan"`
}

// CaptureConfig selects how images are taken at each pose.
type CaptureConfig struct {
	Kind string `json:"kind"`

	// CameraFile lists "<number> <serial>" pairs, one camera per line.
	CameraFile string `json:"camera_file,omitempty"`
	Cameras    []int  `json:"cameras,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`

	// RemoteCommand is run for each capture; "{label}" is replaced with
	// the image label.
	RemoteCommand []string `json:"remote_command,omitempty"`

	SettleSeconds float64 `json:"settle_seconds,omitempty"`
}

// Default returns a configuration for the simulated gantry.
func Default() *Rig {
	conv := gantry.DefaultConversion
	return &Rig{
		Link:       LinkConfig{Kind: LinkSim},
		PoseFile:   gantry.DefaultPoseFile,
		Conversion: &conv,
		Speeds: SpeedConfig{
			Move: gantry.DefaultSpeeds,
			Scan: gantry.Speeds{1000, 1000, 1000, 200, 200},
		},
		Capture: CaptureConfig{
			Kind:          CaptureNone,
			CameraFile:    capture.DefaultCameraFile,
			OutputDir:     ".",
			SettleSeconds: 1,
		},
		RunLog: "gantry-runs.db",
	}
}

// IsConfigured returns true if the rig names real hardware.
func (r *Rig) IsConfigured() bool {
	switch r.Link.Kind {
	case LinkGalil:
		return r.Link.Address != ""
	case LinkServo:
		return r.Link.Address != "" && len(r.Link.Servos) > 0
	}
	return false
}

// ConversionTable returns the calibration in use.
func (r *Rig) ConversionTable() gantry.ConversionTable {
	if r.Conversion == nil {
		return gantry.DefaultConversion
	}
	return *r.Conversion
}

// Validate checks the fields a run depends on.
func (r *Rig) Validate() error {
	var errs []error
	switch r.Link.Kind {
	case LinkGalil, LinkSim:
	case LinkServo:
		if err := r.Link.Servos.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("link kind %q: want galil, servo or sim", r.Link.Kind))
	}
	if r.Link.MotionTimeout < 0 {
		errs = append(errs, fmt.Errorf("motion timeout %gs must not be negative", r.Link.MotionTimeout))
	}
	if err := r.ConversionTable().Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range []struct {
		name string
		s    gantry.Speeds
	}{{"move", r.Speeds.Move}, {"scan", r.Speeds.Scan}} {
		for _, a := range gantry.AllAxes() {
			if p.s[a] <= 0 {
				errs = append(errs, fmt.Errorf("%s speed for %s must be positive", p.name, a))
			}
		}
	}
	switch r.Capture.Kind {
	case CaptureGphoto2, CaptureNone:
	case CaptureRemote:
		if len(r.Capture.RemoteCommand) == 0 {
			errs = append(errs, errors.New("remote capture needs remote_command"))
		}
	default:
		errs = append(errs, fmt.Errorf("capture kind %q: want gphoto2, remote or none", r.Capture.Kind))
	}
	return errors.Join(errs...)
}

// LoadRigFrom loads configuration from a specific file. Fields missing from
// the file keep their defaults.
func LoadRigFrom(path string) (*Rig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveTo saves configuration to a specific file
func (r *Rig) SaveTo(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Exists returns true if the config file exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
