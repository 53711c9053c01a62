// Package capture triggers image capture at each scan pose. Capturers run an
// external program and report failures as faults.KindCaptureFailure; the
// caller decides whether to refresh and retry.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/photogrammetry/gantry/pkg/faults"
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

// Result describes one completed capture.
type Result struct {
	Time  time.Time
	Files []string
}

// Capturer takes an image labelled label at the current pose.
type Capturer interface {
	Capture(ctx context.Context, label string) (Result, error)

	// Refresh re-resolves device addresses after a failed capture.
	Refresh(ctx context.Context) error
}

// Runner runs a program and returns its output streams. A non-zero exit is
// returned as err along with whatever was captured.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

// ExecRunner runs programs with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Remote runs a fixed command per capture, for cameras triggered over ssh.
type Remote struct {
	// Command is the program and its arguments. "{label}" in any argument
	// is replaced with the capture label.
	Command []string
	Timeout time.Duration
	Run     Runner
	Now     func() time.Time
}

// DefaultRemoteTimeout bounds one remote trigger.
const DefaultRemoteTimeout = 10 * time.Second

// NewRemote returns a remote trigger running command.
func NewRemote(command []string) *Remote {
	return &Remote{Command: command, Timeout: DefaultRemoteTimeout, Run: ExecRunner, Now: time.Now}
}

func (r *Remote) Capture(ctx context.Context, label string) (Result, error) {
	const op = "remote_capture"
	if len(r.Command) == 0 {
		return Result{}, faults.Newf(faults.KindCaptureFailure, op, "no command configured")
	}
	args := make([]string, len(r.Command)-1)
	for i, a := range r.Command[1:] {
		args[i] = strings.ReplaceAll(a, "{label}", label)
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	at := r.Now()
	_, stderr, err := r.Run(ctx, r.Command[0], args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", r.Timeout)
		}
		return Result{}, &faults.Error{
			Kind: faults.KindCaptureFailure,
			Op:   op,
			Text: strings.TrimSpace(stderr),
			Err:  err,
		}
	}
	return Result{Time: at}, nil
}

// Refresh does nothing; the remote address is fixed.
func (r *Remote) Refresh(ctx context.Context) error { return nil }

// Timelapse is used when a camera shoots on its own interval timer. It
// records the time the pose was ready.
type Timelapse struct {
	Now func() time.Time
}

func (t Timelapse) Capture(ctx context.Context, label string) (Result, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	at := now()
	Logf("pose %s ready at %s", label, at.Format(time.RFC3339))
	return Result{Time: at}, nil
}

func (t Timelapse) Refresh(ctx context.Context) error { return nil }
