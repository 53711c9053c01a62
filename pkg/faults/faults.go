// Package faults classifies the errors a scan can raise so callers can decide
// between retry, skip and abort without matching on message text.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the category of a fault.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = iota

	// KindConfigParse: unknown or malformed configuration field.
	KindConfigParse

	// KindDegenerateGeometry: a scan direction has no defined target mount
	// offset (parallel to the vertical axis, or zero length).
	KindDegenerateGeometry

	// KindHardwareFault: communication or limit-switch fault during motion.
	// The drive has been disabled and the pose must be re-homed.
	KindHardwareFault

	// KindPersistedPoseInvalid: the pose file is missing, corrupt or stale.
	KindPersistedPoseInvalid

	// KindCaptureFailure: an image capture failed after its retry.
	KindCaptureFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfigParse:
		return "config_parse"
	case KindDegenerateGeometry:
		return "degenerate_geometry"
	case KindHardwareFault:
		return "hardware_fault"
	case KindPersistedPoseInvalid:
		return "persisted_pose_invalid"
	case KindCaptureFailure:
		return "capture_failure"
	default:
		return "unknown"
	}
}

// Sentinels so errors.Is works on a kind alone.
var (
	ConfigParse          = &Error{Kind: KindConfigParse}
	DegenerateGeometry   = &Error{Kind: KindDegenerateGeometry}
	HardwareFault        = &Error{Kind: KindHardwareFault}
	PersistedPoseInvalid = &Error{Kind: KindPersistedPoseInvalid}
	CaptureFailure       = &Error{Kind: KindCaptureFailure}
)

// Error is a classified fault.
type Error struct {
	Kind Kind

	// Op names the operation that failed, e.g. "move_absolute" or "home".
	Op string

	// Text is the message reported by the hardware or device, if any.
	Text string

	// Err wraps the underlying error.
	Err error
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Text != "" {
		msg += " (" + e.Text + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels can be
// used as targets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
