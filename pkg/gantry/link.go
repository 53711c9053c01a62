package gantry

import "context"

// Link is the connection to the motion hardware. Every call blocks until the
// hardware acknowledges it. Only axes named by a mask are affected by
// masked calls; the others keep their current setting.
type Link interface {
	// Enable powers the motor drive; Disable removes power.
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error

	// Stop decelerates every axis to a halt.
	Stop(ctx context.Context) error

	// FaultText returns the hardware's description of its last error.
	FaultText(ctx context.Context) (string, error)

	SetSmoothing(ctx context.Context, axes Mask, v [NumAxes]float64) error
	SetAcceleration(ctx context.Context, axes Mask, v Counts) error

	// SetSpeed sets the slew speed of every axis, counts per second.
	SetSpeed(ctx context.Context, v Speeds) error

	// SetAbsolute and SetRelative load a target for every axis; nothing
	// moves until Begin.
	SetAbsolute(ctx context.Context, target Counts) error
	SetRelative(ctx context.Context, delta Counts) error

	// Jog loads a constant-velocity move, counts per second, signed.
	Jog(ctx context.Context, speed Counts) error

	// Begin starts the loaded move on the masked axes only.
	Begin(ctx context.Context, axes Mask) error

	// WaitMotionComplete blocks until every masked axis has stopped.
	WaitMotionComplete(ctx context.Context, axes Mask) error

	// Position returns the achieved position of every axis.
	Position(ctx context.Context) (Counts, error)

	// DefinePosition declares the current position of the masked axes
	// without moving them.
	DefinePosition(ctx context.Context, axes Mask, v Counts) error

	// AtReverseLimit reports whether the axis is on its reverse limit switch.
	AtReverseLimit(ctx context.Context, axis Axis) (bool, error)

	// ForwardLimits returns the software forward limits of the linear axes.
	ForwardLimits(ctx context.Context) (Counts, error)

	Close() error
}
