package gantry

import (
	"context"
	"fmt"
	"sync"
)

// SimCall is one command received by a SimLink.
type SimCall struct {
	Name string
	Mask Mask
	Args Counts
}

// SimLink is an in-memory gantry. Moves complete instantly; homing jogs land
// on a reverse limit switch. It records every call, and named calls can be
// made to fail to exercise fault handling.
type SimLink struct {
	mu sync.Mutex

	pos      Counts
	atLimit  [NumAxes]bool
	limits   Counts
	enabled  bool
	closed   bool
	pending  Counts
	mode     string
	calls    []SimCall
	fail     map[string]error
	faultMsg string
}

// NewSimLink returns a simulated gantry at pos with the given forward limits.
func NewSimLink(pos, forwardLimits Counts) *SimLink {
	return &SimLink{pos: pos, limits: forwardLimits, fail: map[string]error{}}
}

// FailOn makes every later call named name return err. A nil err clears it.
func (s *SimLink) FailOn(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, name)
		return
	}
	s.fail[name] = err
}

// SetAtLimit places an axis on (or off) its reverse limit switch.
func (s *SimLink) SetAtLimit(a Axis, at bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atLimit[a] = at
}

// Calls returns every recorded call.
func (s *SimLink) Calls() []SimCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsNamed returns the recorded calls with the given name.
func (s *SimLink) CallsNamed(name string) []SimCall {
	var out []SimCall
	for _, c := range s.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Enabled reports whether the drive is powered.
func (s *SimLink) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Closed reports whether Close was called.
func (s *SimLink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// HardwarePosition returns the simulated physical position.
func (s *SimLink) HardwarePosition() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *SimLink) record(name string, mask Mask, args Counts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, SimCall{Name: name, Mask: mask, Args: args})
	if s.closed && name != "Close" {
		return fmt.Errorf("sim: link closed")
	}
	if err := s.fail[name]; err != nil {
		s.faultMsg = err.Error()
		return err
	}
	return nil
}

func (s *SimLink) Enable(ctx context.Context) error {
	if err := s.record("Enable", 0, Counts{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return nil
}

func (s *SimLink) Disable(ctx context.Context) error {
	if err := s.record("Disable", 0, Counts{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	return nil
}

func (s *SimLink) Stop(ctx context.Context) error {
	return s.record("Stop", 0, Counts{})
}

func (s *SimLink) FaultText(ctx context.Context) (string, error) {
	if err := s.record("FaultText", 0, Counts{}); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faultMsg, nil
}

func (s *SimLink) SetSmoothing(ctx context.Context, axes Mask, v [NumAxes]float64) error {
	var args Counts
	for i := range v {
		args[i] = int(v[i])
	}
	return s.record("SetSmoothing", axes, args)
}

func (s *SimLink) SetAcceleration(ctx context.Context, axes Mask, v Counts) error {
	return s.record("SetAcceleration", axes, v)
}

func (s *SimLink) SetSpeed(ctx context.Context, v Speeds) error {
	var args Counts
	for i := range v {
		args[i] = int(v[i])
	}
	return s.record("SetSpeed", 0, args)
}

func (s *SimLink) load(name string, v Counts) error {
	if err := s.record(name, 0, v); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending, s.mode = v, name
	s.mu.Unlock()
	return nil
}

func (s *SimLink) SetAbsolute(ctx context.Context, target Counts) error {
	return s.load("SetAbsolute", target)
}

func (s *SimLink) SetRelative(ctx context.Context, delta Counts) error {
	return s.load("SetRelative", delta)
}

func (s *SimLink) Jog(ctx context.Context, speed Counts) error {
	return s.load("Jog", speed)
}

func (s *SimLink) Begin(ctx context.Context, axes Mask) error {
	if err := s.record("Begin", axes, Counts{}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		s.faultMsg = "Motor off"
		return fmt.Errorf("sim: begin with drive disabled")
	}
	for _, a := range axes.Axes() {
		if s.atLimit[a] && s.mode == "Jog" && s.pending[a] < 0 {
			s.faultMsg = "Begin not valid due to limit switch"
			return fmt.Errorf("sim: axis %s already on limit", a)
		}
		switch s.mode {
		case "SetAbsolute":
			s.pos[a] = s.pending[a]
		case "SetRelative":
			s.pos[a] += s.pending[a]
		case "Jog":
			// Lands somewhere below the switch position.
			s.pos[a] = -1000 - 37*int(a)
			s.atLimit[a] = true
			continue
		}
		s.atLimit[a] = false
	}
	return nil
}

func (s *SimLink) WaitMotionComplete(ctx context.Context, axes Mask) error {
	return s.record("WaitMotionComplete", axes, Counts{})
}

func (s *SimLink) Position(ctx context.Context) (Counts, error) {
	if err := s.record("Position", 0, Counts{}); err != nil {
		return Counts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

func (s *SimLink) DefinePosition(ctx context.Context, axes Mask, v Counts) error {
	if err := s.record("DefinePosition", axes, v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range axes.Axes() {
		s.pos[a] = v[a]
	}
	return nil
}

func (s *SimLink) AtReverseLimit(ctx context.Context, axis Axis) (bool, error) {
	if err := s.record("AtReverseLimit", MaskOf(axis), Counts{}); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atLimit[axis], nil
}

func (s *SimLink) ForwardLimits(ctx context.Context) (Counts, error) {
	if err := s.record("ForwardLimits", 0, Counts{}); err != nil {
		return Counts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits, nil
}

func (s *SimLink) Close() error {
	if err := s.record("Close", 0, Counts{}); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
