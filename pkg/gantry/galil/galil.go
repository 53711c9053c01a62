// Package galil drives a Galil DMC motion controller over its ASCII command
// protocol. Commands are terminated with a carriage return; the controller
// answers with any data followed by ':' on success or a lone '?' when the
// command was rejected.
package galil

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/photogrammetry/gantry/pkg/gantry"
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

const (
	// DefaultPort is the controller's telnet-style command port.
	DefaultPort = "23"

	// DefaultBaudRate is the RS-232 rate the DMC ships with.
	DefaultBaudRate = 115200

	defaultTimeout = 5 * time.Second
	defaultPoll    = 50 * time.Millisecond

	// Longest full-travel move at the slowest scan speed is about 150 s.
	defaultMotionTimeout = 5 * time.Minute
)

// CommandError is a command the controller rejected with '?'.
type CommandError struct {
	Command string
	Code    string
	Text    string
}

func (e *CommandError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("galil: %q rejected", e.Command)
	}
	return fmt.Sprintf("galil: %q rejected: %s", e.Command, e.Text)
}

var errReadTimeout = errors.New("galil: read timeout")

// Link is a gantry.Link backed by a Galil controller.
type Link struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	r    *bufio.Reader

	// Timeout bounds a single command when ctx carries no deadline.
	Timeout time.Duration

	// PollInterval is the motion-complete polling period.
	PollInterval time.Duration

	// MotionTimeout bounds WaitMotionComplete. Axes still moving after it
	// are reported as a failure.
	MotionTimeout time.Duration

	lastError string
}

var _ gantry.Link = (*Link)(nil)

// New wraps an established connection.
func New(conn io.ReadWriteCloser) *Link {
	return &Link{
		conn:         conn,
		r:            bufio.NewReader(conn),
		Timeout:       defaultTimeout,
		PollInterval:  defaultPoll,
		MotionTimeout: defaultMotionTimeout,
	}
}

// Dial connects to a controller. Addresses naming a serial device
// ("/dev/ttyS0", "COM3") open the serial port; anything else is treated as
// host[:port] over TCP.
func Dial(ctx context.Context, address string) (*Link, error) {
	if isSerial(address) {
		return OpenSerial(address, DefaultBaudRate)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	Logf("connected to galil at %s", address)
	return New(conn), nil
}

// OpenSerial opens the controller's RS-232 port.
func OpenSerial(port string, baud int) (*Link, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	if err := p.SetReadTimeout(defaultTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	Logf("connected to galil on %s at %d baud", port, baud)
	return New(serialConn{p}), nil
}

func isSerial(address string) bool {
	return strings.HasPrefix(address, "/dev/") || strings.HasPrefix(strings.ToUpper(address), "COM")
}

// serialConn reports a read timeout as an error; serial.Port returns 0, nil.
type serialConn struct {
	serial.Port
}

func (c serialConn) Read(p []byte) (int, error) {
	n, err := c.Port.Read(p)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Command sends one command and returns its response with the trailing
// prompt removed.
func (l *Link) Command(ctx context.Context, cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.command(ctx, cmd)
}

func (l *Link) command(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d, ok := l.conn.(deadliner); ok {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(l.Timeout)
		}
		if err := d.SetDeadline(deadline); err != nil {
			return "", fmt.Errorf("galil: set deadline for %q: %w", cmd, err)
		}
		stop := context.AfterFunc(ctx, func() { d.SetDeadline(time.Unix(1, 0)) })
		defer stop()
	}

	if _, err := io.WriteString(l.conn, cmd+"\r"); err != nil {
		return "", fmt.Errorf("galil: write %q: %w", cmd, err)
	}

	var sb strings.Builder
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return "", cerr
			}
			return "", fmt.Errorf("galil: read reply to %q: %w", cmd, err)
		}
		switch b {
		case ':':
			return strings.TrimSpace(sb.String()), nil
		case '?':
			return "", l.rejected(ctx, cmd)
		default:
			sb.WriteByte(b)
		}
	}
}

// rejected asks the controller why cmd failed.
func (l *Link) rejected(ctx context.Context, cmd string) error {
	ce := &CommandError{Command: cmd}
	if cmd == "TC1" {
		return ce
	}
	text, err := l.command(ctx, "TC1")
	if err != nil {
		Logf("galil: read error code after %q: %v", cmd, err)
		return ce
	}
	ce.Code, ce.Text = splitTC(text)
	l.lastError = text
	return ce
}

// splitTC splits "1 Unrecognized command" into its code and message.
func splitTC(s string) (string, string) {
	code, text, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return code, ""
	}
	return code, strings.TrimSpace(text)
}

// fields renders one comma-separated argument per axis. Axes outside the
// mask are left empty so the controller keeps their setting.
func fields(axes gantry.Mask, v [gantry.NumAxes]string) string {
	parts := make([]string, gantry.NumAxes)
	last := -1
	for _, a := range gantry.AllAxes() {
		if axes.Has(a) {
			parts[a] = v[a]
			last = int(a)
		}
	}
	return strings.Join(parts[:last+1], ",")
}

func countFields(axes gantry.Mask, c gantry.Counts) string {
	var s [gantry.NumAxes]string
	for i, v := range c {
		s[i] = strconv.Itoa(v)
	}
	return fields(axes, s)
}

var allAxes = gantry.MaskOf(gantry.AllAxes()...)

func (l *Link) exec(ctx context.Context, cmd string) error {
	_, err := l.Command(ctx, cmd)
	return err
}

func (l *Link) Enable(ctx context.Context) error  { return l.exec(ctx, "SH") }
func (l *Link) Disable(ctx context.Context) error { return l.exec(ctx, "MO") }
func (l *Link) Stop(ctx context.Context) error    { return l.exec(ctx, "ST") }

// FaultText returns the controller's last error message. If the error that
// triggered the fault was already read back it is returned as is.
func (l *Link) FaultText(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastError != "" {
		text := l.lastError
		l.lastError = ""
		return text, nil
	}
	text, err := l.command(ctx, "TC1")
	if err != nil {
		return "", err
	}
	return text, nil
}

func (l *Link) SetSmoothing(ctx context.Context, axes gantry.Mask, v [gantry.NumAxes]float64) error {
	var s [gantry.NumAxes]string
	for i, x := range v {
		s[i] = strconv.FormatFloat(x, 'f', -1, 64)
	}
	return l.exec(ctx, "KS "+fields(axes, s))
}

func (l *Link) SetAcceleration(ctx context.Context, axes gantry.Mask, v gantry.Counts) error {
	return l.exec(ctx, "AC "+countFields(axes, v))
}

func (l *Link) SetSpeed(ctx context.Context, v gantry.Speeds) error {
	var c gantry.Counts
	for i, x := range v {
		c[i] = int(x)
	}
	return l.exec(ctx, "SP "+countFields(allAxes, c))
}

func (l *Link) SetAbsolute(ctx context.Context, target gantry.Counts) error {
	return l.exec(ctx, "PA "+countFields(allAxes, target))
}

func (l *Link) SetRelative(ctx context.Context, delta gantry.Counts) error {
	return l.exec(ctx, "PR "+countFields(allAxes, delta))
}

func (l *Link) Jog(ctx context.Context, speed gantry.Counts) error {
	return l.exec(ctx, "JG "+countFields(allAxes, speed))
}

func (l *Link) Begin(ctx context.Context, axes gantry.Mask) error {
	if axes.Empty() {
		return nil
	}
	return l.exec(ctx, "BG "+axes.String())
}

// WaitMotionComplete polls each axis' motion flag until all have stopped.
func (l *Link) WaitMotionComplete(ctx context.Context, axes gantry.Mask) error {
	pending := axes.Axes()
	deadline := time.Now().Add(l.MotionTimeout)
	for len(pending) > 0 {
		var still []gantry.Axis
		for _, a := range pending {
			v, err := l.query(ctx, "MG _BG"+a.Letter())
			if err != nil {
				return err
			}
			if v != 0 {
				still = append(still, a)
			}
		}
		pending = still
		if len(pending) == 0 {
			break
		}
		if l.MotionTimeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("galil: axes %s still moving after %s", gantry.MaskOf(pending...), l.MotionTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.PollInterval):
		}
	}
	return nil
}

// Position reads the reference position of every axis.
func (l *Link) Position(ctx context.Context) (gantry.Counts, error) {
	var c gantry.Counts
	vals, err := l.queryList(ctx, "RP")
	if err != nil {
		return c, err
	}
	if len(vals) != gantry.NumAxes {
		return c, fmt.Errorf("galil: RP returned %d values", len(vals))
	}
	for i, v := range vals {
		c[i] = int(v)
	}
	return c, nil
}

func (l *Link) DefinePosition(ctx context.Context, axes gantry.Mask, v gantry.Counts) error {
	if axes.Empty() {
		return nil
	}
	return l.exec(ctx, "DP "+countFields(axes, v))
}

// AtReverseLimit reads the reverse limit switch. The _LR operand is 0 while
// the switch is tripped.
func (l *Link) AtReverseLimit(ctx context.Context, axis gantry.Axis) (bool, error) {
	v, err := l.query(ctx, "MG _LR"+axis.Letter())
	if err != nil {
		return false, err
	}
	return v == 0, nil
}

// ForwardLimits reads the forward software limits of the linear axes.
func (l *Link) ForwardLimits(ctx context.Context) (gantry.Counts, error) {
	var c gantry.Counts
	vals, err := l.queryList(ctx, "FL ?,?,?")
	if err != nil {
		return c, err
	}
	if len(vals) != 3 {
		return c, fmt.Errorf("galil: FL returned %d values", len(vals))
	}
	for i, v := range vals {
		c[i] = int(v)
	}
	return c, nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Close()
}

func (l *Link) query(ctx context.Context, cmd string) (float64, error) {
	resp, err := l.Command(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("galil: %q: bad reply %q", cmd, resp)
	}
	return v, nil
}

func (l *Link) queryList(ctx context.Context, cmd string) ([]float64, error) {
	resp, err := l.Command(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, f := range strings.Split(resp, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("galil: %q: bad reply %q", cmd, resp)
		}
		out = append(out, v)
	}
	return out, nil
}
