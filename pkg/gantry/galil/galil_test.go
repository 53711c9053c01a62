package galil

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photogrammetry/gantry/pkg/gantry"
)

func init() {
	SetLogger(nil)
}

// fakeDMC answers commands on the far end of a pipe. reply returns the data
// for a command, or ok=false to reject it with '?'.
type fakeDMC struct {
	mu       sync.Mutex
	received []string
	reply    func(cmd string) (data string, ok bool)
}

func (f *fakeDMC) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeDMC) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		cmd, err := r.ReadString('\r')
		if err != nil {
			return
		}
		cmd = strings.TrimSuffix(cmd, "\r")
		f.mu.Lock()
		f.received = append(f.received, cmd)
		f.mu.Unlock()

		data, ok := f.reply(cmd)
		if !ok {
			conn.Write([]byte("?"))
			continue
		}
		if data != "" {
			data = " " + data + "\r\n"
		}
		conn.Write([]byte(data + ":"))
	}
}

func newPair(t *testing.T, reply func(string) (string, bool)) (*Link, *fakeDMC) {
	t.Helper()
	client, server := net.Pipe()
	f := &fakeDMC{reply: reply}
	go f.serve(server)
	l := New(client)
	l.PollInterval = time.Millisecond
	t.Cleanup(func() {
		l.Close()
		server.Close()
	})
	return l, f
}

func okAll(string) (string, bool) { return "", true }

func TestCommandFormatting(t *testing.T) {
	t.Parallel()
	l, f := newPair(t, okAll)
	ctx := context.Background()

	require.NoError(t, l.SetSmoothing(ctx, gantry.MaskOf(gantry.Phi, gantry.Theta), [gantry.NumAxes]float64{3: 50, 4: 50}))
	require.NoError(t, l.SetAcceleration(ctx, gantry.MaskOf(gantry.Phi, gantry.Theta), gantry.Counts{3: 2048, 4: 1024}))
	require.NoError(t, l.SetSpeed(ctx, gantry.DefaultSpeeds))
	require.NoError(t, l.SetAbsolute(ctx, gantry.Counts{8985, 0, -12, 1, 2}))
	require.NoError(t, l.SetRelative(ctx, gantry.Counts{0, 5, 0, 0, 0}))
	require.NoError(t, l.Jog(ctx, gantry.Counts{0, -1000, -1000, 0, 0}))
	require.NoError(t, l.Begin(ctx, gantry.MaskOf(gantry.X, gantry.Theta)))
	require.NoError(t, l.Begin(ctx, 0))
	require.NoError(t, l.DefinePosition(ctx, gantry.MaskOf(gantry.Y), gantry.Counts{1: 0}))
	require.NoError(t, l.Enable(ctx))
	require.NoError(t, l.Stop(ctx))
	require.NoError(t, l.Disable(ctx))

	assert.Equal(t, []string{
		"KS ,,,50,50",
		"AC ,,,2048,1024",
		"SP 1000,1000,1000,250,250",
		"PA 8985,0,-12,1,2",
		"PR 0,5,0,0,0",
		"JG 0,-1000,-1000,0,0",
		"BG AE",
		"DP ,0",
		"SH",
		"ST",
		"MO",
	}, f.commands())
}

func TestQueries(t *testing.T) {
	t.Parallel()
	l, _ := newPair(t, func(cmd string) (string, bool) {
		switch cmd {
		case "RP":
			return "0000008985, 0000000000,-0000000012, 0000000001, 0000000002", true
		case "FL ?,?,?":
			return "0090000.0000, 0080000.0000,-0070000.0000", true
		case "MG _LRA":
			return "1.0000", true
		case "MG _LRB":
			return "0.0000", true
		}
		return "", true
	})
	ctx := context.Background()

	pos, err := l.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, gantry.Counts{8985, 0, -12, 1, 2}, pos)

	lim, err := l.ForwardLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, gantry.Counts{90000, 80000, -70000, 0, 0}, lim)

	at, err := l.AtReverseLimit(ctx, gantry.X)
	require.NoError(t, err)
	assert.False(t, at)
	at, err = l.AtReverseLimit(ctx, gantry.Y)
	require.NoError(t, err)
	assert.True(t, at)
}

func TestRejectedCommand(t *testing.T) {
	t.Parallel()
	l, f := newPair(t, func(cmd string) (string, bool) {
		switch cmd {
		case "BG A":
			return "", false
		case "TC1":
			return "22 Begin not possible due to Limit Switch", true
		}
		return "", true
	})
	ctx := context.Background()

	err := l.Begin(ctx, gantry.MaskOf(gantry.X))
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "BG A", ce.Command)
	assert.Equal(t, "22", ce.Code)
	assert.Equal(t, "Begin not possible due to Limit Switch", ce.Text)

	text, err := l.FaultText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "22 Begin not possible due to Limit Switch", text)
	assert.Equal(t, []string{"BG A", "TC1"}, f.commands(), "cached fault text is not queried twice")
}

func TestWaitMotionComplete(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	polls := map[string]int{}
	l, _ := newPair(t, func(cmd string) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		polls[cmd]++
		// A stops after the second poll, C after the fourth.
		switch {
		case cmd == "MG _BGA" && polls[cmd] < 2,
			cmd == "MG _BGC" && polls[cmd] < 4:
			return "1.0000", true
		}
		return "0.0000", true
	})

	require.NoError(t, l.WaitMotionComplete(context.Background(), gantry.MaskOf(gantry.X, gantry.Z)))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, polls["MG _BGA"])
	assert.Equal(t, 4, polls["MG _BGC"])
	assert.Zero(t, polls["MG _BGB"])
}

func TestWaitMotionComplete_Timeout(t *testing.T) {
	t.Parallel()
	l, _ := newPair(t, func(cmd string) (string, bool) { return "1.0000", true })
	l.MotionTimeout = 20 * time.Millisecond

	err := l.WaitMotionComplete(context.Background(), gantry.MaskOf(gantry.X, gantry.Y))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AB still moving")
}

func TestCommandTimeout(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		// Swallow the command and never answer.
		buf := make([]byte, 64)
		server.Read(buf)
	}()
	l := New(client)
	defer l.Close()
	l.Timeout = 20 * time.Millisecond

	_, err := l.Command(context.Background(), "TP")
	assert.Error(t, err)
}

func TestGantryController(t *testing.T) {
	t.Parallel()
	// A controller sitting at the origin; every axis off its limit switch.
	l, f := newPair(t, func(cmd string) (string, bool) {
		switch cmd {
		case "RP":
			return "8985, 0, 0, 0, 0", true
		case "MG _BGA":
			return "0.0000", true
		}
		return "", true
	})

	dir := t.TempDir()
	pose := dir + "/pose.txt"
	require.NoError(t, gantry.SavePose(pose, gantry.PoseRecord{}))

	err := gantry.WithController(context.Background(), l, gantry.Options{PoseFile: pose}, func(c *gantry.Controller) error {
		return c.MoveAbsolute(context.Background(), gantry.HoldAll().With(gantry.X, 100), gantry.DefaultSpeeds)
	})
	require.NoError(t, err)

	rec, err := gantry.LoadPose(pose)
	require.NoError(t, err)
	assert.Equal(t, gantry.Counts{8985, 0, 0, 0, 0}, rec.Pose)
	assert.Contains(t, f.commands(), "BG A")
	assert.Contains(t, f.commands(), "PA 8985,0,0,0,0")
}

func TestIsSerial(t *testing.T) {
	t.Parallel()
	assert.True(t, isSerial("/dev/ttyUSB0"))
	assert.True(t, isSerial("COM3"))
	assert.False(t, isSerial("192.168.0.42"))
	assert.False(t, isSerial("dmc.local:23"))
}

func TestGantryController_CancelDuringMove(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A reports moving for three polls; the caller gives up on the first.
	polls := 0
	l, f := newPair(t, func(cmd string) (string, bool) {
		switch cmd {
		case "RP":
			return "8985, 0, 0, 0, 0", true
		case "MG _BGA":
			polls++
			if polls == 1 {
				cancel()
			}
			if polls <= 3 {
				return "1.0000", true
			}
			return "0.0000", true
		}
		return "", true
	})

	pose := t.TempDir() + "/pose.txt"
	require.NoError(t, gantry.SavePose(pose, gantry.PoseRecord{}))

	err := gantry.WithController(context.Background(), l, gantry.Options{PoseFile: pose}, func(c *gantry.Controller) error {
		return c.MoveAbsolute(ctx, gantry.HoldAll().With(gantry.X, 100), gantry.DefaultSpeeds)
	})
	require.NoError(t, err)
	assert.Error(t, ctx.Err())

	cmds := f.commands()
	assert.NotContains(t, cmds, "ST")
	assert.NotContains(t, cmds, "MO")
	assert.Contains(t, cmds, "RP")

	rec, err := gantry.LoadPose(pose)
	require.NoError(t, err)
	assert.False(t, rec.Stale)
	assert.Equal(t, gantry.Counts{8985, 0, 0, 0, 0}, rec.Pose)
}
