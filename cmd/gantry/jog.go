package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/photogrammetry/gantry/pkg/config"
	"github.com/photogrammetry/gantry/pkg/gantry"
)

type JogCommand struct {
	Step float64 `long:"step" default:"10" description:"Initial step, mm or degrees"`
}

func (c *JogCommand) Execute(args []string) error {
	return runJog(c.Step, false)
}

// OriginCommand jogs pan and tilt only and stores the result as their zero.
type OriginCommand struct {
	Step float64 `long:"step" default:"1" description:"Initial step, degrees"`
}

func (c *OriginCommand) Execute(args []string) error {
	return runJog(c.Step, true)
}

var jogSteps = []float64{0.1, 1, 10, 50, 100}

// jogKeys maps keys to an axis and a direction.
var jogKeys = map[string]struct {
	axis gantry.Axis
	dir  float64
}{
	"right": {gantry.X, 1}, "left": {gantry.X, -1},
	"up": {gantry.Y, 1}, "down": {gantry.Y, -1},
	"pgup": {gantry.Z, 1}, "pgdown": {gantry.Z, -1},
	"d": {gantry.Phi, 1}, "a": {gantry.Phi, -1},
	"w": {gantry.Theta, 1}, "s": {gantry.Theta, -1},
}

type jogModel struct {
	ctx        context.Context
	ctrl       *gantry.Controller
	speed      gantry.Speeds
	step       float64
	rotateOnly bool
	pose       gantry.Counts
	physical   [gantry.NumAxes]float64
	status     string
	err        error
	quitting   bool
	save       bool
}

// movedMsg carries the pose read back after a move, so View never touches
// the controller while a move is in flight.
type movedMsg struct {
	pose     gantry.Counts
	physical [gantry.NumAxes]float64
	err      error
}

func (m jogModel) move(a gantry.Axis, dir float64) tea.Cmd {
	var delta [gantry.NumAxes]float64
	delta[a] = dir * m.step
	return func() tea.Msg {
		err := m.ctrl.MoveRelative(m.ctx, delta, m.speed)
		return movedMsg{pose: m.ctrl.Pose(), physical: m.ctrl.PosePhysical(), err: err}
	}
}

func (m jogModel) Init() tea.Cmd {
	return nil
}

func (m jogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.status != "" {
			// One move at a time; keys wait until it completes.
			return m, nil
		}
		key := msg.String()
		switch key {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if m.rotateOnly {
				m.save = true
				m.quitting = true
				return m, tea.Quit
			}
		case "+", "=":
			m.step = nextStep(m.step, 1)
		case "-":
			m.step = nextStep(m.step, -1)
		}
		if j, ok := jogKeys[key]; ok {
			if m.rotateOnly && j.axis != gantry.Phi && j.axis != gantry.Theta {
				return m, nil
			}
			m.status = fmt.Sprintf("moving %s by %+g %s", j.axis, j.dir*m.step, j.axis.Unit())
			return m, m.move(j.axis, j.dir)
		}

	case movedMsg:
		m.status = ""
		m.pose, m.physical = msg.pose, msg.physical
		m.err = msg.err
		if msg.err != nil {
			// The controller disabled the drive; nothing more can move.
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// nextStep returns the next larger (dir > 0) or smaller step preset.
func nextStep(cur float64, dir int) float64 {
	i := sort.SearchFloat64s(jogSteps, cur)
	if dir > 0 {
		if i < len(jogSteps) && jogSteps[i] == cur {
			i++
		}
		return jogSteps[min(i, len(jogSteps)-1)]
	}
	return jogSteps[max(i-1, 0)]
}

func (m jogModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	title := "Gantry jog"
	if m.rotateOnly {
		title = "Set pan/tilt origin"
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString(fmt.Sprintf("  step %g\n\n", m.step))

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	axisStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	p, pose := m.physical, m.pose
	var rows [][]string
	for _, a := range gantry.AllAxes() {
		if m.rotateOnly && a != gantry.Phi && a != gantry.Theta {
			continue
		}
		rows = append(rows, []string{a.String(), fmt.Sprintf("%.2f %s", p[a], a.Unit()), fmt.Sprintf("%d", pose[a])})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Axis", "Position", "Counts").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
			}
			if col == 0 {
				return axisStyle
			}
			return cellStyle
		})
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")

	if m.status != "" {
		sb.WriteString(warnStyle.Render(m.status))
		sb.WriteString("\n")
	}
	help := "a/d pan  w/s tilt  +/- step  "
	if m.rotateOnly {
		help += "enter set origin  q quit"
	} else {
		help = "←/→ x  ↑/↓ y  pgup/pgdn z  " + help + "q quit"
	}
	sb.WriteString(dimStyle.Render(help))
	return sb.String()
}

func runJog(step float64, rotateOnly bool) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}
	return withController(rig, false, func(ctx context.Context, ctrl *gantry.Controller) error {
		return jog(ctx, rig, ctrl, step, rotateOnly)
	})
}

func jog(ctx context.Context, rig *config.Rig, ctrl *gantry.Controller, step float64, rotateOnly bool) error {
	// Log lines would tear the display.
	setLoggers(nil)

	m := jogModel{
		ctx:        ctx,
		ctrl:       ctrl,
		speed:      rig.Speeds.Move,
		step:       step,
		rotateOnly: rotateOnly,
		pose:       ctrl.Pose(),
		physical:   ctrl.PosePhysical(),
	}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	fm := final.(jogModel)
	if fm.err != nil {
		return fm.err
	}
	if fm.save {
		if err := ctrl.SetRotationOrigin(ctx); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Pan and tilt origin set."))
	}
	fmt.Println("Position: " + formatPose(ctrl))
	return nil
}
