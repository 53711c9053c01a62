package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.bug.st/serial"

	"github.com/photogrammetry/gantry/pkg/capture"
	"github.com/photogrammetry/gantry/pkg/config"
	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/gantry/servo"
)

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Gantry Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	rig, err := config.LoadRigFrom(opts.Config)
	if errors.Is(err, fs.ErrNotExist) {
		rig = config.Default()
	} else if err != nil {
		return err
	}

	// Step 1: motion hardware
	if err := chooseLink(rig); err != nil {
		return err
	}
	if rig.Link.Kind == config.LinkServo {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Calibrating servo travel ━━━"))
		fmt.Println()
		if err := calibrateServos(rig); err != nil {
			return err
		}
	}

	// Step 2: capture
	fmt.Println()
	if err := chooseCapture(rig); err != nil {
		return err
	}

	if err := rig.Validate(); err != nil {
		return err
	}
	if err := rig.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Home the gantry with: " + headerStyle.Render("gantry home"))
	return nil
}

// listPorts returns serial ports, skipping Bluetooth ports on macOS.
func listPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range ports {
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func chooseLink(rig *config.Rig) error {
	kind := rig.Link.Kind
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Motion hardware").
				Options(
					huh.NewOption("Galil DMC controller (Ethernet or RS-232)", config.LinkGalil),
					huh.NewOption("Feetech servo bench rig", config.LinkServo),
					huh.NewOption("Simulated gantry", config.LinkSim),
				).
				Value(&kind),
		),
	).Run()
	if err != nil {
		return err
	}
	rig.Link.Kind = kind

	ports, err := listPorts()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
	}

	switch kind {
	case config.LinkGalil:
		addr := rig.Link.Address
		input := huh.NewInput().
			Title("Controller address").
			Description("host[:port] for Ethernet, or a serial device").
			Value(&addr).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("address is required")
				}
				return nil
			})
		if len(ports) > 0 {
			input = input.Suggestions(ports)
		}
		if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
			return err
		}
		rig.Link.Address = strings.TrimSpace(addr)

	case config.LinkServo:
		if len(ports) == 0 {
			return errors.New("no serial ports found; connect the servo bus adapter")
		}
		port := rig.Link.Address
		options := make([]huh.Option[string], len(ports))
		for i, p := range ports {
			options[i] = huh.NewOption(p, p)
		}
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Servo bus port").
					Options(options...).
					Value(&port),
			),
		).Run()
		if err != nil {
			return err
		}
		rig.Link.Address = port
		if len(rig.Link.Servos) == 0 {
			rig.Link.Servos = servo.DefaultCalibration()
		}
	}
	return nil
}

func calibrateServos(rig *config.Rig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	bus, err := servo.OpenBus(ctx, rig.Link.Address, rig.Link.Servos)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to servos: %w", err)
	}
	defer bus.Close()

	// Disable torque so the axes can be moved by hand
	if err := bus.DisableAll(context.Background()); err != nil {
		return err
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each axis to both ends of its travel.")
	fmt.Println()

	model, err := newCalibrationModel(bus, rig.Link.Servos)
	if err != nil {
		return err
	}
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return fmt.Errorf("running calibration: %w", err)
	}
	cm := final.(calibrationModel)
	if cm.aborted {
		return errors.New("calibration aborted")
	}

	cal := make(servo.Calibration, len(rig.Link.Servos))
	for _, a := range gantry.AllAxes() {
		ac, _ := rig.Link.Servos.Axis(a)
		ac.RangeMin, ac.RangeMax = cm.minPositions[ac.ID], cm.maxPositions[ac.ID]
		cal[a.String()] = ac
	}
	rig.Link.Servos = cal
	fmt.Println("Servo travel calibrated.")
	return nil
}

func chooseCapture(rig *config.Rig) error {
	kind := rig.Capture.Kind
	dir := rig.Capture.OutputDir
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Image capture").
				Options(
					huh.NewOption("USB cameras through gphoto2", config.CaptureGphoto2),
					huh.NewOption("Remote trigger command (e.g. ssh)", config.CaptureRemote),
					huh.NewOption("None (camera on its own interval timer)", config.CaptureNone),
				).
				Value(&kind),
			huh.NewInput().
				Title("Image directory").
				Value(&dir),
		),
	).Run()
	if err != nil {
		return err
	}
	rig.Capture.Kind = kind
	rig.Capture.OutputDir = dir

	switch kind {
	case config.CaptureGphoto2:
		build := !config.Exists(rig.Capture.CameraFile)
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Camera file").
					Description("One \"<number> <serial>\" line per camera").
					Value(&rig.Capture.CameraFile),
				huh.NewConfirm().
					Title("Build the camera file from the connected cameras?").
					Value(&build),
			),
		).Run()
		if err != nil {
			return err
		}
		if build {
			g := capture.NewGphoto2(rig.Capture.CameraFile, rig.Capture.OutputDir)
			cams, err := g.BuildCameraFile(context.Background())
			if err != nil {
				return err
			}
			for _, cam := range cams {
				fmt.Printf("  %s\n", cam)
			}
		}

	case config.CaptureRemote:
		cmd := strings.Join(rig.Capture.RemoteCommand, " ")
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Trigger command").
					Description("{label} is replaced with the image label").
					Value(&cmd),
			),
		).Run()
		if err != nil {
			return err
		}
		rig.Capture.RemoteCommand = strings.Fields(cmd)
	}
	return nil
}

type PortsCommand struct{}

func (c *PortsCommand) Execute(args []string) error {
	ports, err := listPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

// Calibration TUI model
type calibrationModel struct {
	bus          servo.Bus
	cal          servo.Calibration
	curPositions map[int]int
	minPositions map[int]int
	maxPositions map[int]int
	aborted      bool
	quitting     bool
}

type tickMsg time.Time

func newCalibrationModel(bus servo.Bus, cal servo.Calibration) (calibrationModel, error) {
	pos, err := bus.Positions(context.Background())
	if err != nil {
		return calibrationModel{}, err
	}
	m := calibrationModel{
		bus:          bus,
		cal:          cal,
		curPositions: make(map[int]int),
		minPositions: make(map[int]int),
		maxPositions: make(map[int]int),
	}
	for id, p := range pos {
		m.curPositions[id], m.minPositions[id], m.maxPositions[id] = p, p, p
	}
	return m, nil
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.quitting = true
			return m, tea.Quit
		case "q", "ctrl+c":
			m.quitting = true
			m.aborted = true
			return m, tea.Quit
		}

	case tickMsg:
		pos, err := m.bus.Positions(context.Background())
		if err == nil {
			for id, p := range pos {
				m.curPositions[id] = p
				m.minPositions[id] = min(m.minPositions[id], p)
				m.maxPositions[id] = max(m.maxPositions[id], p)
			}
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	// Table styles
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableAxisStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	axes := gantry.AllAxes()
	rows := make([][]string, 0, len(axes))
	ranges := make([]int, 0, len(axes))
	for _, a := range axes {
		ac, _ := m.cal.Axis(a)
		id := ac.ID
		span := m.maxPositions[id] - m.minPositions[id]
		ranges = append(ranges, span)
		rows = append(rows, []string{
			a.String(),
			fmt.Sprintf("%d", id),
			fmt.Sprintf("%d", m.curPositions[id]),
			fmt.Sprintf("%d", m.minPositions[id]),
			fmt.Sprintf("%d", m.maxPositions[id]),
			fmt.Sprintf("%d", span),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Axis", "Servo", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableAxisStyle
			case 2:
				return tableCurrentStyle
			case 5:
				if row >= 0 && row < len(ranges) && ranges[row] > 500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done, q to abort"))

	return sb.String()
}
