package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/photogrammetry/gantry/pkg/gantry"
	"github.com/photogrammetry/gantry/pkg/scan"
)

const (
	headerHeight = 4 // title, progress bar, pose, blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	barWidth     = 40
)

// Axis colors for the position chart.
var axisColors = map[gantry.Axis]string{
	gantry.X: "196", // red
	gantry.Y: "46",  // green
	gantry.Z: "51",  // cyan
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type scanModel struct {
	runner   *scan.Runner
	plan     *scan.Plan
	cancel   context.CancelFunc
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	last     scan.Event
	failures int
	slips    int
	stopping bool
	done     bool
	err      error
}

// Messages from the runner
type eventMsg scan.Event
type logMsg string
type runDoneMsg struct{ err error }

func waitForEvent(r *scan.Runner) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-r.Events())
	}
}

func waitForLog(r *scan.Runner) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-r.Logs())
	}
}

func newScanModel(r *scan.Runner, plan *scan.Plan, summary scan.Summary, cancel context.CancelFunc) scanModel {
	lo, hi := 0.0, 1.0
	for _, a := range gantry.LinearAxes() {
		if rng := summary.Axes[a]; rng.Used {
			lo = min(lo, rng.Min)
			hi = max(hi, rng.Max)
		}
	}
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(lo, hi),
	)
	for _, a := range gantry.LinearAxes() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(axisColors[a]))
		chart.SetDataSetStyles(a.String(), runes.ThinLineStyle, style)
	}
	return scanModel{
		runner: r,
		plan:   plan,
		cancel: cancel,
		chart:  &chart,
	}
}

func (m *scanModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *scanModel) resizeChart() {
	w := max(40, m.width-borderSize-2)
	h := max(10, m.height-headerHeight-legendHeight-footerHeight-borderSize)
	m.chart.Resize(w, h)
}

func (m scanModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.runner),
		waitForLog(m.runner),
	)
}

func (m scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if !m.stopping {
				m.stopping = true
				m.addLog("stopping after the current waypoint...")
				m.cancel()
			}
		}
		return m, nil

	case eventMsg:
		e := scan.Event(msg)
		m.last = e
		switch e.Kind {
		case scan.EventMoved, scan.EventHomed:
			for _, a := range gantry.LinearAxes() {
				m.chart.PushDataSet(a.String(), e.Physical[a])
			}
			m.chart.DrawAll()
		case scan.EventCaptureFailed:
			m.failures++
		case scan.EventSlip:
			m.slips++
		}
		return m, waitForEvent(m.runner)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.runner)

	case runDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m scanModel) progress() string {
	total := m.plan.Len()
	n := 0
	if m.last.Kind == scan.EventCaptured || m.last.Kind == scan.EventCaptureFailed || m.last.Kind == scan.EventDone {
		n = m.last.Index + 1
		if m.last.Kind == scan.EventDone {
			n = m.last.Index
		}
	} else if m.last.Kind != scan.EventHomed {
		n = m.last.Index
	}
	filled := 0
	if total > 0 {
		filled = barWidth * n / total
	}
	bar := barStyle.Render(strings.Repeat("█", filled)) + statusStyle.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %d/%d  capture failures %d  slips %d", bar, n, total, m.failures, m.slips)
}

func (m scanModel) View() string {
	if m.done {
		return ""
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Gantry " + m.plan.Mode.String() + " scan"))
	if m.stopping {
		sb.WriteString(errStyle.Render("  stopping"))
	}
	sb.WriteString("\n")
	sb.WriteString(m.progress())
	sb.WriteString("\n")
	p := m.last.Physical
	sb.WriteString(statusStyle.Render(fmt.Sprintf("x %.1f  y %.1f  z %.1f mm   phi %.1f  theta %.1f deg",
		p[gantry.X], p[gantry.Y], p[gantry.Z], p[gantry.Phi], p[gantry.Theta])))
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(20, m.width-4))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to stop after the current waypoint")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, a := range gantry.LinearAxes() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(axisColors[a])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+a.String()+" (mm)")
	}
	return strings.Join(items, "  ")
}
