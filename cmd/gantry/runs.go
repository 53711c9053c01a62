package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/photogrammetry/gantry/pkg/runlog"
)

type RunsCommand struct {
	Limit int    `short:"n" long:"limit" default:"20" description:"Number of runs to show"`
	Run   string `long:"run" description:"Show the visits of one run"`
}

func (c *RunsCommand) Execute(args []string) error {
	rig, err := loadRig()
	if err != nil {
		return err
	}
	if rig.RunLog == "" {
		return fmt.Errorf("no run_log set in %s", opts.Config)
	}
	store, err := runlog.Open(rig.RunLog)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if c.Run != "" {
		return c.showVisits(ctx, store)
	}

	runs, err := store.Runs(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded in " + rig.RunLog)
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status := successStyle.Render("ok")
		switch {
		case r.Error != "":
			status = warnStyle.Render(r.Error)
		case r.Finished.IsZero():
			status = dimStyle.Render("unfinished")
		}
		rows = append(rows, []string{
			r.ID[:8],
			r.Started.Format("2006-01-02 15:04"),
			r.Mode,
			r.Label,
			fmt.Sprintf("%d/%d", r.Visited, r.Waypoints),
			fmt.Sprintf("%d", r.CaptureFailures),
			status,
		})
	}
	fmt.Println(renderTable([]string{"Run", "Started", "Mode", "Label", "Visited", "Failed", "Status"}, rows))
	return nil
}

func (c *RunsCommand) showVisits(ctx context.Context, store *runlog.Store) error {
	runs, err := store.Runs(ctx, -1)
	if err != nil {
		return err
	}
	id := ""
	for _, r := range runs {
		if len(c.Run) <= len(r.ID) && r.ID[:len(c.Run)] == c.Run {
			id = r.ID
			break
		}
	}
	if id == "" {
		return fmt.Errorf("no run %q", c.Run)
	}
	visits, err := store.Visits(ctx, id)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(visits))
	for _, v := range visits {
		p := v.Physical
		outcome := fmt.Sprintf("%d file(s)", len(v.Files))
		if v.CaptureErr != "" {
			outcome = warnStyle.Render(v.CaptureErr)
		}
		slip := ""
		if v.Slip > 0 {
			slip = v.Slip.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", v.Index),
			fmt.Sprintf("%.1f, %.1f, %.1f", p[0], p[1], p[2]),
			fmt.Sprintf("%.1f, %.1f", p[3], p[4]),
			outcome,
			slip,
		})
	}
	fmt.Println(renderTable([]string{"#", "x, y, z (mm)", "phi, theta (deg)", "Capture", "Slip"}, rows))
	return nil
}

func renderTable(headers []string, rows [][]string) string {
	headStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			return cellStyle
		}).
		Render()
}
