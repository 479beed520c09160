// Package report renders a run summary for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hqta1110/video-pipeline/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusColors = map[types.StageStatus]lipgloss.Color{
		types.StatusOK:       lipgloss.Color("46"),
		types.StatusUpToDate: lipgloss.Color("69"),
		types.StatusFailed:   lipgloss.Color("196"),
		types.StatusSkipped:  lipgloss.Color("241"),
	}
)

// Render formats sum as a table of stages followed by any stage errors.
func Render(sum *types.RunSummary) string {
	if sum == nil {
		return ""
	}

	rows := make([][]string, 0, len(sum.Stages))
	for _, s := range sum.Stages {
		rows = append(rows, []string{
			string(s.Stage),
			string(s.Status),
			scenes(s),
			duration(s.Duration),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers("STAGE", "STATUS", "SCENES", "TIME").
		Rows(rows...).
		StyleFunc(styleFor(sum.Stages))

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("run %s (%s)", sum.RunID, sum.Selector)))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")
	for _, s := range sum.Stages {
		if s.Err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("%s: %v", s.Stage, s.Err)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// styleFor styles table cells. The header is row 0 and stage i is row i+1.
func styleFor(stages []types.StageReport) func(row, col int) lipgloss.Style {
	return func(row, col int) lipgloss.Style {
		if row == 0 {
			return headerStyle
		}
		if col == 1 && row <= len(stages) {
			if c, ok := statusColors[stages[row-1].Status]; ok {
				return cellStyle.Foreground(c)
			}
		}
		return cellStyle
	}
}

func scenes(s types.StageReport) string {
	if s.ScenesOK == 0 && s.ScenesFailed == 0 {
		return "-"
	}
	if s.ScenesFailed == 0 {
		return fmt.Sprintf("%d", s.ScenesOK)
	}
	return fmt.Sprintf("%d ok / %d failed", s.ScenesOK, s.ScenesFailed)
}

func duration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}
