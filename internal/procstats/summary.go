package procstats

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Paintersrp/simlaunch/internal/resources"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	runStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
)

var summaryColumns = []string{"LABEL", "PID", "EXIT", "WALL", "PEAK RSS", "CPU"}

// WriteSummary prints one row per child. Styling is applied only when color
// is set, so the output stays plain when redirected.
func WriteSummary(w io.Writer, name string, stats []ChildStats, now time.Time, color bool) error {
	rows := make([][]string, 0, len(stats))
	for _, st := range stats {
		exit := "running"
		if !st.Running {
			exit = fmt.Sprintf("%d", st.ExitCode)
		}
		rows = append(rows, []string{
			st.Label,
			fmt.Sprintf("%d", st.PID),
			exit,
			st.Wall(now).Round(time.Millisecond).String(),
			resources.FormatSize(st.PeakRSS),
			st.CPUTime.Round(time.Millisecond).String(),
		})
	}

	widths := make([]int, len(summaryColumns))
	for i, col := range summaryColumns {
		widths[i] = len(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	render := func(style lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return style.Render(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", render(headerStyle, fmt.Sprintf("[%s] simulation stats", name)))
	b.WriteString(render(headerStyle, padRow(summaryColumns, widths)))
	b.WriteByte('\n')
	for i, row := range rows {
		line := padRow(row, widths)
		st := stats[i]
		switch {
		case st.Running:
			line = render(runStyle, line)
		case st.ExitCode != 0:
			line = render(failedStyle, line)
		default:
			line = render(doneStyle, line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func padRow(cells []string, widths []int) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}
		parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
	}
	return strings.Join(parts, "  ")
}
