package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"xframe/pkg/xframe"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	cellStyle = lipgloss.NewStyle()

	naStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Italic(true)

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// renderTable lays out rows as a fixed-width text table with a styled
// header, in the manner of a terminal result grid.
func renderTable(names []string, rows []xframe.Row) string {
	widths := make([]int, len(names))
	for i, n := range names {
		widths[i] = len(n)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(names))
		for c := range names {
			s := "NA"
			if c < len(row) && !row[c].IsNA() {
				s = row[c].String()
			}
			if len(s) > 40 {
				s = s[:37] + "..."
			}
			cells[r][c] = s
			if len(s) > widths[c] {
				widths[c] = len(s)
			}
		}
	}

	var b strings.Builder
	for c, n := range names {
		b.WriteString(headerStyle.Render(pad(n, widths[c])))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	sep := make([]string, len(names))
	for c := range names {
		sep[c] = strings.Repeat("-", widths[c])
	}
	b.WriteString(borderStyle.Render(strings.Join(sep, "  ")))
	b.WriteString("\n")

	for _, row := range cells {
		for c, s := range row {
			padded := pad(s, widths[c])
			if s == "NA" {
				b.WriteString(naStyle.Render(padded))
			} else {
				b.WriteString(cellStyle.Render(padded))
			}
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
