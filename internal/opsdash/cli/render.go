package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(10)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	markStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true).Padding(0, 1)
)

// field is one labelled line of a detail view.
type field struct {
	label string
	value string
}

func renderFields(w io.Writer, fields ...field) error {
	var b strings.Builder
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(f.label), f.value))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// renderTable prints rows under headers. Rows whose first cell is marked
// (non-empty) are highlighted.
func renderTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderColumn(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0 && row >= 0 && row < len(rows) && rows[row][0] != "":
				return markStyle
			default:
				return cellStyle
			}
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// ago renders a past instant relative to now, at minute resolution.
func ago(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format(time.DateOnly)
	}
}

// until renders the time left before d runs out.
func until(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	return "in " + d.Truncate(time.Second).String()
}
