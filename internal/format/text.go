package format

import (
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kebairia/borgreport/internal/report"
)

// Text renders a plain text report with markdown tables.
type Text struct {
	Version string
}

var _ Formatter = Text{}

var (
	summaryHeaders = []string{
		"Repository", "Hostname", "Last archive", "Start",
		"Duration", "Source", "Δ Archive", "∑ Repository",
	}
	checkHeaders   = []string{"Repository", "Archive", "Duration", "Okay"}
	compactHeaders = []string{"Repository", "Duration", "Freed space"}
)

func (t Text) Format(w io.Writer, r *report.Report) error {
	var b strings.Builder

	b.WriteString("==== Backup report (" + Date(r.GeneratedAt) + ") ====\n\n")

	if r.HasErrors() {
		b.WriteString("=== Errors ===\n\n")
		bullets(&b, r.Errors)
		b.WriteString("\n")
	}
	if r.HasWarnings() {
		b.WriteString("=== Warnings ===\n\n")
		bullets(&b, r.Warnings)
		b.WriteString("\n")
	}

	var rows [][]string
	for _, s := range summaryRows(r) {
		rows = append(rows, []string{
			s.Repository, s.Hostname, s.Archive, s.Start,
			s.Duration, s.Source, s.Delta, s.Total,
		})
	}
	b.WriteString("=== Summary ===\n\n")
	b.WriteString(markdownTable(summaryHeaders, rows, 4))
	b.WriteString("\n\n")

	if len(r.Checks) > 0 {
		rows = nil
		for _, c := range r.Checks {
			archive, duration, okay := checkCells(c)
			rows = append(rows, []string{c.Repository, archive, duration, okay})
		}
		b.WriteString("=== `borg check` result ===\n\n")
		b.WriteString(markdownTable(checkHeaders, rows, 2))
		b.WriteString("\n\n")
	}

	if len(r.Compacts) > 0 {
		rows = nil
		for _, c := range r.Compacts {
			duration, freed := compactCells(c)
			rows = append(rows, []string{c.Repository, duration, freed})
		}
		b.WriteString("=== `borg compact` result ===\n\n")
		b.WriteString(markdownTable(compactHeaders, rows, 1))
		b.WriteString("\n\n")
	}

	b.WriteString("Generated " + r.GeneratedAt.Format(time.RFC1123Z) + " (" + Name + " " + t.Version + ")\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// bullets writes each finding as " * first line" with continuation lines
// indented below it.
func bullets(b *strings.Builder, findings []report.Finding) {
	for _, f := range findings {
		lines := strings.Split(strings.TrimSpace(f.String()), "\n")
		b.WriteString(" * " + lines[0] + "\n")
		for _, line := range lines[1:] {
			b.WriteString("   " + line + "\n")
		}
	}
}

// markdownTable renders a markdown table; columns from rightFrom onwards are
// right aligned.
func markdownTable(headers []string, rows [][]string, rightFrom int) string {
	left := lipgloss.NewStyle().Padding(0, 1)
	right := left.Align(lipgloss.Right)

	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col >= rightFrom {
				return right
			}
			return left
		})
	return t.Render()
}
