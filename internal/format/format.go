// Package format renders a report.Report as text, HTML, OpenMetrics or JSON.
package format

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kebairia/borgreport/internal/report"
)

// Name is the program name shown in footers and metrics.
const Name = "borgreport"

// ErrRender indicates that a report could not be rendered.
var ErrRender = errors.New("report rendering failed")

// Formatter renders a Report. Implementations only read the Report; all
// timestamps come from Report.GeneratedAt.
type Formatter interface {
	Format(w io.Writer, r *report.Report) error
}

// Render formats r into a string.
func Render(f Formatter, r *report.Report) (string, error) {
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.String(), nil
}

// Bytes renders a byte count with an SI unit, e.g. "5.3kB". The value is
// rounded once: one decimal below 10, none above.
func Bytes(n int64) string {
	if n < 10 {
		return strconv.FormatInt(max(n, 0), 10) + "B"
	}
	value, prefix := humanize.ComputeSI(float64(n))
	digits := 0
	if value < 10 {
		digits = 1
	}
	return strconv.FormatFloat(value, 'f', digits, 64) + prefix + "B"
}

// Duration renders d with adaptive precision: "340ms", "12.5s", "4:05" or
// "1:02:03".
func Duration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		d = d.Round(time.Second)
		return fmt.Sprintf("%d:%02d", int(d/time.Minute), int(d%time.Minute/time.Second))
	default:
		d = d.Round(time.Second)
		return fmt.Sprintf("%d:%02d:%02d",
			int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second))
	}
}

// Date is the report date shown in titles and mail subjects.
func Date(t time.Time) string {
	return t.Format(time.DateOnly)
}

const startLayout = "2006-01-02 15:04:05"

// row is one Summary line shared by the text and HTML renderers.
type row struct {
	Repository string
	Hostname   string
	Archive    string
	Start      string
	Duration   string
	Source     string
	Delta      string
	Total      string
}

func summaryRows(r *report.Report) []row {
	var rows []row
	for _, repo := range r.Repositories {
		for _, sel := range repo.Selectors {
			switch {
			case !sel.Reachable:
				rows = append(rows, row{
					Repository: repo.Name,
					Hostname:   "-", Archive: "-", Start: "-", Duration: "-",
					Source: "-", Delta: "-", Total: "-",
				})
			case sel.Archive == nil:
				rows = append(rows, row{
					Repository: repo.Name,
					Hostname:   "-", Archive: "-", Start: "-",
					Duration: Duration(0),
					Source:   Bytes(0),
					Delta:    Bytes(0),
					Total:    Bytes(repo.Size),
				})
			default:
				a := sel.Archive
				rows = append(rows, row{
					Repository: repo.Name,
					Hostname:   a.Hostname,
					Archive:    a.Name,
					Start:      a.Start.UTC().Format(startLayout),
					Duration:   Duration(a.Duration),
					Source:     Bytes(a.OriginalSize),
					Delta:      Bytes(a.DeduplicatedSize),
					Total:      Bytes(repo.Size),
				})
			}
		}
	}
	return rows
}

func checkCells(c report.CheckResult) (archive, duration, okay string) {
	archive = c.Archive
	if archive == "" {
		archive = "-"
		if c.ArchiveGlob != "" {
			archive = c.ArchiveGlob
		}
	}
	if !c.Ran {
		return archive, "-", "-"
	}
	okay = "no"
	if c.Okay {
		okay = "yes"
	}
	return archive, Duration(c.Duration), okay
}

func compactCells(c report.CompactResult) (duration, freed string) {
	if !c.Ran {
		return "-", "-"
	}
	freed = "-"
	if c.FreedBytes != nil {
		freed = Bytes(int64(*c.FreedBytes))
	}
	return Duration(c.Duration), freed
}
