package format

import (
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/kebairia/borgreport/internal/report"
)

// HTML renders a self-contained HTML document.
type HTML struct {
	Version string
}

var _ Formatter = HTML{}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Backup report ({{.Date}})</title>
<style>
body { font-family: sans-serif; }
table { border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 2px 6px; }
td.num { text-align: right; }
li pre { margin: 0; font-family: inherit; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>Backup report ({{.Date}})</h1>
{{- if .Errors}}
<h2>Errors</h2>
<ul>
{{- range .Errors}}
<li><pre>{{.}}</pre></li>
{{- end}}
</ul>
{{- end}}
{{- if .Warnings}}
<h2>Warnings</h2>
<ul>
{{- range .Warnings}}
<li><pre>{{.}}</pre></li>
{{- end}}
</ul>
{{- end}}
<h2>Summary</h2>
<table>
<thead><tr><th>Repository</th><th>Hostname</th><th>Last archive</th><th>Start</th><th>Duration</th><th>Source</th><th>&Delta; Archive</th><th>&sum; Repository</th></tr></thead>
<tbody>
{{- range .Summary}}
<tr><td>{{.Repository}}</td><td>{{.Hostname}}</td><td>{{.Archive}}</td><td>{{.Start}}</td><td class="num">{{.Duration}}</td><td class="num">{{.Source}}</td><td class="num">{{.Delta}}</td><td class="num">{{.Total}}</td></tr>
{{- end}}
</tbody>
</table>
{{- if .Checks}}
<h2><code>borg check</code> result</h2>
<table>
<thead><tr><th>Repository</th><th>Archive</th><th>Duration</th><th>Okay</th></tr></thead>
<tbody>
{{- range .Checks}}
<tr><td>{{.Repository}}</td><td>{{.Archive}}</td><td class="num">{{.Duration}}</td><td class="num">{{.Okay}}</td></tr>
{{- end}}
</tbody>
</table>
{{- end}}
{{- if .Compacts}}
<h2><code>borg compact</code> result</h2>
<table>
<thead><tr><th>Repository</th><th>Duration</th><th>Freed space</th></tr></thead>
<tbody>
{{- range .Compacts}}
<tr><td>{{.Repository}}</td><td class="num">{{.Duration}}</td><td class="num">{{.Freed}}</td></tr>
{{- end}}
</tbody>
</table>
{{- end}}
<p><small>Generated {{.Generated}} ({{.Name}} {{.Version}})</small></p>
</body>
</html>
`

var htmlPage = template.Must(template.New("report").Parse(htmlTemplate))

type htmlCheck struct {
	Repository, Archive, Duration, Okay string
}

type htmlCompact struct {
	Repository, Duration, Freed string
}

type htmlData struct {
	Date      string
	Generated string
	Name      string
	Version   string
	Errors    []string
	Warnings  []string
	Summary   []row
	Checks    []htmlCheck
	Compacts  []htmlCompact
}

func (h HTML) Format(w io.Writer, r *report.Report) error {
	data := htmlData{
		Date:      Date(r.GeneratedAt),
		Generated: r.GeneratedAt.Format(time.RFC1123Z),
		Name:      Name,
		Version:   h.Version,
		Errors:    findingLines(r.Errors),
		Warnings:  findingLines(r.Warnings),
		Summary:   summaryRows(r),
	}
	for _, c := range r.Checks {
		archive, duration, okay := checkCells(c)
		data.Checks = append(data.Checks, htmlCheck{c.Repository, archive, duration, okay})
	}
	for _, c := range r.Compacts {
		duration, freed := compactCells(c)
		data.Compacts = append(data.Compacts, htmlCompact{c.Repository, duration, freed})
	}
	return htmlPage.Execute(w, data)
}

func findingLines(findings []report.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, strings.TrimSpace(f.String()))
	}
	return out
}
