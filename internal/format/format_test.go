package format

import (
	"bufio"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/borgreport/internal/report"
)

var generated = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func fixture() *report.Report {
	freed := uint64(1530)
	start := time.Date(2024, 5, 2, 2, 0, 1, 0, time.UTC)
	return &report.Report{
		GeneratedAt: generated,
		Repositories: []report.RepositoryHealth{
			{
				Name: "web", Size: 123456, Reachable: true,
				Selectors: []report.SelectorStatus{{
					Reachable: true,
					Archive: &report.ArchiveStatus{
						Name: "web-1", Hostname: "host", Start: start,
						Duration:     90500 * time.Millisecond,
						OriginalSize: 5300, CompressedSize: 2100, DeduplicatedSize: 700, Files: 42,
					},
				}},
			},
			{
				Name: "nas", Size: 9_000_000, Reachable: true,
				Selectors: []report.SelectorStatus{
					{Glob: "etc-*", Reachable: true, Archive: &report.ArchiveStatus{
						Name: "etc-1", Hostname: "nas", Start: start, Duration: 2 * time.Second,
						OriginalSize: 1000, CompressedSize: 500, DeduplicatedSize: 100, Files: 3,
					}},
					{Glob: "home-*", Reachable: true, Archive: &report.ArchiveStatus{
						Name: "home-1", Hostname: "nas", Start: start, Duration: 2 * time.Hour,
						OriginalSize: 2_000_000, CompressedSize: 1_000_000, DeduplicatedSize: 300_000, Files: 9000,
					}},
				},
			},
			{
				Name:      "broken",
				Selectors: []report.SelectorStatus{{}},
			},
			{
				Name: "empty", Reachable: true,
				Selectors: []report.SelectorStatus{{Reachable: true}},
			},
		},
		Errors: []report.Finding{
			{Repository: "broken", Message: "/srv/broken is not a valid repository."},
			{Repository: "web", Message: "Index mismatch\nsegment 12 damaged"},
		},
		Warnings: []report.Finding{
			{Repository: "empty", Message: report.MsgRepositoryEmpty},
		},
		Checks: []report.CheckResult{
			{Repository: "web", Archive: "web-1", Ran: true, Okay: false, ExitCode: 1, Duration: 3 * time.Second},
			{Repository: "broken"},
		},
		Compacts: []report.CompactResult{
			{Repository: "nas", Ran: true, Okay: true, Duration: 400 * time.Millisecond, FreedBytes: &freed},
		},
	}
}

// tableRows returns the trimmed cells of every markdown table line whose
// first cell equals first.
func tableRows(t *testing.T, text, first string) [][]string {
	t.Helper()
	var rows [][]string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "|") {
			continue
		}
		parts := strings.Split(strings.Trim(line, "|"), "|")
		cells := make([]string, 0, len(parts))
		for _, p := range parts {
			cells = append(cells, strings.TrimSpace(p))
		}
		if cells[0] == first {
			rows = append(rows, cells)
		}
	}
	return rows
}

func TestBytes(t *testing.T) {
	assert.Equal(t, "0B", Bytes(0))
	assert.Equal(t, "530B", Bytes(530))
	assert.Equal(t, "5.3kB", Bytes(5300))
	assert.Equal(t, "9.0MB", Bytes(9_000_000))
	assert.Equal(t, "0B", Bytes(-1))
	assert.Equal(t, "999B", Bytes(999))
	// 123.456kB is rounded once, not to 123.5kB and then up.
	assert.Equal(t, "123kB", Bytes(123456))
	assert.Equal(t, "1.5kB", Bytes(1530))
	assert.Equal(t, "2.0GB", Bytes(1_999_000_000))
}

func TestDuration(t *testing.T) {
	tests := map[time.Duration]string{
		0:                                         "0ms",
		340 * time.Millisecond:                    "340ms",
		12500 * time.Millisecond:                  "12.5s",
		90500 * time.Millisecond:                  "1:31",
		4*time.Minute + 5*time.Second:             "4:05",
		time.Hour + 2*time.Minute + 3*time.Second: "1:02:03",
	}
	for in, want := range tests {
		assert.Equal(t, want, Duration(in), "Duration(%v)", in)
	}
}

func TestText_Layout(t *testing.T) {
	out, err := Render(Text{Version: "1.2.3"}, fixture())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "==== Backup report (2024-05-02) ====\n\n"))
	assert.True(t, strings.HasSuffix(out, "Generated Thu, 02 May 2024 12:00:00 +0000 (borgreport 1.2.3)\n"))

	order := []string{
		"=== Errors ===",
		"=== Warnings ===",
		"=== Summary ===",
		"=== `borg check` result ===",
		"=== `borg compact` result ===",
	}
	last := -1
	for _, section := range order {
		idx := strings.Index(out, section)
		require.Greater(t, idx, last, "section %q out of order", section)
		last = idx
	}

	assert.Contains(t, out, " * broken: /srv/broken is not a valid repository.\n")
	assert.Contains(t, out, " * web: Index mismatch\n   segment 12 damaged\n")
	assert.Contains(t, out, " * empty: Repository is empty\n")
}

func TestText_SummaryRows(t *testing.T) {
	out, err := Render(Text{}, fixture())
	require.NoError(t, err)

	header := tableRows(t, out, "Repository")
	require.NotEmpty(t, header)
	assert.Equal(t, []string{
		"Repository", "Hostname", "Last archive", "Start",
		"Duration", "Source", "Δ Archive", "∑ Repository",
	}, header[0])

	assert.Equal(t, [][]string{
		{"web", "host", "web-1", "2024-05-02 02:00:01", "1:31", "5.3kB", "700B", "123kB"},
	}, tableRows(t, out, "web")[:1])

	nas := tableRows(t, out, "nas")
	require.GreaterOrEqual(t, len(nas), 2)
	assert.Equal(t, "etc-1", nas[0][2])
	assert.Equal(t, "home-1", nas[1][2])
	assert.Equal(t, "2:00:00", nas[1][4])

	broken := tableRows(t, out, "broken")
	assert.Equal(t, []string{"broken", "-", "-", "-", "-", "-", "-", "-"}, broken[0])

	empty := tableRows(t, out, "empty")
	require.Len(t, empty, 1)
	assert.Equal(t, []string{"empty", "-", "-", "-", "0ms", "0B", "0B", "0B"}, empty[0])
}

func TestText_CheckAndCompactRows(t *testing.T) {
	out, err := Render(Text{}, fixture())
	require.NoError(t, err)

	web := tableRows(t, out, "web")
	require.Len(t, web, 2)
	assert.Equal(t, []string{"web", "web-1", "3.0s", "no"}, web[1])

	broken := tableRows(t, out, "broken")
	require.Len(t, broken, 2)
	assert.Equal(t, []string{"broken", "-", "-", "-"}, broken[1])

	nas := tableRows(t, out, "nas")
	assert.Equal(t, []string{"nas", "400ms", "1.5kB"}, nas[len(nas)-1])
}

func TestText_EmptyReport(t *testing.T) {
	out, err := Render(Text{}, &report.Report{GeneratedAt: generated})
	require.NoError(t, err)

	assert.Contains(t, out, "=== Summary ===")
	assert.Len(t, tableRows(t, out, "Repository"), 1)
	assert.NotContains(t, out, "=== Errors ===")
	assert.NotContains(t, out, "=== Warnings ===")
	assert.NotContains(t, out, "borg check")
}

func TestHTML_StructureAndEscaping(t *testing.T) {
	r := fixture()
	r.Errors = append(r.Errors, report.Finding{Repository: "x", Message: "<script>alert(1)</script>"})

	out, err := Render(HTML{Version: "1.2.3"}, r)
	require.NoError(t, err)

	assert.Contains(t, out, "<title>Backup report (2024-05-02)</title>")
	assert.Contains(t, out, "<h2>Errors</h2>")
	assert.Contains(t, out, "<h2>Warnings</h2>")
	assert.Contains(t, out, "<h2>Summary</h2>")
	assert.Contains(t, out, "<code>borg check</code> result")
	assert.Contains(t, out, "<td>web</td><td>host</td><td>web-1</td>")
	assert.Contains(t, out, `<td class="num">5.3kB</td>`)
	assert.Contains(t, out, "(borgreport 1.2.3)")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Less(t, strings.Index(out, "<h2>Errors</h2>"), strings.Index(out, "<h2>Warnings</h2>"))
}

func TestHTML_EmptyReport(t *testing.T) {
	out, err := Render(HTML{}, &report.Report{GeneratedAt: generated})
	require.NoError(t, err)
	assert.Contains(t, out, "<h2>Summary</h2>")
	assert.NotContains(t, out, "<h2>Errors</h2>")
	assert.NotContains(t, out, "borg check")
}

// parseMetrics maps every sample line "name{labels}" to its value.
func parseMetrics(t *testing.T, out string) map[string]float64 {
	t.Helper()
	samples := map[string]float64{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.LastIndex(line, " ")
		require.Positive(t, i, line)
		v, err := strconv.ParseFloat(line[i+1:], 64)
		require.NoError(t, err, line)
		samples[line[:i]] = v
	}
	return samples
}

func TestMetrics_Series(t *testing.T) {
	out, err := Render(Metrics{Version: "1.2.3"}, fixture())
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(out, "# EOF\n"))
	assert.Contains(t, out, "# TYPE borgreport info\n")
	assert.Contains(t, out, "# UNIT borg_create_last_original_size_bytes bytes\n")
	assert.Contains(t, out, "# TYPE borg_check_last_success_boolean gauge\n")
	assert.NotContains(t, out, "# UNIT borg_create_last_files")
	assert.Equal(t, 1, strings.Count(out, "# EOF"))

	m := parseMetrics(t, out)
	want := map[string]float64{
		`borgreport_info{name="borgreport",version="1.2.3"}`:                                                    1,
		`borgreport_last_report_timestamp_seconds`:                                                              1714651200,
		`borg_deduplicated_compressed_size_bytes{repository="web"}`:                                             123456,
		`borg_deduplicated_compressed_size_bytes{repository="empty"}`:                                           0,
		`borg_create_last_original_size_bytes{archive_glob="",hostname="host",repository="web"}`:                5300,
		`borg_create_last_compressed_size_bytes{archive_glob="",hostname="host",repository="web"}`:              2100,
		`borg_create_last_deduplicated_compressed_size_bytes{archive_glob="",hostname="host",repository="web"}`: 700,
		`borg_create_last_start_timestamp_seconds{archive_glob="",hostname="host",repository="web"}`:            1714615201,
		`borg_create_last_duration_seconds{archive_glob="",hostname="host",repository="web"}`:                   90.5,
		`borg_create_last_files{archive_glob="",hostname="host",repository="web"}`:                              42,
		`borg_create_last_files{archive_glob="home-*",hostname="nas",repository="nas"}`:                         9000,
		`borg_check_last_duration_seconds{archive_glob="",repository="web"}`:                                    3,
		`borg_check_last_success_boolean{archive_glob="",repository="web"}`:                                     0,
		`borg_compact_duration_seconds{repository="nas"}`:                                                       0.4,
		`borg_compact_freed_size_bytes{repository="nas"}`:                                                       1530,
	}
	for series, value := range want {
		got, ok := m[series]
		if assert.True(t, ok, "missing series %s", series) {
			assert.InDelta(t, value, got, 1e-6, series)
		}
	}

	for series := range m {
		assert.NotContains(t, series, `repository="broken"`, "unreachable repository must not export metrics")
	}
}

func TestMetrics_LabelEscaping(t *testing.T) {
	r := &report.Report{
		GeneratedAt: generated,
		Repositories: []report.RepositoryHealth{{
			Name: `we"ird\name`, Reachable: true,
		}},
	}
	out, err := Render(Metrics{}, r)
	require.NoError(t, err)
	assert.Contains(t, parseMetrics(t, out), `borg_deduplicated_compressed_size_bytes{repository="we\"ird\\name"}`)
}

// Text and metrics must agree on every value once units are applied.
func TestTextAndMetricsAgree(t *testing.T) {
	r := fixture()
	text, err := Render(Text{}, r)
	require.NoError(t, err)
	metrics, err := Render(Metrics{}, r)
	require.NoError(t, err)
	m := parseMetrics(t, metrics)

	for _, repo := range r.Repositories {
		rows := tableRows(t, text, repo.Name)
		for i, sel := range repo.Selectors {
			if sel.Archive == nil {
				continue
			}
			labels := `{archive_glob="` + sel.Glob + `",hostname="` + sel.Archive.Hostname +
				`",repository="` + repo.Name + `"}`
			cells := rows[i]

			start := time.Unix(int64(m["borg_create_last_start_timestamp_seconds"+labels]), 0).UTC()
			assert.Equal(t, start.Format(startLayout), cells[3])
			dur := time.Duration(m["borg_create_last_duration_seconds"+labels] * float64(time.Second))
			assert.Equal(t, Duration(dur), cells[4])
			assert.Equal(t, Bytes(int64(m["borg_create_last_original_size_bytes"+labels])), cells[5])
			assert.Equal(t, Bytes(int64(m["borg_create_last_deduplicated_compressed_size_bytes"+labels])), cells[6])
			total := m[`borg_deduplicated_compressed_size_bytes{repository="`+repo.Name+`"}`]
			assert.Equal(t, Bytes(int64(total)), cells[7])
		}
	}
}

func TestMetrics_FreshSeriesPerRendering(t *testing.T) {
	first, err := Render(Metrics{}, fixture())
	require.NoError(t, err)

	out, err := Render(Metrics{}, &report.Report{GeneratedAt: generated})
	require.NoError(t, err)
	m := parseMetrics(t, out)
	assert.Len(t, m, 2, "only the info and report timestamp series")
	assert.Contains(t, m, `borgreport_last_report_timestamp_seconds`)
	assert.NotContains(t, out, "borg_create_last_files")
	assert.Contains(t, first, "borg_create_last_files")
}

func TestJSON(t *testing.T) {
	out, err := Render(JSON{}, fixture())
	require.NoError(t, err)
	assert.Contains(t, out, `"generated_at": "2024-05-02T12:00:00Z"`)
	assert.Contains(t, out, `"name": "web-1"`)
	assert.Contains(t, out, `"freed_bytes": 1530`)
	assert.Contains(t, out, `"kind": "`)
}
