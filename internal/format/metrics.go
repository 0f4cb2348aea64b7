package format

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/kebairia/borgreport/internal/report"
)

// Metrics renders an OpenMetrics text exposition.
type Metrics struct {
	Version string
}

var _ Formatter = Metrics{}

// gauge is a registered gauge family with its OpenMetrics unit.
type gauge struct {
	name string
	unit string
	vec  *prometheus.GaugeVec
}

// gauges registers every family on a private registry, so each rendering
// starts from empty series.
type gauges struct {
	reg  *prometheus.Registry
	list []*gauge
}

func (g *gauges) add(name, unit, help string, labels ...string) *gauge {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	g.reg.MustRegister(vec)
	out := &gauge{name: name, unit: unit, vec: vec}
	g.list = append(g.list, out)
	return out
}

func (g *gauge) set(value float64, labels ...string) {
	g.vec.WithLabelValues(labels...).Set(value)
}

var (
	createLabels = []string{"repository", "hostname", "archive_glob"}
	checkLabels  = []string{"repository", "archive_glob"}
)

func (m Metrics) Format(w io.Writer, r *report.Report) error {
	g := &gauges{reg: prometheus.NewPedanticRegistry()}
	collect(g, r)

	families, err := g.reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	units := make(map[string]string, len(g.list))
	for _, gg := range g.list {
		units[gg.name] = gg.unit
	}

	if err := writeInfo(w, m.Version); err != nil {
		return err
	}
	for _, mf := range families {
		if unit := units[mf.GetName()]; unit != "" {
			mf.Unit = &unit
		}
		if _, err := expfmt.MetricFamilyToOpenMetrics(w, mf, expfmt.WithUnit()); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	_, err = expfmt.FinalizeOpenMetrics(w)
	return err
}

func collect(g *gauges, r *report.Report) {
	last := g.add("borgreport_last_report_timestamp_seconds", "seconds", "Timestamp of the last report.")
	last.set(timestamp(r.GeneratedAt))

	repoSize := g.add("borg_deduplicated_compressed_size_bytes", "bytes",
		"Deduplicated and compressed size of the repository.", "repository")
	original := g.add("borg_create_last_original_size_bytes", "bytes",
		"Original size of the last archive.", createLabels...)
	compressed := g.add("borg_create_last_compressed_size_bytes", "bytes",
		"Compressed size of the last archive.", createLabels...)
	dedup := g.add("borg_create_last_deduplicated_compressed_size_bytes", "bytes",
		"Deduplicated and compressed size of the last archive.", createLabels...)
	start := g.add("borg_create_last_start_timestamp_seconds", "seconds",
		"Start time of the last archive.", createLabels...)
	duration := g.add("borg_create_last_duration_seconds", "seconds",
		"Duration of the last archive creation.", createLabels...)
	files := g.add("borg_create_last_files", "",
		"Number of files in the last archive.", createLabels...)
	checkDuration := g.add("borg_check_last_duration_seconds", "seconds",
		"Duration of the last borg check.", checkLabels...)
	checkSuccess := g.add("borg_check_last_success_boolean", "boolean",
		"Whether the last borg check succeeded.", checkLabels...)
	compactDuration := g.add("borg_compact_duration_seconds", "seconds",
		"Duration of borg compact.", "repository")
	compactFreed := g.add("borg_compact_freed_size_bytes", "bytes",
		"Space freed by borg compact.", "repository")

	for _, repo := range r.Repositories {
		if repo.Reachable {
			repoSize.set(float64(repo.Size), repo.Name)
		}
		for _, sel := range repo.Selectors {
			a := sel.Archive
			if a == nil {
				continue
			}
			labels := []string{repo.Name, a.Hostname, sel.Glob}
			original.set(float64(a.OriginalSize), labels...)
			compressed.set(float64(a.CompressedSize), labels...)
			dedup.set(float64(a.DeduplicatedSize), labels...)
			if ts := timestamp(a.Start); ts > 0 {
				start.set(ts, labels...)
			}
			duration.set(a.Duration.Seconds(), labels...)
			files.set(float64(a.Files), labels...)
		}
	}

	for _, c := range r.Checks {
		if !c.Ran {
			continue
		}
		checkDuration.set(c.Duration.Seconds(), c.Repository, c.ArchiveGlob)
		checkSuccess.set(boolValue(c.Okay), c.Repository, c.ArchiveGlob)
	}

	for _, c := range r.Compacts {
		if !c.Ran {
			continue
		}
		compactDuration.set(c.Duration.Seconds(), c.Repository)
		if c.FreedBytes != nil {
			compactFreed.set(float64(*c.FreedBytes), c.Repository)
		}
	}
}

// writeInfo writes the borgreport info family. expfmt has no info type.
func writeInfo(w io.Writer, version string) error {
	_, err := fmt.Fprintf(w,
		"# TYPE %[1]s info\n# HELP %[1]s Information about %[1]s.\n%[1]s_info{name=\"%[2]s\",version=\"%[3]s\"} 1\n",
		Name, escapeLabel(Name), escapeLabel(version))
	return err
}

// timestamp returns t in fractional Unix seconds, 0 for the zero time.
func timestamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string { return labelEscaper.Replace(s) }
