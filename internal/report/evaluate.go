package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kebairia/borgreport/internal/borg"
)

// Finding messages.
const (
	MsgRepositoryEmpty = "Repository is empty"
	msgGlobNoResult    = "The glob '%s' yields no result!"
	msgStale           = "Last backup is older than %s hours"
	msgEmptySource     = "Last backup archive contains no data. Archive %s is empty."
)

// CheckRun is the outcome of one `borg check` invocation.
type CheckRun struct {
	Archive string
	Output  borg.Output
	// Err is set when borg did not run to completion.
	Err error
}

// SelectorResult is everything collected for one archive selector.
type SelectorResult struct {
	Glob    string
	Info    *borg.Info
	InfoErr error
	Checks  []CheckRun
}

// Result is everything collected for one repository before compaction.
type Result struct {
	Name string
	// ConfigErr is set when the repository configuration could not be resolved.
	ConfigErr error
	MaxAge    time.Duration
	// CheckRequested records that checks were enabled, so selectors that could
	// not be queried show up as skipped.
	CheckRequested bool
	Selectors      []SelectorResult
}

// Part is one repository's contribution to the Report.
type Part struct {
	Health   RepositoryHealth
	Errors   []Finding
	Warnings []Finding
	Checks   []CheckResult
	Compacts []CompactResult
}

// Healthy reports whether the repository has no findings so far.
func (p *Part) Healthy() bool {
	return len(p.Errors) == 0 && len(p.Warnings) == 0
}

func (p *Part) warn(kind Kind, glob, msg string) {
	p.Warnings = append(p.Warnings, Finding{Repository: p.Health.Name, ArchiveGlob: glob, Kind: kind, Message: msg})
}

func (p *Part) fail(kind Kind, glob, msg string) {
	p.Errors = append(p.Errors, Finding{Repository: p.Health.Name, ArchiveGlob: glob, Kind: kind, Message: msg})
}

// Evaluate turns the raw results of one repository into a Part, applying the
// emptiness and staleness rules against now.
func Evaluate(res Result, now time.Time) *Part {
	p := &Part{Health: RepositoryHealth{Name: res.Name}}
	if res.ConfigErr != nil {
		p.fail(KindConfig, "", res.ConfigErr.Error())
		return p
	}

	anyArchive := false
	for _, sel := range res.Selectors {
		status := SelectorStatus{Glob: sel.Glob}

		if sel.InfoErr != nil {
			p.Health.Selectors = append(p.Health.Selectors, status)
			p.fail(KindInfo, sel.Glob, strings.TrimSpace(sel.InfoErr.Error()))
			if res.CheckRequested {
				p.Checks = append(p.Checks, CheckResult{Repository: res.Name, ArchiveGlob: sel.Glob})
			}
			continue
		}

		status.Reachable = true
		p.Health.Reachable = true
		if sel.Info != nil {
			p.Health.Size = sel.Info.Cache.Stats.UniqueCSize
			if len(sel.Info.Archives) > 0 {
				status.Archive = archiveStatus(sel.Info.Archives[0])
			}
		}
		p.Health.Selectors = append(p.Health.Selectors, status)

		if a := status.Archive; a != nil {
			anyArchive = true
			if age := now.Sub(a.Start); age > res.MaxAge {
				p.warn(KindStale, sel.Glob, fmt.Sprintf(msgStale, formatHours(res.MaxAge)))
			}
			if a.OriginalSize == 0 {
				p.warn(KindEmptySource, sel.Glob, fmt.Sprintf(msgEmptySource, a.Name))
			}
		} else if sel.Glob != "" {
			p.warn(KindGlobNoResult, sel.Glob, fmt.Sprintf(msgGlobNoResult, sel.Glob))
		}

		for _, run := range sel.Checks {
			p.addCheck(sel.Glob, run)
		}
	}

	if p.Health.Reachable && !anyArchive && p.Health.Size == 0 {
		p.warn(KindEmpty, "", MsgRepositoryEmpty)
	}
	return p
}

func (p *Part) addCheck(glob string, run CheckRun) {
	result := CheckResult{
		Repository:  p.Health.Name,
		ArchiveGlob: glob,
		Archive:     run.Archive,
	}
	if run.Err != nil {
		p.Checks = append(p.Checks, result)
		p.fail(KindCheck, glob, strings.TrimSpace(run.Err.Error()))
		return
	}

	out := run.Output
	result.Ran = true
	result.Okay = out.Success()
	result.ExitCode = out.ExitCode
	result.Duration = out.Duration
	result.Diagnostic = strings.TrimSpace(out.Stderr)
	p.Checks = append(p.Checks, result)

	if msg := strings.TrimSpace(out.Stdout); msg != "" {
		p.warn(KindCheck, glob, msg)
	}
	switch {
	case result.Diagnostic != "":
		p.fail(KindCheck, glob, result.Diagnostic)
	case !result.Okay:
		p.fail(KindCheck, glob, fmt.Sprintf("borg check exited with status %d", out.ExitCode))
	}
}

// SkipCompact records a requested compaction that did not run.
func (p *Part) SkipCompact() {
	p.Compacts = append(p.Compacts, CompactResult{Repository: p.Health.Name})
}

// AddCompact records the outcome of `borg compact`.
func (p *Part) AddCompact(out borg.CompactOutput, err error) {
	result := CompactResult{Repository: p.Health.Name}
	if err != nil {
		p.Compacts = append(p.Compacts, result)
		p.fail(KindCompact, "", strings.TrimSpace(err.Error()))
		return
	}

	result.Ran = true
	result.Okay = out.Success()
	result.Duration = out.Duration
	result.FreedBytes = out.FreedBytes
	p.Compacts = append(p.Compacts, result)

	if msg := strings.TrimSpace(out.Stdout); msg != "" {
		p.warn(KindCompact, "", msg)
	}
	switch msg := strings.TrimSpace(out.Stderr); {
	case msg != "":
		p.fail(KindCompact, "", msg)
	case !result.Okay:
		p.fail(KindCompact, "", fmt.Sprintf("borg compact exited with status %d", out.ExitCode))
	}
}

func archiveStatus(a borg.Archive) *ArchiveStatus {
	return &ArchiveStatus{
		Name:             a.Name,
		Hostname:         a.Hostname,
		Start:            a.Start.Time,
		Duration:         a.Duration.Duration(),
		OriginalSize:     a.Stats.OriginalSize,
		CompressedSize:   a.Stats.CompressedSize,
		DeduplicatedSize: a.Stats.DeduplicatedSize,
		Files:            a.Stats.NFiles,
	}
}

func formatHours(d time.Duration) string {
	return strconv.FormatFloat(d.Hours(), 'f', -1, 64)
}
