// Package report holds the report model and the rules that turn borg
// results into it.
package report

import (
	"time"
)

// Kind classifies a Finding by the rule or step that produced it.
// KindDiscovery findings belong to the run, KindInfo marks an unreachable
// selector.
type Kind string

const (
	KindDiscovery    Kind = "discovery"
	KindConfig       Kind = "config"
	KindInfo         Kind = "info"
	KindEmpty        Kind = "empty"
	KindGlobNoResult Kind = "glob-no-result"
	KindStale        Kind = "stale"
	KindEmptySource  Kind = "empty-source"
	KindCheck        Kind = "check"
	KindCompact      Kind = "compact"
)

// Finding is a warning or error attached to a repository.
type Finding struct {
	Repository  string `json:"repository,omitempty"`
	ArchiveGlob string `json:"archive_glob,omitempty"`
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
}

// String renders the finding as "repository[glob]: message".
func (f Finding) String() string {
	prefix := f.Repository
	if f.ArchiveGlob != "" {
		prefix += "[" + f.ArchiveGlob + "]"
	}
	if prefix == "" {
		return f.Message
	}
	return prefix + ": " + f.Message
}

// ArchiveStatus is the most recent archive matching a selector.
type ArchiveStatus struct {
	Name             string        `json:"name"`
	Hostname         string        `json:"hostname"`
	Start            time.Time     `json:"start"`
	Duration         time.Duration `json:"duration_ns"`
	OriginalSize     int64         `json:"original_size"`
	CompressedSize   int64         `json:"compressed_size"`
	DeduplicatedSize int64         `json:"deduplicated_size"`
	Files            int64         `json:"files"`
}

// SelectorStatus is the outcome of one archive selector. Archive is nil when
// nothing matched or the repository could not be queried.
type SelectorStatus struct {
	Glob      string         `json:"archive_glob"`
	Reachable bool           `json:"reachable"`
	Archive   *ArchiveStatus `json:"archive,omitempty"`
}

// RepositoryHealth aggregates one repository.
type RepositoryHealth struct {
	Name string `json:"name"`
	// Size is the deduplicated and compressed size of the whole repository.
	Size      int64            `json:"size"`
	Reachable bool             `json:"reachable"`
	Selectors []SelectorStatus `json:"selectors"`
}

// CheckResult is one `borg check` run. Ran is false when the check was
// requested but skipped or could not start.
type CheckResult struct {
	Repository  string        `json:"repository"`
	ArchiveGlob string        `json:"archive_glob"`
	Archive     string        `json:"archive,omitempty"`
	Ran         bool          `json:"ran"`
	Okay        bool          `json:"okay"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration_ns"`
	Diagnostic  string        `json:"diagnostic,omitempty"`
}

// CompactResult is one `borg compact` run.
type CompactResult struct {
	Repository string        `json:"repository"`
	Ran        bool          `json:"ran"`
	Okay       bool          `json:"okay"`
	Duration   time.Duration `json:"duration_ns"`
	FreedBytes *uint64       `json:"freed_bytes,omitempty"`
}

// Report is the result of a run.
type Report struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	Repositories []RepositoryHealth `json:"repositories"`
	Errors       []Finding          `json:"errors"`
	Warnings     []Finding          `json:"warnings"`
	Checks       []CheckResult      `json:"checks"`
	Compacts     []CompactResult    `json:"compacts"`
}

func (r *Report) HasErrors() bool   { return len(r.Errors) > 0 }
func (r *Report) HasWarnings() bool { return len(r.Warnings) > 0 }
