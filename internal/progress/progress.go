// Package progress prints a status line to an interactive terminal while
// repositories are processed.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// lineWidth is the width a status line is padded or truncated to, so each
// line fully overwrites the previous one.
const lineWidth = 76

// Reporter emits one status line per completed repository. A nil or
// disabled Reporter does nothing. It is not safe for concurrent use.
type Reporter struct {
	w     io.Writer
	total int
}

// New returns a Reporter writing to f, or nil when progress is disabled or
// f is not a terminal.
func New(f *os.File, total int, disabled bool) *Reporter {
	if disabled || f == nil {
		return nil
	}
	fd := f.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return nil
	}
	return NewWriter(f, total)
}

// NewWriter returns a Reporter that always writes to w.
func NewWriter(w io.Writer, total int) *Reporter {
	return &Reporter{w: w, total: total}
}

// RepositoryDone reports that the done-th repository, name, has finished.
func (r *Reporter) RepositoryDone(done int, name string) {
	if r == nil {
		return
	}
	r.line(fmt.Sprintf("Processed repository %d/%d: %q", done, r.total, name))
}

// Finish clears the status line.
func (r *Reporter) Finish() {
	if r == nil {
		return
	}
	_, _ = io.WriteString(r.w, blank)
}

func (r *Reporter) line(msg string) {
	fmt.Fprintf(r.w, "%-*.*s\r", lineWidth, lineWidth, msg)
}

// blank overwrites the last status line.
var blank = strings.Repeat(" ", lineWidth) + "\r"
