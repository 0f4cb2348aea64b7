package borg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/kebairia/borgreport/internal/logger"
)

// DefaultBinary is used when no binary path is configured.
const DefaultBinary = "borg"

// waitDelay bounds how long a cancelled borg may keep its output pipes open
// (ssh children inherit them).
const waitDelay = 5 * time.Second

var (
	// ErrInvocation indicates that borg could not be started or exited abnormally.
	ErrInvocation = errors.New("borg invocation failed")
	// ErrParse indicates that borg returned output that could not be decoded.
	ErrParse = errors.New("borg output could not be parsed")
)

// defaultEnv is applied to every invocation before the repository variables.
// borg prints timestamps in local time, so pin it to UTC.
var defaultEnv = map[string]string{
	"LC_ALL": "C.UTF-8",
	"TZ":     "UTC",
}

// InvocationError describes a borg process that did not run to a successful end.
type InvocationError struct {
	Command  string
	ExitCode int // -1 if the process did not start or was killed
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	if e.Err != nil {
		return fmt.Sprintf("borg %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("borg %s exited with status %d", e.Command, e.ExitCode)
}

func (e *InvocationError) Is(target error) bool { return target == ErrInvocation }

func (e *InvocationError) Unwrap() error { return e.Err }

// Output is the captured result of one borg process.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether borg exited with status 0.
func (o Output) Success() bool { return o.ExitCode == 0 }

// Option lets you override default settings on a Borg.
type Option func(*Borg)

// Borg runs the borg binary for a single repository.
type Borg struct {
	binary string
	base   []string
	env    map[string]string
	log    logger.Logger
}

// New returns a Borg using DefaultBinary and an empty environment.
func New(opts ...Option) *Borg {
	b := &Borg{
		binary: DefaultBinary,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithBinary overrides the borg binary path.
func WithBinary(path string) Option {
	return func(b *Borg) {
		if path != "" {
			b.binary = path
		}
	}
}

// WithBaseEnviron sets the KEY=VALUE environment the process starts from.
// BORG_* and NOTIFY_SOCKET entries are dropped from it.
func WithBaseEnviron(environ []string) Option {
	return func(b *Borg) {
		b.base = environ
	}
}

// WithEnv sets the repository variables (BORG_REPO, BORG_PASSPHRASE, ...).
func WithEnv(env map[string]string) Option {
	return func(b *Borg) {
		b.env = env
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(b *Borg) {
		if log != nil {
			b.log = log
		}
	}
}

// Environ returns the environment passed to borg processes.
func (b *Borg) Environ() []string {
	merged := make(map[string]string, len(b.base)+len(defaultEnv)+len(b.env))
	for _, kv := range b.base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.HasPrefix(k, "BORG_") || k == "NOTIFY_SOCKET" {
			continue
		}
		merged[k] = v
	}
	for k, v := range defaultEnv {
		merged[k] = v
	}
	for k, v := range b.env {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// run executes borg and captures its output. A non-zero exit is not an error
// here; callers decide what it means.
func (b *Borg) run(ctx context.Context, command string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, b.binary, args...)
	cmd.Env = b.Environ()
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.log.Debug("borg started", "command", command, "binary", b.binary, "args", args)

	start := time.Now()
	err := cmd.Run()
	out := Output{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, &InvocationError{Command: command, ExitCode: -1, Err: ctxErr}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return out, &InvocationError{Command: command, ExitCode: -1, Stderr: out.Stderr, Err: err}
	}

	b.log.Debug("borg finished",
		"command", command,
		"exit_code", out.ExitCode,
		"duration", out.Duration.String(),
	)
	return out, nil
}

// Info queries the repository and its most recent archive matching glob
// (the most recent archive of all when glob is empty).
func (b *Borg) Info(ctx context.Context, glob string) (*Info, error) {
	args := []string{"--bypass-lock", "info"}
	if glob != "" {
		args = append(args, "--glob-archives", glob)
	}
	args = append(args, "--last", "1", "--json", "::")

	out, err := b.run(ctx, "info", args...)
	if err != nil {
		return nil, err
	}
	if !out.Success() {
		return nil, &InvocationError{Command: "info", ExitCode: out.ExitCode, Stderr: out.Stderr}
	}

	var info Info
	if err := json.Unmarshal([]byte(out.Stdout), &info); err != nil {
		return nil, fmt.Errorf("%w: borg info JSON: %v", ErrParse, err)
	}
	return &info, nil
}

// Check verifies one archive, or the whole repository when archive is empty.
// The verdict is in Output.ExitCode; an error means borg did not run.
func (b *Borg) Check(ctx context.Context, archive string, opts []string) (Output, error) {
	args := append([]string{"check"}, opts...)
	args = append(args, "::"+archive)
	return b.run(ctx, "check", args...)
}

// CompactOutput is the result of `borg compact`.
type CompactOutput struct {
	Output
	// FreedBytes is the space borg reports as freed, nil if not reported.
	// borg rounds to a human unit, so the value is approximate.
	FreedBytes *uint64
}

// Compact frees space in the repository. The line carrying the freed size
// is removed from Stderr.
func (b *Borg) Compact(ctx context.Context, opts []string) (CompactOutput, error) {
	// --verbose makes borg log the freed size.
	args := append([]string{"compact", "--verbose"}, opts...)
	out, err := b.run(ctx, "compact", args...)
	if err != nil {
		return CompactOutput{Output: out}, err
	}

	res := CompactOutput{Output: out}
	var rest strings.Builder
	for _, line := range strings.Split(strings.TrimRight(out.Stderr, "\n"), "\n") {
		if res.FreedBytes == nil {
			if n, ok := FirstBytes(line); ok {
				res.FreedBytes = &n
				continue
			}
		}
		if line == "" {
			continue
		}
		rest.WriteString(line)
		rest.WriteByte('\n')
	}
	res.Stderr = rest.String()
	return res, nil
}
