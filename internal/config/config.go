package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ErrConfig indicates a malformed or incomplete repository configuration.
// It aborts the affected repository only.
var ErrConfig = errors.New("repository configuration invalid")

// EnvRepo is the variable naming the repository location.
const EnvRepo = "BORG_REPO"

// Option keys, shared by the ambient environment, repository files and CLI
// overrides.
const (
	KeyBorgBinary      = "BORGREPORT_BORG_BINARY"
	KeyGlobArchives    = "BORGREPORT_GLOB_ARCHIVES"
	KeyCheck           = "BORGREPORT_CHECK"
	KeyCheckOptions    = "BORGREPORT_CHECK_OPTIONS"
	KeyCompact         = "BORGREPORT_COMPACT"
	KeyCompactOptions  = "BORGREPORT_COMPACT_OPTIONS"
	KeyMaxAgeHours     = "BORGREPORT_MAX_AGE_HOURS"
	KeyPassphraseVault = "BORGREPORT_PASSPHRASE_VAULT"
)

const optionPrefix = "BORGREPORT_"

// Options are the typed per-repository settings.
type Options struct {
	BorgBinary      string   `mapstructure:"BORGREPORT_BORG_BINARY"`
	GlobArchives    []string `mapstructure:"BORGREPORT_GLOB_ARCHIVES"`
	Check           bool     `mapstructure:"BORGREPORT_CHECK"`
	CheckOptions    []string `mapstructure:"BORGREPORT_CHECK_OPTIONS"`
	Compact         bool     `mapstructure:"BORGREPORT_COMPACT"`
	CompactOptions  []string `mapstructure:"BORGREPORT_COMPACT_OPTIONS"`
	MaxAgeHours     float64  `mapstructure:"BORGREPORT_MAX_AGE_HOURS"`
	PassphraseVault string   `mapstructure:"BORGREPORT_PASSPHRASE_VAULT"`
}

// Defaults returns the built-in option layer.
func Defaults() map[string]string {
	return map[string]string{
		KeyBorgBinary:  "borg",
		KeyCheck:       "false",
		KeyCompact:     "false",
		KeyMaxAgeHours: "24",
	}
}

// Repository is the effective configuration of one repository.
type Repository struct {
	Name string
	// Env holds the variables passed to borg (BORG_REPO, BORG_PASSPHRASE, ...).
	Env Environ
	Options
}

// Selectors returns the archive globs in declaration order, or a single ""
// for the implicit "latest archive" selector.
func (r Repository) Selectors() []string {
	if len(r.GlobArchives) == 0 {
		return []string{""}
	}
	return r.GlobArchives
}

// MaxAge returns the staleness threshold.
func (r Repository) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeHours * float64(time.Hour))
}

// Resolver merges the option layers for each discovered repository.
// Precedence, highest first: Overrides, the repository file, Ambient, Defaults.
type Resolver struct {
	// Ambient is the process environment captured at startup.
	Ambient Environ
	// Overrides holds option keys set on the command line.
	Overrides map[string]string
}

// Resolve produces the effective Repository for src.
func (r Resolver) Resolve(src Source) (Repository, error) {
	if src.Err != nil {
		return Repository{Name: src.Name}, src.Err
	}

	env := src.Env
	if src.Path != "" {
		file, err := LoadFile(src.Path)
		if err != nil {
			return Repository{Name: src.Name}, err
		}
		if err := checkKeys(file.WithPrefix(optionPrefix)); err != nil {
			return Repository{Name: src.Name}, fmt.Errorf("%w: repository %q: %v", ErrConfig, src.Name, err)
		}
		env = file
	}

	merged := overlay(Defaults(), r.Ambient.WithPrefix(optionPrefix), env.WithPrefix(optionPrefix), r.Overrides)
	opts, err := decodeOptions(merged, false)
	if err != nil {
		return Repository{Name: src.Name}, fmt.Errorf("%w: repository %q: %v", ErrConfig, src.Name, err)
	}

	if env[EnvRepo] == "" {
		return Repository{Name: src.Name}, fmt.Errorf(
			"%w: No value for '%s' was provided for repository: '%s'", ErrConfig, EnvRepo, src.Name)
	}
	if opts.MaxAgeHours < 0 {
		return Repository{Name: src.Name}, fmt.Errorf(
			"%w: repository %q: %s must not be negative", ErrConfig, src.Name, KeyMaxAgeHours)
	}

	borgEnv := Environ{}
	for k, v := range env {
		if !strings.HasPrefix(k, optionPrefix) {
			borgEnv[k] = v
		}
	}
	return Repository{Name: src.Name, Env: borgEnv, Options: opts}, nil
}

// overlay merges option layers, later layers win. An empty ambient value
// counts as unset. A key present in the repository file or on the command
// line is set even when empty: it clears the option back to its default, or
// to the zero value when there is none.
func overlay(defaults, ambient map[string]string, explicit ...map[string]string) map[string]any {
	out := make(map[string]any)
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range ambient {
		if v != "" {
			out[k] = v
		}
	}
	for _, layer := range explicit {
		for k, v := range layer {
			if d, ok := defaults[k]; ok && v == "" {
				v = d
			}
			out[k] = v
		}
	}
	return out
}

// checkKeys rejects option keys of a repository file that name no option.
func checkKeys(layer Environ) error {
	in := make(map[string]any, len(layer))
	for k, v := range layer {
		in[k] = v
	}
	_, err := decodeOptions(in, true)
	return err
}

func decodeOptions(in map[string]any, exact bool) (Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      exact,
		DecodeHook:       splitFields,
	})
	if err != nil {
		return Options{}, err
	}
	if err := dec.Decode(in); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// splitFields turns whitespace separated strings into []string.
func splitFields(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]string(nil)) {
		return data, nil
	}
	return strings.Fields(data.(string)), nil
}
