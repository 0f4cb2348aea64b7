package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// EnvFileExt is the extension of repository files (matched case-insensitively).
const EnvFileExt = ".env"

// Source is one discovered repository before option resolution.
type Source struct {
	// Name is the display name; unique within a run.
	Name string
	// Path is the repository file, empty in inherit mode.
	Path string
	// Env holds the inherited BORG_* variables in inherit mode.
	Env Environ
	// Err is set when the source is unusable (e.g. a duplicate name).
	Err error
}

// Discover returns the repositories of a run in discovery order.
//
// With at least one directory every regular *.env file in those directories
// becomes a source, sorted by path, named after the file stem. Without
// directories a single source is inherited from the BORG_* variables of
// ambient and named inheritName, falling back to the last path segment of
// BORG_REPO.
//
// An unreadable directory does not stop discovery of the others; its failure
// is returned alongside the sources that were found.
func Discover(dirs []string, inheritName string, ambient Environ) ([]Source, error) {
	if len(dirs) == 0 {
		return []Source{inherit(inheritName, ambient)}, nil
	}

	var (
		files []string
		errs  error
	)
	for _, dir := range dirs {
		found, err := envFiles(dir)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		files = append(files, found...)
	}
	sort.Strings(files)

	seen := make(map[string]string, len(files))
	sources := make([]Source, 0, len(files))
	for _, file := range files {
		src := Source{Name: stem(file), Path: file}
		if prev, dup := seen[src.Name]; dup {
			src.Err = fmt.Errorf("%w: repository name %q of %s is already used by %s",
				ErrConfig, src.Name, file, prev)
		} else {
			seen[src.Name] = file
		}
		sources = append(sources, src)
	}
	return sources, errs
}

func envFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open env directory %s: %v", ErrConfig, dir, err)
	}
	var files []string
	for _, entry := range entries {
		if !strings.EqualFold(filepath.Ext(entry.Name()), EnvFileExt) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		// Follow symlinks; only regular files count.
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, full)
	}
	return files, nil
}

func stem(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func inherit(name string, ambient Environ) Source {
	env := ambient.WithPrefix("BORG_")
	if name == "" {
		name = RepoBaseName(env[EnvRepo])
	}
	return Source{Name: name, Env: env}
}

// RepoBaseName returns the last path segment of a repository location such
// as "/srv/borg/host" or "ssh://user@host:22/./backups/host/".
func RepoBaseName(location string) string {
	location = strings.TrimRight(location, "/")
	if location == "" {
		return ""
	}
	if _, rest, ok := strings.Cut(location, "://"); ok {
		location = rest
	}
	base := path.Base(location)
	// scp-style "user@host:repo"
	if i := strings.LastIndex(base, ":"); i >= 0 {
		base = base[i+1:]
	}
	return base
}
