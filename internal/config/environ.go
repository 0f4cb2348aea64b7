package config

import (
	"sort"
	"strings"
)

// Environ is a snapshot of environment variables. The pipeline never reads
// the process environment directly; callers capture it once and pass it in.
type Environ map[string]string

// ParseEnviron converts KEY=VALUE pairs (as returned by os.Environ) into an
// Environ. Entries without '=' are ignored.
func ParseEnviron(pairs []string) Environ {
	env := make(Environ, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// WithPrefix returns the subset of variables whose key starts with prefix.
func (e Environ) WithPrefix(prefix string) Environ {
	out := Environ{}
	for k, v := range e {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// Slice returns KEY=VALUE pairs sorted by key.
func (e Environ) Slice() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e[k])
	}
	return out
}
