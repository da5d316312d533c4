package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Env composes the daemon environment: the host's OS environment (optional),
// then host-wide variables, then per-daemon variables. Later layers win.
type Env struct {
	useOS bool
	vars  map[string]string
	base  map[string]string // cached OS environment
}

// New returns an Env. When useOS is false the daemon starts from an empty
// environment plus the configured variables.
func New(useOS bool) *Env {
	return &Env{useOS: useOS, vars: make(map[string]string)}
}

// Set sets a host-wide variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// SetAll applies entries in "K=V" form. Malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// LoadFile reads a .env file of KEY=VALUE lines into the host-wide layer.
// Blank lines and lines starting with # are ignored.
func (e *Env) LoadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if k, v, ok := split(line); ok {
			e.Set(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
	return nil
}

func (e *Env) osBase() map[string]string {
	if e.base != nil {
		return e.base
	}
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
	return base
}

// Merge returns the final environment in "K=V" form, sorted by key, with
// ${VAR} references expanded against the composed map. Expansion is a single
// pass; unknown references are left untouched.
func (e *Env) Merge(perDaemon []string) []string {
	m := make(map[string]string)
	if e.useOS {
		for k, v := range e.osBase() {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range perDaemon {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
