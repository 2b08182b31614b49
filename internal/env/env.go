// Package env composes the environment handed to console children.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers overrides and removals on top of a base environment.
type Env struct {
	Var  Var                 // overrides (K->V)
	drop map[string]struct{} // keys removed from the result
	base Var                 // cached base, from the OS unless set explicitly
}

func New() *Env {
	return &Env{Var: make(Var), drop: make(map[string]struct{})}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() *Env {
	return e.WithBase(os.Environ())
}

// WithBase replaces the base with the given "K=V" pairs.
func (e *Env) WithBase(kvs []string) *Env {
	base := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
	return e
}

// WithSet sets K=V and cancels an earlier Drop of K.
func (e *Env) WithSet(k, v string) *Env {
	if k == "" {
		return e
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
	delete(e.drop, k)
	return e
}

// Drop removes k from the merged result, whatever its source.
func (e *Env) Drop(k string) *Env {
	if e.drop == nil {
		e.drop = make(map[string]struct{})
	}
	e.drop[k] = struct{}{}
	if e.Var != nil {
		delete(e.Var, k)
	}
	return e
}

// Apply copies the overrides and removals of o into e.
func (e *Env) Apply(o *Env) *Env {
	if o == nil {
		return e
	}
	for k, v := range o.Var {
		e.WithSet(k, v)
	}
	for k := range o.drop {
		e.Drop(k)
	}
	return e
}

// Merge returns the environment as a sorted "K=V" slice:
// base, then overrides, then perProc pairs, minus dropped keys.
// ${VAR} references inside overrides and perProc values are expanded against
// the composed map (single pass, no recursion); base values are left untouched.
func (e *Env) Merge(perProc []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var))
	for k, v := range e.base {
		m[k] = v
	}
	overrides := make(Var, len(e.Var)+len(perProc))
	for k, v := range e.Var {
		if k != "" {
			overrides[k] = v
		}
	}
	for _, kv := range perProc {
		if k, v, ok := split(kv); ok {
			overrides[k] = v
		}
	}
	for k, v := range overrides {
		m[k] = v
	}
	snap := make(Var, len(m))
	for k, v := range m {
		snap[k] = v
	}
	for k, v := range overrides {
		m[k] = expand(v, snap)
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		if _, gone := e.drop[k]; gone {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the value k would have after Merge.
func Lookup(merged []string, k string) (string, bool) {
	for _, kv := range merged {
		if key, v, ok := split(kv); ok && key == k {
			return v, true
		}
	}
	return "", false
}

// ColorEnv returns the overlay that makes children emit color escapes even
// without a real terminal: TERM, FORCE_COLOR, CLICOLOR, CLICOLOR_FORCE set and
// NO_COLOR removed.
func ColorEnv() *Env {
	return New().
		WithSet("TERM", "xterm-256color").
		WithSet("FORCE_COLOR", "1").
		WithSet("CLICOLOR", "1").
		WithSet("CLICOLOR_FORCE", "1").
		Drop("NO_COLOR")
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}
