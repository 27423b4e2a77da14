// Package context holds the per-job variable store and string-template
// substitution layer: Context.Render is the single Go text/template
// consolidation of the teacher's two parallel resolvers
// (pkg/kernel/eval.Resolve and pkg/runtime's resolveTemplate).
package context

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
)

// Engine is the per-job variable store. Set, Get and Render are guarded
// by a read/write mutex; a Job's workflow traverses one Context
// sequentially per spec.md §5.
type Engine struct {
	mu   sync.RWMutex
	vars map[string]any
}

// New builds an Engine seeded from initial vars (typically host vars
// merged with job-level vars; see pkg/hostlist).
func New(initial map[string]any) *Engine {
	e := &Engine{vars: make(map[string]any, len(initial))}
	for k, v := range initial {
		e.vars[k] = v
	}
	return e
}

// Set stores value under key, overwriting any prior value.
func (e *Engine) Set(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[key] = value
}

// Get returns the value stored under key, if any.
func (e *Engine) Get(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[key]
	return v, ok
}

// Render substitutes {{ expr }} placeholders in tmpl using the current
// variable map. Literal strings with no "{{" are returned unchanged
// without invoking the template engine, same fast path as the teacher's
// eval.Resolve. Unlike the teacher's own `.hostname`-style templates,
// spec.md §4.4/§8 documents a bare, dot-free external syntax —
// `{{ name }}`, `{{ name.rc }}`, `{{ name.output }}` — so expr is
// rewritten into Go's native `.name`/`.name.rc` field-access form
// before being parsed; a leading-dot reference already in that native
// form passes through untouched.
func (e *Engine) Render(tmpl string) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(funcMap()).Parse(rewriteBareRefs(tmpl))
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	e.mu.RLock()
	snapshot := make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		snapshot[k] = toRenderable(v)
	}
	e.mu.RUnlock()

	var buf bytes.Buffer
	if err := t.Execute(&buf, snapshot); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// toRenderable projects v into a shape text/template's dot-chaining can
// walk with spec.md's lowercase field names — in particular a
// RegisterResult, whose Go fields are exported (Rc, Output, ...) so
// Engine.Get's callers get normal Go ergonomics, needs its lowercase
// json tags (rc, output, ...) for `{{ name.output }}` to resolve. Basic
// scalars pass through unchanged; everything else takes the same
// marshal-then-unmarshal-to-map detour workflow.registerResultFrom
// already uses for ApiCallResults.
func toRenderable(v any) any {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64, nil:
		return v
	case map[string]any, []any:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// identPath matches a dotted reference chain starting with a letter or
// underscore, e.g. "probe", "probe.output".
var identPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*`)

// reservedTemplateWords are names that must never be turned into a
// field reference: this engine's own FuncMap, text/template's built-in
// functions, and its keywords/literals.
var reservedTemplateWords = map[string]bool{
	"contains": true, "hasPrefix": true, "hasSuffix": true, "default": true,
	"and": true, "call": true, "html": true, "index": true, "slice": true,
	"js": true, "len": true, "not": true, "or": true, "print": true,
	"printf": true, "println": true, "urlquery": true, "eq": true, "ne": true,
	"lt": true, "le": true, "gt": true, "ge": true,
	"if": true, "else": true, "end": true, "range": true, "with": true,
	"define": true, "template": true, "block": true, "break": true, "continue": true,
	"true": true, "false": true, "nil": true,
}

// rewriteBareRefs rewrites every {{ ... }} action in tmpl so that a
// bare variable reference (no leading dot) becomes a Go text/template
// field access, without touching quoted string literals or references
// that are already dot-prefixed.
func rewriteBareRefs(tmpl string) string {
	var out strings.Builder
	i := 0
	for {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			out.WriteString(tmpl[i:])
			return out.String()
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			out.WriteString(tmpl[start:])
			return out.String()
		}
		end += start

		out.WriteString("{{")
		out.WriteString(rewriteAction(tmpl[start+2 : end]))
		out.WriteString("}}")
		i = end + 2
	}
}

func rewriteAction(action string) string {
	var out strings.Builder
	i := 0
	for i < len(action) {
		c := action[i]
		switch {
		case c == '"' || c == '`':
			j := i + 1
			for j < len(action) && action[j] != c {
				if c == '"' && action[j] == '\\' && j+1 < len(action) {
					j++
				}
				j++
			}
			if j < len(action) {
				j++
			}
			out.WriteString(action[i:j])
			i = j
		case c == '.':
			j := i + 1
			for j < len(action) && (isIdentByte(action[j]) || action[j] == '.') {
				j++
			}
			out.WriteString(action[i:j])
			i = j
		case isIdentStart(c):
			m := identPath.FindString(action[i:])
			head := m
			if idx := strings.IndexByte(m, '.'); idx >= 0 {
				head = m[:idx]
			}
			if reservedTemplateWords[head] {
				out.WriteString(m)
			} else {
				out.WriteByte('.')
				out.WriteString(m)
			}
			i += len(m)
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// RegisterResult is the shape written into the context under a step's
// register name after apply, per spec.md §4.4: {rc, output, status,
// apicallresults}.
type RegisterResult struct {
	Rc             int    `json:"rc"`
	Output         string `json:"output"`
	Status         string `json:"status"`
	ApiCallResults []any  `json:"apicallresults"`
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"contains": func(s, substr any) bool {
			return strings.Contains(fmt.Sprint(s), fmt.Sprint(substr))
		},
		"hasPrefix": func(s, prefix any) bool {
			return strings.HasPrefix(fmt.Sprint(s), fmt.Sprint(prefix))
		},
		"hasSuffix": func(s, suffix any) bool {
			return strings.HasSuffix(fmt.Sprint(s), fmt.Sprint(suffix))
		},
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
	}
}
