package context

import "github.com/convergeops/converge/pkg/tasklist"

// walker is satisfied by any module payload that exposes its string
// leaves, per the Design Note in spec.md §9: re-templating an
// expected-state descriptor walks its string fields directly rather
// than round-tripping through JSON, so non-string vars can be
// interpolated typed and no escaping games are needed.
type walker interface {
	Walk(fn func(*string))
}

// RenderModule re-renders every string leaf of m's active payload
// against e, in place. Called before a step's dry_run and again before
// its apply, per spec.md §4.4, so registrations made by earlier steps
// in the same task list are visible.
func (e *Engine) RenderModule(m *tasklist.Module) error {
	var firstErr error
	m.Walk(func(leaf *string) {
		if firstErr != nil || *leaf == "" {
			return
		}
		rendered, err := e.Render(*leaf)
		if err != nil {
			firstErr = err
			return
		}
		*leaf = rendered
	})
	return firstErr
}
