package context

import (
	"testing"

	"github.com/convergeops/converge/pkg/tasklist"
)

func TestRenderLiteralFastPath(t *testing.T) {
	e := New(nil)
	out, err := e.Render("no templates here")
	if err != nil || out != "no templates here" {
		t.Fatalf("Render = %q, %v", out, err)
	}
}

// TestRenderSubstitutesVars exercises spec.md §4.4's documented,
// dot-free external template syntax: {{ name }}, not the teacher's own
// {{ .name }} convention.
func TestRenderSubstitutesVars(t *testing.T) {
	e := New(map[string]any{"hostname": "srv1"})
	out, err := e.Render("https://{{ hostname }}/healthz")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "https://srv1/healthz" {
		t.Fatalf("out = %q", out)
	}
}

// TestRenderAcceptsDotPrefixedRefs confirms the native text/template
// leading-dot form still works alongside spec.md's bare syntax.
func TestRenderAcceptsDotPrefixedRefs(t *testing.T) {
	e := New(map[string]any{"hostname": "srv1"})
	out, err := e.Render("https://{{ .hostname }}/healthz")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "https://srv1/healthz" {
		t.Fatalf("out = %q", out)
	}
}

func TestSetGet(t *testing.T) {
	e := New(nil)
	e.Set("probe", RegisterResult{Rc: 0, Output: "42"})
	v, ok := e.Get("probe")
	if !ok {
		t.Fatal("want probe to be set")
	}
	rr := v.(RegisterResult)
	if rr.Output != "42" {
		t.Fatalf("output = %q", rr.Output)
	}
}

// TestRegisterThenTemplate exercises spec.md §8 scenario 5, literally:
// a later step's rendered expected state sees an earlier step's
// registered output via spec.md's own `{{ name.field }}` syntax.
func TestRegisterThenTemplate(t *testing.T) {
	e := New(nil)
	e.Set("probe", RegisterResult{Rc: 0, Output: "42"})

	m := &tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "echo {{ probe.output }}"}}
	if err := e.RenderModule(m); err != nil {
		t.Fatalf("RenderModule: %v", err)
	}
	if m.Command.Content != "echo 42" {
		t.Fatalf("content = %q, want %q", m.Command.Content, "echo 42")
	}
}

// TestRegisterThenTemplateRc exercises the companion `{{ name.rc }}`
// field spec.md §4.4 names alongside `.output`.
func TestRegisterThenTemplateRc(t *testing.T) {
	e := New(nil)
	e.Set("probe", RegisterResult{Rc: 7, Output: "boom"})

	m := &tasklist.Module{Kind: tasklist.KindDebug, Debug: &tasklist.DebugModule{Msg: "rc was {{ probe.rc }}"}}
	if err := e.RenderModule(m); err != nil {
		t.Fatalf("RenderModule: %v", err)
	}
	if m.Debug.Msg != "rc was 7" {
		t.Fatalf("msg = %q, want %q", m.Debug.Msg, "rc was 7")
	}
}

func TestRenderModuleLeavesEmptyUntouched(t *testing.T) {
	e := New(nil)
	m := &tasklist.Module{Kind: tasklist.KindDebug, Debug: &tasklist.DebugModule{Msg: ""}}
	if err := e.RenderModule(m); err != nil {
		t.Fatalf("RenderModule: %v", err)
	}
	if m.Debug.Msg != "" {
		t.Fatalf("msg = %q, want empty", m.Debug.Msg)
	}
}
