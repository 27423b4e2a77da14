package tasklist

import (
	"errors"
	"testing"

	"github.com/convergeops/converge/pkg/cerr"
)

func TestParseYAML_SingleModulePerStep(t *testing.T) {
	doc := []byte(`
- name: reach
  steps:
    - ping:
- name: install
  steps:
    - apt:
        state: present
        package: git
`)
	tl, err := Parse(doc, FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tl.Tasks) != 2 {
		t.Fatalf("want 2 tasks, got %d", len(tl.Tasks))
	}
	if tl.Tasks[0].Steps[0].Module.Kind != KindPing {
		t.Errorf("task 0 step 0 kind = %s, want ping", tl.Tasks[0].Steps[0].Module.Kind)
	}
	apt := tl.Tasks[1].Steps[0].Module
	if apt.Kind != KindApt || apt.Apt.Package != "git" || apt.Apt.State != StatePresent {
		t.Errorf("task 1 step 0 = %+v, want apt/git/present", apt)
	}
}

func TestParseYAML_ZeroModules(t *testing.T) {
	doc := []byte(`
- steps:
    - name: bad
      register: x
`)
	_, err := Parse(doc, FormatYAML)
	var ce *cerr.Error
	if !errors.As(err, &ce) || ce.Kind != cerr.KindNoModule {
		t.Fatalf("want KindNoModule, got %v", err)
	}
}

func TestParseYAML_TwoModules(t *testing.T) {
	doc := []byte(`
- steps:
    - ping:
      debug:
        msg: hi
`)
	_, err := Parse(doc, FormatYAML)
	var ce *cerr.Error
	if !errors.As(err, &ce) || ce.Kind != cerr.KindTooManyModules {
		t.Fatalf("want KindTooManyModules, got %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	doc := []byte(`[{"steps":[{"command":{"content":"true"}}]}]`)
	tl, err := Parse(doc, FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tl.Tasks[0].Steps[0].Module.Kind != KindCommand {
		t.Fatalf("kind = %s, want command", tl.Tasks[0].Steps[0].Module.Kind)
	}
}

// A JSON document is also valid YAML, so with FormatUnknown the YAML
// decoder accepts it directly.
func TestParseUnknown_AcceptsJSONDocument(t *testing.T) {
	doc := []byte(`[{"steps":[{"command":{"content":"true"}}]}]`)
	tl, err := Parse(doc, FormatUnknown)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tl.Tasks) != 1 {
		t.Fatalf("want 1 task, got %d", len(tl.Tasks))
	}
}

func TestParseLineInFilePosition(t *testing.T) {
	doc := []byte(`
- steps:
    - lineinfile:
        filepath: /tmp/t
        line: b
        state: present
        position: "2"
`)
	tl, err := Parse(doc, FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	lif := tl.Tasks[0].Steps[0].Module.LineInFile
	if lif.Position.Line == nil || *lif.Position.Line != 2 {
		t.Fatalf("position = %+v, want line=2", lif.Position)
	}
}

func TestParseJSON_PingNull(t *testing.T) {
	doc := []byte(`[{"steps":[{"ping":null}]}]`)
	tl, err := Parse(doc, FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tl.Tasks[0].Steps[0].Module.Kind != KindPing {
		t.Fatalf("kind = %s, want ping", tl.Tasks[0].Steps[0].Module.Kind)
	}
}

func TestParseStrictUnknownField(t *testing.T) {
	doc := []byte(`
- steps:
    - ping:
      bogus_field: true
`)
	_, err := Parse(doc, FormatYAML)
	if err == nil {
		t.Fatal("want error for unknown field under strict decode")
	}
}
