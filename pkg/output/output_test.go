package output

import (
	"encoding/json"
	"testing"

	"github.com/convergeops/converge/pkg/tasklist"
	"github.com/convergeops/converge/pkg/workflow"
)

func TestFromReportAndCompact(t *testing.T) {
	r := &workflow.Report{
		FinalStatus: tasklist.StatusAlreadyMatched,
		Tasks: []workflow.TaskReport{
			{Name: "t1", Status: tasklist.StatusAlreadyMatched, Steps: []workflow.StepReport{
				{Name: "s1", Status: tasklist.StatusAlreadyMatched, ExpectedState: tasklist.Module{Kind: tasklist.KindPing}},
			}},
		},
	}
	jo := FromReport("web1", "2026-01-01T00:00:00Z", "2026-01-01T00:00:01Z", "", r)
	if jo.FinalStatus != "already-matched" {
		t.Fatalf("final status = %s", jo.FinalStatus)
	}

	b, err := Compact(jo)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("round-trip decode: %v", err)
	}
	if decoded["host"] != "web1" {
		t.Fatalf("host = %v", decoded["host"])
	}
}

func TestRawOutputOnlyOnFailure(t *testing.T) {
	raw := "boom"
	r := &workflow.Report{
		FinalStatus: tasklist.StatusApplyFailed,
		Tasks: []workflow.TaskReport{
			{Name: "t1", Status: tasklist.StatusApplyFailed, Steps: []workflow.StepReport{
				{Name: "s1", Status: tasklist.StatusApplyFailed, RawOutput: &raw, ExpectedState: tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "false"}}},
			}},
		},
	}
	jo := FromReport("web1", "", "", "", r)
	if jo.Tasks[0].Steps[0].RawOutput != "boom" {
		t.Fatalf("raw_output = %q, want boom", jo.Tasks[0].Steps[0].RawOutput)
	}
}
