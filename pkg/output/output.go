// Package output defines JobOutput, the structured record of one job's
// traversal, serialized to JSON by Job.Display (spec.md §6).
package output

import (
	"encoding/json"

	"github.com/convergeops/converge/pkg/tasklist"
	"github.com/convergeops/converge/pkg/workflow"
)

// JobOutput is the top-level serializable record of one job.
type JobOutput struct {
	Host           string     `json:"host"`
	TimestampStart string     `json:"timestamp_start"`
	TimestampEnd   string     `json:"timestamp_end"`
	FinalStatus    string     `json:"final_status"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
	Tasks          []TaskJSON `json:"tasks"`
}

// TaskJSON is one task's record.
type TaskJSON struct {
	Name  string     `json:"name"`
	Steps []StepJSON `json:"steps"`
}

// StepJSON is one step's record. RawOutput is populated only for
// apply-failed steps (spec.md §6).
type StepJSON struct {
	Name          string `json:"name"`
	ExpectedState any    `json:"expected_state"`
	Status        string `json:"status"`
	RawOutput     string `json:"raw_output,omitempty"`
}

// FromReport projects a workflow.Report into a JobOutput.
func FromReport(host, tsStart, tsEnd, correlationID string, r *workflow.Report) JobOutput {
	jo := JobOutput{
		Host: host, TimestampStart: tsStart, TimestampEnd: tsEnd,
		FinalStatus: string(r.FinalStatus), CorrelationID: correlationID,
	}
	for _, task := range r.Tasks {
		tj := TaskJSON{Name: task.Name}
		for _, step := range task.Steps {
			sj := StepJSON{
				Name:          step.Name,
				ExpectedState: renderedExpectedState(step.ExpectedState),
				Status:        string(step.Status),
			}
			if step.RawOutput != nil {
				sj.RawOutput = *step.RawOutput
			}
			tj.Steps = append(tj.Steps, sj)
		}
		jo.Tasks = append(jo.Tasks, tj)
	}
	return jo
}

// renderedExpectedState projects a Module's active case to a plain
// value for JSON, since Module itself carries six mutually-exclusive
// pointer fields that would otherwise all serialize (mostly as null).
func renderedExpectedState(m tasklist.Module) any {
	switch m.Kind {
	case tasklist.KindPing:
		return map[string]any{"kind": "ping"}
	case tasklist.KindCommand:
		return map[string]any{"kind": "command", "content": m.Command.Content}
	case tasklist.KindApt:
		return map[string]any{"kind": "apt", "state": m.Apt.State, "package": m.Apt.Package, "upgrade": m.Apt.Upgrade}
	case tasklist.KindYumDnf:
		return map[string]any{"kind": "yumdnf", "state": m.YumDnf.State, "package": m.YumDnf.Package, "upgrade": m.YumDnf.Upgrade}
	case tasklist.KindService:
		return map[string]any{"kind": "service", "name": m.Service.Name, "state": m.Service.State, "enabled": m.Service.Enabled}
	case tasklist.KindLineInFile:
		return map[string]any{"kind": "lineinfile", "filepath": m.LineInFile.Filepath, "line": m.LineInFile.Line, "state": m.LineInFile.State}
	case tasklist.KindDebug:
		return map[string]any{"kind": "debug", "msg": m.Debug.Msg}
	default:
		return nil
	}
}

// Compact serializes v (a JobOutput, or a collection of them) without
// indentation.
func Compact(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Pretty serializes v with two-space indentation.
func Pretty(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
