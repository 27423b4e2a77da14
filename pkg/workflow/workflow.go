// Package workflow implements the per-host state machine of spec.md
// §4.5: dry-run evaluates every task's steps against the context;
// apply additionally executes the planned ApiCalls and aggregates
// status up through task and host. Consolidates the teacher's two
// parallel engines (pkg/kernel/engine "kernel/v0" and pkg/runtime) into
// one traversal, per the Design Note in spec.md §9.
package workflow

import (
	"context"
	"encoding/json"

	"github.com/convergeops/converge/pkg/audit"
	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	conctx "github.com/convergeops/converge/pkg/context"
	"github.com/convergeops/converge/pkg/module"
	"github.com/convergeops/converge/pkg/tasklist"
)

// Workflow drives one host's task list through dry-run and/or apply. It
// is created per job and owned by the Job; not safe for concurrent use
// (spec.md §3 Lifetimes, §5 Scheduling model).
type Workflow struct {
	tl    *tasklist.TaskList
	ch    channel.Channel
	vars  *conctx.Engine
	audit *audit.Writer
}

// New builds a Workflow for one host's task list, channel, and
// variable context. aw may be nil (no audit trail).
func New(tl *tasklist.TaskList, ch channel.Channel, vars *conctx.Engine, aw *audit.Writer) *Workflow {
	return &Workflow{tl: tl, ch: ch, vars: vars, audit: aw}
}

// Report is the result of one traversal: per-task, per-step statuses
// and results, plus the aggregated host status.
type Report struct {
	FinalStatus tasklist.Status
	Tasks       []TaskReport
}

// TaskReport is one task's outcome.
type TaskReport struct {
	Name   string
	Status tasklist.Status
	Steps  []StepReport
}

// StepReport is one step's outcome: its rendered expected state (for
// JobOutput's expected_state field), final status, and (on apply-failed
// steps only) the raw combined stdout of the failing call.
type StepReport struct {
	Name          string
	ExpectedState tasklist.Module
	Status        tasklist.Status
	Result        tasklist.StepResult
	RawOutput     *string
}

// mode distinguishes a pure dry-run traversal (no mutation, no apply,
// no register) from a full apply traversal (dry-run each step, then
// execute its planned calls).
type mode int

const (
	modeDryRun mode = iota
	modeApply
)

// DryRun evaluates every task's steps against the current host state
// without mutating anything. A non-tolerated dry-run evaluation failure
// aborts the whole traversal and returns an error (spec.md §4.5, §7).
func (w *Workflow) DryRun(ctx context.Context) (*Report, error) {
	return w.traverse(ctx, modeDryRun)
}

// Apply dry-runs then applies every task's steps in order. A
// non-tolerated dry-run evaluation failure still aborts the whole
// traversal (same as DryRun); a failing apply-time ApiCall only
// short-circuits its own task (invariant iv) and the host continues to
// the next task (spec.md §9 Open Question: continue).
func (w *Workflow) Apply(ctx context.Context) (*Report, error) {
	return w.traverse(ctx, modeApply)
}

func (w *Workflow) traverse(ctx context.Context, m mode) (*Report, error) {
	report := &Report{}
	for _, task := range w.tl.Tasks {
		w.audit.EmitTaskStart(task.Name)
		taskReport, err := w.runTask(ctx, task, m)
		if err != nil {
			return nil, err
		}
		w.audit.EmitTaskResult(task.Name, string(taskReport.Status))
		report.Tasks = append(report.Tasks, *taskReport)
	}
	report.FinalStatus = aggregateHost(report.Tasks, m)
	return report, nil
}

func (w *Workflow) runTask(ctx context.Context, task tasklist.Task, m mode) (*TaskReport, error) {
	tr := &TaskReport{Name: task.Name}
	shortCircuited := false

	for _, step := range task.Steps {
		if shortCircuited {
			tr.Steps = append(tr.Steps, StepReport{Name: step.Name, Status: tasklist.StatusNotRun})
			continue
		}

		w.audit.EmitStepStart(task.Name, step.Name)
		sr, hardErr := w.runStep(ctx, task, step, m)
		if hardErr != nil {
			return nil, hardErr
		}
		w.audit.EmitStepResult(task.Name, step.Name, string(sr.Status))
		tr.Steps = append(tr.Steps, *sr)

		if sr.Status == tasklist.StatusApplyFailed {
			shortCircuited = true
		}
	}

	tr.Status = aggregateTask(tr.Steps, m)
	return tr, nil
}

// runStep renders the step's expected state, dry-runs it, and — in
// modeApply — applies any planned calls. The returned error is non-nil
// only for a hard (non-tolerated) dry-run evaluation failure, which
// aborts the whole traversal.
func (w *Workflow) runStep(ctx context.Context, task tasklist.Task, step tasklist.Step, m mode) (*StepReport, error) {
	rendered := deepCopyModule(step.Module)
	if err := w.vars.RenderModule(&rendered); err != nil {
		return w.demoteOrFail(task, step, rendered, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "render expected state"))
	}

	priv := connection.Resolve(effectiveWithSudo(task, step), step.RunAs)

	change, err := module.Resolve(rendered).DryRun(ctx, w.ch, priv)
	if err != nil {
		return w.demoteOrFail(task, step, rendered, err)
	}

	if change.Kind == tasklist.ChangeAlreadyMatched {
		return &StepReport{Name: step.Name, ExpectedState: rendered, Status: tasklist.StatusAlreadyMatched}, nil
	}
	if len(change.Calls) == 0 {
		// A module resolver promising change-required must also hand
		// back the calls that implement it (invariant iii).
		return w.demoteOrFail(task, step, rendered, cerr.New(cerr.KindWorkflowNotFollowed, "step %q: change-required with no planned calls", step.Name))
	}

	if m == modeDryRun {
		return &StepReport{Name: step.Name, ExpectedState: rendered, Status: tasklist.StatusChangeRequired}, nil
	}

	// modeApply: re-render to pick up registrations from earlier steps
	// in this same apply pass (spec.md §4.4), then execute the plan.
	if err := w.vars.RenderModule(&rendered); err != nil {
		return w.demoteOrFail(task, step, rendered, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "re-render expected state before apply"))
	}

	result, status, rawOutput := w.applyCalls(ctx, task.Name, step, priv, change.Calls)

	if step.Register != "" {
		w.vars.Set(step.Register, registerResultFrom(result))
	}

	return &StepReport{Name: step.Name, ExpectedState: rendered, Status: status, Result: result, RawOutput: rawOutput}, nil
}

// applyCalls executes call in order, stopping at the first failure
// (invariant iv): prior results are preserved, remaining calls are
// skipped.
func (w *Workflow) applyCalls(ctx context.Context, taskName string, step tasklist.Step, priv connection.Privilege, calls []tasklist.ApiCall) (tasklist.StepResult, tasklist.Status, *string) {
	var result tasklist.StepResult
	var failed bool

	for _, call := range calls {
		cr := module.Apply(ctx, w.ch, priv, call)
		if cr.Status == tasklist.StatusFailure && step.AllowedToFail {
			cr.Status = tasklist.StatusAllowedFailure
		}
		result.Results = append(result.Results, cr)
		w.audit.EmitApiCall(taskName, step.Name, string(call.Kind), string(cr.Status))
		if cr.Status == tasklist.StatusFailure || cr.Status == tasklist.StatusAllowedFailure {
			failed = true
			break
		}
	}

	if !failed {
		return result, tasklist.StatusApplySuccessful, nil
	}
	if step.AllowedToFail {
		return result, tasklist.StatusApplyFailedButAllowed, nil
	}
	raw := result.Output()
	return result, tasklist.StatusApplyFailed, &raw
}

// demoteOrFail implements spec.md §4.5: a non-tolerated dry-run
// evaluation failure aborts the traversal; a tolerated one demotes the
// step to allowed-failure and lets traversal continue.
func (w *Workflow) demoteOrFail(task tasklist.Task, step tasklist.Step, rendered tasklist.Module, err error) (*StepReport, error) {
	if step.AllowedToFail {
		return &StepReport{
			Name: step.Name, ExpectedState: rendered, Status: tasklist.StatusApplyFailedButAllowed,
			Result: tasklist.StepResult{Results: []tasklist.ApiCallResult{{Status: tasklist.StatusAllowedFailure, Message: err.Error()}}},
		}, nil
	}
	return nil, cerr.Wrap(cerr.KindFailedTaskDryRun, err, "task %q step %q", task.Name, step.Name)
}

// effectiveWithSudo resolves the step's with_sudo, falling back to the
// owning task's default when the step itself leaves it unset.
func effectiveWithSudo(task tasklist.Task, step tasklist.Step) *bool {
	if step.WithSudo != nil {
		return step.WithSudo
	}
	return task.WithSudo
}

func registerResultFrom(r tasklist.StepResult) conctx.RegisterResult {
	status := tasklist.StatusApplySuccessful
	for _, cr := range r.Results {
		if cr.Status == tasklist.StatusFailure {
			status = tasklist.StatusApplyFailed
		} else if cr.Status == tasklist.StatusAllowedFailure && status != tasklist.StatusApplyFailed {
			status = tasklist.StatusApplyFailedButAllowed
		}
	}
	results := make([]any, len(r.Results))
	for i, cr := range r.Results {
		b, _ := json.Marshal(cr)
		var asMap map[string]any
		json.Unmarshal(b, &asMap)
		results[i] = asMap
	}
	return conctx.RegisterResult{Rc: r.Rc(), Output: r.Output(), Status: string(status), ApiCallResults: results}
}

// deepCopyModule returns a value copy of m with its payload pointer
// also copied, so re-rendering a step's expected state never mutates
// the parsed TaskList shared across a JobList's jobs.
func deepCopyModule(m tasklist.Module) tasklist.Module {
	cp := m
	switch m.Kind {
	case tasklist.KindCommand:
		v := *m.Command
		cp.Command = &v
	case tasklist.KindApt:
		v := *m.Apt
		cp.Apt = &v
	case tasklist.KindYumDnf:
		v := *m.YumDnf
		cp.YumDnf = &v
	case tasklist.KindService:
		v := *m.Service
		cp.Service = &v
	case tasklist.KindLineInFile:
		v := *m.LineInFile
		cp.LineInFile = &v
	case tasklist.KindDebug:
		v := *m.Debug
		cp.Debug = &v
	}
	return cp
}
